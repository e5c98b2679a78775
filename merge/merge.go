// Package merge - Orchestrierung eines Checkpoint-Merge-Laufs
//
// Dieses Modul enthaelt den Merger, der den gesamten Ablauf sequenziert:
// - Validierung der Eingaben (Primaer-/Sekundaer-/Tertiaermodell)
// - Laden der Stores mit Strip beim Laden
// - B/C-Differenz und Primaer-Merge (nur Backbone-Keys)
// - Einbacken externer VAE/Text-Encoder
// - Praezisions-Recasting pro Teilblock
// - Metadaten-Zusammenbau und Speichern
//
// Der Ablauf ist strikt sequenziell; Sekundaer- und Tertiaer-Map werden
// freigegeben, sobald sie in die Primaer-Map eingeflossen sind, um den
// Spitzen-Speicherbedarf zu begrenzen. Fortschritt wird ueber einen
// Callback gemeldet, es gibt keinen globalen Zustand.
package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/smelter/smelt/api"
	"github.com/smelter/smelt/registry"
	"github.com/smelter/smelt/tensor"
)

// Validierungsfehler: noetige Modelle fehlen fuer die gewaehlte Methode
var (
	ErrPrimaryRequired   = errors.New("merging requires a primary model")
	ErrSecondaryRequired = errors.New("merging requires a secondary model")
	ErrTertiaryRequired  = errors.New("interpolation method requires a tertiary model")
)

// builtinSource markiert "VAE/Text-Encoder des Primaermodells behalten"
const builtinSource = "built-in"

// Merger fuehrt Merge-Laeufe aus
type Merger struct {
	Registry *registry.Registry
	Remapper Remapper
}

// NewMerger erstellt einen Merger mit dem eingebauten Praefix-Remapper
func NewMerger(reg *registry.Registry) *Merger {
	return &Merger{Registry: reg, Remapper: PrefixRemapper{}}
}

// Result beschreibt den Ausgang eines erfolgreichen Laufs
type Result struct {
	Path  string
	Name  string
	Flags Flags
}

// Run fuehrt einen kompletten Merge-Lauf aus. fn wird fuer jeden
// Fortschrittsschritt aufgerufen; bei Fehlern wird nichts geschrieben.
func (m *Merger) Run(ctx context.Context, req *api.MergeRequest, fn func(api.ProgressResponse)) (*Result, error) {
	if fn == nil {
		fn = func(api.ProgressResponse) {}
	}

	method, err := ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}

	policies := make(map[Block]Policy, len(Blocks))
	for block, s := range map[Block]string{
		BlockBackbone:    req.SaveUnet,
		BlockVAE:         req.SaveVAE,
		BlockTextEncoder: req.SaveTE,
	} {
		policy, err := ParsePolicy(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", block, err)
		}
		policies[block] = policy
	}

	var discard *regexp.Regexp
	if req.DiscardWeights != "" {
		if discard, err = regexp.Compile(req.DiscardWeights); err != nil {
			return nil, fmt.Errorf("invalid discard pattern: %w", err)
		}
	}

	// Validierung vor jeglicher Tensor-Arbeit
	if req.Primary == "" {
		return nil, ErrPrimaryRequired
	}
	primary, err := m.Registry.Resolve(registry.KindCheckpoint, req.Primary)
	if err != nil {
		return nil, err
	}

	var secondary, tertiary *registry.Model
	if method.NeedsSecondary() {
		if req.Secondary == "" {
			return nil, ErrSecondaryRequired
		}
		if secondary, err = m.Registry.Resolve(registry.KindCheckpoint, req.Secondary); err != nil {
			return nil, err
		}
	}
	if method.NeedsTertiary() {
		if req.Tertiary == "" {
			return nil, fmt.Errorf("%w (%s)", ErrTertiaryRequired, method)
		}
		if tertiary, err = m.Registry.Resolve(registry.KindCheckpoint, req.Tertiary); err != nil {
			return nil, err
		}
	}

	bakeVAE := strings.TrimSpace(req.BakeInVAE)
	if strings.EqualFold(bakeVAE, "none") {
		bakeVAE = ""
	}
	var bakeTE []string
	var builtinTE bool
	for _, te := range req.BakeInTE {
		if te == builtinSource {
			builtinTE = true
			continue
		}
		bakeTE = append(bakeTE, te)
	}

	// Unerwuenschte Bloecke fallen schon beim Laden weg, damit ihre
	// Tensoren nie im Speicher landen
	stripBlocks := map[Block]bool{
		BlockTextEncoder: (policies[BlockTextEncoder].Remove || method == MethodExtractUnet || method == MethodExtractVAE) && !builtinTE,
		BlockVAE:         (policies[BlockVAE].Remove || method == MethodExtractUnet || method == MethodExtractTE) && bakeVAE != builtinSource,
		BlockBackbone:    policies[BlockBackbone].Remove || method == MethodExtractVAE || method == MethodExtractTE,
	}

	opts := LoadOptions{
		Strip:    func(key string) bool { return stripBlocks[Classify(key)] },
		Discard:  discard,
		CastFP32: req.CalcFP32,
	}

	loadTheta := func(model *registry.Model, role string) (Theta, error) {
		status := fmt.Sprintf("loading %s model %s", role, model.Name)
		fn(api.ProgressResponse{Status: status})

		roleOpts := opts
		roleOpts.Progress = func(completed, total int64) {
			fn(api.ProgressResponse{Status: status, Digest: "load:" + role, Completed: completed, Total: total})
		}

		theta, _, err := Load(model.Path, roleOpts)
		return theta, err
	}

	var thetaB Theta
	if method.NeedsSecondary() {
		if thetaB, err = loadTheta(secondary, "secondary"); err != nil {
			return nil, err
		}
	}

	if method.NeedsTertiary() {
		thetaC, err := loadTheta(tertiary, "tertiary")
		if err != nil {
			return nil, err
		}

		// Tertiaer-Map faellt nach dem Falten aus dem Scope
		if err := m.foldDifference(thetaB, thetaC, fn); err != nil {
			return nil, err
		}
	}

	theta0, err := loadTheta(primary, "primary")
	if err != nil {
		return nil, err
	}

	arch, probeKey := DetectArchitecture(theta0)
	slog.Debug("architecture probe", "arch", string(arch), "key", probeKey)

	if method.IsExtract() {
		return m.saveExtract(method, req.CustomName, primary.Name, theta0, fn)
	}

	var flags Flags
	if thetaB != nil {
		op := weightedSum
		if method == MethodAddDifference {
			op = addDifference
		}

		status := "merging primary and secondary"
		fn(api.ProgressResponse{Status: status})

		keys := sortedKeys(theta0)
		for i, key := range keys {
			fn(api.ProgressResponse{Status: status, Digest: "merge", Completed: int64(i + 1), Total: int64(len(keys))})

			if skipKey(key) || Classify(key) != BlockBackbone {
				continue
			}
			b, ok := thetaB[key]
			if !ok {
				// Keys nur im Primaermodell bleiben unveraendert
				continue
			}

			out, err := blendPair(key, theta0[key], b, op, float32(req.Multiplier), &flags)
			if err != nil {
				return nil, err
			}
			theta0[key] = out
		}

		thetaB = nil // Sekundaer-Map freigeben
	}

	if err := m.bakeAll(theta0, arch, probeKey, bakeVAE, bakeTE, opts.CastFP32, fn); err != nil {
		return nil, err
	}

	// Baking kann verworfene Keys zurueckbringen
	if discard != nil {
		theta0.Strip(func(key string) bool { return discard.MatchString(key) })
	}

	for _, block := range Blocks {
		policy := policies[block]
		if !policy.Cast {
			continue
		}

		fn(api.ProgressResponse{Status: fmt.Sprintf("converting %s to %s", block, policy.DType)})
		err := theta0.Transform(
			func(key string) bool { return Classify(key) == block },
			func(t *tensor.Tensor) (*tensor.Tensor, error) { return tensor.Cast(t, policy.DType) },
		)
		if err != nil {
			return nil, err
		}
	}

	name := req.CustomName
	if name == "" {
		var b, c string
		if secondary != nil {
			b = secondary.Name
		}
		if tertiary != nil {
			c = tertiary.Name
		}
		name = OutputName(method, req.Multiplier, primary.Name, b, c)
	}
	name += flags.FlagSuffix() + ".safetensors"
	outputPath := filepath.Join(m.Registry.Dir(registry.KindCheckpoint), name)

	metadata, err := m.assembleMetadata(ctx, req, method, policies, flags, primary, secondary, tertiary, fn)
	if err != nil {
		return nil, err
	}

	fn(api.ProgressResponse{Status: fmt.Sprintf("saving to %s", outputPath)})
	if err := Save(outputPath, theta0, metadata); err != nil {
		return nil, err
	}

	if model, err := m.Registry.Resolve(registry.KindCheckpoint, name); err == nil {
		if short, err := model.ShortHash(); err == nil {
			slog.Info("checkpoint created", "path", outputPath, "shorthash", short)
		}
	}

	fn(api.ProgressResponse{Status: "success", Path: outputPath})
	return &Result{Path: outputPath, Name: name, Flags: flags}, nil
}

// foldDifference ersetzt thetaB in-place durch die Differenz B-C,
// beschraenkt auf Backbone-Keys. Fehlt ein Key in C, zaehlt die fehlende
// Seite als Null-Tensor gleicher Shape.
func (m *Merger) foldDifference(thetaB, thetaC Theta, fn func(api.ProgressResponse)) error {
	status := "merging secondary and tertiary"
	fn(api.ProgressResponse{Status: status})

	keys := sortedKeys(thetaB)
	for i, key := range keys {
		fn(api.ProgressResponse{Status: status, Digest: "diff", Completed: int64(i + 1), Total: int64(len(keys))})

		if skipKey(key) || Classify(key) != BlockBackbone {
			continue
		}

		b := thetaB[key]
		c, ok := thetaC[key]
		if !ok {
			c = tensor.Zeros(b.DType, b.Shape...)
		}

		// Die Kanal-Sonderfaelle gelten nur fuer Paar-Merges, nicht fuer
		// die Differenz zweier gleichartiger Modelle
		if !b.SameShape(c) {
			return &CompatibilityError{Key: key, AShape: b.Shape, BShape: c.Shape, Reason: "incompatible shapes"}
		}

		fb := b.Float32s()
		difference(fb, c.Float32s(), 0)

		out := &tensor.Tensor{DType: promote(b.DType, c.DType), Shape: slices.Clone(b.Shape)}
		out.SetFloat32s(fb)
		thetaB[key] = out
	}

	return nil
}

// saveExtract speichert den Extract-Zweig: kein Merge, keine Metadaten,
// Zielverzeichnis je nach extrahiertem Teilblock
func (m *Merger) saveExtract(method Method, customName, primaryName string, theta Theta, fn func(api.ProgressResponse)) (*Result, error) {
	name := customName
	if name == "" {
		name = OutputName(method, 0, primaryName, "", "")
	}
	name += ".safetensors"

	var dir string
	switch method {
	case MethodExtractVAE:
		dir = m.Registry.Dir(registry.KindVAE)
	case MethodExtractTE:
		dir = m.Registry.Dir(registry.KindTextEncoder)
	default:
		dir = m.Registry.Dir(registry.KindCheckpoint)
	}
	outputPath := filepath.Join(dir, name)

	fn(api.ProgressResponse{Status: fmt.Sprintf("saving to %s", outputPath)})
	if err := Save(outputPath, theta, nil); err != nil {
		return nil, err
	}

	fn(api.ProgressResponse{Status: "success", Path: outputPath})
	return &Result{Path: outputPath, Name: name}, nil
}

// bakeAll backt erst die VAE, dann alle Text-Encoder der Reihe nach ein.
// Jedes Overlay ist abgeschlossen, bevor das naechste beginnt; spaetere
// Overlays gewinnen bei Key-Kollisionen.
func (m *Merger) bakeAll(theta Theta, arch Architecture, probeKey, bakeVAE string, bakeTE []string, castFP32 bool, fn func(api.ProgressResponse)) error {
	bakeOne := func(kind registry.Kind, name string) error {
		fn(api.ProgressResponse{Status: fmt.Sprintf("baking in %s %s", kind, name)})

		model, err := m.Registry.Resolve(kind, name)
		if err != nil {
			return err
		}

		source, _, err := Load(model.Path, LoadOptions{CastFP32: castFP32})
		if err != nil {
			return err
		}

		delta, err := Bake(m.Remapper, arch, probeKey, source)
		if err != nil {
			return err
		}

		theta.Overlay(delta)
		return nil
	}

	if bakeVAE != "" && bakeVAE != builtinSource {
		if err := bakeOne(registry.KindVAE, bakeVAE); err != nil {
			return err
		}
	}

	for _, te := range bakeTE {
		if err := bakeOne(registry.KindTextEncoder, te); err != nil {
			return err
		}
	}

	return nil
}

// assembleMetadata baut die Metadaten-Map der Ausgabedatei zusammen.
// Fehler beim Parsen des Benutzer-JSON sind nicht fatal.
func (m *Merger) assembleMetadata(ctx context.Context, req *api.MergeRequest, method Method, policies map[Block]Policy, flags Flags, primary, secondary, tertiary *registry.Model, fn func(api.ProgressResponse)) (map[string]string, error) {
	if !req.SaveMetadata {
		return nil, nil
	}

	participants := []*registry.Model{primary, secondary, tertiary}
	metadata := make(map[string]string)

	if req.CopyMetadataFields {
		for _, model := range participants {
			if model == nil {
				continue
			}

			md, err := model.Metadata()
			if err != nil {
				slog.Warn("could not read model metadata", "model", model.Name, "error", err)
				continue
			}
			maps.Copy(metadata, md)
		}
	}

	if req.MetadataJSON != "" {
		var user map[string]string
		if err := json.Unmarshal([]byte(req.MetadataJSON), &user); err != nil {
			slog.Error("reading metadata from json", "error", err)
			fn(api.ProgressResponse{Status: fmt.Sprintf("ignoring invalid metadata json: %v", err)})
		} else {
			maps.Copy(metadata, user)
		}
	}

	metadata["format"] = "pt"

	if req.AddMergeRecipe {
		if err := registry.HashAll(ctx, primary, secondary, tertiary); err != nil {
			return nil, err
		}

		recipe := Recipe{
			Type:       "smelt",
			Method:     method.String(),
			Multiplier: req.Multiplier,
			SaveAs: fmt.Sprintf("Unet: %s, VAE: %s, Text encoder(s): %s",
				policies[BlockBackbone], policies[BlockVAE], policies[BlockTextEncoder]),
			CustomName:        req.CustomName,
			BakeInVAE:         req.BakeInVAE,
			BakeInTE:          req.BakeInTE,
			DiscardWeights:    req.DiscardWeights,
			IsInpainting:      flags.Inpainting,
			IsInstructPix2Pix: flags.InstructPix2Pix,
		}
		recipe.PrimaryHash, _ = primary.Digest()
		if secondary != nil {
			recipe.SecondaryHash, _ = secondary.Digest()
		}
		if tertiary != nil {
			recipe.TertiaryHash, _ = tertiary.Digest()
		}

		bts, err := json.Marshal(recipe)
		if err != nil {
			return nil, err
		}
		metadata[RecipeMetadataKey] = string(bts)

		records := make(map[string]ModelRecord)
		for _, model := range participants {
			if model == nil {
				continue
			}

			digest, err := model.Digest()
			if err != nil {
				return nil, err
			}

			record := ModelRecord{Name: model.Name}
			record.LegacyHash, _ = model.ShortHash()
			if md, err := model.Metadata(); err == nil {
				if recipe, ok := md[RecipeMetadataKey]; ok {
					record.MergeRecipe = json.RawMessage(recipe)
				}
				// Herkunfts-Tabellen der Eltern weitertragen
				if table, ok := md[ModelsMetadataKey]; ok {
					var parents map[string]ModelRecord
					if err := json.Unmarshal([]byte(table), &parents); err == nil {
						maps.Copy(records, parents)
					}
				}
			}
			records[digest] = record
		}

		bts, err = json.Marshal(records)
		if err != nil {
			return nil, err
		}
		metadata[ModelsMetadataKey] = string(bts)
	}

	return metadata, nil
}

// sortedKeys gibt die Keys eines Theta sortiert zurueck; der Lauf wird
// damit unabhaengig von der Map-Iterationsreihenfolge reproduzierbar
func sortedKeys(theta Theta) []string {
	keys := make([]string, 0, len(theta))
	for key := range theta {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
