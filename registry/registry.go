// Package registry - Auffinden und Identifizieren installierter Checkpoints
//
// Dieses Modul enthaelt:
// - Registry: Loest Modellnamen gegen die konfigurierten Verzeichnisse auf
// - Model: Deskriptor eines Checkpoints (Pfad, Metadaten, Content-Hash)
// - Kind: Checkpoint / VAE / Text-Encoder Verzeichnis-Arten
//
// Der Content-Hash (sha256 ueber die Datei) wird erst bei Bedarf
// berechnet und danach gecacht; HashAll berechnet mehrere Hashes
// parallel ueber eine errgroup.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smelter/smelt/envconfig"
	"github.com/smelter/smelt/safetensors"
)

// Kind unterscheidet die Verzeichnis-Arten
type Kind int

const (
	KindCheckpoint Kind = iota
	KindVAE
	KindTextEncoder
)

// String gibt den Namen der Verzeichnis-Art zurueck
func (k Kind) String() string {
	switch k {
	case KindVAE:
		return "vae"
	case KindTextEncoder:
		return "text_encoder"
	default:
		return "checkpoint"
	}
}

// Model ist der Deskriptor eines Checkpoints. Nach dem Laden unveraenderlich;
// nur der Hash-Cache wird nachgezogen.
type Model struct {
	// Name ist der Dateiname ohne Endung, das benutzerseitige Handle
	Name string

	// Filename ist der Dateiname samt Endung
	Filename string

	Path       string
	Size       int64
	ModifiedAt time.Time

	mu     sync.Mutex
	digest string
}

// Digest berechnet den sha256-Content-Hash (hex), gecacht nach dem ersten Aufruf
func (m *Model) Digest() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.digest != "" {
		return m.digest, nil
	}

	f, err := os.Open(m.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	m.digest = hex.EncodeToString(h.Sum(nil))
	return m.digest, nil
}

// ShortHash gibt die ersten 10 Zeichen des Content-Hashes zurueck
func (m *Model) ShortHash() (string, error) {
	digest, err := m.Digest()
	if err != nil {
		return "", err
	}
	return digest[:10], nil
}

// Metadata liest die eingebettete Metadaten-Map aus dem Header der Datei
func (m *Model) Metadata() (map[string]string, error) {
	r, err := safetensors.Open(m.Path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.Metadata(), nil
}

// Registry loest Modellnamen gegen die konfigurierten Verzeichnisse auf
type Registry struct {
	dirs map[Kind]string
}

// New erstellt eine Registry aus der Environment-Konfiguration
func New() *Registry {
	return &Registry{dirs: map[Kind]string{
		KindCheckpoint:  envconfig.Models(),
		KindVAE:         envconfig.VAEDir(),
		KindTextEncoder: envconfig.TextEncoderDir(),
	}}
}

// Dir gibt das Verzeichnis einer Art zurueck
func (r *Registry) Dir(kind Kind) string {
	return r.dirs[kind]
}

// List gibt alle safetensors-Dateien einer Art zurueck, sortiert nach Name.
// Ein fehlendes Verzeichnis ergibt eine leere Liste.
func (r *Registry) List(kind Kind) ([]*Model, error) {
	entries, err := os.ReadDir(r.dirs[kind])
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var models []*Model
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".safetensors") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		models = append(models, &Model{
			Name:       strings.TrimSuffix(entry.Name(), ".safetensors"),
			Filename:   entry.Name(),
			Path:       filepath.Join(r.dirs[kind], entry.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	slices.SortFunc(models, func(a, b *Model) int {
		return strings.Compare(a.Name, b.Name)
	})
	return models, nil
}

// Resolve loest einen Namen gegen das Verzeichnis einer Art auf.
// Akzeptiert den Namen ohne Endung, den Dateinamen oder einen Pfad.
func (r *Registry) Resolve(kind Kind, name string) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("%s name is empty", kind)
	}

	path := name
	if !filepath.IsAbs(name) && !strings.ContainsRune(name, os.PathSeparator) {
		path = filepath.Join(r.dirs[kind], name)
		if !strings.HasSuffix(path, ".safetensors") {
			path += ".safetensors"
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s %q not found: %w", kind, name, fs.ErrNotExist)
		}
		return nil, err
	}

	filename := filepath.Base(path)
	return &Model{
		Name:       strings.TrimSuffix(filename, ".safetensors"),
		Filename:   filename,
		Path:       path,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	}, nil
}

// HashAll berechnet die Content-Hashes mehrerer Modelle parallel
func HashAll(ctx context.Context, models ...*Model) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, m := range models {
		if m == nil {
			continue
		}
		m := m
		g.Go(func() error {
			_, err := m.Digest()
			return err
		})
	}

	return g.Wait()
}
