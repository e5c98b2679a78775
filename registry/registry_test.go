// registry_test.go - Tests fuer Modell-Aufloesung und Content-Hashes
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/smelter/smelt/safetensors"
	"github.com/smelter/smelt/tensor"
)

func writeModel(t *testing.T, path string, metadata map[string]string) {
	t.Helper()

	tensors := map[string]*tensor.Tensor{
		"model.diffusion_model.w": tensor.FromFloat32s([]float32{1, 2}, 2),
	}
	if err := safetensors.Write(path, tensors, metadata); err != nil {
		t.Fatal(err)
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("SMELT_MODELS", dir)
	t.Setenv("SMELT_VAE", filepath.Join(dir, "VAE"))
	t.Setenv("SMELT_TE", filepath.Join(dir, "text_encoder"))
	return New()
}

func TestList(t *testing.T) {
	r := newTestRegistry(t)
	dir := r.Dir(KindCheckpoint)

	writeModel(t, filepath.Join(dir, "beta.safetensors"), nil)
	writeModel(t, filepath.Join(dir, "alpha.safetensors"), nil)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	models, err := r.List(KindCheckpoint)
	if err != nil {
		t.Fatal(err)
	}

	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	// Sortiert nach Name, Fremddateien ignoriert
	if models[0].Name != "alpha" || models[1].Name != "beta" {
		t.Errorf("order = %s, %s", models[0].Name, models[1].Name)
	}
	if models[0].Filename != "alpha.safetensors" {
		t.Errorf("filename = %q", models[0].Filename)
	}
	if models[0].Size == 0 {
		t.Error("size not populated")
	}
}

func TestListMissingDir(t *testing.T) {
	r := newTestRegistry(t)

	// VAE-Verzeichnis existiert nicht: leere Liste, kein Fehler
	models, err := r.List(KindVAE)
	if err != nil {
		t.Fatal(err)
	}
	if models != nil {
		t.Errorf("models = %v, want nil", models)
	}
}

func TestResolve(t *testing.T) {
	r := newTestRegistry(t)
	dir := r.Dir(KindCheckpoint)
	writeModel(t, filepath.Join(dir, "alpha.safetensors"), nil)

	cases := []struct {
		name string
		in   string
	}{
		{"bare name", "alpha"},
		{"filename", "alpha.safetensors"},
		{"absolute path", filepath.Join(dir, "alpha.safetensors")},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			m, err := r.Resolve(KindCheckpoint, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if m.Name != "alpha" {
				t.Errorf("name = %q, want alpha", m.Name)
			}
			if m.Path != filepath.Join(dir, "alpha.safetensors") {
				t.Errorf("path = %q", m.Path)
			}
		})
	}
}

func TestResolveNotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Resolve(KindCheckpoint, "missing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestDigest(t *testing.T) {
	r := newTestRegistry(t)
	path := filepath.Join(r.Dir(KindCheckpoint), "alpha.safetensors")
	writeModel(t, path, nil)

	m, err := r.Resolve(KindCheckpoint, "alpha")
	if err != nil {
		t.Fatal(err)
	}

	digest, err := m.Digest()
	if err != nil {
		t.Fatal(err)
	}

	bts, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(bts)
	if want := hex.EncodeToString(sum[:]); digest != want {
		t.Errorf("digest = %s, want %s", digest, want)
	}

	short, err := m.ShortHash()
	if err != nil {
		t.Fatal(err)
	}
	if short != digest[:10] {
		t.Errorf("short hash = %s", short)
	}
}

func TestMetadata(t *testing.T) {
	r := newTestRegistry(t)
	writeModel(t, filepath.Join(r.Dir(KindCheckpoint), "alpha.safetensors"), map[string]string{"format": "pt"})

	m, err := r.Resolve(KindCheckpoint, "alpha")
	if err != nil {
		t.Fatal(err)
	}

	md, err := m.Metadata()
	if err != nil {
		t.Fatal(err)
	}
	if md["format"] != "pt" {
		t.Errorf("format = %q, want pt", md["format"])
	}
}

func TestHashAll(t *testing.T) {
	r := newTestRegistry(t)
	dir := r.Dir(KindCheckpoint)
	writeModel(t, filepath.Join(dir, "a.safetensors"), nil)
	writeModel(t, filepath.Join(dir, "b.safetensors"), nil)

	a, err := r.Resolve(KindCheckpoint, "a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(KindCheckpoint, "b")
	if err != nil {
		t.Fatal(err)
	}

	// nil-Eintraege werden uebersprungen
	if err := HashAll(context.Background(), a, nil, b); err != nil {
		t.Fatal(err)
	}

	for _, m := range []*Model{a, b} {
		if m.digest == "" {
			t.Errorf("%s: digest not cached", m.Name)
		}
	}
}
