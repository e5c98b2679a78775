// store.go - WeightStore: eigentumsbehaftete Key/Tensor-Map eines Checkpoints
//
// Dieses Modul enthaelt:
// - Theta: Map von Key auf Tensor, exklusiv im Besitz des Orchestrators
// - Load: Laedt eine safetensors-Datei, optional mit Strip beim Laden
// - Strip/Transform: In-place Mutation per Praedikat
// - Save: Schreibt den Store als safetensors-Datei
//
// Strip beim Laden ist eine Speicheroptimierung: unerwuenschte Keys
// werden uebersprungen, bevor ihre Daten ueberhaupt gelesen werden.
// Das Ergebnis ist identisch zu Load gefolgt von Strip.
package merge

import (
	"fmt"
	"regexp"

	"github.com/smelter/smelt/safetensors"
	"github.com/smelter/smelt/tensor"
)

// Theta ist die Gewichts-Map eines Checkpoints
type Theta map[string]*tensor.Tensor

// LoadError meldet eine fehlende oder beschaedigte Eingabedatei
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// SaveError meldet einen I/O-Fehler beim Schreiben der Ausgabedatei
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("saving %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// LoadOptions steuert das Verhalten von Load
type LoadOptions struct {
	// Strip ueberspringt Keys beim Laden, fuer die das Praedikat wahr ist
	Strip func(key string) bool

	// Discard verwirft Keys, die auf das Muster passen
	Discard *regexp.Regexp

	// CastFP32 rechnet alle geladenen Tensoren nach F32 hoch
	CastFP32 bool

	// Progress wird pro gelesenem Key aufgerufen
	Progress func(completed, total int64)
}

// Load laedt eine safetensors-Datei als Theta samt eingebetteter Metadaten
func Load(path string, opts LoadOptions) (Theta, map[string]string, error) {
	r, err := safetensors.Open(path)
	if err != nil {
		return nil, nil, &LoadError{Path: path, Err: err}
	}
	defer r.Close()

	keys := r.Keys()
	theta := make(Theta, len(keys))

	for i, key := range keys {
		if opts.Progress != nil {
			opts.Progress(int64(i+1), int64(len(keys)))
		}
		if opts.Strip != nil && opts.Strip(key) {
			continue
		}
		if opts.Discard != nil && opts.Discard.MatchString(key) {
			continue
		}

		t, err := r.Tensor(key)
		if err != nil {
			return nil, nil, &LoadError{Path: path, Err: err}
		}

		if opts.CastFP32 {
			if t, err = tensor.Cast(t, tensor.DataTypeF32); err != nil {
				return nil, nil, &LoadError{Path: path, Err: err}
			}
		}

		theta[key] = t
	}

	return theta, r.Metadata(), nil
}

// Strip loescht alle Keys, fuer die das Praedikat wahr ist
func (theta Theta) Strip(pred func(key string) bool) {
	for key := range theta {
		if pred(key) {
			delete(theta, key)
		}
	}
}

// Transform ersetzt den Wert jedes passenden Keys durch fn(Wert)
func (theta Theta) Transform(pred func(key string) bool, fn func(*tensor.Tensor) (*tensor.Tensor, error)) error {
	for key, t := range theta {
		if !pred(key) {
			continue
		}

		out, err := fn(t)
		if err != nil {
			return fmt.Errorf("transforming %s: %w", key, err)
		}
		theta[key] = out
	}
	return nil
}

// Save schreibt den Store als safetensors-Datei. metadata darf nil sein.
func Save(path string, theta Theta, metadata map[string]string) error {
	tensors := make(map[string]*tensor.Tensor, len(theta))
	for key, t := range theta {
		tensors[key] = t
	}

	if err := safetensors.Write(path, tensors, metadata); err != nil {
		return &SaveError{Path: path, Err: err}
	}
	return nil
}
