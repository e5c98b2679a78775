// write.go - Schreiben von safetensors-Dateien
//
// Dieses Modul enthaelt:
// - Write: Schreibt eine komplette safetensors-Datei mit Metadaten
//
// Die Ausgabe ist deterministisch: Tensor-Namen werden sortiert, die
// Daten-Offsets fortlaufend in Sortierreihenfolge vergeben. Geschrieben
// wird zuerst in eine temporaere Datei im Zielverzeichnis, die erst nach
// vollstaendigem Flush auf den Zielpfad umbenannt wird, damit bei
// I/O-Fehlern keine halbfertige Ausgabedatei zurueckbleibt.
package safetensors

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/smelter/smelt/tensor"
)

// Write schreibt alle Tensoren und optionale Metadaten nach path
func Write(path string, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var offset int64
	for _, name := range names {
		t := tensors[name]
		if int64(len(t.Data)) != t.Bytes() {
			return fmt.Errorf("tensor %q: data length %d does not match shape %v (%s)", name, len(t.Data), t.Shape, t.DType)
		}

		shape := t.Shape
		if shape == nil {
			shape = []int64{}
		}
		header[name] = tensorInfo{
			Dtype:       t.DType.String(),
			Shape:       shape,
			DataOffsets: [2]int64{offset, offset + int64(len(t.Data))},
		}
		offset += int64(len(t.Data))
	}

	// json.Marshal sortiert Map-Keys, der Header ist damit reproduzierbar
	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "smelt-save")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	for _, name := range names {
		if _, err := bw.Write(tensors[name].Data); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
