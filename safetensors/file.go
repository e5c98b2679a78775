// Package safetensors - Lesen von safetensors-Dateien
//
// Dieses Modul enthaelt die Reader-Hauptstruktur:
// - Reader: Repraesentiert eine geoeffnete safetensors-Datei
// - Open: Oeffnet die Datei und parst den JSON-Header
// - Tensor: Liest die Daten eines einzelnen Tensors
// - Close: Schliesst die Datei
//
// Dateilayout: [header_len:u64 LE][header_json][tensor_data...]
// Der Header bildet Tensor-Namen auf {dtype, shape, data_offsets} ab;
// der optionale Eintrag "__metadata__" ist eine String-Map. Tensoren
// werden einzeln gelesen, damit Aufrufer unerwuenschte Keys ueberspringen
// koennen, ohne deren Daten jemals in den Speicher zu holen.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/smelter/smelt/tensor"
)

// ErrInvalid wird bei beschaedigten oder nicht-safetensors Dateien zurueckgegeben
var ErrInvalid = errors.New("invalid safetensors file")

// maxHeaderSize begrenzt den JSON-Header (Schutz gegen beschaedigte Laengenfelder)
const maxHeaderSize = 256 << 20

type tensorInfo struct {
	Dtype       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Reader repraesentiert eine geoeffnete safetensors-Datei
type Reader struct {
	file       *os.File
	header     map[string]tensorInfo
	metadata   map[string]string
	dataOffset int64
	dataSize   int64
}

// Open oeffnet eine safetensors-Datei und parst den Header
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func newReader(f *os.File) (*Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var headerLen uint64
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if headerLen == 0 || headerLen > maxHeaderSize || int64(headerLen) > fi.Size()-8 {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalid, headerLen)
	}

	bts := make([]byte, headerLen)
	if _, err := io.ReadFull(f, bts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bts, &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalid, err)
	}

	r := &Reader{
		file:       f,
		header:     make(map[string]tensorInfo, len(raw)),
		dataOffset: 8 + int64(headerLen),
	}
	r.dataSize = fi.Size() - r.dataOffset

	for name, msg := range raw {
		if name == "__metadata__" {
			if err := json.Unmarshal(msg, &r.metadata); err != nil {
				return nil, fmt.Errorf("%w: __metadata__: %v", ErrInvalid, err)
			}
			continue
		}

		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrInvalid, name, err)
		}

		dtype, err := tensor.ParseDataType(info.Dtype)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}

		want := (&tensor.Tensor{DType: dtype, Shape: info.Shape}).Bytes()
		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if begin < 0 || end < begin || end > r.dataSize || end-begin != want {
			return nil, fmt.Errorf("%w: tensor %q: bad data offsets [%d, %d]", ErrInvalid, name, begin, end)
		}

		r.header[name] = info
	}

	return r, nil
}

// Keys gibt alle Tensor-Namen sortiert zurueck
func (r *Reader) Keys() []string {
	keys := make([]string, 0, len(r.header))
	for name := range r.header {
		keys = append(keys, name)
	}
	slices.Sort(keys)
	return keys
}

// Metadata gibt die eingebettete String-Map zurueck (nil wenn keine vorhanden)
func (r *Reader) Metadata() map[string]string {
	return r.metadata
}

// Tensor liest die Daten des benannten Tensors
func (r *Reader) Tensor(name string) (*tensor.Tensor, error) {
	info, ok := r.header[name]
	if !ok {
		return nil, fmt.Errorf("tensor %q not found", name)
	}

	dtype, err := tensor.ParseDataType(info.Dtype)
	if err != nil {
		return nil, err
	}

	t := &tensor.Tensor{DType: dtype, Shape: slices.Clone(info.Shape)}
	t.Data = make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.file.ReadAt(t.Data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return t, nil
}

// Close schliesst die Datei
func (r *Reader) Close() error {
	return r.file.Close()
}
