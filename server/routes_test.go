// routes_test.go - HTTP-Tests fuer Router und Handler
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smelter/smelt/api"
	"github.com/smelter/smelt/merge"
	"github.com/smelter/smelt/registry"
	"github.com/smelter/smelt/safetensors"
	"github.com/smelter/smelt/tensor"
)

func writeCheckpoint(t *testing.T, path string, fill float32, metadata map[string]string) {
	t.Helper()

	values := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = fill
		}
		return v
	}

	tensors := map[string]*tensor.Tensor{
		"model.diffusion_model.output_blocks.10.0.emb_layers.1.bias": tensor.FromFloat32s(values(4), 4),
		"first_stage_model.decoder.conv_in.weight":                   tensor.FromFloat32s(values(2), 2),
	}
	require.NoError(t, safetensors.Write(path, tensors, metadata))
}

// closeNotifyRecorder implementiert http.CloseNotifier, das Gin fuer
// gestreamte Responses vom ResponseWriter verlangt
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifyRecorder() *closeNotifyRecorder {
	return &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}

func (w *closeNotifyRecorder) CloseNotify() <-chan bool {
	return w.closed
}

// closeClient simuliert einen Verbindungsabbruch des Clients
func (w *closeNotifyRecorder) closeClient() {
	w.closed <- true
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("SMELT_MODELS", dir)
	t.Setenv("SMELT_VAE", filepath.Join(dir, "VAE"))
	t.Setenv("SMELT_TE", filepath.Join(dir, "text_encoder"))

	reg := registry.New()
	s := &Server{registry: reg, merger: merge.NewMerger(reg)}

	h, err := s.GenerateRoutes()
	require.NoError(t, err)
	return s, h
}

func TestVersionHandler(t *testing.T) {
	_, h := newTestServer(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["version"])
}

func TestHeartbeat(t *testing.T) {
	_, h := newTestServer(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListHandler(t *testing.T) {
	s, h := newTestServer(t)
	dir := s.registry.Dir(registry.KindCheckpoint)

	writeCheckpoint(t, filepath.Join(dir, "alpha.safetensors"), 1, nil)
	writeCheckpoint(t, filepath.Join(dir, "beta.safetensors"), 2, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tags", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 2)
	for _, m := range resp.Models {
		assert.NotEmpty(t, m.Name)
		assert.NotZero(t, m.Size)
	}
}

func TestShowHandler(t *testing.T) {
	s, h := newTestServer(t)
	dir := s.registry.Dir(registry.KindCheckpoint)
	writeCheckpoint(t, filepath.Join(dir, "alpha.safetensors"), 1, map[string]string{"format": "pt"})

	t.Run("found", func(t *testing.T) {
		body, err := json.Marshal(api.ShowRequest{Model: "alpha"})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/show", bytes.NewReader(body)))

		require.Equal(t, http.StatusOK, w.Code)

		var resp api.ShowResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "alpha", resp.Name)
		assert.Equal(t, 2, resp.Tensors)
		assert.Equal(t, "pt", resp.Metadata["format"])
	})

	t.Run("not found", func(t *testing.T) {
		body, err := json.Marshal(api.ShowRequest{Model: "missing"})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/show", bytes.NewReader(body)))
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/show", nil))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMergeHandler(t *testing.T) {
	s, h := newTestServer(t)
	dir := s.registry.Dir(registry.KindCheckpoint)
	writeCheckpoint(t, filepath.Join(dir, "A.safetensors"), 1, nil)
	writeCheckpoint(t, filepath.Join(dir, "B.safetensors"), 3, nil)

	stream := false

	t.Run("success", func(t *testing.T) {
		body, err := json.Marshal(api.MergeRequest{
			Primary:    "A",
			Secondary:  "B",
			Method:     "weighted-sum",
			Multiplier: 0.5,
			Stream:     &stream,
		})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/merge", bytes.NewReader(body)))

		require.Equal(t, http.StatusOK, w.Code)

		var resp api.ProgressResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.NotEmpty(t, resp.Path)
	})

	t.Run("streaming", func(t *testing.T) {
		body, err := json.Marshal(api.MergeRequest{
			Primary:    "A",
			Secondary:  "B",
			Method:     "weighted-sum",
			Multiplier: 0.5,
		})
		require.NoError(t, err)

		w := newCloseNotifyRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/merge", bytes.NewReader(body)))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

		// Letzte NDJSON-Zeile ist die success-Response
		lines := bytes.Split(bytes.TrimSpace(w.Body.Bytes()), []byte("\n"))
		require.NotEmpty(t, lines)

		var last api.ProgressResponse
		require.NoError(t, json.Unmarshal(lines[len(lines)-1], &last))
		assert.Equal(t, "success", last.Status)
	})

	t.Run("client disconnect", func(t *testing.T) {
		body, err := json.Marshal(api.MergeRequest{
			Primary:    "A",
			Secondary:  "B",
			Method:     "weighted-sum",
			Multiplier: 0.5,
			CustomName: "gone",
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/merge", bytes.NewReader(body))
		ctx, cancel := context.WithCancel(req.Context())
		cancel()
		req = req.WithContext(ctx)

		w := newCloseNotifyRecorder()
		w.closeClient()

		// Darf weder haengen noch die Merge-Goroutine blockieren
		h.ServeHTTP(w, req)

		// Der bereits gestartete Lauf wird im Hintergrund zu Ende gefuehrt
		out := filepath.Join(dir, "gone.safetensors")
		require.Eventually(t, func() bool {
			_, err := os.Stat(out)
			return err == nil
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("missing primary", func(t *testing.T) {
		body, err := json.Marshal(api.MergeRequest{
			Method: "weighted-sum",
			Stream: &stream,
		})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/merge", bytes.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown model", func(t *testing.T) {
		body, err := json.Marshal(api.MergeRequest{
			Primary:    "A",
			Secondary:  "nope",
			Method:     "weighted-sum",
			Multiplier: 0.5,
			Stream:     &stream,
		})
		require.NoError(t, err)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/merge", bytes.NewReader(body)))
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/merge", nil))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
