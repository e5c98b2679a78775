// client_test.go - Tests fuer den HTTP-Client
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	base, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	return NewClient(base, http.DefaultClient)
}

func TestStreamWithoutBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		json.NewEncoder(w).Encode(ProgressResponse{Status: "success"})
	})

	// data == nil darf keinen Body-Reader erzeugen
	var got []ProgressResponse
	err := c.stream(context.Background(), http.MethodGet, "/api/test", nil, func(bts []byte) error {
		var resp ProgressResponse
		if err := json.Unmarshal(bts, &resp); err != nil {
			return err
		}
		got = append(got, resp)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0].Status != "success" {
		t.Errorf("got %v, want one success response", got)
	}
}

func TestMergeStreamsProgress(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/merge" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}

		var req MergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		enc.Encode(ProgressResponse{Status: "merging", Completed: 1, Total: 2})
		enc.Encode(ProgressResponse{Status: "success", Path: "/tmp/out.safetensors"})
	})

	var statuses []string
	err := c.Merge(context.Background(), &MergeRequest{Primary: "A", Secondary: "B"}, func(resp ProgressResponse) error {
		statuses = append(statuses, resp.Status)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(statuses) != 2 || statuses[1] != "success" {
		t.Errorf("got statuses %v, want merging then success", statuses)
	}
}
