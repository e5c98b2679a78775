// Package api - Stream-basierte Client-Methoden.
// Dieses Modul enthaelt alle Methoden, die Streaming-Responses verwenden.

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"

	"github.com/smelter/smelt/format"
	"github.com/smelter/smelt/version"
)

const maxBufferSize = 8 * format.MegaByte

func (c *Client) stream(ctx context.Context, method, path string, data any, fn func([]byte) error) error {
	// buf bleibt als io.Reader nil, wenn kein Body mitgeschickt wird
	var buf io.Reader
	if data != nil {
		bts, err := json.Marshal(data)
		if err != nil {
			return err
		}

		buf = bytes.NewBuffer(bts)
	}

	requestURL := c.base.JoinPath(path)

	request, err := http.NewRequestWithContext(ctx, method, requestURL.String(), buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/x-ndjson")
	request.Header.Set("User-Agent", fmt.Sprintf("smelt/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	scanner := bufio.NewScanner(response.Body)
	// increase the buffer size to avoid running out of space
	scanBuf := make([]byte, 0, maxBufferSize)
	scanner.Buffer(scanBuf, maxBufferSize)
	for scanner.Scan() {
		var errorResponse struct {
			Error string `json:"error,omitempty"`
		}

		bts := scanner.Bytes()
		if err := json.Unmarshal(bts, &errorResponse); err != nil {
			if response.StatusCode >= http.StatusBadRequest {
				return StatusError{
					StatusCode:   response.StatusCode,
					Status:       response.Status,
					ErrorMessage: string(bts),
				}
			}
			return errors.New(string(bts))
		}

		if response.StatusCode >= http.StatusBadRequest {
			return StatusError{
				StatusCode:   response.StatusCode,
				Status:       response.Status,
				ErrorMessage: errorResponse.Error,
			}
		}

		if errorResponse.Error != "" {
			return errors.New(errorResponse.Error)
		}

		if err := fn(bts); err != nil {
			return err
		}
	}

	return nil
}

// MergeProgressFunc is a function that [Client.Merge] invokes every time
// a progress update is received from the service. If this function returns
// an error, [Client.Merge] will stop and return this error.
type MergeProgressFunc func(ProgressResponse) error

// Merge runs a checkpoint merge on the server. The req parameter should be
// populated with merge details. fn is called for each progress update.
func (c *Client) Merge(ctx context.Context, req *MergeRequest, fn MergeProgressFunc) error {
	return c.stream(ctx, http.MethodPost, "/api/merge", req, func(bts []byte) error {
		var resp ProgressResponse
		if err := json.Unmarshal(bts, &resp); err != nil {
			return err
		}

		return fn(resp)
	})
}
