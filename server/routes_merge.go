// routes_merge.go - HTTP-Handler fuer Merge-Laeufe
//
// Enthaelt:
// - MergeHandler: HTTP-Handler fuer POST /api/merge
//
// Der Lauf selbst steckt in merge.Merger; der Handler validiert den
// Request, startet den Lauf in einer Goroutine und streamt den
// Fortschritt als NDJSON (oder sammelt ihn bei stream=false).
package server

import (
	"errors"
	"io"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smelter/smelt/api"
	"github.com/smelter/smelt/merge"
)

// MergeHandler verarbeitet POST /api/merge Requests
func (s *Server) MergeHandler(c *gin.Context) {
	var r api.MergeRequest
	if err := c.ShouldBindJSON(&r); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch := make(chan any)
	go func() {
		defer close(ch)

		// Sendet nicht mehr, sobald der Client die Verbindung beendet
		// hat; sonst bliebe die Goroutine samt geladener Gewichts-Maps
		// auf dem blockierten Channel haengen
		ctx := c.Request.Context()
		fn := func(resp api.ProgressResponse) {
			select {
			case ch <- resp:
			case <-ctx.Done():
			}
		}

		if _, err := s.merger.Run(ctx, &r, fn); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, merge.ErrPrimaryRequired),
				errors.Is(err, merge.ErrSecondaryRequired),
				errors.Is(err, merge.ErrTertiaryRequired):
				status = http.StatusBadRequest
			case errors.Is(err, fs.ErrNotExist):
				status = http.StatusNotFound
			default:
				var compErr *merge.CompatibilityError
				if errors.As(err, &compErr) {
					status = http.StatusBadRequest
				}
			}
			select {
			case ch <- gin.H{"error": err.Error(), "status": status}:
			case <-ctx.Done():
			}
		}
	}()

	if r.Stream != nil && !*r.Stream {
		waitForStream(c, ch)
		return
	}

	streamResponse(c, ch)
}
