// routes_models.go - Registry-Handler
// Beinhaltet: ListHandler, ShowHandler
package server

import (
	"cmp"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/smelter/smelt/api"
	"github.com/smelter/smelt/registry"
	"github.com/smelter/smelt/safetensors"
)

// ListHandler verarbeitet /api/tags Anfragen
func (s *Server) ListHandler(c *gin.Context) {
	ms, err := s.registry.List(registry.KindCheckpoint)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	models := []api.ModelResponse{}
	for _, m := range ms {
		models = append(models, api.ModelResponse{
			Name:       m.Name,
			Filename:   m.Filename,
			Size:       m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}

	// Neueste zuerst
	slices.SortStableFunc(models, func(i, j api.ModelResponse) int {
		return cmp.Compare(j.ModifiedAt.Unix(), i.ModifiedAt.Unix())
	})

	c.JSON(http.StatusOK, api.ListResponse{Models: models})
}

// ShowHandler verarbeitet /api/show Anfragen
func (s *Server) ShowHandler(c *gin.Context) {
	var r api.ShowRequest
	if err := c.ShouldBindJSON(&r); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if r.Model == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	m, err := s.registry.Resolve(registry.KindCheckpoint, r.Model)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	f, err := safetensors.Open(m.Path)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	c.JSON(http.StatusOK, api.ShowResponse{
		Name:       m.Name,
		Filename:   m.Filename,
		Size:       m.Size,
		ModifiedAt: m.ModifiedAt,
		Tensors:    len(f.Keys()),
		Metadata:   f.Metadata(),
	})
}
