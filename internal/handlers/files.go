package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/blob"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
	"prototype-versions-backend/internal/services"
)

type FilesHandler struct {
	store registry.Store
	blobs blob.Store
}

func NewFilesHandler(store registry.Store, blobs blob.Store) *FilesHandler {
	return &FilesHandler{
		store: store,
		blobs: blobs,
	}
}

// GetFiles lists the published files of a ready version, relative to the
// version root.
func (h *FilesHandler) GetFiles(c *gin.Context) {
	v, err := versionOf(c, h.store)
	if err != nil {
		respondError(c, err, "failed to get files")
		return
	}
	if v.Status != models.VersionStatusReady {
		respondError(c, apperr.Conflict("version is not ready"), "")
		return
	}

	prefix := services.VersionPrefix(v.PrototypeID, v.VersionNumber)
	keys, err := h.blobs.List(c.Request.Context(), prefix)
	if err != nil {
		respondError(c, apperr.TransientStorage("failed to list files", err), "")
		return
	}

	files := make([]string, len(keys))
	for i, key := range keys {
		files[i] = strings.TrimPrefix(key, prefix)
	}
	c.JSON(http.StatusOK, models.VersionFilesResponse{
		VersionID: v.ID.String(),
		Files:     files,
	})
}
