package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

// StatusHandler reports version progress to the prototype owner, including
// the public error message of failed versions.
type StatusHandler struct {
	store registry.Store
}

func NewStatusHandler(store registry.Store) *StatusHandler {
	return &StatusHandler{store: store}
}

func (h *StatusHandler) ListVersions(c *gin.Context) {
	p, err := ownedPrototype(c, h.store)
	if err != nil {
		respondError(c, err, "failed to list versions")
		return
	}

	versions, err := h.store.ListVersions(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, err, "failed to list versions")
		return
	}

	resp := models.VersionListResponse{Versions: make([]models.VersionResponse, len(versions))}
	for i := range versions {
		resp.Versions[i] = models.NewVersionResponse(&versions[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StatusHandler) GetVersion(c *gin.Context) {
	v, err := versionOf(c, h.store)
	if err != nil {
		respondError(c, err, "failed to get version")
		return
	}
	c.JSON(http.StatusOK, models.NewVersionResponse(v))
}

// versionOf loads the version named in the path after the ownership check
// on its prototype.
func versionOf(c *gin.Context, store registry.Store) (*models.Version, error) {
	p, err := ownedPrototype(c, store)
	if err != nil {
		return nil, err
	}
	versionID, err := uuidParam(c, "version_id")
	if err != nil {
		return nil, err
	}
	v, err := store.GetVersion(c.Request.Context(), versionID)
	if err != nil {
		return nil, err
	}
	if v.PrototypeID != p.ID {
		return nil, apperr.NotFound("version not found")
	}
	return v, nil
}
