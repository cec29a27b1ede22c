package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/services"
)

type ServableResolver interface {
	Resolve(ctx context.Context, prototypeID uuid.UUID) (*services.Servable, error)
}

// ServableHandler is open to any authenticated viewer; the gate is
// evaluated for the prototype owner by the resolver.
type ServableHandler struct {
	resolver ServableResolver
}

func NewServableHandler(resolver ServableResolver) *ServableHandler {
	return &ServableHandler{resolver: resolver}
}

func (h *ServableHandler) GetServable(c *gin.Context) {
	prototypeID, err := uuidParam(c, "prototype_id")
	if err != nil {
		respondError(c, err, "")
		return
	}

	s, err := h.resolver.Resolve(c.Request.Context(), prototypeID)
	if err != nil {
		respondError(c, err, "failed to resolve prototype")
		return
	}

	resp := models.ServableResponse{
		PrototypeID:   s.PrototypeID.String(),
		PreviewPath:   s.PreviewPath,
		FilesPath:     s.FilesPath,
		VersionNumber: s.VersionNumber,
		Source:        s.Source,
	}
	if s.VersionID != nil {
		id := s.VersionID.String()
		resp.VersionID = &id
	}
	c.JSON(http.StatusOK, resp)
}
