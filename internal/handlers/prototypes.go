package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/middleware"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

var prototypeFields = map[string]string{
	"Name":       "name",
	"PreviewURL": "preview_url",
	"FilesURL":   "files_url",
}

type PrototypesHandler struct {
	store registry.Store
}

func NewPrototypesHandler(store registry.Store) *PrototypesHandler {
	return &PrototypesHandler{store: store}
}

// CreatePrototype registers a prototype owned by the caller. The optional
// preview and files URLs describe a pre-versioning upload.
func (h *PrototypesHandler) CreatePrototype(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == uuid.Nil {
		respondError(c, apperr.Unauthorized("user id not found"), "")
		return
	}

	var req models.CreatePrototypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err, prototypeFields), "")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(c, apperr.ValidationFields("some fields are invalid", map[string]string{"name": "is required"}), "")
		return
	}

	p := &models.Prototype{
		OwnerID:    userID,
		Name:       name,
		PreviewURL: registry.NullString(req.PreviewURL),
		FilesURL:   registry.NullString(req.FilesURL),
	}
	if err := h.store.CreatePrototype(c.Request.Context(), p); err != nil {
		respondError(c, err, "failed to create prototype")
		return
	}

	c.JSON(http.StatusCreated, models.NewPrototypeResponse(p))
}

func (h *PrototypesHandler) GetPrototype(c *gin.Context) {
	p, err := ownedPrototype(c, h.store)
	if err != nil {
		respondError(c, err, "failed to get prototype")
		return
	}
	c.JSON(http.StatusOK, models.NewPrototypeResponse(p))
}
