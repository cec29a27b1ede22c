package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"prototype-versions-backend/internal/middleware"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/services"
)

type AccessHandler struct {
	access services.AccessEvaluator
}

func NewAccessHandler(access services.AccessEvaluator) *AccessHandler {
	return &AccessHandler{access: access}
}

// GetVersioningAccess tells the client whether to show version controls.
// A failed lookup answers all false rather than an error.
func (h *AccessHandler) GetVersioningAccess(c *gin.Context) {
	access, err := h.access.Evaluate(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, models.VersioningAccessResponse{
		IsEligible:    access.IsEligible,
		UIEnabled:     access.UIEnabled,
		UploadEnabled: access.UploadEnabled,
	})
}
