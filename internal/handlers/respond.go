package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/middleware"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

// respondError writes err as an ErrorResponse. Errors outside the apperr
// taxonomy never leak their text to the client.
func respondError(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(appErr.Status(), models.ErrorResponse{
			Error:   string(appErr.Kind),
			Message: appErr.Message,
			Fields:  appErr.Fields,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   string(apperr.KindInternal),
		Message: fallback,
	})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.ValidationFields("invalid "+strings.ReplaceAll(name, "_", " "),
			map[string]string{name: "must be a UUID"})
	}
	return id, nil
}

// ownedPrototype loads the prototype named in the path and checks that the
// caller owns it or is an admin.
func ownedPrototype(c *gin.Context, store registry.Store) (*models.Prototype, error) {
	prototypeID, err := uuidParam(c, "prototype_id")
	if err != nil {
		return nil, err
	}
	return loadOwned(c.Request.Context(), store, prototypeID, middleware.UserID(c), middleware.IsAdmin(c))
}

func loadOwned(ctx context.Context, store registry.Store, prototypeID, userID uuid.UUID, isAdmin bool) (*models.Prototype, error) {
	p, err := store.GetPrototype(ctx, prototypeID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != userID && !isAdmin {
		return nil, apperr.Forbidden("you do not have access to this prototype")
	}
	return p, nil
}

// bindingError converts gin binding failures into field-level validation
// errors keyed by the JSON field name.
func bindingError(err error, jsonNames map[string]string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("request body must be valid JSON")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name, ok := jsonNames[fe.Field()]
		if !ok {
			name = strings.ToLower(fe.Field())
		}
		switch fe.Tag() {
		case "required":
			fields[name] = "is required"
		case "max":
			fields[name] = fmt.Sprintf("must be at most %s characters", fe.Param())
		case "url":
			fields[name] = "must be a valid URL"
		default:
			fields[name] = "is invalid"
		}
	}
	return apperr.ValidationFields("some fields are invalid", fields)
}
