package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

type CreateVersionInput struct {
	PrototypeID        uuid.UUID `json:"prototype_id"`
	ActorID            uuid.UUID `json:"actor_id"`
	ActorIsAdmin       bool      `json:"-"`
	Title              string    `json:"title" validate:"max=80"`
	Description        string    `json:"description" validate:"max=500"`
	DesignReferenceURL string    `json:"design_reference_url" validate:"omitempty,http_url"`
}

// NumberingService is the only writer that creates version rows.
type NumberingService struct {
	store       registry.Store
	maxVersions int
	log         *logger.Logger
}

func NewNumberingService(store registry.Store, maxVersions int, log *logger.Logger) *NumberingService {
	return &NumberingService{
		store:       store,
		maxVersions: maxVersions,
		log:         log.With("service", "NumberingService"),
	}
}

func (s *NumberingService) MaxVersions() int { return s.maxVersions }

// CreateVersion reserves the next version number for a prototype and
// returns the new processing row. A Conflict from the store is retried
// once before it is surfaced.
func (s *NumberingService) CreateVersion(ctx context.Context, in CreateVersionInput) (*models.Version, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.DesignReferenceURL = strings.TrimSpace(in.DesignReferenceURL)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.ActorID == uuid.Nil {
		return nil, apperr.Unauthorized("authentication required")
	}

	params := registry.ReserveParams{
		PrototypeID:        in.PrototypeID,
		CreatedBy:          in.ActorID,
		ActorIsAdmin:       in.ActorIsAdmin,
		Title:              in.Title,
		Description:        in.Description,
		DesignReferenceURL: in.DesignReferenceURL,
		MaxVersions:        s.maxVersions,
	}

	v, err := s.store.ReserveVersion(ctx, params)
	if apperr.Is(err, apperr.KindConflict) {
		s.log.Warn("version number conflict, retrying", "prototype_id", in.PrototypeID)
		v, err = s.store.ReserveVersion(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("version reserved",
		"prototype_id", v.PrototypeID,
		"version_id", v.ID,
		"version_number", v.VersionNumber,
	)
	return v, nil
}
