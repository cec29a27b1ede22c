package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/blob"
	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

const (
	SourceVersion = "version"
	SourceLegacy  = "legacy"
)

type Servable struct {
	PrototypeID   uuid.UUID
	PreviewPath   string
	FilesPath     string
	VersionNumber *int
	VersionID     *uuid.UUID
	Source        string
}

// ResolutionService picks the artifact a viewer is shown: the newest ready
// version when versioning is on for the prototype, otherwise the legacy
// upload.
type ResolutionService struct {
	store  registry.Store
	blobs  blob.Store
	access AccessEvaluator
	log    *logger.Logger
}

func NewResolutionService(store registry.Store, blobs blob.Store, access AccessEvaluator, log *logger.Logger) *ResolutionService {
	return &ResolutionService{
		store:  store,
		blobs:  blobs,
		access: access,
		log:    log.With("service", "ResolutionService"),
	}
}

// Resolve evaluates the gate for the prototype owner so that every viewer
// of a prototype sees the same artifact. A gate lookup failure resolves as
// gate off.
func (s *ResolutionService) Resolve(ctx context.Context, prototypeID uuid.UUID) (*Servable, error) {
	p, err := s.store.GetPrototype(ctx, prototypeID)
	if err != nil {
		return nil, err
	}
	gateOn := false
	if s.access != nil {
		access, err := s.access.Evaluate(ctx, p.OwnerID)
		if err != nil {
			s.log.Warn("gate lookup failed, serving legacy artifact", "prototype_id", prototypeID, "error", err)
		}
		gateOn = access.UIEnabled
	}
	return s.resolve(ctx, p, gateOn)
}

// ResolveServable resolves with an explicit gate state.
func (s *ResolutionService) ResolveServable(ctx context.Context, prototypeID uuid.UUID, gateOn bool) (*Servable, error) {
	p, err := s.store.GetPrototype(ctx, prototypeID)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, p, gateOn)
}

func (s *ResolutionService) resolve(ctx context.Context, p *models.Prototype, gateOn bool) (*Servable, error) {
	prototypeID := p.ID
	if gateOn {
		v, err := s.store.LatestReady(ctx, prototypeID)
		if err != nil {
			return nil, err
		}
		if v != nil {
			preview, err := s.blobs.URL(ctx, v.PreviewPath.String)
			if err != nil {
				return nil, apperr.TransientStorage("failed to build the preview URL", err)
			}
			files, err := s.blobs.URL(ctx, v.FilesBasePath.String)
			if err != nil {
				return nil, apperr.TransientStorage("failed to build the files URL", err)
			}
			if !strings.HasSuffix(files, "/") && !strings.Contains(files, "?") {
				files += "/"
			}
			number, id := v.VersionNumber, v.ID
			return &Servable{
				PrototypeID:   prototypeID,
				PreviewPath:   preview,
				FilesPath:     files,
				VersionNumber: &number,
				VersionID:     &id,
				Source:        SourceVersion,
			}, nil
		}
	}

	if !p.HasLegacyArtifact() {
		return nil, apperr.NotFound("nothing to serve for this prototype yet")
	}
	return &Servable{
		PrototypeID: prototypeID,
		PreviewPath: p.PreviewURL.String,
		FilesPath:   p.FilesURL.String,
		Source:      SourceLegacy,
	}, nil
}
