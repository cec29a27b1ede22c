package services

import (
	"context"
	"fmt"
	"time"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/archive"
	"prototype-versions-backend/internal/blob"
	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

type SubmissionConfig struct {
	MaxArchiveBytes int64
	StoreRetries    int
	Backoffs        []time.Duration
}

// SubmissionService accepts an uploaded archive: it checks the gate,
// reserves a version, parks the raw archive in transient storage and queues
// the ingestion task.
type SubmissionService struct {
	numbering  *NumberingService
	store      registry.Store
	blobs      blob.Store
	dispatcher Dispatcher
	access     AccessEvaluator
	events     EventPublisher
	cfg        SubmissionConfig
	log        *logger.Logger
}

func NewSubmissionService(
	numbering *NumberingService,
	store registry.Store,
	blobs blob.Store,
	dispatcher Dispatcher,
	access AccessEvaluator,
	events EventPublisher,
	cfg SubmissionConfig,
	log *logger.Logger,
) *SubmissionService {
	if events == nil {
		events = noopEvents{}
	}
	return &SubmissionService{
		numbering:  numbering,
		store:      store,
		blobs:      blobs,
		dispatcher: dispatcher,
		access:     access,
		events:     events,
		cfg:        cfg,
		log:        log.With("service", "SubmissionService"),
	}
}

type SubmitInput struct {
	CreateVersionInput
	Archive []byte
}

func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) (*models.Version, error) {
	access, err := s.access.Evaluate(ctx, in.ActorID)
	if err != nil {
		return nil, apperr.Internal("could not check version upload access", err)
	}
	if !access.UploadEnabled {
		return nil, apperr.Forbidden("version uploads are not enabled for this account")
	}

	if len(in.Archive) == 0 {
		return nil, apperr.ValidationFields("archive is required", map[string]string{"archive": "is required"})
	}
	if s.cfg.MaxArchiveBytes > 0 && int64(len(in.Archive)) > s.cfg.MaxArchiveBytes {
		return nil, apperr.ValidationFields("archive is too large",
			map[string]string{"archive": fmt.Sprintf("must be at most %d bytes", s.cfg.MaxArchiveBytes)})
	}
	if !archive.IsZip(in.Archive) {
		return nil, apperr.ValidationFields("upload must be a zip archive", map[string]string{"archive": "must be a zip archive"})
	}

	v, err := s.numbering.CreateVersion(ctx, in.CreateVersionInput)
	if err != nil {
		return nil, err
	}
	log := s.log.With("prototype_id", v.PrototypeID, "version_id", v.ID, "version_number", v.VersionNumber)

	key := UploadKey(v.PrototypeID, v.ID)
	err = RetryWithBackoff(ctx, s.cfg.Backoffs, s.cfg.StoreRetries, isTransient, func(ctx context.Context) error {
		if err := s.blobs.Put(ctx, key, in.Archive, "application/zip"); err != nil {
			return apperr.TransientStorage("failed to store the upload", err)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to store upload", "error", err)
		s.abandon(ctx, v, "failed to store the upload")
		return nil, apperr.TransientStorage("failed to store the upload, please try again", err)
	}

	if err := s.store.SetUploadPath(ctx, v.ID, key); err != nil {
		log.Error("failed to record upload path", "error", err)
		s.abandon(ctx, v, "failed to record the upload")
		return nil, apperr.Internal("failed to record the upload", err)
	}
	v.UploadPath = registry.NullString(key)

	task := models.IngestTask{
		VersionID:     v.ID,
		PrototypeID:   v.PrototypeID,
		VersionNumber: v.VersionNumber,
		UploadPath:    key,
	}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		log.Error("failed to queue ingestion", "error", err)
		s.abandon(ctx, v, "failed to queue processing")
		return nil, apperr.TransientStorage("failed to queue processing, please try again", err)
	}

	if err := s.events.PublishVersionEvent(ctx, v); err != nil {
		log.Warn("failed to publish version event", "error", err)
	}
	log.Info("version submitted", "upload_path", key, "archive_bytes", len(in.Archive))
	return v, nil
}

// abandon fails a reserved version whose upload never reached the queue.
func (s *SubmissionService) abandon(ctx context.Context, v *models.Version, message string) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	failed, err := s.store.MarkFailed(failCtx, v.ID, message)
	if err != nil {
		s.log.Error("failed to mark abandoned version", "version_id", v.ID, "error", err)
		return
	}
	if err := s.events.PublishVersionEvent(failCtx, failed); err != nil {
		s.log.Warn("failed to publish version event", "version_id", v.ID, "error", err)
	}
	_ = s.blobs.Delete(failCtx, UploadKey(v.PrototypeID, v.ID))
}

func isTransient(err error) bool {
	return apperr.Is(err, apperr.KindTransientStorage)
}
