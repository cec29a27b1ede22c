package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/archive"
	"prototype-versions-backend/internal/blob"
	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

type IngestionConfig struct {
	StepTimeout        time.Duration
	StepRetries        int
	Backoffs           []time.Duration
	PublishConcurrency int
	Limits             archive.Limits
}

// IngestionPipeline turns an uploaded archive into a published, servable
// version: fetch, validate, extract, publish, finalize. Any failure leaves
// the version failed with a message safe to show the uploader.
type IngestionPipeline struct {
	store  registry.Store
	blobs  blob.Store
	events EventPublisher
	cfg    IngestionConfig
	log    *logger.Logger
	tracer trace.Tracer
}

func NewIngestionPipeline(store registry.Store, blobs blob.Store, events EventPublisher, cfg IngestionConfig, log *logger.Logger) *IngestionPipeline {
	if events == nil {
		events = noopEvents{}
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = time.Minute
	}
	if cfg.PublishConcurrency < 1 {
		cfg.PublishConcurrency = 1
	}
	return &IngestionPipeline{
		store:  store,
		blobs:  blobs,
		events: events,
		cfg:    cfg,
		log:    log.With("service", "IngestionPipeline"),
		tracer: otel.Tracer("prototype-versions/ingestion"),
	}
}

type ingestStep struct {
	name     string
	failText string
}

var (
	stepFetch    = ingestStep{"fetch", "failed to fetch the uploaded archive"}
	stepValidate = ingestStep{"validate", "failed to read the archive"}
	stepExtract  = ingestStep{"extract", "failed to extract the archive"}
	stepPublish  = ingestStep{"publish", "failed to publish files"}
	stepFinalize = ingestStep{"finalize", "failed to finalize the version"}
)

// Process runs the pipeline for one task. It returns nil once the version
// has reached a terminal status (or was already terminal), and an error
// only when the outcome could not be recorded, so the task can be
// redelivered.
func (p *IngestionPipeline) Process(ctx context.Context, task models.IngestTask) error {
	log := p.log.With("prototype_id", task.PrototypeID, "version_id", task.VersionID, "version_number", task.VersionNumber)

	v, err := p.store.GetVersion(ctx, task.VersionID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			log.Warn("dropping task for unknown version")
			return nil
		}
		return fmt.Errorf("failed to load version: %w", err)
	}
	if v.Status != models.VersionStatusProcessing {
		log.Info("skipping task, version already terminal", "status", v.Status)
		return nil
	}

	uploadPath := task.UploadPath
	if uploadPath == "" {
		uploadPath = v.UploadPath.String
	}

	ctx, span := p.tracer.Start(ctx, "ingest.version", trace.WithAttributes(
		attribute.String("prototype.id", task.PrototypeID.String()),
		attribute.String("version.id", task.VersionID.String()),
		attribute.Int("version.number", task.VersionNumber),
	))
	defer span.End()

	start := time.Now()
	ready, err := p.run(ctx, v, uploadPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.PublicMessage(err, "ingestion failed"))
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// shutting down; redelivery or the stale sweep settles it
			log.Warn("ingestion interrupted", "error", err)
			return ctx.Err()
		}
		log.Warn("ingestion failed", "error", err, "duration", time.Since(start))
		return p.fail(ctx, v, err)
	}

	log.Info("version ready", "preview_path", ready.PreviewPath.String, "duration", time.Since(start))
	if err := p.events.PublishVersionEvent(ctx, ready); err != nil {
		log.Warn("failed to publish version event", "error", err)
	}
	if uploadPath != "" {
		if err := p.blobs.Delete(ctx, uploadPath); err != nil {
			log.Warn("failed to delete transient upload", "upload_path", uploadPath, "error", err)
		}
	}
	return nil
}

func (p *IngestionPipeline) run(ctx context.Context, v *models.Version, uploadPath string) (*models.Version, error) {
	if uploadPath == "" {
		return nil, apperr.Internal("the uploaded archive is missing", errors.New("version has no upload path"))
	}

	var data []byte
	err := p.step(ctx, stepFetch, func(ctx context.Context) error {
		return p.retry(ctx, func(ctx context.Context) error {
			b, err := p.blobs.Get(ctx, uploadPath)
			if errors.Is(err, blob.ErrNotFound) {
				return apperr.Internal("the uploaded archive is missing", err)
			}
			if err != nil {
				return apperr.TransientStorage(stepFetch.failText, err)
			}
			data = b
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var bundle *archive.Archive
	err = p.step(ctx, stepValidate, func(context.Context) error {
		a, err := archive.Open(data, p.cfg.Limits)
		bundle = a
		return err
	})
	if err != nil {
		return nil, err
	}

	var files []archive.File
	err = p.step(ctx, stepExtract, func(ctx context.Context) error {
		f, err := bundle.Extract(ctx)
		files = f
		return err
	})
	if err != nil {
		return nil, err
	}

	prefix := VersionPrefix(v.PrototypeID, v.VersionNumber)
	err = p.step(ctx, stepPublish, func(ctx context.Context) error {
		return p.publish(ctx, prefix, files)
	})
	if err != nil {
		return nil, err
	}

	var ready *models.Version
	err = p.step(ctx, stepFinalize, func(ctx context.Context) error {
		previewKey := prefix + bundle.EntryPoint
		if _, err := p.blobs.URL(ctx, previewKey); err != nil {
			return apperr.TransientStorage(stepFinalize.failText, err)
		}
		r, err := p.store.MarkReady(ctx, v.ID, previewKey, prefix+bundle.BaseDir)
		ready = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return ready, nil
}

func (p *IngestionPipeline) publish(ctx context.Context, prefix string, files []archive.File) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PublishConcurrency)
	for _, f := range files {
		g.Go(func() error {
			key := prefix + f.Path
			return p.retry(gctx, func(ctx context.Context) error {
				if err := p.blobs.Put(ctx, key, f.Data, f.ContentType); err != nil {
					return apperr.TransientStorage(stepPublish.failText, err)
				}
				return nil
			})
		})
	}
	return g.Wait()
}

func (p *IngestionPipeline) retry(ctx context.Context, fn func(context.Context) error) error {
	return RetryWithBackoff(ctx, p.cfg.Backoffs, p.cfg.StepRetries, isTransient, fn)
}

// step runs fn in its own span under the step timeout and gives every
// error a public message.
func (p *IngestionPipeline) step(ctx context.Context, s ingestStep, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "ingest."+s.name)
	defer span.End()

	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	err := fn(stepCtx)
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		err = apperr.Internal(fmt.Sprintf("timed out during %s", s.name), err)
	case errors.As(err, &appErr):
		// already carries a public message
	default:
		err = apperr.Internal(s.failText, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, s.failText)
	return err
}

// fail records the failure on a context detached from the step deadlines so
// the version never stays processing because the pipeline ran out of time.
func (p *IngestionPipeline) fail(ctx context.Context, v *models.Version, cause error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	message := apperr.PublicMessage(cause, "failed to process the archive")
	failed, err := p.store.MarkFailed(failCtx, v.ID, message)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			p.log.Info("version left processing before failure was recorded", "version_id", v.ID)
			return nil
		}
		return fmt.Errorf("failed to mark version failed: %w", err)
	}
	if err := p.events.PublishVersionEvent(failCtx, failed); err != nil {
		p.log.Warn("failed to publish version event", "version_id", v.ID, "error", err)
	}
	return nil
}
