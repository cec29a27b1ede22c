package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"prototype-versions-backend/internal/gate"
	"prototype-versions-backend/internal/models"
)

// EventPublisher announces version status changes. Delivery is best effort.
type EventPublisher interface {
	PublishVersionEvent(ctx context.Context, v *models.Version) error
}

// Dispatcher hands an ingestion task to a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, task models.IngestTask) error
}

type AccessEvaluator interface {
	Evaluate(ctx context.Context, userID uuid.UUID) (gate.Access, error)
}

type noopEvents struct{}

func (noopEvents) PublishVersionEvent(context.Context, *models.Version) error { return nil }

// UploadKey is where the raw archive waits for ingestion.
func UploadKey(prototypeID, versionID uuid.UUID) string {
	return fmt.Sprintf("uploads/%s/%s.zip", prototypeID, versionID)
}

// VersionPrefix is the object key prefix of a published version, with a
// trailing slash.
func VersionPrefix(prototypeID uuid.UUID, versionNumber int) string {
	return fmt.Sprintf("prototypes/%s/v%d/", prototypeID, versionNumber)
}
