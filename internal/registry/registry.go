// Package registry defines the durable record of prototypes and their
// versions. Two stores implement it: the PostgreSQL store in
// internal/supabase and the in-memory store in this package.
package registry

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"prototype-versions-backend/internal/models"
)

// ReserveParams describes one numbering attempt. The store performs the
// ownership check, the quota check and the insert as one atomic unit.
type ReserveParams struct {
	PrototypeID        uuid.UUID
	CreatedBy          uuid.UUID
	ActorIsAdmin       bool
	Title              string
	Description        string
	DesignReferenceURL string
	MaxVersions        int
}

type Store interface {
	CreatePrototype(ctx context.Context, p *models.Prototype) error
	GetPrototype(ctx context.Context, id uuid.UUID) (*models.Prototype, error)

	// ReserveVersion inserts a processing row numbered one past the current
	// maximum. It returns Unauthorized, NotFound, QuotaExceeded or Conflict
	// as apperr kinds.
	ReserveVersion(ctx context.Context, params ReserveParams) (*models.Version, error)
	GetVersion(ctx context.Context, id uuid.UUID) (*models.Version, error)
	// ListVersions returns versions newest first.
	ListVersions(ctx context.Context, prototypeID uuid.UUID) ([]models.Version, error)
	// LatestReady returns nil, nil when the prototype has no ready version.
	LatestReady(ctx context.Context, prototypeID uuid.UUID) (*models.Version, error)

	SetUploadPath(ctx context.Context, id uuid.UUID, path string) error
	// MarkReady and MarkFailed return Conflict when the version is no
	// longer processing.
	MarkReady(ctx context.Context, id uuid.UUID, previewPath, filesBasePath string) (*models.Version, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) (*models.Version, error)
	// FailStale fails every processing version created before olderThan.
	FailStale(ctx context.Context, olderThan time.Time, message string) ([]models.Version, error)
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
