package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

const versionColumns = `id, prototype_id, version_number, status, title, description,
	design_reference_url, preview_path, files_base_path, upload_path, error_message,
	created_by, created_at, updated_at`

// DatabaseClient is the PostgreSQL registry.Store.
type DatabaseClient struct {
	db *sql.DB
}

var _ registry.Store = (*DatabaseClient)(nil)

func NewDatabaseClient(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) CreatePrototype(ctx context.Context, p *models.Prototype) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO prototypes (id, owner_id, name, preview_url, files_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, p.ID, p.OwnerID, p.Name, p.PreviewURL, p.FilesURL).Scan(&p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("prototype already exists")
		}
		return fmt.Errorf("failed to create prototype: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetPrototype(ctx context.Context, id uuid.UUID) (*models.Prototype, error) {
	var p models.Prototype
	err := d.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, preview_url, files_url, created_at
		FROM prototypes
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.Name, &p.PreviewURL, &p.FilesURL, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("prototype not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prototype: %w", err)
	}
	return &p, nil
}

// ReserveVersion serialises writers per prototype with a transaction-scoped
// advisory lock. The unique constraint still backs it up: a violation comes
// back as Conflict.
func (d *DatabaseClient) ReserveVersion(ctx context.Context, params registry.ReserveParams) (*models.Version, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)",
		advisoryKey("prototype_versions", params.PrototypeID)); err != nil {
		return nil, fmt.Errorf("failed to lock prototype: %w", err)
	}

	var ownerID uuid.UUID
	err = tx.QueryRowContext(ctx, "SELECT owner_id FROM prototypes WHERE id = $1", params.PrototypeID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("prototype not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prototype: %w", err)
	}
	if !params.ActorIsAdmin && ownerID != params.CreatedBy {
		return nil, apperr.Unauthorized("only the prototype owner can upload versions")
	}

	var count, maxNumber int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(version_number), 0)
		FROM prototype_versions
		WHERE prototype_id = $1
	`, params.PrototypeID).Scan(&count, &maxNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to count versions: %w", err)
	}
	if params.MaxVersions > 0 && count >= params.MaxVersions {
		return nil, apperr.QuotaExceeded(params.MaxVersions)
	}

	v, err := scanVersion(tx.QueryRowContext(ctx, `
		INSERT INTO prototype_versions
			(id, prototype_id, version_number, status, title, description, design_reference_url, created_by)
		VALUES ($1, $2, $3, 'processing', $4, $5, $6, $7)
		RETURNING `+versionColumns,
		uuid.New(), params.PrototypeID, maxNumber+1,
		registry.NullString(params.Title),
		registry.NullString(params.Description),
		registry.NullString(params.DesignReferenceURL),
		params.CreatedBy,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("version number already taken")
		}
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("version number already taken")
		}
		return nil, fmt.Errorf("failed to commit version: %w", err)
	}
	return v, nil
}

func (d *DatabaseClient) GetVersion(ctx context.Context, id uuid.UUID) (*models.Version, error) {
	v, err := scanVersion(d.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM prototype_versions WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("version not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

func (d *DatabaseClient) ListVersions(ctx context.Context, prototypeID uuid.UUID) ([]models.Version, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM prototype_versions
		WHERE prototype_id = $1
		ORDER BY version_number DESC
	`, prototypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return collectVersions(rows)
}

func (d *DatabaseClient) LatestReady(ctx context.Context, prototypeID uuid.UUID) (*models.Version, error) {
	v, err := scanVersion(d.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM prototype_versions
		WHERE prototype_id = $1 AND status = 'ready'
		ORDER BY version_number DESC
		LIMIT 1
	`, prototypeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest ready version: %w", err)
	}
	return v, nil
}

func (d *DatabaseClient) SetUploadPath(ctx context.Context, id uuid.UUID, path string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE prototype_versions
		SET upload_path = $2, updated_at = NOW()
		WHERE id = $1
	`, id, path)
	if err != nil {
		return fmt.Errorf("failed to set upload path: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("version not found")
	}
	return nil
}

func (d *DatabaseClient) MarkReady(ctx context.Context, id uuid.UUID, previewPath, filesBasePath string) (*models.Version, error) {
	if previewPath == "" || filesBasePath == "" {
		return nil, apperr.Validation("ready versions need a preview path and a files base path")
	}
	v, err := scanVersion(d.db.QueryRowContext(ctx, `
		UPDATE prototype_versions
		SET status = 'ready', preview_path = $2, files_base_path = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING `+versionColumns,
		id, previewPath, filesBasePath))
	return d.transitionResult(ctx, id, v, err)
}

func (d *DatabaseClient) MarkFailed(ctx context.Context, id uuid.UUID, message string) (*models.Version, error) {
	v, err := scanVersion(d.db.QueryRowContext(ctx, `
		UPDATE prototype_versions
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
		RETURNING `+versionColumns,
		id, registry.NullString(message)))
	return d.transitionResult(ctx, id, v, err)
}

// transitionResult tells a missing row apart from one that already left
// processing.
func (d *DatabaseClient) transitionResult(ctx context.Context, id uuid.UUID, v *models.Version, err error) (*models.Version, error) {
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update version status: %w", err)
	}
	current, getErr := d.GetVersion(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, apperr.Conflict("version is already " + string(current.Status))
}

func (d *DatabaseClient) FailStale(ctx context.Context, olderThan time.Time, message string) ([]models.Version, error) {
	rows, err := d.db.QueryContext(ctx, `
		UPDATE prototype_versions
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE status = 'processing' AND created_at < $1
		RETURNING `+versionColumns,
		olderThan, registry.NullString(message))
	if err != nil {
		return nil, fmt.Errorf("failed to fail stale versions: %w", err)
	}
	return collectVersions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.Version, error) {
	var v models.Version
	var status string
	err := row.Scan(
		&v.ID, &v.PrototypeID, &v.VersionNumber, &status, &v.Title, &v.Description,
		&v.DesignReferenceURL, &v.PreviewPath, &v.FilesBasePath, &v.UploadPath, &v.ErrorMessage,
		&v.CreatedBy, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = models.VersionStatus(status)
	return &v, nil
}

func collectVersions(rows *sql.Rows) ([]models.Version, error) {
	defer rows.Close()

	var versions []models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return versions, nil
}

func advisoryKey(namespace string, id uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(id.String()))
	return int64(h.Sum64())
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
