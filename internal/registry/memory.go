package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/models"
)

// MemoryStore keeps the registry in process. Every operation runs under one
// mutex, which makes ReserveVersion trivially atomic.
type MemoryStore struct {
	mu         sync.Mutex
	prototypes map[uuid.UUID]models.Prototype
	versions   map[uuid.UUID]models.Version
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prototypes: make(map[uuid.UUID]models.Prototype),
		versions:   make(map[uuid.UUID]models.Version),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Tests use it to age rows.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) CreatePrototype(_ context.Context, p *models.Prototype) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := m.prototypes[p.ID]; exists {
		return apperr.Conflict("prototype already exists")
	}
	p.CreatedAt = m.now()
	m.prototypes[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetPrototype(_ context.Context, id uuid.UUID) (*models.Prototype, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prototypes[id]
	if !ok {
		return nil, apperr.NotFound("prototype not found")
	}
	return &p, nil
}

func (m *MemoryStore) ReserveVersion(_ context.Context, params ReserveParams) (*models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prototypes[params.PrototypeID]
	if !ok {
		return nil, apperr.NotFound("prototype not found")
	}
	if !params.ActorIsAdmin && p.OwnerID != params.CreatedBy {
		return nil, apperr.Unauthorized("only the prototype owner can upload versions")
	}

	count, maxNumber := 0, 0
	for _, v := range m.versions {
		if v.PrototypeID != params.PrototypeID {
			continue
		}
		count++
		maxNumber = max(maxNumber, v.VersionNumber)
	}
	if params.MaxVersions > 0 && count >= params.MaxVersions {
		return nil, apperr.QuotaExceeded(params.MaxVersions)
	}

	now := m.now()
	v := models.Version{
		ID:                 uuid.New(),
		PrototypeID:        params.PrototypeID,
		VersionNumber:      maxNumber + 1,
		Status:             models.VersionStatusProcessing,
		Title:              NullString(params.Title),
		Description:        NullString(params.Description),
		DesignReferenceURL: NullString(params.DesignReferenceURL),
		CreatedBy:          params.CreatedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.versions[v.ID] = v
	return &v, nil
}

func (m *MemoryStore) GetVersion(_ context.Context, id uuid.UUID) (*models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.versions[id]
	if !ok {
		return nil, apperr.NotFound("version not found")
	}
	return &v, nil
}

func (m *MemoryStore) ListVersions(_ context.Context, prototypeID uuid.UUID) ([]models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Version
	for _, v := range m.versions {
		if v.PrototypeID == prototypeID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (m *MemoryStore) LatestReady(_ context.Context, prototypeID uuid.UUID) (*models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.Version
	for _, v := range m.versions {
		if v.PrototypeID != prototypeID || v.Status != models.VersionStatusReady {
			continue
		}
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			v := v
			latest = &v
		}
	}
	return latest, nil
}

func (m *MemoryStore) SetUploadPath(_ context.Context, id uuid.UUID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.versions[id]
	if !ok {
		return apperr.NotFound("version not found")
	}
	v.UploadPath = NullString(path)
	v.UpdatedAt = m.now()
	m.versions[id] = v
	return nil
}

func (m *MemoryStore) MarkReady(_ context.Context, id uuid.UUID, previewPath, filesBasePath string) (*models.Version, error) {
	if previewPath == "" || filesBasePath == "" {
		return nil, apperr.Validation("ready versions need a preview path and a files base path")
	}
	return m.transition(id, func(v *models.Version) {
		v.Status = models.VersionStatusReady
		v.PreviewPath = NullString(previewPath)
		v.FilesBasePath = NullString(filesBasePath)
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, message string) (*models.Version, error) {
	return m.transition(id, func(v *models.Version) {
		v.Status = models.VersionStatusFailed
		v.ErrorMessage = NullString(message)
	})
}

func (m *MemoryStore) transition(id uuid.UUID, apply func(*models.Version)) (*models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.versions[id]
	if !ok {
		return nil, apperr.NotFound("version not found")
	}
	if v.Status != models.VersionStatusProcessing {
		return nil, apperr.Conflict("version is already " + string(v.Status))
	}
	apply(&v)
	v.UpdatedAt = m.now()
	m.versions[id] = v
	return &v, nil
}

func (m *MemoryStore) FailStale(_ context.Context, olderThan time.Time, message string) ([]models.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []models.Version
	for id, v := range m.versions {
		if v.Status != models.VersionStatusProcessing || !v.CreatedAt.Before(olderThan) {
			continue
		}
		v.Status = models.VersionStatusFailed
		v.ErrorMessage = NullString(message)
		v.UpdatedAt = m.now()
		m.versions[id] = v
		failed = append(failed, v)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].CreatedAt.Before(failed[j].CreatedAt) })
	return failed, nil
}
