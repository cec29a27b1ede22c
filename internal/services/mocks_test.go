package services_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prototype-versions-backend/internal/blob"
	"prototype-versions-backend/internal/gate"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

// MockStore is a testify mock of registry.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreatePrototype(ctx context.Context, p *models.Prototype) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockStore) GetPrototype(ctx context.Context, id uuid.UUID) (*models.Prototype, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.Prototype)
	return p, args.Error(1)
}

func (m *MockStore) ReserveVersion(ctx context.Context, params registry.ReserveParams) (*models.Version, error) {
	args := m.Called(ctx, params)
	v, _ := args.Get(0).(*models.Version)
	return v, args.Error(1)
}

func (m *MockStore) GetVersion(ctx context.Context, id uuid.UUID) (*models.Version, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*models.Version)
	return v, args.Error(1)
}

func (m *MockStore) ListVersions(ctx context.Context, prototypeID uuid.UUID) ([]models.Version, error) {
	args := m.Called(ctx, prototypeID)
	vs, _ := args.Get(0).([]models.Version)
	return vs, args.Error(1)
}

func (m *MockStore) LatestReady(ctx context.Context, prototypeID uuid.UUID) (*models.Version, error) {
	args := m.Called(ctx, prototypeID)
	v, _ := args.Get(0).(*models.Version)
	return v, args.Error(1)
}

func (m *MockStore) SetUploadPath(ctx context.Context, id uuid.UUID, path string) error {
	return m.Called(ctx, id, path).Error(0)
}

func (m *MockStore) MarkReady(ctx context.Context, id uuid.UUID, previewPath, filesBasePath string) (*models.Version, error) {
	args := m.Called(ctx, id, previewPath, filesBasePath)
	v, _ := args.Get(0).(*models.Version)
	return v, args.Error(1)
}

func (m *MockStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) (*models.Version, error) {
	args := m.Called(ctx, id, message)
	v, _ := args.Get(0).(*models.Version)
	return v, args.Error(1)
}

func (m *MockStore) FailStale(ctx context.Context, olderThan time.Time, message string) ([]models.Version, error) {
	args := m.Called(ctx, olderThan, message)
	vs, _ := args.Get(0).([]models.Version)
	return vs, args.Error(1)
}

type MockAccess struct {
	mock.Mock
}

func (m *MockAccess) Evaluate(ctx context.Context, userID uuid.UUID) (gate.Access, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(gate.Access), args.Error(1)
}

// staticAccess grants the same access to everyone.
type staticAccess gate.Access

func (s staticAccess) Evaluate(context.Context, uuid.UUID) (gate.Access, error) {
	return gate.Access(s), nil
}

var fullAccess = staticAccess{IsEligible: true, UIEnabled: true, UploadEnabled: true}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.Version
}

func (r *eventRecorder) PublishVersionEvent(_ context.Context, v *models.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *v)
	return nil
}

func (r *eventRecorder) statuses() []models.VersionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.VersionStatus, 0, len(r.events))
	for _, v := range r.events {
		out = append(out, v.Status)
	}
	return out
}

type dispatchRecorder struct {
	mu    sync.Mutex
	tasks []models.IngestTask
	err   error
}

func (d *dispatchRecorder) Dispatch(_ context.Context, task models.IngestTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

var errStorageDown = errors.New("storage unavailable")

// flakyBlobs fails the first failPuts Put calls.
type flakyBlobs struct {
	*blob.MemoryStore
	failPuts int64
	puts     atomic.Int64
	gets     atomic.Int64
}

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.puts.Add(1) <= f.failPuts {
		return errStorageDown
	}
	return f.MemoryStore.Put(ctx, key, data, contentType)
}

func (f *flakyBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	f.gets.Add(1)
	return f.MemoryStore.Get(ctx, key)
}

// stallingBlobs blocks every Get until the caller gives up.
type stallingBlobs struct {
	*blob.MemoryStore
}

func (s stallingBlobs) Get(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type zipEntry struct {
	name string
	body string
}

func buildZip(t testing.TB, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		f, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = f.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func sitesZip(t testing.TB) []byte {
	return buildZip(t,
		zipEntry{"index.html", "<html><link href=style.css><script src=app.js></script></html>"},
		zipEntry{"style.css", "body { margin: 0 }"},
		zipEntry{"app.js", "console.log('hi')"},
	)
}
