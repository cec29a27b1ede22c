// Package registrytest holds the behavioural suite every registry.Store
// implementation must pass.
package registrytest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) registry.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("prototype round trip", func(t *testing.T) { testPrototypeRoundTrip(t, newStore(t)) })
	t.Run("sequential numbering", func(t *testing.T) { testSequentialNumbering(t, newStore(t)) })
	t.Run("concurrent numbering", func(t *testing.T) { testConcurrentNumbering(t, newStore(t)) })
	t.Run("soft cap", func(t *testing.T) { testSoftCap(t, newStore(t)) })
	t.Run("ownership", func(t *testing.T) { testOwnership(t, newStore(t)) })
	t.Run("terminal statuses", func(t *testing.T) { testTerminalStatuses(t, newStore(t)) })
	t.Run("latest ready", func(t *testing.T) { testLatestReady(t, newStore(t)) })
	t.Run("fail stale", func(t *testing.T) { testFailStale(t, newStore(t)) })
}

// SeedPrototype creates a prototype owned by ownerID.
func SeedPrototype(t *testing.T, store registry.Store, ownerID uuid.UUID) *models.Prototype {
	t.Helper()
	p := &models.Prototype{OwnerID: ownerID, Name: "checkout flow"}
	require.NoError(t, store.CreatePrototype(context.Background(), p))
	return p
}

// Reserve reserves one version as the prototype owner.
func Reserve(t *testing.T, store registry.Store, p *models.Prototype, maxVersions int) *models.Version {
	t.Helper()
	v, err := store.ReserveVersion(context.Background(), registry.ReserveParams{
		PrototypeID: p.ID,
		CreatedBy:   p.OwnerID,
		MaxVersions: maxVersions,
	})
	require.NoError(t, err)
	return v
}

func testPrototypeRoundTrip(t *testing.T, store registry.Store) {
	ctx := context.Background()
	owner := uuid.New()
	p := &models.Prototype{
		OwnerID:    owner,
		Name:       "landing page",
		PreviewURL: registry.NullString("https://legacy.example.com/p/index.html"),
		FilesURL:   registry.NullString("https://legacy.example.com/p/"),
	}
	require.NoError(t, store.CreatePrototype(ctx, p))
	require.NotEqual(t, uuid.Nil, p.ID)

	got, err := store.GetPrototype(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, "landing page", got.Name)
	assert.True(t, got.HasLegacyArtifact())

	_, err = store.GetPrototype(ctx, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = store.GetVersion(ctx, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func testSequentialNumbering(t *testing.T, store registry.Store) {
	ctx := context.Background()
	p := SeedPrototype(t, store, uuid.New())

	v1, err := store.ReserveVersion(ctx, registry.ReserveParams{
		PrototypeID:        p.ID,
		CreatedBy:          p.OwnerID,
		Title:              "first pass",
		DesignReferenceURL: "https://figma.example.com/file/1",
		MaxVersions:        20,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, models.VersionStatusProcessing, v1.Status)
	assert.Equal(t, "first pass", v1.Title.String)
	assert.False(t, v1.Description.Valid)
	assert.False(t, v1.PreviewPath.Valid)

	v2 := Reserve(t, store, p, 20)
	_, err = store.MarkFailed(ctx, v2.ID, "archive is missing an index.html entry point")
	require.NoError(t, err)
	v3 := Reserve(t, store, p, 20)
	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, 3, v3.VersionNumber)

	require.NoError(t, store.SetUploadPath(ctx, v3.ID, "uploads/x.zip"))
	got, err := store.GetVersion(ctx, v3.ID)
	require.NoError(t, err)
	assert.Equal(t, "uploads/x.zip", got.UploadPath.String)

	list, err := store.ListVersions(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{list[0].VersionNumber, list[1].VersionNumber, list[2].VersionNumber})
	assert.Equal(t, "archive is missing an index.html entry point", list[1].ErrorMessage.String)

	// numbering is per prototype
	other := SeedPrototype(t, store, uuid.New())
	assert.Equal(t, 1, Reserve(t, store, other, 20).VersionNumber)
}

func testConcurrentNumbering(t *testing.T, store registry.Store) {
	const writers = 16
	p := SeedPrototype(t, store, uuid.New())

	var wg sync.WaitGroup
	numbers := make(chan int, writers)
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.ReserveVersion(context.Background(), registry.ReserveParams{
				PrototypeID: p.ID,
				CreatedBy:   p.OwnerID,
				MaxVersions: 100,
			})
			if err != nil {
				errs <- err
				return
			}
			numbers <- v.VersionNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var got []int
	for n := range numbers {
		got = append(got, n)
	}
	sort.Ints(got)
	want := make([]int, writers)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, got)
}

func testSoftCap(t *testing.T, store registry.Store) {
	ctx := context.Background()
	p := SeedPrototype(t, store, uuid.New())
	for i := 0; i < 3; i++ {
		Reserve(t, store, p, 3)
	}

	_, err := store.ReserveVersion(ctx, registry.ReserveParams{PrototypeID: p.ID, CreatedBy: p.OwnerID, MaxVersions: 3})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))

	list, err := store.ListVersions(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func testOwnership(t *testing.T, store registry.Store) {
	ctx := context.Background()
	p := SeedPrototype(t, store, uuid.New())
	stranger := uuid.New()

	_, err := store.ReserveVersion(ctx, registry.ReserveParams{PrototypeID: p.ID, CreatedBy: stranger, MaxVersions: 20})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	v, err := store.ReserveVersion(ctx, registry.ReserveParams{PrototypeID: p.ID, CreatedBy: stranger, ActorIsAdmin: true, MaxVersions: 20})
	require.NoError(t, err)
	assert.Equal(t, stranger, v.CreatedBy)

	_, err = store.ReserveVersion(ctx, registry.ReserveParams{PrototypeID: uuid.New(), CreatedBy: stranger, MaxVersions: 20})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func testTerminalStatuses(t *testing.T, store registry.Store) {
	ctx := context.Background()
	p := SeedPrototype(t, store, uuid.New())
	v := Reserve(t, store, p, 20)

	ready, err := store.MarkReady(ctx, v.ID, "prototypes/x/v1/index.html", "prototypes/x/v1/")
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusReady, ready.Status)
	assert.Equal(t, "prototypes/x/v1/index.html", ready.PreviewPath.String)

	_, err = store.MarkFailed(ctx, v.ID, "late failure")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = store.MarkReady(ctx, v.ID, "a", "b/")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	failed := Reserve(t, store, p, 20)
	_, err = store.MarkFailed(ctx, failed.ID, "boom")
	require.NoError(t, err)
	_, err = store.MarkReady(ctx, failed.ID, "a", "b/")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	got, err := store.GetVersion(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusFailed, got.Status)
	assert.False(t, got.PreviewPath.Valid)
	assert.False(t, got.FilesBasePath.Valid)
}

func testLatestReady(t *testing.T, store registry.Store) {
	ctx := context.Background()
	p := SeedPrototype(t, store, uuid.New())

	latest, err := store.LatestReady(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	v1 := Reserve(t, store, p, 20)
	v2 := Reserve(t, store, p, 20)
	v3 := Reserve(t, store, p, 20)
	v4 := Reserve(t, store, p, 20)
	_, err = store.MarkReady(ctx, v1.ID, "p/v1/index.html", "p/v1/")
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, v2.ID, "bad archive")
	require.NoError(t, err)
	_, err = store.MarkReady(ctx, v3.ID, "p/v3/index.html", "p/v3/")
	require.NoError(t, err)
	_ = v4 // still processing

	latest, err = store.LatestReady(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.VersionNumber)
	assert.Equal(t, "p/v3/index.html", latest.PreviewPath.String)
}

func testFailStale(t *testing.T, store registry.Store) {
	ctx := context.Background()
	p := SeedPrototype(t, store, uuid.New())
	stuck := Reserve(t, store, p, 20)
	done := Reserve(t, store, p, 20)
	_, err := store.MarkReady(ctx, done.ID, "p/v2/index.html", "p/v2/")
	require.NoError(t, err)

	none, err := store.FailStale(ctx, time.Now().Add(-time.Hour), "processing timed out")
	require.NoError(t, err)
	assert.Empty(t, none)

	failed, err := store.FailStale(ctx, time.Now().Add(time.Minute), "processing timed out")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, stuck.ID, failed[0].ID)
	assert.Equal(t, models.VersionStatusFailed, failed[0].Status)
	assert.Equal(t, "processing timed out", failed[0].ErrorMessage.String)

	got, err := store.GetVersion(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusReady, got.Status)
}
