package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
	"prototype-versions-backend/internal/registry/registrytest"
)

func TestMemoryStore(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) registry.Store {
		return registry.NewMemoryStore()
	})
}

func TestMemoryStore_FailStaleUsesClock(t *testing.T) {
	store := registry.NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })

	p := registrytest.SeedPrototype(t, store, uuid.New())
	old := registrytest.Reserve(t, store, p, 20)

	store.SetClock(func() time.Time { return base.Add(45 * time.Minute) })
	fresh := registrytest.Reserve(t, store, p, 20)

	failed, err := store.FailStale(context.Background(), base.Add(15*time.Minute), "processing timed out")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, old.ID, failed[0].ID)

	got, err := store.GetVersion(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusProcessing, got.Status)
}

func TestMemoryStore_MarkReadyRequiresPaths(t *testing.T) {
	store := registry.NewMemoryStore()
	p := registrytest.SeedPrototype(t, store, uuid.New())
	v := registrytest.Reserve(t, store, p, 20)

	_, err := store.MarkReady(context.Background(), v.ID, "", "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	got, err := store.GetVersion(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusProcessing, got.Status)
}

// TestMemoryStore_Invariants drives random interleavings of reservations and
// transitions and checks the registry invariants after every run.
func TestMemoryStore_Invariants(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		ctx := context.Background()
		store := registry.NewMemoryStore()
		owner := uuid.New()
		p := &models.Prototype{OwnerID: owner, Name: "p"}
		if err := store.CreatePrototype(ctx, p); err != nil {
			r.Fatalf("create prototype: %v", err)
		}
		maxVersions := rapid.IntRange(1, 8).Draw(r, "maxVersions")

		var created []models.Version
		steps := rapid.IntRange(1, 40).Draw(r, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(r, "op") {
			case 0:
				v, err := store.ReserveVersion(ctx, registry.ReserveParams{PrototypeID: p.ID, CreatedBy: owner, MaxVersions: maxVersions})
				if err != nil {
					if !apperr.Is(err, apperr.KindQuotaExceeded) || len(created) < maxVersions {
						r.Fatalf("unexpected reserve error with %d versions: %v", len(created), err)
					}
					continue
				}
				if len(created) > 0 && v.VersionNumber <= created[len(created)-1].VersionNumber {
					r.Fatalf("version %d not above previous %d", v.VersionNumber, created[len(created)-1].VersionNumber)
				}
				created = append(created, *v)
			case 1, 2:
				if len(created) == 0 {
					continue
				}
				target := created[rapid.IntRange(0, len(created)-1).Draw(r, "target")]
				before, _ := store.GetVersion(ctx, target.ID)
				var err error
				if rapid.Bool().Draw(r, "ready") {
					_, err = store.MarkReady(ctx, target.ID, "k/index.html", "k/")
				} else {
					_, err = store.MarkFailed(ctx, target.ID, "failed")
				}
				if before.Status.Terminal() && !apperr.Is(err, apperr.KindConflict) {
					r.Fatalf("terminal version %s transitioned again: %v", before.Status, err)
				}
			}
		}

		list, err := store.ListVersions(ctx, p.ID)
		if err != nil {
			r.Fatalf("list: %v", err)
		}
		if len(list) > maxVersions {
			r.Fatalf("%d versions exceed cap %d", len(list), maxVersions)
		}
		seen := map[int]bool{}
		for _, v := range list {
			if seen[v.VersionNumber] {
				r.Fatalf("duplicate version number %d", v.VersionNumber)
			}
			seen[v.VersionNumber] = true
			hasPaths := v.PreviewPath.Valid && v.FilesBasePath.Valid
			if hasPaths != (v.Status == models.VersionStatusReady) {
				r.Fatalf("version %d status %s has paths=%v", v.VersionNumber, v.Status, hasPaths)
			}
		}
	})
}
