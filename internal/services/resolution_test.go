package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prototype-versions-backend/internal/apperr"
	"prototype-versions-backend/internal/blob"
	"prototype-versions-backend/internal/gate"
	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
	"prototype-versions-backend/internal/services"
)

const cdn = "https://cdn.example.com"

// seedVersions creates one version per status, in order.
func seedVersions(t *testing.T, store registry.Store, p *models.Prototype, statuses ...models.VersionStatus) []*models.Version {
	t.Helper()
	ctx := context.Background()
	var out []*models.Version
	for _, status := range statuses {
		v, err := store.ReserveVersion(ctx, registry.ReserveParams{PrototypeID: p.ID, CreatedBy: p.OwnerID, MaxVersions: 20})
		require.NoError(t, err)
		prefix := services.VersionPrefix(p.ID, v.VersionNumber)
		switch status {
		case models.VersionStatusReady:
			v, err = store.MarkReady(ctx, v.ID, prefix+"index.html", prefix)
		case models.VersionStatusFailed:
			v, err = store.MarkFailed(ctx, v.ID, "archive is missing an index.html entry point")
		}
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestResolveServable(t *testing.T) {
	ready, failed := models.VersionStatusReady, models.VersionStatusFailed

	tests := []struct {
		name       string
		legacy     bool
		statuses   []models.VersionStatus
		gateOn     bool
		wantSource string
		wantNumber int
		notFound   bool
	}{
		{"gate off serves legacy even with ready versions", true, []models.VersionStatus{ready}, false, services.SourceLegacy, 0, false},
		{"gate on without ready versions falls back", true, []models.VersionStatus{failed, models.VersionStatusProcessing}, true, services.SourceLegacy, 0, false},
		{"gate on picks highest ready", true, []models.VersionStatus{ready, failed, ready}, true, services.SourceVersion, 3, false},
		{"ready beats newer failures", false, []models.VersionStatus{ready, failed, failed}, true, services.SourceVersion, 1, false},
		{"nothing to serve", false, []models.VersionStatus{failed}, true, "", 0, true},
		{"gate off without legacy", false, []models.VersionStatus{ready}, false, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := registry.NewMemoryStore()
			p := seedPrototype(t, store, tt.legacy)
			seedVersions(t, store, p, tt.statuses...)
			svc := services.NewResolutionService(store, blob.NewMemoryStore(cdn), nil, logger.Nop())

			got, err := svc.ResolveServable(context.Background(), p.ID, tt.gateOn)
			if tt.notFound {
				assert.True(t, apperr.Is(err, apperr.KindNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, got.Source)

			switch tt.wantSource {
			case services.SourceLegacy:
				assert.Equal(t, p.PreviewURL.String, got.PreviewPath)
				assert.Equal(t, p.FilesURL.String, got.FilesPath)
				assert.Nil(t, got.VersionNumber)
				assert.Nil(t, got.VersionID)
			case services.SourceVersion:
				require.NotNil(t, got.VersionNumber)
				require.NotNil(t, got.VersionID)
				assert.Equal(t, tt.wantNumber, *got.VersionNumber)
				prefix := services.VersionPrefix(p.ID, tt.wantNumber)
				assert.Equal(t, cdn+"/"+prefix+"index.html", got.PreviewPath)
				assert.Equal(t, cdn+"/"+prefix, got.FilesPath)
			}
		})
	}
}

func TestResolveServable_UnknownPrototype(t *testing.T) {
	svc := services.NewResolutionService(registry.NewMemoryStore(), blob.NewMemoryStore(cdn), nil, logger.Nop())
	for _, gateOn := range []bool{true, false} {
		_, err := svc.ResolveServable(context.Background(), uuid.New(), gateOn)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	}
}

func TestResolve_EvaluatesGateForOwner(t *testing.T) {
	store := registry.NewMemoryStore()
	p := seedPrototype(t, store, true)
	seedVersions(t, store, p, models.VersionStatusReady)

	access := new(MockAccess)
	access.On("Evaluate", mock.Anything, p.OwnerID).Return(gate.Access{IsEligible: true, UIEnabled: true}, nil).Once()
	svc := services.NewResolutionService(store, blob.NewMemoryStore(cdn), access, logger.Nop())

	got, err := svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, services.SourceVersion, got.Source)
	access.AssertExpectations(t)
}

func TestResolve_GateErrorServesLegacy(t *testing.T) {
	store := registry.NewMemoryStore()
	p := seedPrototype(t, store, true)
	seedVersions(t, store, p, models.VersionStatusReady)

	access := new(MockAccess)
	access.On("Evaluate", mock.Anything, p.OwnerID).Return(gate.Access{}, errors.New("profiles unavailable"))
	svc := services.NewResolutionService(store, blob.NewMemoryStore(cdn), access, logger.Nop())

	got, err := svc.Resolve(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, services.SourceLegacy, got.Source)
}

func TestResolveServable_S3SiblingFilesShareBase(t *testing.T) {
	store := registry.NewMemoryStore()
	p := seedPrototype(t, store, false)
	seedVersions(t, store, p, models.VersionStatusReady)

	s3, err := blob.NewS3Store(context.Background(), blob.S3Options{
		Bucket:          "bundles",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		PublicBaseURL:   "http://localhost:9000/bundles",
	})
	require.NoError(t, err)
	svc := services.NewResolutionService(store, s3, nil, logger.Nop())

	got, err := svc.ResolveServable(context.Background(), p.ID, true)
	require.NoError(t, err)
	prefix := "http://localhost:9000/bundles/" + services.VersionPrefix(p.ID, 1)
	assert.Equal(t, prefix, got.FilesPath)
	assert.Equal(t, prefix+"index.html", got.PreviewPath)
	assert.NotContains(t, got.FilesPath, "?")
}
