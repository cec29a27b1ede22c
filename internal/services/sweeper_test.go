package services_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
	"prototype-versions-backend/internal/registry"
	"prototype-versions-backend/internal/services"
)

func TestSweeper_FailsOnlyStaleProcessing(t *testing.T) {
	store := registry.NewMemoryStore()
	old := time.Now().Add(-2 * time.Hour)
	store.SetClock(func() time.Time { return old })
	p := seedPrototype(t, store, false)
	versions := seedVersions(t, store, p, models.VersionStatusProcessing, models.VersionStatusReady)

	store.SetClock(time.Now)
	fresh := seedVersions(t, store, p, models.VersionStatusProcessing)[0]

	events := &eventRecorder{}
	sweeper := services.NewSweeper(store, events, 30*time.Minute, time.Minute, logger.Nop())
	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := store.GetVersion(context.Background(), versions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusFailed, stale.Status)
	assert.Equal(t, services.StaleMessage, stale.ErrorMessage.String)

	ready, err := store.GetVersion(context.Background(), versions[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusReady, ready.Status)

	stillProcessing, err := store.GetVersion(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusProcessing, stillProcessing.Status)
	assert.Equal(t, []models.VersionStatus{models.VersionStatusFailed}, events.statuses())
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	var sweeps atomic.Int32
	store := new(MockStore)
	store.On("FailStale", mock.Anything, mock.Anything, services.StaleMessage).
		Run(func(mock.Arguments) { sweeps.Add(1) }).
		Return([]models.Version(nil), nil)
	sweeper := services.NewSweeper(store, nil, time.Minute, 5*time.Millisecond, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sweeps.Load() > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
