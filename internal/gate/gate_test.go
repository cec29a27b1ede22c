package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prototype-versions-backend/internal/flags"
	"prototype-versions-backend/internal/gate"
	"prototype-versions-backend/internal/logger"
)

type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) IsEligibleTester(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func TestGate_Evaluate_Conjunction(t *testing.T) {
	tests := []struct {
		name     string
		eligible bool
		ui       bool
		upload   bool
		want     gate.Access
	}{
		{"not eligible, flags on", false, true, true, gate.Access{}},
		{"eligible, flags off", true, false, false, gate.Access{IsEligible: true}},
		{"eligible, ui only", true, true, false, gate.Access{IsEligible: true, UIEnabled: true}},
		{"eligible, upload only", true, false, true, gate.Access{IsEligible: true, UploadEnabled: true}},
		{"eligible, both", true, true, true, gate.Access{IsEligible: true, UIEnabled: true, UploadEnabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID := uuid.New()
			profiles := new(MockProfileStore)
			profiles.On("IsEligibleTester", mock.Anything, userID).Return(tt.eligible, nil)
			registry := flags.New(map[string]bool{
				flags.FlagUIRollout:     tt.ui,
				flags.FlagUploadRollout: tt.upload,
			})

			g := gate.New(registry, profiles, time.Minute, logger.Nop())
			got, err := g.Evaluate(context.Background(), userID)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_Evaluate_CachesEligibility(t *testing.T) {
	userID := uuid.New()
	profiles := new(MockProfileStore)
	profiles.On("IsEligibleTester", mock.Anything, userID).Return(true, nil).Once()

	g := gate.New(flags.New(map[string]bool{flags.FlagUIRollout: true}), profiles, time.Minute, logger.Nop())
	for i := 0; i < 5; i++ {
		got, err := g.Evaluate(context.Background(), userID)
		require.NoError(t, err)
		assert.True(t, got.UIEnabled)
	}

	profiles.AssertNumberOfCalls(t, "IsEligibleTester", 1)
}

func TestGate_Evaluate_AnonymousSkipsLookup(t *testing.T) {
	profiles := new(MockProfileStore)
	g := gate.New(flags.New(map[string]bool{flags.FlagUIRollout: true}), profiles, time.Minute, logger.Nop())

	got, err := g.Evaluate(context.Background(), uuid.Nil)

	require.NoError(t, err)
	assert.Equal(t, gate.Access{}, got)
	profiles.AssertNotCalled(t, "IsEligibleTester", mock.Anything, mock.Anything)
}

func TestGate_Evaluate_LookupErrorFailsClosed(t *testing.T) {
	userID := uuid.New()
	profiles := new(MockProfileStore)
	profiles.On("IsEligibleTester", mock.Anything, userID).Return(false, errors.New("postgrest unavailable")).Twice()

	g := gate.New(flags.New(map[string]bool{flags.FlagUIRollout: true, flags.FlagUploadRollout: true}), profiles, time.Minute, logger.Nop())

	got, err := g.Evaluate(context.Background(), userID)
	assert.Error(t, err)
	assert.Equal(t, gate.Access{}, got)

	// errors are not cached
	_, err = g.Evaluate(context.Background(), userID)
	assert.Error(t, err)
	profiles.AssertExpectations(t)
}
