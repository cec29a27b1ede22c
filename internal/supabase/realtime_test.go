package supabase

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prototype-versions-backend/internal/models"
)

func TestRealtimeClient_WithoutRedisDropsEvents(t *testing.T) {
	client, err := NewRealtimeClient(context.Background(), "", "prototype")
	require.NoError(t, err)

	v := &models.Version{ID: uuid.New(), PrototypeID: uuid.New(), VersionNumber: 2, Status: models.VersionStatusReady}
	assert.NoError(t, client.PublishVersionEvent(context.Background(), v))
	assert.NoError(t, client.Close())
}

func TestRealtimeClient_Channel(t *testing.T) {
	client, err := NewRealtimeClient(context.Background(), "", "prototype")
	require.NoError(t, err)

	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assert.Equal(t, "prototype:11111111-2222-3333-4444-555555555555", client.Channel(id))
}

func TestVersionPayloads(t *testing.T) {
	v := &models.Version{
		ID:            uuid.New(),
		PrototypeID:   uuid.New(),
		VersionNumber: 4,
		PreviewPath:   sql.NullString{String: "prototypes/p/v4/index.html", Valid: true},
		ErrorMessage:  sql.NullString{String: "failed to publish files", Valid: true},
	}

	ready := VersionReadyPayload(v)
	assert.Equal(t, "ready", ready["status"])
	assert.Equal(t, 4, ready["version_number"])
	assert.Equal(t, "prototypes/p/v4/index.html", ready["preview_path"])

	failed := VersionFailedPayload(v)
	assert.Equal(t, "failed", failed["status"])
	assert.Equal(t, "failed to publish files", failed["error"])

	assert.Equal(t, "processing", VersionProcessingPayload(v)["status"])
}
