package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"prototype-versions-backend/internal/models"
)

const (
	EventVersionProcessing = "version.processing"
	EventVersionReady      = "version.ready"
	EventVersionFailed     = "version.failed"
)

// RealtimeClient publishes version lifecycle events on a Redis channel per
// prototype. With no Redis configured it drops events.
type RealtimeClient struct {
	rdb    *goredis.Client
	prefix string
}

func NewRealtimeClient(ctx context.Context, addr, prefix string) (*RealtimeClient, error) {
	if addr == "" {
		return &RealtimeClient{prefix: prefix}, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RealtimeClient{rdb: rdb, prefix: prefix}, nil
}

func (r *RealtimeClient) Channel(prototypeID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", r.prefix, prototypeID.String())
}

func (r *RealtimeClient) PublishEvent(ctx context.Context, channel, event string, payload map[string]interface{}) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	raw, err := sonic.Marshal(map[string]interface{}{
		"event":   event,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return r.rdb.Publish(ctx, channel, raw).Err()
}

// PublishVersionEvent picks the event from the version status.
func (r *RealtimeClient) PublishVersionEvent(ctx context.Context, v *models.Version) error {
	var event string
	var payload map[string]interface{}
	switch v.Status {
	case models.VersionStatusReady:
		event, payload = EventVersionReady, VersionReadyPayload(v)
	case models.VersionStatusFailed:
		event, payload = EventVersionFailed, VersionFailedPayload(v)
	default:
		event, payload = EventVersionProcessing, VersionProcessingPayload(v)
	}
	return r.PublishEvent(ctx, r.Channel(v.PrototypeID), event, payload)
}

func (r *RealtimeClient) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// Event payloads
func VersionProcessingPayload(v *models.Version) map[string]interface{} {
	return map[string]interface{}{
		"prototype_id":   v.PrototypeID.String(),
		"version_id":     v.ID.String(),
		"version_number": v.VersionNumber,
		"status":         string(models.VersionStatusProcessing),
	}
}

func VersionReadyPayload(v *models.Version) map[string]interface{} {
	return map[string]interface{}{
		"prototype_id":   v.PrototypeID.String(),
		"version_id":     v.ID.String(),
		"version_number": v.VersionNumber,
		"status":         string(models.VersionStatusReady),
		"preview_path":   v.PreviewPath.String,
	}
}

func VersionFailedPayload(v *models.Version) map[string]interface{} {
	return map[string]interface{}{
		"prototype_id":   v.PrototypeID.String(),
		"version_id":     v.ID.String(),
		"version_number": v.VersionNumber,
		"status":         string(models.VersionStatusFailed),
		"error":          v.ErrorMessage.String,
	}
}
