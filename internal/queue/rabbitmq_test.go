package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/models"
)

func TestDecodeTask(t *testing.T) {
	task := models.IngestTask{
		VersionID:     uuid.New(),
		PrototypeID:   uuid.New(),
		VersionNumber: 3,
		UploadPath:    "uploads/p/v.zip",
	}
	body, err := sonic.Marshal(task)
	require.NoError(t, err)

	got, err := DecodeTask(body)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	_, err = DecodeTask([]byte(`{"version_number": 1}`))
	assert.Error(t, err)
	_, err = DecodeTask([]byte(`not json`))
	assert.Error(t, err)
}

func TestTableCarrier(t *testing.T) {
	c := tableCarrier{table: amqp.Table{"count": int32(2)}}
	c.Set("traceparent", "00-abc-def-01")

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, "2", c.Get("count"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"count", "traceparent"}, c.Keys())
}

// ackRecorder is an amqp.Acknowledger that records outcomes per delivery tag.
type ackRecorder struct {
	mu       sync.Mutex
	acked    []uint64
	requeued []uint64
	dropped  []uint64
}

func (a *ackRecorder) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeued = append(a.requeued, tag)
	} else {
		a.dropped = append(a.dropped, tag)
	}
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *ackRecorder) settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked) + len(a.requeued) + len(a.dropped)
}

func taskDelivery(t *testing.T, ack amqp.Acknowledger, tag uint64, task models.IngestTask) amqp.Delivery {
	t.Helper()
	body, err := sonic.Marshal(task)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}

func TestConsumer_RunsWorkersConcurrently(t *testing.T) {
	const workers = 3
	ack := &ackRecorder{}
	msgs := make(chan amqp.Delivery, workers)
	for i := 1; i <= workers; i++ {
		msgs <- taskDelivery(t, ack, uint64(i), models.IngestTask{VersionID: uuid.New()})
	}

	started := make(chan struct{}, workers)
	release := make(chan struct{})
	handler := func(ctx context.Context, _ models.IngestTask) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	c := &Consumer{q: amqp.Queue{Name: "ingest"}, workers: workers, log: logger.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.consume(ctx, msgs, handler) }()

	// every delivery is in its handler before any of them is released
	for i := 0; i < workers; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d handlers running at once", i, workers)
		}
	}
	close(release)

	require.Eventually(t, func() bool { return ack.settled() == workers }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, ack.acked, workers)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConsumer_SettlesFailures(t *testing.T) {
	ack := &ackRecorder{}
	msgs := make(chan amqp.Delivery, 3)
	failing := uuid.New()
	msgs <- taskDelivery(t, ack, 1, models.IngestTask{VersionID: uuid.New()})
	msgs <- taskDelivery(t, ack, 2, models.IngestTask{VersionID: failing})
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("not json")}
	close(msgs)

	handler := func(_ context.Context, task models.IngestTask) error {
		if task.VersionID == failing {
			return errors.New("registry unavailable")
		}
		return nil
	}

	c := &Consumer{q: amqp.Queue{Name: "ingest"}, workers: 1, log: logger.Nop()}
	err := c.consume(context.Background(), msgs, handler)
	assert.ErrorIs(t, err, errConsumerClosed)

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2}, ack.requeued)
	assert.Equal(t, []uint64{3}, ack.dropped)
}
