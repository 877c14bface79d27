package messaging

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

func alertCreated() shared.Event {
	return shared.AlertCreatedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventAlertCreated, "a-1", time.Now()),
		Subject:   "English",
	}
}

func TestInMemoryEventBus_Sync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventAlertCreated, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventAlertDismissed, func(shared.Event) error { t.Fatal("wrong type"); return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return errors.New("ignored") }))

	require.NoError(t, bus.Publish(alertCreated()))
	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Published[shared.EventAlertCreated])
	assert.Equal(t, int64(2), snap.HandlerExecutions)
	assert.Equal(t, int64(1), snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncRecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var calls atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventAlertCreated, func(shared.Event) error {
		panic("boom")
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(alertCreated()))
	}
	bus.Wait()

	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, int64(5), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(alertCreated()), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.Error(t, bus.Subscribe(shared.EventAlertCreated, nil))
}
