package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type incidentPaged struct {
	IncidentID string
}

func TestPublishReachesEveryHandlerDespiteFailures(t *testing.T) {
	bus := NewInMemoryBus()
	eventType := EventTypeOf[incidentPaged]()
	failure := errors.New("inbox unavailable")
	var seen []string
	bus.Subscribe(eventType, func(_ context.Context, event any) error {
		seen = append(seen, "router")
		return failure
	})
	bus.Subscribe(eventType, func(_ context.Context, event any) error {
		panic("bad consumer")
	})
	bus.Subscribe(eventType, func(_ context.Context, event any) error {
		seen = append(seen, "audit:"+event.(*incidentPaged).IncidentID)
		return nil
	})
	assert.Equal(t, 3, bus.Subscribers(eventType))

	err := bus.Publish(context.Background(), &incidentPaged{IncidentID: "INC-7"})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure)
	assert.Contains(t, err.Error(), "handler panic: bad consumer")
	assert.Equal(t, []string{"router", "audit:INC-7"}, seen)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	assert.NoError(t, bus.Publish(context.Background(), incidentPaged{}))
	assert.ErrorIs(t, bus.Publish(context.Background(), nil), ErrNilEvent)
	assert.Equal(t, "eventbus.incidentPaged", EventType(&incidentPaged{}))
}
