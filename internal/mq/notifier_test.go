package mq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbus/internal/model"
)

type fakePublisher struct {
	exchange, key string
	body          []byte
	err           error
}

func (f *fakePublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	f.exchange, f.key, f.body = exchange, routingKey, body
	return f.err
}

func TestTripNotifierPublishes(t *testing.T) {
	p := &fakePublisher{}
	n := NewTripNotifier(p, "ops@example.com", nil)
	trip := model.Trip{ID: 3, UserID: 9, On: model.AllDays}
	require.NoError(t, n.Notify(context.Background(), model.TripUpdated, trip, model.User{ID: 9, Email: "a@b.c"}))

	assert.Equal(t, AdminExchange, p.exchange)
	assert.Equal(t, "trip.updated", p.key)
	var msg model.AdminNotification
	require.NoError(t, json.Unmarshal(p.body, &msg))
	assert.Equal(t, "ops@example.com", msg.Recipient)
	assert.Equal(t, "New trip by a@b.c", msg.Subject)
	assert.Equal(t, int64(3), msg.Trip.ID)
}

func TestTripNotifierWrapsError(t *testing.T) {
	cause := errors.New("channel closed")
	n := NewTripNotifier(&fakePublisher{err: cause}, "", nil)
	err := n.Notify(context.Background(), model.TripCreated, model.Trip{ID: 1}, model.User{})
	assert.ErrorIs(t, err, cause)
}
