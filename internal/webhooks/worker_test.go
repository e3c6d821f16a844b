package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbus/internal/model"
	"rbus/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType, gotID string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotID = r.Header.Get("X-Delivery-Id")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 3, nil)
	w.HTTP = srv.Client()
	p := NewPublisher(rs, srv.URL, "secret", "")
	trip := model.Trip{ID: 7, UserID: 1, On: model.Weekdays}
	require.NoError(t, p.Notify(context.Background(), model.TripCreated, trip, model.User{ID: 1, Email: "rider@example.com"}))

	w.processOnce()

	assert.Equal(t, "trip.created", gotType)
	assert.True(t, Verify("secret", gotID, gotBody, gotSig, time.Now()))
	var n model.AdminNotification
	require.NoError(t, json.Unmarshal(gotBody, &n))
	assert.Equal(t, "New trip by rider@example.com", n.Subject)
	assert.Equal(t, model.DefaultAdminRecipient, n.Recipient)
	assert.Equal(t, int64(7), n.Trip.ID)
	require.Len(t, rs.marks, 1)
	assert.True(t, rs.marks[0].Success)
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := NewWorker(rs, 2, nil)
	w.HTTP = srv.Client()
	id, err := rs.EnqueueWebhook(context.Background(), "trip.updated", srv.URL, "", []byte(`{}`))
	require.NoError(t, err)

	w.processOnce()
	require.Len(t, rs.marks, 1)
	assert.False(t, rs.marks[0].Success)
	assert.Equal(t, 500, rs.marks[0].Code)
	assert.Empty(t, rs.fails)

	require.NoError(t, rs.RetryWebhookDelivery(context.Background(), id))
	w.processOnce()
	require.Len(t, rs.fails, 1)
	assert.Equal(t, id, rs.fails[0].ID)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(-1))
	assert.Equal(t, 4*time.Second, nextBackoff(2))
	assert.Equal(t, nextBackoff(10), nextBackoff(50))
}

func TestSignatureRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	sig := Sign("k", "d1", []byte("body"), now)
	assert.True(t, strings.HasPrefix(sig, "t=1700000000,v1="))
	assert.True(t, Verify("k", "d1", []byte("body"), sig, now.Add(time.Minute)))
	assert.False(t, Verify("other", "d1", []byte("body"), sig, now))
	assert.False(t, Verify("k", "d2", []byte("body"), sig, now))
	assert.False(t, Verify("k", "d1", []byte("tampered"), sig, now))
	assert.False(t, Verify("k", "d1", []byte("body"), sig, now.Add(MaxSignatureAge+time.Second)))
	assert.False(t, Verify("k", "d1", []byte("body"), "t=1700000000,v1=zz", now))
	assert.False(t, Verify("k", "d1", []byte("body"), "", now))
}
