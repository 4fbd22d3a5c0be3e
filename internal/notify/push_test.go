package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubscription(t *testing.T, endpoint string) Subscription {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	var s Subscription
	s.Endpoint = endpoint
	s.Keys.P256dh = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	s.Keys.Auth = base64.RawURLEncoding.EncodeToString(auth)
	return s
}

func testPush(t *testing.T) *Push {
	t.Helper()

	v, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	v.Subject = "mailto:ops@example.com"
	return NewPush(v, nil, nil)
}

func TestPush_Subscribe(t *testing.T) {
	t.Parallel()

	p := testPush(t)
	assert.ErrorIs(t, p.Subscribe(Subscription{}), ErrInvalidSubscription)

	s := testSubscription(t, "https://push.example.com/a")
	require.NoError(t, p.Subscribe(s))
	require.NoError(t, p.Subscribe(s))
	assert.Equal(t, 1, p.Len(), "same endpoint replaces")
}

func TestPush_BroadcastPrunesGoneEndpoints(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "aes128gcm", r.Header.Get("Content-Encoding"))
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	p := testPush(t)
	for _, path := range []string{"/ok", "/gone", "/missing", "/broken"} {
		require.NoError(t, p.Subscribe(testSubscription(t, srv.URL+path)))
	}

	rep, err := p.Broadcast(context.Background(), Message{Title: "t", Body: "b"})
	require.Error(t, err, "the 500 is reported")
	assert.Equal(t, Report{Sent: 1, Failed: 1, Pruned: 2}, rep)
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, 2, p.Len())

	rep, _ = p.Broadcast(context.Background(), Message{Body: "again"})
	assert.Equal(t, 0, rep.Pruned)
	assert.Equal(t, int32(6), hits.Load())
}

func TestPush_BroadcastManySubscribers(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NotEmpty(t, body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := testPush(t)
	const n = 12
	for i := 0; i < n; i++ {
		require.NoError(t, p.Subscribe(testSubscription(t, fmt.Sprintf("%s/sub/%d", srv.URL, i))))
	}

	for round := 1; round <= 3; round++ {
		rep, err := p.Broadcast(context.Background(), Message{Title: "SRT reservation complete", Body: "수서 → 부산"})
		require.NoError(t, err)
		assert.Equal(t, Report{Sent: n}, rep)
		assert.Equal(t, int32(round*n), hits.Load())
	}
}

func TestPush_NoSubscribers(t *testing.T) {
	t.Parallel()

	p := testPush(t)
	assert.NoError(t, p.Notify(context.Background(), Message{Body: "x"}))
}

func TestPush_NotConfigured(t *testing.T) {
	t.Parallel()

	p := NewPush(VAPID{}, nil, nil)
	assert.False(t, p.Configured())
	assert.ErrorIs(t, p.Notify(context.Background(), Message{}), ErrNotConfigured)
}
