package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_Notify(t *testing.T) {
	t.Parallel()

	var got sendMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("content-type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42", srv.URL)
	require.True(t, tg.Configured())
	err := tg.Notify(context.Background(), Message{Title: "SRT 예약 완료!", Body: "수서 → 부산 <08:20>"})
	require.NoError(t, err)

	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Equal(t, "<b>SRT 예약 완료!</b>\n\n수서 → 부산 &lt;08:20&gt;", got.Text)
}

func TestTelegram_ErrorDescription(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegram("TOKEN", "42", srv.URL).Notify(context.Background(), Message{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Contains(t, err.Error(), "status=400")
}

func TestTelegram_NotConfigured(t *testing.T) {
	t.Parallel()

	tg := NewTelegram("", "42", "")
	assert.False(t, tg.Configured())
	assert.ErrorIs(t, tg.Notify(context.Background(), Message{}), ErrNotConfigured)
}

func TestTelegram_TransportErrorHidesToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewTelegram("SECRET-TOKEN", "42", url).Notify(context.Background(), Message{Body: "x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}
