package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// ErrNotConfigured is returned by a channel that has no credentials.
var ErrNotConfigured = errors.New("notification channel not configured")

// Telegram posts messages to a single chat through the Bot API.
type Telegram struct {
	hc      *http.Client
	token   string
	chatID  string
	baseURL string
}

// NewTelegram returns a Telegram channel. baseURL may be empty.
func NewTelegram(token, chatID, baseURL string) *Telegram {
	if baseURL == "" {
		baseURL = defaultTelegramAPI
	}
	return &Telegram{
		hc:      &http.Client{Timeout: 10 * time.Second},
		token:   strings.TrimSpace(token),
		chatID:  strings.TrimSpace(chatID),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Configured reports whether both the bot token and chat id are set.
func (t *Telegram) Configured() bool { return t.token != "" && t.chatID != "" }

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Notify(ctx context.Context, m Message) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(sendMessage{
		ChatID:    t.chatID,
		Text:      formatHTML(m),
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	status, resp, err := t.do(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token), body)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if status >= 400 {
		var r apiResponse
		_ = json.Unmarshal(resp, &r)
		if r.Description != "" {
			return fmt.Errorf("telegram send failed: %s (status=%d)", r.Description, status)
		}
		return fmt.Errorf("telegram send failed (status=%d)", status)
	}
	return nil
}

func formatHTML(m Message) string {
	if m.Title == "" {
		return html.EscapeString(m.Body)
	}
	return "<b>" + html.EscapeString(m.Title) + "</b>\n\n" + html.EscapeString(m.Body)
}

func (t *Telegram) do(ctx context.Context, method, rawURL string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("content-type", "application/json")

	res, err := t.hc.Do(req)
	if err != nil {
		// the URL carries the bot token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return 0, nil, uerr.Err
		}
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}
