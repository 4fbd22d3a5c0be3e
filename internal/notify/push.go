package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/sync/errgroup"

	"github.com/example/srt-scheduler/internal/logger"
)

// ErrInvalidSubscription is returned for subscriptions missing an endpoint or keys.
var ErrInvalidSubscription = errors.New("invalid push subscription")

// VAPID identifies this server to push services.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	// Subject is a mailto: or https: contact URL.
	Subject string
}

// Subscription is a browser PushSubscription as serialized by PushSubscription.toJSON().
type Subscription = webpush.Subscription

// Push delivers Web Push notifications to every registered browser.
// Endpoints the push service reports as gone (404/410) are removed.
type Push struct {
	vapid  VAPID
	ttl    int
	client webpush.HTTPClient
	log    logger.Logger

	mu   sync.RWMutex
	subs map[string]Subscription
}

// NewPush returns an empty registry. client may be nil.
func NewPush(vapid VAPID, client webpush.HTTPClient, log logger.Logger) *Push {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Push{
		vapid:  vapid,
		ttl:    60 * 60,
		client: client,
		log:    log,
		subs:   make(map[string]Subscription),
	}
}

func (p *Push) Name() string { return "push" }

// PublicKey is what browsers need to subscribe.
func (p *Push) PublicKey() string { return p.vapid.PublicKey }

// Configured reports whether VAPID keys are present.
func (p *Push) Configured() bool { return p.vapid.PublicKey != "" && p.vapid.PrivateKey != "" }

// Subscribe registers s, replacing any subscription with the same endpoint.
func (p *Push) Subscribe(s Subscription) error {
	if s.Endpoint == "" || s.Keys.Auth == "" || s.Keys.P256dh == "" {
		return ErrInvalidSubscription
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[s.Endpoint] = s
	return nil
}

// Len returns the number of registered endpoints.
func (p *Push) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Report summarizes one broadcast.
type Report struct {
	Sent   int
	Failed int
	Pruned int
}

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notify broadcasts m. With no subscribers it is a no-op.
func (p *Push) Notify(ctx context.Context, m Message) error {
	_, err := p.Broadcast(ctx, m)
	return err
}

// Broadcast sends m to every endpoint concurrently.
func (p *Push) Broadcast(ctx context.Context, m Message) (Report, error) {
	if !p.Configured() {
		return Report{}, ErrNotConfigured
	}
	msg, err := json.Marshal(payload{Title: m.Title, Body: m.Body})
	if err != nil {
		return Report{}, err
	}

	p.mu.RLock()
	subs := make([]Subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.RUnlock()

	var (
		mu   sync.Mutex
		rep  Report
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(8)
	for _, s := range subs {
		g.Go(func() error {
			// webpush pads the message in place.
			gone, err := p.send(ctx, bytes.Clone(msg), s)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case gone:
				rep.Pruned++
				p.remove(s.Endpoint)
			case err != nil:
				rep.Failed++
				errs = append(errs, err)
			default:
				rep.Sent++
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep, errors.Join(errs...)
}

func (p *Push) send(ctx context.Context, msg []byte, s Subscription) (gone bool, err error) {
	res, err := webpush.SendNotificationWithContext(ctx, msg, &s, &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      p.vapid.Subject,
		VAPIDPublicKey:  p.vapid.PublicKey,
		VAPIDPrivateKey: p.vapid.PrivateKey,
		TTL:             p.ttl,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return false, fmt.Errorf("push to %s: %w", s.Endpoint, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		p.log.Info("push endpoint gone, removing", logger.String("endpoint", s.Endpoint), logger.Int("status", res.StatusCode))
		return true, nil
	case res.StatusCode >= 400:
		return false, fmt.Errorf("push to %s: status %d", s.Endpoint, res.StatusCode)
	}
	return false, nil
}

func (p *Push) remove(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, endpoint)
}

// GenerateVAPIDKeys returns a new base64url key pair.
func GenerateVAPIDKeys() (VAPID, error) {
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPID{}, err
	}
	return VAPID{PublicKey: pub, PrivateKey: priv}, nil
}
