// Package webhooks implements the optional webhook CRUD and delivery
// system: registrations subscribe to typed events, each delivery attempt
// is signed with HMAC-SHA256 and retried with exponential backoff, and a
// webhook auto-disables after too many consecutive failures.
//
// Grounded on internal/sessions/memory.go's mutex-guarded map store for
// the in-memory Store (same "copy in, copy out" discipline so callers
// never alias internal state), and on internal/breaker/breaker.go's
// state-machine-under-one-mutex shape for the per-webhook failure
// counter and auto-disable transition.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is one of the known webhook-subscribable event kinds.
type EventType string

const (
	EventMessageSent     EventType = "message.sent"
	EventToolExecuted    EventType = "tool.executed"
	EventToolDenied      EventType = "tool.denied"
	EventSessionCreated  EventType = "session.created"
	EventTurnError       EventType = "turn.error"
	EventBreakerTripped  EventType = "breaker.tripped"
)

// KnownEvents is the full set of event types a webhook may subscribe to.
var KnownEvents = []EventType{
	EventMessageSent, EventToolExecuted, EventToolDenied,
	EventSessionCreated, EventTurnError, EventBreakerTripped,
}

func isKnownEvent(e EventType) bool {
	for _, k := range KnownEvents {
		if k == e {
			return true
		}
	}
	return false
}

// Webhook is one registered HTTP delivery destination.
type Webhook struct {
	ID                  string            `json:"id"`
	URL                 string            `json:"url"`
	Events              []EventType       `json:"events"`
	Secret              string            `json:"secret"`
	Enabled             bool              `json:"enabled"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (w *Webhook) subscribesTo(event EventType) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// DeliveryStatus is the outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryRecord is one attempted (or pending) delivery of an event to a
// webhook.
type DeliveryRecord struct {
	ID         string         `json:"id"`
	WebhookID  string         `json:"webhook_id"`
	Event      EventType      `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	Status     DeliveryStatus `json:"status"`
	Attempts   int            `json:"attempts"`
	StatusCode int            `json:"status_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

var (
	ErrNotFound       = errors.New("webhooks: not found")
	ErrUnknownEvent   = errors.New("webhooks: unknown event type")
	ErrInvalidURL     = errors.New("webhooks: url is required")
)

// Store persists webhooks and their delivery history.
type Store interface {
	SaveWebhook(ctx context.Context, w *Webhook) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context) ([]*Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error

	SaveDelivery(ctx context.Context, d *DeliveryRecord) error
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*DeliveryRecord, error)
}

// MemoryStore is an in-process Store, grounded on sessions.MemoryStore's
// mutex-guarded map-of-clones design.
type MemoryStore struct {
	mu         sync.RWMutex
	webhooks   map[string]*Webhook
	deliveries map[string][]*DeliveryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		webhooks:   make(map[string]*Webhook),
		deliveries: make(map[string][]*DeliveryRecord),
	}
}

func (s *MemoryStore) SaveWebhook(ctx context.Context, w *Webhook) error {
	cp := *w
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.webhooks[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Webhook, 0, len(s.webhooks))
	for _, w := range s.webhooks {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DeleteWebhook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.webhooks, id)
	delete(s.deliveries, id)
	return nil
}

func (s *MemoryStore) SaveDelivery(ctx context.Context, d *DeliveryRecord) error {
	cp := *d
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.WebhookID] = append(s.deliveries[d.WebhookID], &cp)
	return nil
}

func (s *MemoryStore) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.deliveries[webhookID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]*DeliveryRecord, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

// Dispatcher fans an event out to every enabled, subscribed webhook,
// signing each body with its own secret and retrying failed deliveries
// with exponential backoff. A webhook is disabled once it accumulates
// MaxConsecutiveFailures in a row.
type Dispatcher struct {
	store                  Store
	client                 *http.Client
	MaxConsecutiveFailures int
	MaxRetries             int
	BaseBackoff            time.Duration
}

// NewDispatcher builds a Dispatcher. MaxConsecutiveFailures<=0 defaults
// to 5; MaxRetries<=0 to 3; BaseBackoff<=0 to 1s.
func NewDispatcher(store Store, client *http.Client) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{
		store:                  store,
		client:                 client,
		MaxConsecutiveFailures: 5,
		MaxRetries:             3,
		BaseBackoff:            time.Second,
	}
}

// Register validates and stores a new webhook.
func (d *Dispatcher) Register(ctx context.Context, url string, events []EventType, secret string, metadata map[string]string) (*Webhook, error) {
	if url == "" {
		return nil, ErrInvalidURL
	}
	for _, e := range events {
		if !isKnownEvent(e) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, e)
		}
	}
	now := time.Now()
	w := &Webhook{
		ID:        uuid.NewString(),
		URL:       url,
		Events:    events,
		Secret:    secret,
		Enabled:   true,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.SaveWebhook(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Get returns one registered webhook, or nil if it doesn't exist.
func (d *Dispatcher) Get(ctx context.Context, id string) (*Webhook, error) {
	return d.store.GetWebhook(ctx, id)
}

// List returns every registered webhook.
func (d *Dispatcher) List(ctx context.Context) ([]*Webhook, error) {
	return d.store.ListWebhooks(ctx)
}

// Delete removes a webhook and its delivery history.
func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	return d.store.DeleteWebhook(ctx, id)
}

// Patch applies a partial update to an existing webhook. A nil field is
// left unchanged.
type Patch struct {
	URL      *string
	Events   []EventType
	Secret   *string
	Enabled  *bool
	Metadata map[string]string
}

func (d *Dispatcher) Update(ctx context.Context, id string, patch Patch) (*Webhook, error) {
	w, err := d.store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrNotFound
	}
	if patch.URL != nil {
		w.URL = *patch.URL
	}
	if patch.Events != nil {
		for _, e := range patch.Events {
			if !isKnownEvent(e) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, e)
			}
		}
		w.Events = patch.Events
	}
	if patch.Secret != nil {
		w.Secret = *patch.Secret
	}
	if patch.Enabled != nil {
		w.Enabled = *patch.Enabled
		if *patch.Enabled {
			w.ConsecutiveFailures = 0
		}
	}
	if patch.Metadata != nil {
		w.Metadata = patch.Metadata
	}
	w.UpdatedAt = time.Now()
	if err := d.store.SaveWebhook(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Dispatch delivers event to every enabled webhook subscribed to it,
// concurrently, retrying each independently; it never blocks the
// caller's turn beyond spawning the delivery goroutines.
func (d *Dispatcher) Dispatch(ctx context.Context, event EventType, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	hooks, err := d.store.ListWebhooks(ctx)
	if err != nil {
		return
	}
	for _, w := range hooks {
		if !w.Enabled || !w.subscribesTo(event) {
			continue
		}
		go d.deliver(context.WithoutCancel(ctx), w, event, body)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, w *Webhook, event EventType, body []byte) {
	record := &DeliveryRecord{
		ID:        uuid.NewString(),
		WebhookID: w.ID,
		Event:     event,
		Payload:   body,
		Status:    DeliveryPending,
		CreatedAt: time.Now(),
	}

	maxRetries := d.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := d.BaseBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt < maxRetries; attempt++ {
		record.Attempts++
		status, err := d.send(ctx, w, body)
		lastErr, lastStatus = err, status
		if err == nil && status >= 200 && status < 300 {
			record.Status = DeliverySuccess
			record.StatusCode = status
			record.UpdatedAt = time.Now()
			_ = d.store.SaveDelivery(ctx, record)
			d.resetFailures(ctx, w)
			return
		}
		if attempt < maxRetries-1 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxRetries // stop retrying once the dispatch context is gone
			}
		}
	}

	record.Status = DeliveryFailed
	record.StatusCode = lastStatus
	if lastErr != nil {
		record.Error = lastErr.Error()
	}
	record.UpdatedAt = time.Now()
	_ = d.store.SaveDelivery(ctx, record)
	d.recordFailure(ctx, w)
}

func (d *Dispatcher) send(ctx context.Context, w *Webhook, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Consoul-Signature", "sha256="+sign(w.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) recordFailure(ctx context.Context, w *Webhook) {
	current, err := d.store.GetWebhook(ctx, w.ID)
	if err != nil || current == nil {
		return
	}
	current.ConsecutiveFailures++
	max := d.MaxConsecutiveFailures
	if max <= 0 {
		max = 5
	}
	if current.ConsecutiveFailures >= max {
		current.Enabled = false
	}
	current.UpdatedAt = time.Now()
	_ = d.store.SaveWebhook(ctx, current)
}

func (d *Dispatcher) resetFailures(ctx context.Context, w *Webhook) {
	current, err := d.store.GetWebhook(ctx, w.ID)
	if err != nil || current == nil {
		return
	}
	if current.ConsecutiveFailures == 0 {
		return
	}
	current.ConsecutiveFailures = 0
	current.UpdatedAt = time.Now()
	_ = d.store.SaveWebhook(ctx, current)
}
