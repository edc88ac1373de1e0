package providers

import (
	"context"

	"github.com/goatbytes/consoul/internal/breaker"
	"github.com/goatbytes/consoul/internal/models"
)

// BreakerProvider wraps a Provider so every StreamEvents call passes
// through that provider's own circuit breaker, keyed by Name(). A
// request-shaped failure (IsUserError) never counts against the breaker;
// everything else — timeouts, 5xx, transport errors — does.
type BreakerProvider struct {
	inner    Provider
	breakers *breaker.Registry
}

// NewBreakerProvider wraps inner with breaker-gated calls sourced from
// registry.
func NewBreakerProvider(inner Provider, registry *breaker.Registry) *BreakerProvider {
	return &BreakerProvider{inner: inner, breakers: registry}
}

func (p *BreakerProvider) Name() string { return p.inner.Name() }

func (p *BreakerProvider) Models() []ModelInfo { return p.inner.Models() }

func (p *BreakerProvider) SupportsTools() bool { return p.inner.SupportsTools() }

// StreamEvents runs the wrapped provider's call under its breaker. The
// breaker only gates the call that opens the stream (auth, connection,
// and initial-response failures); once a channel of events is returned,
// streaming proceeds independently of breaker state.
func (p *BreakerProvider) StreamEvents(ctx context.Context, modelID string, messages []models.Message, tools []models.Tool) (<-chan Event, error) {
	b := p.breakers.Get(p.Name())

	var events <-chan Event
	err := b.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		events, innerErr = p.inner.StreamEvents(ctx, modelID, messages, tools)
		return innerErr
	}, IsUserError)
	if err != nil {
		return nil, err
	}
	return events, nil
}
