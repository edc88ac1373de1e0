package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goatbytes/consoul/internal/consoulerr"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, SuccessThreshold: 1, CoolDown: 20 * time.Millisecond}, nil)
	b := r.Get("anthropic")
	fail := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail, nil)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after threshold failures, got %v", b.State())
	}

	err := b.Execute(context.Background(), fail, nil)
	if !consoulerr.Is(err, consoulerr.KindCircuitOpen) {
		t.Fatalf("expected KindCircuitOpen, got %v", err)
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, SuccessThreshold: 1, CoolDown: 10 * time.Millisecond}, nil)
	b := r.Get("openai")
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") }, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after successful probe, got %v", b.State())
	}
}

func TestBreakerUserErrorsDoNotCount(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2}, nil)
	b := r.Get("gemini")
	userErr := errors.New("invalid input")
	isUser := func(err error) bool { return err == userErr }

	for i := 0; i < 5; i++ {
		_ = b.Execute(context.Background(), func(ctx context.Context) error { return userErr }, isUser)
	}
	if b.State() != StateClosed {
		t.Fatalf("user errors must never trip the breaker, got %v", b.State())
	}
}

func TestRegistryStates(t *testing.T) {
	r := NewRegistry(Config{}, nil)
	r.Get("anthropic")
	r.Get("openai")
	states := r.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 tracked breakers, got %d", len(states))
	}
}
