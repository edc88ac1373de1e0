package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/goatbytes/consoul/internal/consoulerr"
	"github.com/goatbytes/consoul/internal/models"
)

// Mode is the ResilientStore's current backend.
type Mode string

const (
	ModeRedis    Mode = "redis"
	ModeMemory   Mode = "memory"
	ModeDegraded Mode = "degraded"
)

// Observer receives ResilientStore mode-change notifications, used to
// drive the consoul_redis_degraded gauge and consoul_redis_recovered_total
// counter without this package importing the metrics package directly.
type Observer interface {
	OnDegraded()
	OnRecovered()
}

type noopObserver struct{}

func (noopObserver) OnDegraded()  {}
func (noopObserver) OnRecovered() {}

// ResilientStore wraps a primary (normally Redis) and an optional
// in-memory fallback, switching between them the way a circuit breaker
// switches states: on failure, degrade; retry recovery no more often
// than every reconnectInterval.
type ResilientStore struct {
	primary  Store
	fallback Store // nil means fallback disabled
	observer Observer

	reconnectInterval time.Duration

	mu           sync.Mutex
	mode         Mode
	lastAttempt  time.Time
}

// NewResilientStore builds a ResilientStore. fallback may be nil, in which
// case primary failures fail fast instead of degrading.
func NewResilientStore(primary Store, fallback Store, reconnectInterval time.Duration, observer Observer) *ResilientStore {
	if observer == nil {
		observer = noopObserver{}
	}
	mode := ModeRedis
	if primary == nil {
		mode = ModeMemory
	}
	return &ResilientStore{
		primary:           primary,
		fallback:          fallback,
		observer:          observer,
		reconnectInterval: reconnectInterval,
		mode:              mode,
	}
}

// Mode reports the current backend.
func (r *ResilientStore) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *ResilientStore) active() (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case ModeMemory:
		return r.primary, nil
	case ModeDegraded:
		if r.fallback == nil {
			return nil, consoulerr.New(consoulerr.KindStorage, "primary storage unavailable and fallback disabled")
		}
		if time.Since(r.lastAttempt) >= r.reconnectInterval {
			r.lastAttempt = time.Now()
			return r.primary, nil // caller probes primary; degrade() re-enters on failure
		}
		return r.fallback, nil
	default: // ModeRedis
		return r.primary, nil
	}
}

func (r *ResilientStore) degrade() {
	r.mu.Lock()
	wasDegraded := r.mode == ModeDegraded
	r.mode = ModeDegraded
	r.lastAttempt = time.Now()
	r.mu.Unlock()
	if !wasDegraded {
		r.observer.OnDegraded()
	}
}

func (r *ResilientStore) recover() {
	r.mu.Lock()
	wasDegraded := r.mode == ModeDegraded
	r.mode = ModeRedis
	r.mu.Unlock()
	if wasDegraded {
		r.observer.OnRecovered()
	}
}

// run executes op against the active backend, degrading to the fallback
// (or failing fast if none) on error from the primary, and recovering on
// the next successful primary call.
func (r *ResilientStore) run(ctx context.Context, op func(Store) error) error {
	if r.mode == ModeMemory {
		return op(r.primary)
	}

	store, err := r.active()
	if err != nil {
		return err
	}
	if store == r.primary {
		if err := op(store); err != nil {
			r.degrade()
			if r.fallback == nil {
				return consoulerr.Wrap(consoulerr.KindStorage, "primary storage failed", err)
			}
			return op(r.fallback)
		}
		r.recover()
		return nil
	}
	return op(store)
}

func (r *ResilientStore) Save(ctx context.Context, state *models.Session) error {
	return r.run(ctx, func(s Store) error { return s.Save(ctx, state) })
}

func (r *ResilientStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	var out *models.Session
	err := r.run(ctx, func(s Store) error {
		v, err := s.Load(ctx, sessionID)
		out = v
		return err
	})
	return out, err
}

func (r *ResilientStore) Delete(ctx context.Context, sessionID string) error {
	return r.run(ctx, func(s Store) error { return s.Delete(ctx, sessionID) })
}

func (r *ResilientStore) List(ctx context.Context, namespace string, limit, offset int) ([]string, error) {
	var out []string
	err := r.run(ctx, func(s Store) error {
		v, err := s.List(ctx, namespace, limit, offset)
		out = v
		return err
	})
	return out, err
}
