package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/goatbytes/consoul/internal/models"
)

type flakyStore struct {
	Store
	failSave bool
}

func (f *flakyStore) Save(ctx context.Context, s *models.Session) error {
	if f.failSave {
		return errors.New("primary unavailable")
	}
	return f.Store.Save(ctx, s)
}

type recordingObserver struct {
	degraded, recovered int
}

func (o *recordingObserver) OnDegraded()  { o.degraded++ }
func (o *recordingObserver) OnRecovered() { o.recovered++ }

func TestResilientStoreDegradesAndRecovers(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{Store: NewMemoryStore(0)}
	fallback := NewMemoryStore(0)
	obs := &recordingObserver{}
	rs := NewResilientStore(primary, fallback, 0, obs)

	primary.failSave = true
	s := newTestSession("s1")
	if err := rs.Save(ctx, s); err != nil {
		t.Fatalf("expected fallback save to succeed, got %v", err)
	}
	if rs.Mode() != ModeDegraded {
		t.Fatalf("expected degraded mode, got %v", rs.Mode())
	}
	if obs.degraded != 1 {
		t.Fatalf("expected one OnDegraded call, got %d", obs.degraded)
	}

	loaded, err := fallback.Load(ctx, "s1")
	if err != nil || loaded == nil {
		t.Fatalf("expected session persisted to fallback, got %v, %v", loaded, err)
	}

	primary.failSave = false
	if err := rs.Save(ctx, newTestSession("s2")); err != nil {
		t.Fatalf("recovery save: %v", err)
	}
	if rs.Mode() != ModeRedis {
		t.Fatalf("expected recovered mode, got %v", rs.Mode())
	}
	if obs.recovered != 1 {
		t.Fatalf("expected one OnRecovered call, got %d", obs.recovered)
	}
}

func TestResilientStoreFailsFastWithoutFallback(t *testing.T) {
	ctx := context.Background()
	primary := &flakyStore{Store: NewMemoryStore(0), failSave: true}
	rs := NewResilientStore(primary, nil, 0, nil)
	if err := rs.Save(ctx, newTestSession("s1")); err == nil {
		t.Fatalf("expected error when fallback disabled")
	}
}
