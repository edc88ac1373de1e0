package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerSerializesSameSession(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Close()

	var counter int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock(context.Background(), "s1", time.Second, func() error {
				n := atomic.AddInt32(&counter, 1)
				for {
					cur := atomic.LoadInt32(&maxObserved)
					if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&counter, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxObserved != 1 {
		t.Fatalf("expected at most 1 concurrent holder for the same session, observed %d", maxObserved)
	}
}

func TestManagerParallelAcrossSessions(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Close()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			_ = m.WithLock(context.Background(), id, time.Second, func() error {
				time.Sleep(50 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("expected distinct sessions to run in parallel, took %v", time.Since(start))
	}
}

func TestManagerTimeout(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Close()

	release, err := m.Acquire(context.Background(), "s1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = m.Acquire(context.Background(), "s1", 10*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestManagerContextCancel(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Close()

	release, err := m.Acquire(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = m.Acquire(ctx, "s1", 0)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
