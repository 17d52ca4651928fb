package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type instance struct {
	key    Key
	closed atomic.Bool
}

func newTestRegistry(created *atomic.Int32, delay time.Duration) *Registry[*instance] {
	return New(func(_ context.Context, key Key) (*instance, error) {
		created.Add(1)
		time.Sleep(delay)
		return &instance{key: key}, nil
	}, func(i *instance) {
		i.closed.Store(true)
	})
}

func TestAcquireSharesOneInstancePerKey(t *testing.T) {
	var created atomic.Int32
	r := newTestRegistry(&created, 10*time.Millisecond)
	key := Key{Server: "http://tracker", Password: "pw"}

	var wg sync.WaitGroup
	got := make([]*instance, 8)
	releases := make([]func(), 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, release, err := r.Acquire(context.Background(), key)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			got[i], releases[i] = inst, release
		}(i)
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Fatalf("created %d instances, want 1", created.Load())
	}
	for _, inst := range got[1:] {
		if inst != got[0] {
			t.Fatal("callers got different instances")
		}
	}

	for _, release := range releases[:7] {
		release()
	}
	if got[0].closed.Load() {
		t.Fatal("closed while still referenced")
	}
	releases[7]()
	releases[7]()
	if !got[0].closed.Load() {
		t.Fatal("not closed after last release")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d", r.Len())
	}

	again, release, err := r.Acquire(context.Background(), key)
	if err != nil || again == got[0] {
		t.Fatalf("reacquire: %v (same=%v)", err, again == got[0])
	}
	release()
}

func TestDifferentCredentialsGetDifferentInstances(t *testing.T) {
	var created atomic.Int32
	r := newTestRegistry(&created, 0)

	a, _, _ := r.Acquire(context.Background(), Key{Server: "s", Password: "one"})
	b, _, _ := r.Acquire(context.Background(), Key{Server: "s", Password: "two"})
	if a == b || created.Load() != 2 {
		t.Errorf("credentials shared an instance")
	}
}

func TestCreateErrorIsNotCached(t *testing.T) {
	var calls atomic.Int32
	r := New(func(context.Context, Key) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("boom")
		}
		return 42, nil
	}, nil)

	if _, _, err := r.Acquire(context.Background(), Key{}); err == nil {
		t.Fatal("expected error")
	}
	v, release, err := r.Acquire(context.Background(), Key{})
	if err != nil || v != 42 {
		t.Fatalf("retry = %d, %v", v, err)
	}
	release()
}

func TestCloseTearsDownEverything(t *testing.T) {
	var created atomic.Int32
	r := newTestRegistry(&created, 0)

	inst, release, _ := r.Acquire(context.Background(), Key{Server: "s"})
	r.Close()
	r.Close()
	if !inst.closed.Load() {
		t.Error("instance not closed by Close")
	}
	release()

	if _, _, err := r.Acquire(context.Background(), Key{Server: "s"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close err = %v", err)
	}
}
