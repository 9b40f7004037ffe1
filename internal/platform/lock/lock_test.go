package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, ttl, zerolog.Nop()), mr
}

func TestRedisLocker_TryLockAndUnlock(t *testing.T) {
	l, mr := newRedisLocker(t, time.Minute)
	ctx := context.Background()

	ok, token, err := l.TryLock(ctx, "patient-1")
	if err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}
	if got, _ := mr.Get("elisfeed:lock:patient-1"); got != token {
		t.Errorf("expected stored token %s, got %s", token, got)
	}

	ok, _, err = l.TryLock(ctx, "patient-1")
	if err != nil || ok {
		t.Fatalf("expected second lock to fail, got ok=%v err=%v", ok, err)
	}

	if err := l.Unlock(ctx, "patient-1", "someone-else"); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if !mr.Exists("elisfeed:lock:patient-1") {
		t.Error("a foreign token must not release the lock")
	}

	if err := l.Unlock(ctx, "patient-1", token); err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if mr.Exists("elisfeed:lock:patient-1") {
		t.Error("expected the lock to be released")
	}
}

func TestRedisLocker_AcquireWaits(t *testing.T) {
	l, _ := newRedisLocker(t, time.Minute)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "patient-1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r, err := l.Acquire(ctx, "patient-1")
		if err != nil {
			t.Errorf("second Acquire() error: %v", err)
			return
		}
		r()
	}()

	select {
	case <-done:
		t.Fatal("second acquire must wait for release")
	case <-time.After(100 * time.Millisecond):
	}
	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestRedisLocker_AcquireTimeout(t *testing.T) {
	l, _ := newRedisLocker(t, time.Minute)
	release, err := l.Acquire(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "patient-1"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}
}

func TestRedisLocker_Expiry(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second)
	ctx := context.Background()
	if ok, _, _ := l.TryLock(ctx, "patient-1"); !ok {
		t.Fatal("expected lock")
	}
	mr.FastForward(2 * time.Second)
	if ok, _, _ := l.TryLock(ctx, "patient-1"); !ok {
		t.Error("expected lock to be free after expiry")
	}
}

func TestRedisLocker_ExtendsHeldLock(t *testing.T) {
	l, mr := newRedisLocker(t, 300*time.Millisecond)
	const key = "elisfeed:lock:patient-1"

	release, err := l.Acquire(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	// Simulate the lock nearly running out while work continues.
	mr.SetTTL(key, 10*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL(key) <= 10*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatal("expected the held lock to be extended")
		}
		time.Sleep(20 * time.Millisecond)
	}

	release()
	if mr.Exists(key) {
		t.Error("expected the lock to be released")
	}
	release()
}

func TestRedisLocker_ExtendForeignToken(t *testing.T) {
	l, _ := newRedisLocker(t, time.Minute)
	ctx := context.Background()
	if ok, _, _ := l.TryLock(ctx, "patient-1"); !ok {
		t.Fatal("expected lock")
	}
	ok, err := l.Extend(ctx, "patient-1", "someone-else")
	if err != nil {
		t.Fatalf("Extend() error: %v", err)
	}
	if ok {
		t.Error("a foreign token must not extend the lock")
	}
}

func TestRedisLocker_Unavailable(t *testing.T) {
	l, mr := newRedisLocker(t, time.Minute)
	mr.Close()
	if _, err := l.Acquire(context.Background(), "patient-1"); err == nil {
		t.Error("expected error when redis is down")
	}
}

func TestLocalLocker_Serialises(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "patient-1")
			if err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("expected at most one holder, got %d", maxActive)
	}
}

func TestLocalLocker_IndependentKeysAndCancel(t *testing.T) {
	l := NewLocalLocker()
	release, _ := l.Acquire(context.Background(), "a")
	defer release()

	other, err := l.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("expected independent key to be free: %v", err)
	}
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "a"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("expected ErrNotAcquired, got %v", err)
	}

	release()
	release()
}
