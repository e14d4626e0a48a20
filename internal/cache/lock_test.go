package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikhilbhutani/esignature/internal/apperr"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	release, err := l.Acquire(ctx, "document:1", time.Minute)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "document:1", time.Minute); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second Acquire err = %v, want ErrConflict", err)
	}
	if _, err := l.Acquire(ctx, "document:2", time.Minute); err != nil {
		t.Fatalf("other key should be free: %v", err)
	}

	release()
	release()
	again, err := l.Acquire(ctx, "document:1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}

func TestLocalLockerExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }

	stale, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("expired lease should be reclaimable: %v", err)
	}

	// Releasing the expired lease must not free the new holder.
	stale()
	if _, err := l.Acquire(ctx, "k", time.Second); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale release freed the new lease")
	}
	fresh()
}
