package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func testCache(t *testing.T, c Cache) {
	ctx := context.Background()

	t.Run("Miss", func(t *testing.T) {
		if _, err := c.Get(ctx, "absent"); !errors.Is(err, ErrMiss) {
			t.Errorf("Expected ErrMiss, got %v", err)
		}
	})

	t.Run("SetGet", func(t *testing.T) {
		if err := c.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := c.Get(ctx, "k")
		if err != nil || string(got) != "v1" {
			t.Errorf("Expected v1, got %q (%v)", got, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "gone", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := c.Get(ctx, "gone"); !errors.Is(err, ErrMiss) {
			t.Errorf("Expected ErrMiss after delete, got %v", err)
		}
	})
}

func TestMemory(t *testing.T) {
	testCache(t, NewMemory())

	t.Run("Expiry", func(t *testing.T) {
		m := NewMemory()
		now := time.Now()
		m.now = func() time.Time { return now }
		_ = m.Set(context.Background(), "k", []byte("v"), time.Second)

		now = now.Add(2 * time.Second)
		if _, err := m.Get(context.Background(), "k"); !errors.Is(err, ErrMiss) {
			t.Errorf("Expected expired key to miss, got %v", err)
		}
	})

	t.Run("ReturnsCopy", func(t *testing.T) {
		m := NewMemory()
		v := []byte("abc")
		_ = m.Set(context.Background(), "k", v, 0)
		v[0] = 'x'
		got, _ := m.Get(context.Background(), "k")
		if string(got) != "abc" {
			t.Errorf("Expected stored copy abc, got %s", got)
		}
	})
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("CASINO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis tests (CASINO_TEST_REDIS_ADDR not set)")
	}
	r := NewRedis(addr, "", 0, "casino-test:")
	defer r.Close()
	if err := r.Ping(context.Background()); err != nil {
		t.Fatalf("Redis unreachable: %v", err)
	}
	testCache(t, r)
}
