package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		m := NewMemory()
		defer m.Close()

		m.Set(ctx, "injuries", []byte(`{"v":1}`), time.Minute)
		got, ok := m.Get(ctx, "injuries")
		if !ok {
			t.Fatal("expected hit")
		}
		if string(got) != `{"v":1}` {
			t.Errorf("unexpected value: %s", got)
		}
	})

	t.Run("miss on unknown key", func(t *testing.T) {
		m := NewMemory()
		defer m.Close()

		if _, ok := m.Get(ctx, "nope"); ok {
			t.Error("expected miss")
		}
	})

	t.Run("entries expire", func(t *testing.T) {
		m := NewMemory()
		defer m.Close()

		m.Set(ctx, "short", []byte("x"), 10*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		if _, ok := m.Get(ctx, "short"); ok {
			t.Error("expected entry to expire")
		}
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		m := NewMemory()
		defer m.Close()

		m.Set(ctx, "forever", []byte("x"), 0)
		time.Sleep(20 * time.Millisecond)
		if _, ok := m.Get(ctx, "forever"); !ok {
			t.Error("expected entry to survive")
		}
	})

	t.Run("delete", func(t *testing.T) {
		m := NewMemory()
		defer m.Close()

		m.Set(ctx, "k", []byte("v"), time.Minute)
		m.Delete(ctx, "k")
		if _, ok := m.Get(ctx, "k"); ok {
			t.Error("expected miss after delete")
		}
	})

	t.Run("stored value is a copy", func(t *testing.T) {
		m := NewMemory()
		defer m.Close()

		buf := []byte("original")
		m.Set(ctx, "k", buf, time.Minute)
		buf[0] = 'X'
		got, _ := m.Get(ctx, "k")
		if string(got) != "original" {
			t.Errorf("expected stored copy, got %s", got)
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		m := NewMemory()
		defer m.Close()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				key := string(rune('a' + n%10))
				m.Set(ctx, key, []byte("v"), time.Minute)
				m.Get(ctx, key)
				if n%5 == 0 {
					m.Delete(ctx, key)
				}
			}(i)
		}
		wg.Wait()
	})
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewRedisFromClient(client, nil)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		_, c := newTestRedis(t)

		c.Set(ctx, "demographics", []byte("payload"), time.Minute)
		got, ok := c.Get(ctx, "demographics")
		if !ok {
			t.Fatal("expected hit")
		}
		if string(got) != "payload" {
			t.Errorf("unexpected value: %s", got)
		}
	})

	t.Run("miss on unknown key", func(t *testing.T) {
		_, c := newTestRedis(t)

		if _, ok := c.Get(ctx, "nope"); ok {
			t.Error("expected miss")
		}
	})

	t.Run("ttl enforced", func(t *testing.T) {
		mr, c := newTestRedis(t)

		c.Set(ctx, "short", []byte("x"), time.Second)
		mr.FastForward(2 * time.Second)
		if _, ok := c.Get(ctx, "short"); ok {
			t.Error("expected entry to expire")
		}
	})

	t.Run("delete", func(t *testing.T) {
		_, c := newTestRedis(t)

		c.Set(ctx, "k", []byte("v"), time.Minute)
		c.Delete(ctx, "k")
		if _, ok := c.Get(ctx, "k"); ok {
			t.Error("expected miss after delete")
		}
	})

	t.Run("backend outage degrades to miss", func(t *testing.T) {
		mr, c := newTestRedis(t)
		mr.Close()

		if _, ok := c.Get(ctx, "k"); ok {
			t.Error("expected miss when backend is down")
		}
		// Must not panic or surface an error.
		c.Set(ctx, "k", []byte("v"), time.Minute)
		c.Delete(ctx, "k")
	})
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}

	c.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected noop cache to always miss")
	}
	c.Delete(ctx, "k")
}
