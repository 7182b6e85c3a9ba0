package store

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-participant/internal/config"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb)
}

func TestSessionStores(t *testing.T) {
	stores := map[string]func(t *testing.T) SessionStore{
		"memory": func(t *testing.T) SessionStore { return NewMemoryStore() },
		"redis":  func(t *testing.T) SessionStore { return newRedisStore(t) },
	}

	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			t.Run("GetMissing", func(t *testing.T) {
				if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
			})

			t.Run("SetGetDelete", func(t *testing.T) {
				if err := s.Set(ctx, "k1", []byte("v1")); err != nil {
					t.Fatalf("set: %v", err)
				}
				got, err := s.Get(ctx, "k1")
				if err != nil || string(got) != "v1" {
					t.Fatalf("get = %q, %v", got, err)
				}
				if err := s.Delete(ctx, "k1"); err != nil {
					t.Fatalf("delete: %v", err)
				}
				if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected ErrNotFound after delete, got %v", err)
				}
			})

			t.Run("DeletePrefixOnlyTouchesScope", func(t *testing.T) {
				keys := config.CacheKey
				scoped := []string{
					keys.ProgressKey("p1", "e1"),
					keys.QuestionOrderKey("p1", "e1"),
					keys.OptionOrderKey("p1", "e1", "q1"),
					keys.OptionOrderKey("p1", "e1", "q2"),
				}
				others := []string{
					keys.ProgressKey("p1", "e10"),
					keys.ProgressKey("p2", "e1"),
					keys.LoginKey(),
				}
				for _, k := range append(append([]string{}, scoped...), others...) {
					if err := s.Set(ctx, k, []byte("x")); err != nil {
						t.Fatalf("set %s: %v", k, err)
					}
				}

				n, err := s.DeletePrefix(ctx, keys.SessionScopePrefix("p1", "e1"))
				if err != nil {
					t.Fatalf("delete prefix: %v", err)
				}
				if n != len(scoped) {
					t.Errorf("deleted %d keys, want %d", n, len(scoped))
				}
				for _, k := range scoped {
					if _, err := s.Get(ctx, k); !errors.Is(err, ErrNotFound) {
						t.Errorf("%s still present", k)
					}
				}
				for _, k := range others {
					if _, err := s.Get(ctx, k); err != nil {
						t.Errorf("%s should survive: %v", k, err)
					}
				}
			})

			t.Run("JSONHelpers", func(t *testing.T) {
				in := []string{"b", "a"}
				if err := SetJSON(ctx, s, "order", in); err != nil {
					t.Fatalf("set json: %v", err)
				}
				var out []string
				if err := GetJSON(ctx, s, "order", &out); err != nil {
					t.Fatalf("get json: %v", err)
				}
				if len(out) != 2 || out[0] != "b" || out[1] != "a" {
					t.Errorf("got %v", out)
				}
			})
		})
	}
}

func TestMemoryStoreKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "b", nil)
	_ = s.Set(ctx, "a", nil)

	keys := s.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v", keys)
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("participant:a*b?:exam:[x]:"); got != `participant:a\*b\?:exam:\[x\]:` {
		t.Errorf("escapeGlob = %q", got)
	}
}
