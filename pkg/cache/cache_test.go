package cache

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestCache(t *testing.T) (*Cache, *MemoryStorage, *clockwork.FakeClock) {
	t.Helper()
	storage := NewMemoryStorage(0)
	clock := clockwork.NewFakeClock()
	c := New(Config{Storage: storage, Clock: clock})
	return c, storage, clock
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{})

	if c.prefix != DefaultPrefix {
		t.Errorf("expected prefix %q, got %q", DefaultPrefix, c.prefix)
	}
	if c.defaultTTL != DefaultTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultTTL, c.defaultTTL)
	}
	if c.storage == nil || c.clock == nil {
		t.Fatal("expected storage and clock to be initialized")
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c, _, _ := newTestCache(t)

	c.Set("key1", map[string]int{"count": 3}, time.Minute)

	var got map[string]int
	if !c.Lookup("key1", &got) {
		t.Fatal("expected to find key1")
	}
	if got["count"] != 3 {
		t.Errorf("expected count 3, got %v", got)
	}

	if _, found := c.Get("nonexistent"); found {
		t.Error("expected nonexistent key to miss")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
	}{
		{name: "one millisecond", ttl: time.Millisecond},
		{name: "kyc ttl", ttl: TTLKYC},
		{name: "page ttl", ttl: TTLPage},
		{name: "default ttl", ttl: DefaultTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, clock := newTestCache(t)

			c.Set("key", "v", tt.ttl)
			var got string
			if !c.Lookup("key", &got) || got != "v" {
				t.Fatalf("expected immediate hit with v, got %q", got)
			}

			clock.Advance(tt.ttl - time.Millisecond)
			if _, found := c.Get("key"); !found && tt.ttl > time.Millisecond {
				t.Fatal("expected hit just before expiry")
			}

			clock.Advance(time.Millisecond)
			if _, found := c.Get("key"); found {
				t.Fatal("expected miss once ttl has elapsed")
			}
			if slices.Contains(c.Keys(), "key") {
				t.Error("expected expired key to be evicted from storage")
			}
		})
	}
}

func TestCache_NonPositiveTTLUsesDefault(t *testing.T) {
	c, _, clock := newTestCache(t)

	c.Set("key", 1, 0)
	clock.Advance(DefaultTTL - time.Second)
	if _, found := c.Get("key"); !found {
		t.Fatal("expected entry to live for the default TTL")
	}
	clock.Advance(time.Second)
	if _, found := c.Get("key"); found {
		t.Fatal("expected entry to expire after the default TTL")
	}
}

func TestCache_SetDefault(t *testing.T) {
	storage := NewMemoryStorage(0)
	clock := clockwork.NewFakeClock()
	c := New(Config{Storage: storage, Clock: clock, DefaultTTL: 10 * time.Second})

	c.SetDefault("key", "v")
	clock.Advance(10 * time.Second)
	if _, found := c.Get("key"); found {
		t.Error("expected SetDefault to use the configured default TTL")
	}
}

func TestCache_InvalidatePattern(t *testing.T) {
	c, _, _ := newTestCache(t)

	c.Set("a_1", 1, time.Minute)
	c.Set("a_2", 2, time.Minute)
	c.Set("b_1", 3, time.Minute)

	c.InvalidatePattern("a")

	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "b_1" {
		t.Errorf("expected only b_1 to remain, got %v", keys)
	}
}

func TestCache_PatternIgnoresPrefix(t *testing.T) {
	c, _, _ := newTestCache(t)

	c.Set("users_page_1", 1, time.Minute)
	// "admin" occurs in the namespace prefix but not in the key.
	c.InvalidatePattern("admin")

	if _, found := c.Get("users_page_1"); !found {
		t.Error("expected pattern to match against un-prefixed keys only")
	}
}

func TestCache_DeleteIsIdempotent(t *testing.T) {
	c, _, _ := newTestCache(t)

	c.Set("key", 1, time.Minute)
	c.Delete("key")
	c.Delete("key")

	if _, found := c.Get("key"); found {
		t.Error("expected key to be deleted")
	}
}

func TestCache_ClearKeepsForeignKeys(t *testing.T) {
	c, storage, _ := newTestCache(t)

	if err := storage.SetItem("theme", "dark"); err != nil {
		t.Fatalf("failed to seed storage: %v", err)
	}
	c.Set("k1", 1, time.Minute)
	c.Set("k2", 2, time.Minute)

	c.Init()

	if len(c.Keys()) != 0 {
		t.Errorf("expected namespace to be empty, got %v", c.Keys())
	}
	if v, ok, _ := storage.GetItem("theme"); !ok || v != "dark" {
		t.Error("expected keys outside the namespace to survive Clear")
	}
}

func TestCache_CorruptEntry(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "this is not json{"},
		{name: "missing data", payload: `{"timestamp":1,"ttl":1000}`},
		{name: "zero ttl", payload: `{"data":1,"timestamp":1,"ttl":0}`},
		{name: "wrong shape", payload: `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, storage, _ := newTestCache(t)
			if err := storage.SetItem(DefaultPrefix+"key", tt.payload); err != nil {
				t.Fatalf("failed to seed storage: %v", err)
			}

			if _, found := c.Get("key"); found {
				t.Fatal("expected corrupt entry to miss")
			}
			if _, ok, _ := storage.GetItem(DefaultPrefix + "key"); ok {
				t.Error("expected corrupt entry to be evicted")
			}
		})
	}
}

func TestCache_LookupTypeMismatchEvicts(t *testing.T) {
	c, _, _ := newTestCache(t)

	c.Set("key", "a string", time.Minute)
	var n int
	if c.Lookup("key", &n) {
		t.Fatal("expected type mismatch to miss")
	}
	if _, found := c.Get("key"); found {
		t.Error("expected mismatched entry to be evicted")
	}
}

func TestCache_QuotaExceededIsSilent(t *testing.T) {
	storage := NewMemoryStorage(64)
	c := New(Config{Storage: storage, Clock: clockwork.NewFakeClock()})

	c.Set("big", string(make([]byte, 256)), time.Minute)

	if _, found := c.Get("big"); found {
		t.Error("expected failed write to leave no entry")
	}
}

func TestCache_FailedOverwriteDropsOldValue(t *testing.T) {
	storage := NewMemoryStorage(160)
	c := New(Config{Storage: storage, Clock: clockwork.NewFakeClock()})

	c.Set("key", "small", time.Minute)
	if _, found := c.Get("key"); !found {
		t.Fatal("expected small value to fit")
	}

	c.Set("key", string(make([]byte, 512)), time.Minute)
	if _, found := c.Get("key"); found {
		t.Error("expected stale value to be dropped after a failed overwrite")
	}
}

func TestCache_UnserializableValue(t *testing.T) {
	c, _, _ := newTestCache(t)

	c.Set("fn", func() {}, time.Minute)
	if _, found := c.Get("fn"); found {
		t.Error("expected unserializable value not to be cached")
	}
}

type failingStorage struct{ MemoryStorage }

var errBroken = errors.New("storage broken")

func (*failingStorage) GetItem(string) (string, bool, error) { return "", false, errBroken }
func (*failingStorage) SetItem(string, string) error        { return errBroken }
func (*failingStorage) RemoveItem(string) error             { return errBroken }
func (*failingStorage) Keys() ([]string, error)             { return nil, errBroken }

func TestCache_BrokenStorageAlwaysMisses(t *testing.T) {
	c := New(Config{Storage: &failingStorage{}, Clock: clockwork.NewFakeClock()})

	c.Set("key", 1, time.Minute)
	if _, found := c.Get("key"); found {
		t.Error("expected miss from broken storage")
	}
	c.Delete("key")
	c.Clear()
	c.InvalidatePattern("k")
	if keys := c.Keys(); keys != nil {
		t.Errorf("expected no keys, got %v", keys)
	}
}

func TestCache_InvalidationFamilies(t *testing.T) {
	tests := []struct {
		name   string
		invoke func(*Cache)
		remain []string
	}{
		{
			name:   "salon update",
			invoke: (*Cache).OnSalonUpdate,
			remain: []string{"users_page_1"},
		},
		{
			name:   "kyc update",
			invoke: (*Cache).OnKYCUpdate,
			remain: []string{"salons_page_1", "users_page_1"},
		},
		{
			name:   "user update",
			invoke: (*Cache).OnUserUpdate,
			remain: []string{"kyc_data", "salons_page_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestCache(t)
			for _, k := range []string{"dashboard_stats", "kyc_data", "salons_page_1", "users_page_1"} {
				c.Set(k, 1, time.Minute)
			}

			tt.invoke(c)

			got := c.Keys()
			slices.Sort(got)
			if !slices.Equal(got, tt.remain) {
				t.Errorf("expected %v to remain, got %v", tt.remain, got)
			}
		})
	}
}

func TestCache_Teardown(t *testing.T) {
	c, _, _ := newTestCache(t)
	c.Set("key", 1, time.Minute)

	if err := c.Teardown(); err != nil {
		t.Fatalf("unexpected teardown error: %v", err)
	}
	if len(c.Keys()) != 0 {
		t.Error("expected teardown to clear the namespace")
	}
}
