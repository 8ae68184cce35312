package cache_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/cache"
)

func TestMemoryCacheGetSetDelete(t *testing.T) {
	c := cache.NewMemoryCache()

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("a", 42, 0)
	v, ok := c.Get("a")
	if !ok || v != 42 {
		t.Fatalf("expected hit with value 42, got %v, %v", v, ok)
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	c := cache.NewMemoryCache()
	c.Set("a", "value", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestMemoryCacheNegativeTTLDeletes(t *testing.T) {
	c := cache.NewMemoryCache()
	c.Set("a", "value", 0)
	c.Set("a", "value", -time.Second)
	if c.Exists("a") {
		t.Fatal("expected negative ttl to delete the entry")
	}
}

func TestFileCacheRoundTrip(t *testing.T) {
	fc, err := cache.NewFileCache(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	fc.Set("symbol:CB001", map[string]any{"close": 100.5}, 0)
	v, ok := fc.Get("symbol:CB001")
	if !ok {
		t.Fatal("expected hit after set")
	}
	m, ok := v.(map[string]any)
	if !ok || m["close"] != 100.5 {
		t.Fatalf("unexpected cached value: %v", v)
	}
}

func TestFileCacheExpiry(t *testing.T) {
	fc, err := cache.NewFileCache(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	fc.Set("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := fc.Get("k"); ok {
		t.Fatal("expected expired file entry to miss")
	}
}

func TestFileCacheClearRemovesEntries(t *testing.T) {
	dir := t.TempDir()
	fc, err := cache.NewFileCache(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	fc.Set("a", 1, 0)
	fc.Set("b", 2, 0)
	fc.Clear()

	if fc.Exists("a") || fc.Exists("b") {
		t.Fatal("expected Clear to remove every entry")
	}
}

func TestFileCacheKeysAreContentAddressed(t *testing.T) {
	dir := t.TempDir()
	fc, err := cache.NewFileCache(zap.NewNop(), dir)
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	fc.Set("distinct-key", "value", 0)

	matches, err := filepath.Glob(filepath.Join(dir, "cache_*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one content-addressed cache file, got %d", len(matches))
	}
}

func TestManagerGetOrSetCachesFactoryResult(t *testing.T) {
	c := cache.NewMemoryCache()
	m := cache.NewManager(c)

	calls := 0
	factory := func() (any, error) {
		calls++
		return "computed", nil
	}

	v1, err := m.GetOrSet("k", time.Minute, factory)
	if err != nil {
		t.Fatalf("GetOrSet: %v", err)
	}
	v2, err := m.GetOrSet("k", time.Minute, factory)
	if err != nil {
		t.Fatalf("GetOrSet: %v", err)
	}

	if v1 != "computed" || v2 != "computed" {
		t.Fatalf("expected both calls to return computed value, got %v, %v", v1, v2)
	}
	if calls != 1 {
		t.Fatalf("expected factory to run once, ran %d times", calls)
	}
}

func TestManagerGetOrSetPropagatesFactoryError(t *testing.T) {
	c := cache.NewMemoryCache()
	m := cache.NewManager(c)

	wantErr := errors.New("boom")
	_, err := m.GetOrSet("k", time.Minute, func() (any, error) { return nil, wantErr })
	if err != wantErr {
		t.Fatalf("expected factory error to propagate, got %v", err)
	}
}

func TestKeyIsDeterministic(t *testing.T) {
	a := cache.Key("bars", "CB001", "2024-01-02")
	b := cache.Key("bars", "CB001", "2024-01-02")
	if a != b {
		t.Fatalf("expected identical keys for identical args, got %q vs %q", a, b)
	}

	c := cache.Key("bars", "CB002", "2024-01-02")
	if a == c {
		t.Fatal("expected different args to produce different keys")
	}
}
