// Package cache implements the pluggable cache backend the data-source
// layer and strategy parameter loaders use to avoid re-fetching or
// re-computing: an in-memory TTL map and a file-backed JSON store, plus a
// get-or-set facade.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/errs"
)

// Backend is the cache contract both MemoryCache and FileCache satisfy.
type Backend interface {
	// Get returns the cached value and true, or nil and false when the key
	// is missing or expired.
	Get(key string) (any, bool)
	// Set stores value under key. A positive ttl sets an expiry, zero
	// stores without one, and a negative ttl deletes any existing entry
	// instead of storing a value that would expire immediately.
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Clear()
	Exists(key string) bool
}

type memoryEntry struct {
	value     any
	expiresAt time.Time
	hasExpiry bool
}

// MemoryCache is an in-memory TTL cache backed by a mutex-guarded map.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]memoryEntry
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if entry.hasExpiry && !time.Now().Before(entry.expiresAt) {
		delete(c.data, key)
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl > 0 {
		c.data[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl), hasExpiry: true}
		return
	}
	if ttl == 0 {
		c.data[key] = memoryEntry{value: value}
		return
	}
	delete(c.data, key)
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]memoryEntry)
}

func (c *MemoryCache) Exists(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// fileRecord is the on-disk shape of one FileCache entry. Expiry lives
// inside the record, not in the filename.
type fileRecord struct {
	ExpiresAt *int64          `json:"expires_at,omitempty"`
	Value     json.RawMessage `json:"value"`
}

// FileCache is a JSON-file-backed cache keyed by the sha256 hex digest of
// the cache key, one file per entry under dir.
type FileCache struct {
	mu     sync.Mutex
	logger *zap.Logger
	dir    string
}

// NewFileCache creates dir if needed and returns a FileCache rooted there.
func NewFileCache(logger *zap.Logger, dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindData, err, "failed to create cache directory").WithContext("dir", dir)
	}
	return &FileCache{logger: logger, dir: dir}, nil
}

func (c *FileCache) pathForKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, fmt.Sprintf("cache_%s.json", hex.EncodeToString(sum[:])))
}

func (c *FileCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.pathForKey(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var record fileRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		c.logger.Warn("cache record corrupt, dropping", zap.String("path", path), zap.Error(err))
		return nil, false
	}

	if record.ExpiresAt != nil && time.Now().Unix() >= *record.ExpiresAt {
		_ = os.Remove(path)
		return nil, false
	}

	var value any
	if err := json.Unmarshal(record.Value, &value); err != nil {
		return nil, false
	}
	return value, true
}

func (c *FileCache) Set(key string, value any, ttl time.Duration) {
	if ttl < 0 {
		c.Delete(key)
		return
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not JSON-serializable, skipping write", zap.Error(err))
		return
	}

	record := fileRecord{Value: valueJSON}
	if ttl > 0 {
		expires := time.Now().Add(ttl).Unix()
		record.ExpiresAt = &expires
	}

	data, err := json.Marshal(record)
	if err != nil {
		c.logger.Warn("cache record marshal failed, skipping write", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.pathForKey(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn("cache write failed", zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		c.logger.Warn("cache rename failed", zap.String("path", path), zap.Error(err))
	}
}

func (c *FileCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = os.Remove(c.pathForKey(key))
}

func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(c.dir, e.Name()))
	}
}

func (c *FileCache) Exists(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Manager is a get-or-compute facade over a Backend.
type Manager struct {
	backend Backend
}

// NewManager wraps backend in a Manager.
func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// GetOrSet returns the cached value for key, or computes it via factory,
// caches it with ttl, and returns it.
func (m *Manager) GetOrSet(key string, ttl time.Duration, factory func() (any, error)) (any, error) {
	if v, ok := m.backend.Get(key); ok {
		return v, nil
	}

	v, err := factory()
	if err != nil {
		return nil, err
	}
	m.backend.Set(key, v, ttl)
	return v, nil
}

// Key builds a deterministic cache key from prefix and args.
func Key(prefix string, args ...any) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", parts)))
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(sum[:]))
}
