package cache

import (
	"errors"
	"sort"
	"sync"
)

// ErrQuotaExceeded is returned by storages that refuse a write for lack of space.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is a synchronous string key/value store. Keys are stored as given;
// namespacing is the cache's job.
type Storage interface {
	// GetItem returns (value, true, nil) on hit and ("", false, nil) on miss.
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	// RemoveItem removes key. Removing an absent key is not an error.
	RemoveItem(key string) error
	Keys() ([]string, error)
	Close() error
}

// MemoryStorage keeps items in a map, optionally bounded by a byte quota.
type MemoryStorage struct {
	items map[string]string
	mu    sync.RWMutex
	quota int
	used  int
}

// NewMemoryStorage creates a memory storage. A quota of zero means unbounded;
// otherwise writes that would exceed quota bytes (keys plus values) fail.
func NewMemoryStorage(quota int) *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]string),
		quota: quota,
	}
}

// GetItem implements Storage.
func (s *MemoryStorage) GetItem(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

// SetItem implements Storage.
func (s *MemoryStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used + len(key) + len(value)
	if old, ok := s.items[key]; ok {
		used -= len(key) + len(old)
	}
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}
	s.items[key] = value
	s.used = used
	return nil
}

// RemoveItem implements Storage.
func (s *MemoryStorage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.items[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.items, key)
	}
	return nil
}

// Keys implements Storage. Keys are returned sorted.
func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Storage.
func (*MemoryStorage) Close() error { return nil }
