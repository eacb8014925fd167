package testutil

import (
	"errors"
	"sync"

	"github.com/balaan/admindash/pkg/cache"
)

// ErrStorage is returned by a MockStorage switched to failing mode.
var ErrStorage = errors.New("storage unavailable")

// MockStorage wraps an in-memory cache.Storage whose reads and writes can be
// made to fail independently.
type MockStorage struct {
	*cache.MemoryStorage

	mu        sync.Mutex
	failReads bool
	failWrite bool
	writes    int
}

// NewMockStorage creates a working MockStorage.
func NewMockStorage() *MockStorage {
	return &MockStorage{MemoryStorage: cache.NewMemoryStorage(0)}
}

// FailReads toggles read failures.
func (m *MockStorage) FailReads(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failReads = fail
}

// FailWrites toggles write failures.
func (m *MockStorage) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = fail
}

// Writes returns the number of attempted writes.
func (m *MockStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// GetItem implements cache.Storage.
func (m *MockStorage) GetItem(key string) (string, bool, error) {
	m.mu.Lock()
	fail := m.failReads
	m.mu.Unlock()
	if fail {
		return "", false, ErrStorage
	}
	return m.MemoryStorage.GetItem(key)
}

// SetItem implements cache.Storage.
func (m *MockStorage) SetItem(key, value string) error {
	m.mu.Lock()
	m.writes++
	fail := m.failWrite
	m.mu.Unlock()
	if fail {
		return ErrStorage
	}
	return m.MemoryStorage.SetItem(key, value)
}
