package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// cacheDirPerms is the permission for cache directories.
	cacheDirPerms = 0o700
	// cacheFilePerms is the permission for cache files.
	cacheFilePerms = 0o600
)

// diskItem is one storage item on disk. The key is kept alongside the value
// because filenames are hashes.
type diskItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DiskStorage persists each item as a JSON file in a directory.
type DiskStorage struct {
	dir string
}

// NewDiskStorage creates a disk storage rooted at dir, which must be absolute.
func NewDiskStorage(dir string) (*DiskStorage, error) {
	cleanPath := filepath.Clean(dir)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("cache directory must be absolute path")
	}
	if err := os.MkdirAll(cleanPath, cacheDirPerms); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &DiskStorage{dir: cleanPath}, nil
}

// path returns the file for key.
func (s *DiskStorage) path(key string) string {
	return filepath.Join(s.dir, strconv.FormatUint(xxhash.Sum64String(key), 16)+".json")
}

// GetItem implements Storage. Unreadable files are removed and reported as misses.
func (s *DiskStorage) GetItem(key string) (string, bool, error) {
	item, ok, err := s.load(s.path(key))
	if err != nil {
		return "", false, err
	}
	if !ok || item.Key != key {
		return "", false, nil
	}
	return item.Value, true, nil
}

// SetItem implements Storage. Writes are atomic (temp file + rename).
func (s *DiskStorage) SetItem(key, value string) error {
	path := s.path(key)
	tmpPath := path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, cacheFilePerms)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}

	if err := json.NewEncoder(file).Encode(diskItem{Key: key, Value: value}); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encoding cache data: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing cache file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

// RemoveItem implements Storage.
func (s *DiskStorage) RemoveItem(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache file: %w", err)
	}
	return nil
}

// Keys implements Storage.
func (s *DiskStorage) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		item, ok, err := s.load(filepath.Join(s.dir, entry.Name()))
		if err != nil || !ok {
			continue
		}
		keys = append(keys, item.Key)
	}
	return keys, nil
}

// Close implements Storage.
func (*DiskStorage) Close() error { return nil }

// load reads one item file. A file that does not decode is removed.
func (*DiskStorage) load(path string) (diskItem, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return diskItem{}, false, nil
		}
		return diskItem{}, false, fmt.Errorf("reading cache file: %w", err)
	}

	var item diskItem
	if err := json.Unmarshal(data, &item); err != nil {
		slog.Debug("Failed to decode disk cache file, removing", "component", "cache", "error", err, "path", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove disk cache file", "component", "cache", "error", err, "path", path)
		}
		return diskItem{}, false, nil
	}
	return item, true, nil
}
