// Package config reads service settings from the environment (and an optional
// .env file) and builds the configured backends.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/balaan/admindash/pkg/cache"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/session"
)

// Backends.
const (
	BackendMemory   = "memory"
	BackendDisk     = "disk"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// Config holds every environment-driven setting.
type Config struct {
	AdminEmails      string
	SessionSecret    string
	CacheBackend     string
	CacheDir         string
	CacheDB          string
	RedisAddr        string
	RedisPassword    string
	Docstore         string
	DynamoDBEndpoint string
	DynamoDBTable    string
	AWSRegion        string
	CrashSourceURL   string
	CrashSourceToken string
	Port             string
	SyncInterval     time.Duration
	RedisDB          int
}

// Load reads files (default ".env") into the environment when they exist,
// without overriding variables already set, then reads the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		switch {
		case err == nil:
			slog.Debug("Loaded environment file", "component", "config", "file", f)
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("No environment file, relying on process environment", "component", "config", "file", f)
		default:
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv reads settings through getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	c := Config{
		AdminEmails:      getenv("ADMIN_EMAILS"),
		SessionSecret:    getenv("SESSION_SECRET"),
		CacheBackend:     get("CACHE_BACKEND", BackendMemory),
		CacheDir:         getenv("CACHE_DIR"),
		CacheDB:          get("CACHE_DB", "admindash-cache.db"),
		RedisAddr:        get("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getenv("REDIS_PASSWORD"),
		Docstore:         get("DOCSTORE", BackendMemory),
		DynamoDBEndpoint: getenv("DYNAMODB_ENDPOINT"),
		DynamoDBTable:    get("DYNAMODB_TABLE", "admindash"),
		AWSRegion:        getenv("AWS_REGION"),
		CrashSourceURL:   getenv("CRASH_SOURCE_URL"),
		CrashSourceToken: getenv("CRASH_SOURCE_TOKEN"),
		Port:             get("PORT", "8080"),
	}

	var err error
	if c.RedisDB, err = strconv.Atoi(get("REDIS_DB", "0")); err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if c.SyncInterval, err = time.ParseDuration(get("SYNC_INTERVAL", "5m")); err != nil {
		return Config{}, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	if c.SyncInterval <= 0 {
		return Config{}, fmt.Errorf("invalid SYNC_INTERVAL: %s must be positive", c.SyncInterval)
	}
	return c, nil
}

// OpenCache builds the configured cache storage, wraps it in a cache and
// clears entries left by a previous process.
func (c Config) OpenCache(ctx context.Context) (*cache.Cache, error) {
	var (
		storage cache.Storage
		err     error
	)
	switch c.CacheBackend {
	case BackendMemory:
		storage = cache.NewMemoryStorage(0)
	case BackendDisk:
		dir := c.CacheDir
		if dir == "" {
			base, uerr := os.UserCacheDir()
			if uerr != nil {
				return nil, fmt.Errorf("resolving cache dir: %w", uerr)
			}
			dir = filepath.Join(base, "admindash")
		}
		storage, err = cache.NewDiskStorage(dir)
	case BackendSQLite:
		storage, err = cache.NewSQLiteStorage(c.CacheDB)
	case BackendRedis:
		storage, err = cache.NewRedisStorage(ctx, cache.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s cache: %w", c.CacheBackend, err)
	}
	rc := cache.New(cache.Config{Storage: storage})
	rc.Init()
	slog.Info("Cache opened", "component", "config", "backend", c.CacheBackend)
	return rc, nil
}

// OpenStore builds the configured document store.
func (c Config) OpenStore(ctx context.Context) (docstore.Store, error) {
	switch c.Docstore {
	case BackendMemory:
		slog.Warn("Using in-memory document store; data is not persisted", "component", "config")
		return docstore.NewMemory(nil), nil
	case BackendDynamoDB:
		client, err := docstore.ConnectDynamoDB(ctx, docstore.DynamoDBConfig{
			Table:    c.DynamoDBTable,
			Region:   c.AWSRegion,
			Endpoint: c.DynamoDBEndpoint,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("Document store connected", "component", "config", "backend", BackendDynamoDB, "table", c.DynamoDBTable)
		return docstore.NewDynamoDB(client, c.DynamoDBTable), nil
	}
	return nil, fmt.Errorf("unknown DOCSTORE %q", c.Docstore)
}

// Issuer builds the session issuer for the configured admins.
func (c Config) Issuer() (*session.Issuer, error) {
	return session.NewIssuer(session.Config{
		Secret: []byte(c.SessionSecret),
		Admins: session.ParseAllowList(c.AdminEmails),
	})
}
