package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	c, err := FromEnv(envMap(nil))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if c.CacheBackend != BackendMemory || c.Docstore != BackendMemory {
		t.Errorf("backends = %q/%q, want memory/memory", c.CacheBackend, c.Docstore)
	}
	if c.Port != "8080" {
		t.Errorf("Port = %q, want 8080", c.Port)
	}
	if c.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", c.SyncInterval)
	}
	if c.DynamoDBTable != "admindash" {
		t.Errorf("DynamoDBTable = %q", c.DynamoDBTable)
	}
}

func TestFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"redis db", map[string]string{"REDIS_DB": "one"}, "REDIS_DB"},
		{"interval", map[string]string{"SYNC_INTERVAL": "soon"}, "SYNC_INTERVAL"},
		{"negative interval", map[string]string{"SYNC_INTERVAL": "-1m"}, "SYNC_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envMap(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("FromEnv() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("ADMIN_EMAILS=ops@balaan.app\nPORT=9090\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADMIN_EMAILS", "")
	os.Unsetenv("ADMIN_EMAILS")
	t.Setenv("PORT", "7070")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.AdminEmails != "ops@balaan.app" {
		t.Errorf("AdminEmails = %q", c.AdminEmails)
	}
	if c.Port != "7070" {
		t.Errorf("Port = %q, want process env to win", c.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("Load() error = %v, want nil for missing file", err)
	}
}

func TestOpenCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{CacheBackend: BackendMemory}, false},
		{"disk", Config{CacheBackend: BackendDisk, CacheDir: filepath.Join(dir, "disk")}, false},
		{"sqlite", Config{CacheBackend: BackendSQLite, CacheDB: filepath.Join(dir, "cache.db")}, false},
		{"relative disk", Config{CacheBackend: BackendDisk, CacheDir: "relative"}, true},
		{"unknown", Config{CacheBackend: "memcached"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.cfg.OpenCache(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenCache() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer c.Teardown()
			c.Set("k", "v", time.Minute)
			var got string
			if !c.Lookup("k", &got) || got != "v" {
				t.Errorf("Lookup() = %q, want v", got)
			}
		})
	}
}

func TestOpenCacheClearsPreviousProcess(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"disk", Config{CacheBackend: BackendDisk, CacheDir: filepath.Join(t.TempDir(), "disk")}},
		{"sqlite", Config{CacheBackend: BackendSQLite, CacheDB: filepath.Join(t.TempDir(), "cache.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := tt.cfg.OpenCache(ctx)
			if err != nil {
				t.Fatal(err)
			}
			defer before.Teardown()
			before.Set("dashboard_stats", map[string]int{"salons": 4}, time.Hour)
			if _, ok := before.Get("dashboard_stats"); !ok {
				t.Fatal("expected entry written before restart")
			}

			after, err := tt.cfg.OpenCache(ctx)
			if err != nil {
				t.Fatal(err)
			}
			defer after.Teardown()
			if _, ok := after.Get("dashboard_stats"); ok {
				t.Error("expected entry from previous process to be cleared on open")
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	s, err := Config{Docstore: BackendMemory}.OpenStore(ctx)
	if err != nil || s == nil {
		t.Fatalf("OpenStore(memory) = %v, %v", s, err)
	}
	if _, err := (Config{Docstore: "firestore"}).OpenStore(ctx); err == nil {
		t.Error("OpenStore(unknown) error = nil")
	}
}

func TestIssuer(t *testing.T) {
	c := Config{SessionSecret: "s3cret", AdminEmails: "Ops@Balaan.app"}
	iss, err := c.Issuer()
	if err != nil {
		t.Fatalf("Issuer() error = %v", err)
	}
	tok, err := iss.Issue("ops@balaan.app")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := iss.Verify(tok); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	if _, err := (Config{}).Issuer(); err == nil {
		t.Error("Issuer() without secret error = nil")
	}
}
