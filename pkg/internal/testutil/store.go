package testutil

import (
	"context"
	"testing"

	"github.com/balaan/admindash/pkg/docstore"
)

// Seed writes docs into collection. Every doc must carry an "id".
func Seed(t *testing.T, store docstore.Store, collection string, docs ...docstore.Record) {
	t.Helper()
	for _, d := range docs {
		id := d.ID()
		if id == "" {
			t.Fatalf("seed document without id in %s: %v", collection, d)
		}
		fields := d.Clone()
		delete(fields, "id")
		if err := store.Set(context.Background(), collection, id, fields); err != nil {
			t.Fatalf("seeding %s/%s: %v", collection, id, err)
		}
	}
}
