package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/session"
)

func TestTracker_PersistsAction(t *testing.T) {
	ctx := session.WithAdmin(context.Background(), session.Admin{Email: "admin@balaan.fr"})
	store := docstore.NewMemory(nil)
	tr := New(store)

	tr.Track(ctx, "kyc_approved", CategoryKYC, map[string]any{"salon_id": "s1"})

	res, err := store.Query(ctx, Collection, docstore.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 action document, got %d", len(res.Records))
	}
	doc := res.Records[0]
	if a, _ := doc.String("action"); a != "kyc_approved" {
		t.Errorf("unexpected action %q", a)
	}
	if e, _ := doc.String("admin_email"); e != "admin@balaan.fr" {
		t.Errorf("unexpected admin %q", e)
	}
	if id, _ := doc.String("data.salon_id"); id != "s1" {
		t.Errorf("unexpected salon id %q", id)
	}
	if _, ok := doc.Time("timestamp"); !ok {
		t.Error("expected server timestamp")
	}
}

func TestTracker_Degrades(t *testing.T) {
	ctx := context.Background()

	var nilTracker *Tracker
	nilTracker.Track(ctx, "pagination_load", "salons", nil)

	store := docstore.NewMemory(nil)
	store.Fail(errors.New("unavailable"))
	New(store).Track(ctx, "pagination_load", "salons", map[string]any{"page": 1})

	New(nil).Track(ctx, "pagination_load", "salons", nil)
}
