package dashboard

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/balaan/admindash/pkg/activity"
	"github.com/balaan/admindash/pkg/aggregate"
	"github.com/balaan/admindash/pkg/cache"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/internal/testutil"
	"github.com/balaan/admindash/pkg/session"
	"github.com/balaan/admindash/pkg/types"
)

var now = time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *docstore.Memory, *cache.Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	store := docstore.NewMemory(clock)
	testutil.Seed(t, store, types.CollectionSalons,
		docstore.Record{"id": "s1", "kyc_status": "approved", "isApproved": true, "ville": "Paris", "note_moyenne": 4, "categoriesPrincipales": []string{"coiffure", "barbier"}},
		docstore.Record{"id": "s2", "kyc_status": "under_review", "ville": "Lyon", "note_moyenne": 5, "categoriesPrincipales": []string{"coiffure"}},
		docstore.Record{"id": "s3", "kyc_status": "pending", "ville": "Paris", "categoriesPrincipales": []string{"ongles"}},
		docstore.Record{"id": "s4", "kyc_status": "denied", "isApproved": false},
	)
	testutil.Seed(t, store, types.CollectionUsers,
		docstore.Record{"id": "u1", "email": "a@example.com"},
		docstore.Record{"id": "u2", "email": "b@example.com"},
	)
	testutil.Seed(t, store, types.CollectionTickets, docstore.Record{"id": "t1", "subject": "Refund"})

	c := cache.New(cache.Config{Clock: clock})
	return New(store, c, Config{Clock: clock, Tracker: activity.New(store)}), store, c, clock
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	svc, store, c, _ := newService(t)

	got, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := Summary{Salons: 4, ApprovedSalons: 1, Users: 2, Tickets: 1, KYCPending: 2}
	if got != want {
		t.Errorf("Summary = %+v, want %+v", got, want)
	}
	if _, ok := c.Get(KeySummary); !ok {
		t.Error("expected summary cached")
	}

	queries, counts := store.Calls()
	if _, err := svc.Summary(ctx); err != nil {
		t.Fatal(err)
	}
	if q, n := store.Calls(); q != queries || n != counts {
		t.Error("expected cached summary not to reach the store")
	}
}

func TestSummary_StoreFailure(t *testing.T) {
	svc, store, c, _ := newService(t)
	boom := errors.New("quota exceeded")
	store.Fail(boom)

	if _, err := svc.Summary(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if _, ok := c.Get(KeySummary); ok {
		t.Error("expected nothing cached after failure")
	}
}

func TestKYCStats(t *testing.T) {
	svc, _, _, _ := newService(t)
	got, err := svc.KYCStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := (KYCStats{Pending: 2, Approved: 1, Rejected: 1}); got != want {
		t.Errorf("KYCStats = %+v, want %+v", got, want)
	}
}

func TestSalonAnalytics(t *testing.T) {
	svc, _, _, _ := newService(t)
	got, err := svc.SalonAnalytics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Total != 4 || got.AvgRating != 4.5 {
		t.Errorf("unexpected totals %+v", got)
	}
	wantCities := []aggregate.Item{{Name: "Paris", Value: 2}, {Name: "Lyon", Value: 1}, {Name: UnknownCity, Value: 1}}
	if !reflect.DeepEqual(got.Cities, wantCities) {
		t.Errorf("Cities = %v, want %v", got.Cities, wantCities)
	}
	if got.Categories[0] != (aggregate.Item{Name: "coiffure", Value: 2}) || len(got.Categories) != 3 {
		t.Errorf("unexpected categories %v", got.Categories)
	}
}

func TestSalonAnalytics_UnknownCityMerged(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	store := docstore.NewMemory(clock)
	testutil.Seed(t, store, types.CollectionSalons,
		docstore.Record{"id": "s1", "ville": UnknownCity},
		docstore.Record{"id": "s2"},
		docstore.Record{"id": "s3", "ville": ""},
		docstore.Record{"id": "s4", "ville": "Nice"},
	)
	svc := New(store, cache.New(cache.Config{Clock: clock}), Config{Clock: clock})

	got, err := svc.SalonAnalytics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []aggregate.Item{{Name: UnknownCity, Value: 3}, {Name: "Nice", Value: 1}}
	if !reflect.DeepEqual(got.Cities, want) {
		t.Errorf("Cities = %v, want %v", got.Cities, want)
	}
}

func TestDecideKYC(t *testing.T) {
	svc, store, c, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Summary(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SalonAnalytics(ctx); err != nil {
		t.Fatal(err)
	}
	c.Set("users_page_1", []string{"u1"}, time.Minute)

	if err := svc.DecideKYC(ctx, "s2", true, ""); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected ErrNoSession without an admin, got %v", err)
	}

	adminCtx := session.WithAdmin(ctx, session.Admin{Email: "admin@balaan.fr"})
	if err := svc.DecideKYC(adminCtx, "s2", true, ""); err != nil {
		t.Fatalf("DecideKYC: %v", err)
	}

	doc, err := store.Get(ctx, types.CollectionSalons, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := doc.String("kyc_status"); s != types.KYCApproved {
		t.Errorf("expected approved, got %q", s)
	}
	if by, _ := doc.String("kyc_reviewed_by"); by != "admin@balaan.fr" {
		t.Errorf("unexpected reviewer %q", by)
	}
	if at, ok := doc.Time("kyc_reviewed_at"); !ok || !at.Equal(now) {
		t.Errorf("unexpected review time %v", at)
	}

	for _, key := range []string{KeySummary, KeyKYC, KeyAnalytics} {
		if _, ok := c.Get(key); ok {
			t.Errorf("expected %s invalidated", key)
		}
	}
	if _, ok := c.Get("users_page_1"); !ok {
		t.Error("expected unrelated entry kept")
	}
	if store.Len(activity.Collection) != 1 {
		t.Errorf("expected one tracked action, got %d", store.Len(activity.Collection))
	}

	stats, err := svc.KYCStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Approved != 2 || stats.Pending != 1 {
		t.Errorf("expected recomputed stats, got %+v", stats)
	}

	if err := svc.DecideKYC(adminCtx, "missing", false, "incomplete"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDecideKYC_Reject(t *testing.T) {
	svc, store, _, _ := newService(t)
	ctx := session.WithAdmin(context.Background(), session.Admin{Email: "admin@balaan.fr"})

	if err := svc.DecideKYC(ctx, "s3", false, "documents illisibles"); err != nil {
		t.Fatal(err)
	}
	doc, _ := store.Get(ctx, types.CollectionSalons, "s3")
	if s, _ := doc.String("kyc_status"); s != types.KYCRejected {
		t.Errorf("expected rejected, got %q", s)
	}
	if r, _ := doc.String("kyc_rejection_reason"); r != "documents illisibles" {
		t.Errorf("unexpected reason %q", r)
	}
	if ok, _ := doc.Bool("isApproved"); ok {
		t.Error("expected isApproved=false")
	}
}

func TestService_CacheStorageFailureDegrades(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	store := docstore.NewMemory(clock)
	testutil.Seed(t, store, types.CollectionSalons, docstore.Record{"id": "s1", "kyc_status": "pending"})

	storage := testutil.NewMockStorage()
	storage.FailWrites(true)
	storage.FailReads(true)
	svc := New(store, cache.New(cache.Config{Storage: storage, Clock: clock}), Config{Clock: clock})

	for range 2 {
		stats, err := svc.KYCStats(context.Background())
		if err != nil || stats.Pending != 1 {
			t.Fatalf("expected stats despite broken cache, got %+v %v", stats, err)
		}
	}
	if q, _ := store.Calls(); q != 2 {
		t.Errorf("expected every call to reach the store, got %d queries", q)
	}
	if storage.Writes() != 2 {
		t.Errorf("expected 2 attempted writes, got %d", storage.Writes())
	}
}

func TestOverview(t *testing.T) {
	at := func(h int) time.Time { return now.Add(-time.Duration(h) * time.Hour) }
	crashes := []types.Crash{
		{ErrorType: "NullPointer", Severity: types.SeverityFatal, UserID: "u1", Timestamp: at(1)},
		{ErrorType: "Network", Severity: "non-fatal", UserID: "u2", Timestamp: at(1)},
		{ErrorType: "NullPointer", Severity: types.SeverityFatal, UserID: "u1", Timestamp: at(3)},
		{ErrorType: "Network", UserID: "u3"},
	}

	o := Overview(crashes, 1000)
	if o.Total != 4 || o.AffectedUsers != 3 || o.Fatal != 2 {
		t.Errorf("unexpected counts %+v", o)
	}
	if math.Abs(o.CrashFreeRate-99.8) > 1e-9 {
		t.Errorf("CrashFreeRate = %v, want 99.8", o.CrashFreeRate)
	}
	if o.TopError != "NullPointer" {
		t.Errorf("TopError = %q, want NullPointer (first seen of the tie)", o.TopError)
	}
	if len(o.Trend) != 2 || o.Trend[0].Count != 1 || o.Trend[1].Count != 2 {
		t.Errorf("unexpected trend %v", o.Trend)
	}

	empty := Overview(nil, 0)
	if empty.TopError != NoError || empty.CrashFreeRate != 100 || len(empty.ErrorTypes) != 0 {
		t.Errorf("unexpected empty overview %+v", empty)
	}
}

func TestOverview_TrendKeepsLastTwelveHours(t *testing.T) {
	var crashes []types.Crash
	for h := range 20 {
		crashes = append(crashes, types.Crash{ErrorType: "X", Timestamp: now.Add(-time.Duration(h) * time.Hour)})
	}
	o := Overview(crashes, 0)
	if len(o.Trend) != 12 {
		t.Fatalf("expected 12 buckets, got %d", len(o.Trend))
	}
	if !o.Trend[11].Start.Equal(now) {
		t.Errorf("expected newest bucket last, got %v", o.Trend[11].Start)
	}
}

func TestCrashReport(t *testing.T) {
	svc, store, _, _ := newService(t)
	testutil.Seed(t, store, types.CollectionCrashes,
		docstore.Record{"id": "c1", "error_type": "Timeout", "severity": "fatal", "timestamp": now.Add(-time.Hour)},
		docstore.Record{"id": "c2", "error_type": "Timeout", "timestamp": now},
	)
	o, err := svc.CrashReport(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if o.Total != 2 || o.Fatal != 1 || math.Abs(o.CrashFreeRate-99) > 1e-9 {
		t.Errorf("unexpected report %+v", o)
	}
}

func TestCompensationsAndPromoStats(t *testing.T) {
	svc, store, _, _ := newService(t)
	day := now.Add(-48 * time.Hour)
	testutil.Seed(t, store, types.CollectionReservations,
		docstore.Record{"id": "r1", "salon_id": "s1", "salon_name": "Chez Lina", "status": types.ReservationCompleted, "display_name": "Amel", "DateOfReservation": day,
			"PromotionApplied": map[string]any{"balaan_compensated": true, "compensation_amount": 10.0, "promotion_name": "Printemps"}},
		docstore.Record{"id": "r2", "salon_id": "s1", "status": types.ReservationCompleted,
			"PromotionApplied": map[string]any{"balaan_compensated": true}},
		docstore.Record{"id": "r3", "salon_id": "s2", "status": types.ReservationCompleted,
			"PromotionApplied": map[string]any{"balaan_compensated": true, "compensation_amount": 4.5}},
		docstore.Record{"id": "r4", "salon_id": "s2", "status": "Annulée",
			"PromotionApplied": map[string]any{"balaan_compensated": true, "compensation_amount": 99.0}},
		docstore.Record{"id": "r5", "salon_id": "s3", "status": types.ReservationCompleted,
			"PromotionApplied": map[string]any{"balaan_compensated": false, "compensation_amount": 99.0}},
	)
	testutil.Seed(t, store, types.CollectionPromotions,
		docstore.Record{"id": "p1", "est_active": true, "utilisation_actuelle": 3},
		docstore.Record{"id": "p2", "est_active": true, "date_fin": now.Add(-time.Hour), "utilisation_actuelle": 7, "utilisation_max": 7},
		docstore.Record{"id": "p3", "est_active": false},
	)

	comps, err := svc.Compensations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(comps) != 2 {
		t.Fatalf("expected 2 salons, got %+v", comps)
	}
	first := comps[0]
	if first.SalonID != "s1" || first.SalonName != "Chez Lina" || first.Total != 10 || len(first.Reservations) != 2 {
		t.Errorf("unexpected first compensation %+v", first)
	}
	if line := first.Reservations[1]; line.ClientName != unknownClient || line.PromoName != unknownPromo || line.Amount != 0 || !line.Date.Equal(now) {
		t.Errorf("expected defaults on sparse reservation, got %+v", line)
	}
	if comps[1].SalonName != unknownSalonName || comps[1].Total != 4.5 {
		t.Errorf("unexpected second compensation %+v", comps[1])
	}

	stats, err := svc.PromoStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := PromoStats{Total: 3, Active: 1, Uses: 10, Exhausted: 1, TotalCompensations: 14.5, PendingCompensations: 14.5}
	if stats != want {
		t.Errorf("PromoStats = %+v, want %+v", stats, want)
	}
}

func TestGroupCompensations_UnknownSalon(t *testing.T) {
	amount := 3.0
	got := GroupCompensations([]types.Reservation{
		{ID: "r1", Promotion: &types.AppliedPromotion{Amount: &amount}},
	}, now)
	if len(got) != 1 || got[0].SalonID != unknownSalon || got[0].Total != 3 {
		t.Errorf("unexpected groups %+v", got)
	}

	paid := ComputePromoStats(nil, []Compensation{{Status: CompensationPaid, Total: 5}, {Status: CompensationPending, Total: 2}}, now)
	if paid.TotalCompensations != 7 || paid.PendingCompensations != 2 {
		t.Errorf("unexpected sums %+v", paid)
	}
}
