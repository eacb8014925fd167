package types

import (
	"testing"
	"time"

	"github.com/balaan/admindash/pkg/docstore"
)

func TestFoldKYC(t *testing.T) {
	tests := map[string]string{
		"under_review": KYCPending,
		"pending":      KYCPending,
		"approved":     KYCApproved,
		"verified":     KYCApproved,
		"rejected":     KYCRejected,
		"denied":       KYCRejected,
		"Verified ":    KYCApproved,
		"incomplete":   "incomplete",
	}
	for in, want := range tests {
		if got := FoldKYC(in); got != want {
			t.Errorf("FoldKYC(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSalonFromRecord(t *testing.T) {
	s := SalonFromRecord(docstore.Record{
		"id":                    "s1",
		"nom":                   "Chez Lina",
		"adresse":               map[string]any{"ville": "Lyon"},
		"note_moyenne":          4.5,
		"kyc_status":            "under_review",
		"categoriesPrincipales": []any{"coiffure"},
		"created_time":          "2024-01-01T00:00:00Z",
	})
	if s.ID != "s1" || s.Name != "Chez Lina" || s.KYCStatus != KYCPending {
		t.Errorf("unexpected salon %+v", s)
	}
	if s.City == nil || *s.City != "Lyon" {
		t.Errorf("expected city from address, got %v", s.City)
	}
	if s.Rating == nil || *s.Rating != 4.5 {
		t.Errorf("unexpected rating %v", s.Rating)
	}
	if s.Approved != nil {
		t.Error("expected missing isApproved to stay nil")
	}
	if s.CreatedAt == nil || s.CreatedAt.Year() != 2024 {
		t.Errorf("unexpected created time %v", s.CreatedAt)
	}

	empty := SalonFromRecord(docstore.Record{"id": "s2"})
	if empty.City != nil || empty.Rating != nil || empty.KYCStatus != "" || empty.CreatedAt != nil {
		t.Errorf("expected optional fields unset, got %+v", empty)
	}
}

func TestTicketDefaults(t *testing.T) {
	tk := TicketFromRecord(docstore.Record{"id": "t1", "subject": "Refund"})
	if tk.Status != TicketOpen || tk.Priority != PriorityMedium {
		t.Errorf("expected open/medium defaults, got %s/%s", tk.Status, tk.Priority)
	}
}

func TestCrashRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := Crash{
		Timestamp:     ts,
		Device:        Device{Model: "Pixel 8", OSVersion: "Android 14"},
		ErrorType:     "NullPointerException",
		Severity:      SeverityFatal,
		UserID:        "u1",
		CrashlyticsID: "crash_1",
		CrashCount:    1,
	}
	rec := c.Record()
	rec["id"] = "doc1"

	got := CrashFromRecord(rec)
	if got.ID != "doc1" || got.ErrorType != c.ErrorType || !got.Fatal() || got.Device != c.Device {
		t.Errorf("unexpected crash %+v", got)
	}
	if !got.Timestamp.Equal(ts) || got.CrashCount != 1 {
		t.Errorf("unexpected timestamp/count %v/%d", got.Timestamp, got.CrashCount)
	}
	if _, ok := rec["stack_trace"]; ok {
		t.Error("expected empty stack trace omitted")
	}
}

func TestReservationAndPromotion(t *testing.T) {
	r := ReservationFromRecord(docstore.Record{
		"id":       "r1",
		"salon_id": "s1",
		"status":   ReservationCompleted,
		"PromotionApplied": map[string]any{
			"balaan_compensated":  true,
			"compensation_amount": 12.5,
		},
	})
	if r.SalonID == nil || *r.SalonID != "s1" || r.Promotion == nil || !r.Promotion.Compensated {
		t.Fatalf("unexpected reservation %+v", r)
	}
	if r.Promotion.Amount == nil || *r.Promotion.Amount != 12.5 {
		t.Errorf("unexpected amount %v", r.Promotion.Amount)
	}

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		rec  docstore.Record
		want bool
	}{
		{"open-ended", docstore.Record{"est_active": true}, true},
		{"future end", docstore.Record{"est_active": true, "date_fin": now.Add(time.Hour)}, true},
		{"ended", docstore.Record{"est_active": true, "date_fin": now.Add(-time.Hour)}, false},
		{"disabled", docstore.Record{"est_active": false}, false},
		{"missing flag", docstore.Record{}, false},
	}
	for _, tt := range tests {
		if got := PromotionFromRecord(tt.rec).ActiveAt(now); got != tt.want {
			t.Errorf("%s: ActiveAt = %v, want %v", tt.name, got, tt.want)
		}
	}
}
