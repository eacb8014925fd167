// Package types contains the typed views of dashboard documents.
//
// Documents in the store are loosely shaped. Each decoder here reads the
// fields it knows and leaves optional ones nil when absent, so callers branch
// on presence explicitly.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import (
	"strings"
	"time"

	"github.com/balaan/admindash/pkg/docstore"
)

// Collections read by the dashboard.
const (
	CollectionSalons        = "salons"
	CollectionUsers         = "users"
	CollectionTickets       = "support_tickets"
	CollectionCrashes       = "app_crashes"
	CollectionReservations  = "reservations"
	CollectionPromotions    = "promotions"
	CollectionNotifications = "admin_notifications"
	CollectionResponses     = "support_ticket_responses"
)

// Folded KYC statuses.
const (
	KYCPending  = "pending"
	KYCApproved = "approved"
	KYCRejected = "rejected"
)

// FoldKYC maps the status spellings found in salon documents onto the three
// canonical ones. Unknown values are returned unchanged.
func FoldKYC(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "under_review", "pending":
		return KYCPending
	case "approved", "verified":
		return KYCApproved
	case "rejected", "denied":
		return KYCRejected
	}
	return status
}

// Salon is a service provider listing.
type Salon struct {
	CreatedAt  *time.Time
	Rating     *float64 // note_moyenne
	Approved   *bool    // isApproved
	City       *string  // ville, or adresse.ville
	ID         string
	Name       string
	KYCStatus  string // folded; empty when the salon never started KYC
	Categories []string
}

// SalonFromRecord decodes a salon document.
func SalonFromRecord(r docstore.Record) Salon {
	s := Salon{ID: r.ID()}
	s.Name, _ = r.String("nom")
	if v, ok := r.String("ville"); ok {
		s.City = &v
	} else if v, ok := r.String("adresse.ville"); ok {
		s.City = &v
	}
	if v, ok := r.Float("note_moyenne"); ok {
		s.Rating = &v
	}
	if v, ok := r.Bool("isApproved"); ok {
		s.Approved = &v
	}
	if v, ok := r.String("kyc_status"); ok {
		s.KYCStatus = FoldKYC(v)
	}
	s.Categories, _ = r.Strings("categoriesPrincipales")
	s.CreatedAt = timeField(r, "created_time", "created_at")
	return s
}

// User roles.
const (
	RoleClient        = "Client"
	RoleEstablishment = "Établissement"
)

// User is an end user of the marketplace.
type User struct {
	CreatedAt   *time.Time
	ID          string
	DisplayName string
	Email       string
	Role        string // RoleClient or RoleEstablishment
	Banned      bool
}

// UserFromRecord decodes a user document.
func UserFromRecord(r docstore.Record) User {
	u := User{ID: r.ID()}
	u.DisplayName, _ = r.String("display_name")
	u.Email, _ = r.String("email")
	u.Role, _ = r.String("role")
	u.Banned, _ = r.Bool("is_banned")
	u.CreatedAt = timeField(r, "created_time", "created_at")
	return u
}

// Ticket statuses and priorities.
const (
	TicketOpen      = "open"
	TicketResponded = "responded"
	TicketResolved  = "resolved"

	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// SupportTicket is a user support request.
type SupportTicket struct {
	CreatedAt *time.Time
	ID        string
	Subject   string
	Status    string // missing means open
	Priority  string // missing means medium
}

// TicketFromRecord decodes a support ticket document.
func TicketFromRecord(r docstore.Record) SupportTicket {
	t := SupportTicket{ID: r.ID(), Status: TicketOpen, Priority: PriorityMedium}
	t.Subject, _ = r.String("subject")
	if v, ok := r.String("status"); ok {
		t.Status = v
	}
	if v, ok := r.String("priority"); ok {
		t.Priority = v
	}
	t.CreatedAt = timeField(r, "created_time", "created_at")
	return t
}

// SeverityFatal marks crashes that terminated the app.
const SeverityFatal = "fatal"

// Device describes the device a crash happened on.
type Device struct {
	Model     string `json:"model,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
}

// Crash is one crash report, as received from the crash-reporting source and
// as stored in app_crashes.
type Crash struct {
	Timestamp     time.Time `json:"timestamp"`
	Device        Device    `json:"device_info"`
	ID            string    `json:"-"`
	ErrorType     string    `json:"error_type"`
	Message       string    `json:"message"`
	Severity      string    `json:"severity"`
	Platform      string    `json:"platform"`
	AppVersion    string    `json:"app_version"`
	UserID        string    `json:"user_id,omitempty"`
	StackTrace    string    `json:"stack_trace,omitempty"`
	CrashlyticsID string    `json:"crashlytics_id"`
	Source        string    `json:"source,omitempty"`
	CrashCount    int       `json:"crash_count"`
	AffectedUsers int       `json:"affected_users"`
}

// Fatal reports whether the crash terminated the app.
func (c Crash) Fatal() bool {
	return c.Severity == SeverityFatal
}

// Record converts c into document fields. Empty optional fields are omitted.
func (c Crash) Record() docstore.Record {
	r := docstore.Record{
		"error_type":     c.ErrorType,
		"message":        c.Message,
		"severity":       c.Severity,
		"platform":       c.Platform,
		"app_version":    c.AppVersion,
		"crashlytics_id": c.CrashlyticsID,
		"crash_count":    c.CrashCount,
		"affected_users": c.AffectedUsers,
	}
	if !c.Timestamp.IsZero() {
		r["timestamp"] = c.Timestamp.UTC()
	}
	if c.UserID != "" {
		r["user_id"] = c.UserID
	}
	if c.StackTrace != "" {
		r["stack_trace"] = c.StackTrace
	}
	if c.Source != "" {
		r["source"] = c.Source
	}
	if c.Device != (Device{}) {
		r["device_info"] = map[string]any{"model": c.Device.Model, "os_version": c.Device.OSVersion}
	}
	return r
}

// CrashFromRecord decodes a crash document.
func CrashFromRecord(r docstore.Record) Crash {
	c := Crash{ID: r.ID()}
	c.ErrorType, _ = r.String("error_type")
	c.Message, _ = r.String("message")
	c.Severity, _ = r.String("severity")
	c.Platform, _ = r.String("platform")
	c.AppVersion, _ = r.String("app_version")
	c.UserID, _ = r.String("user_id")
	c.StackTrace, _ = r.String("stack_trace")
	c.CrashlyticsID, _ = r.String("crashlytics_id")
	c.Source, _ = r.String("source")
	c.Device.Model, _ = r.String("device_info.model")
	c.Device.OSVersion, _ = r.String("device_info.os_version")
	if n, ok := r.Float("crash_count"); ok {
		c.CrashCount = int(n)
	}
	if n, ok := r.Float("affected_users"); ok {
		c.AffectedUsers = int(n)
	}
	if t := timeField(r, "timestamp", "synced_at"); t != nil {
		c.Timestamp = *t
	}
	return c
}

// Reservation statuses.
const ReservationCompleted = "Terminée"

// AppliedPromotion is the promotion block of a reservation.
type AppliedPromotion struct {
	Amount      *float64 // compensation_amount
	Name        string
	Compensated bool // balaan_compensated
}

// Reservation is one booking at a salon.
type Reservation struct {
	Date       *time.Time
	Promotion  *AppliedPromotion
	SalonID    *string
	ID         string
	SalonName  string
	ClientName string
	Status     string
}

// ReservationFromRecord decodes a reservation document.
func ReservationFromRecord(r docstore.Record) Reservation {
	res := Reservation{ID: r.ID()}
	if v, ok := r.String("salon_id"); ok {
		res.SalonID = &v
	}
	res.SalonName, _ = r.String("salon_name")
	res.ClientName, _ = r.String("display_name")
	res.Status, _ = r.String("status")
	res.Date = timeField(r, "DateOfReservation")
	if p, ok := r.Map("PromotionApplied"); ok {
		ap := &AppliedPromotion{}
		ap.Name, _ = p.String("promotion_name")
		ap.Compensated, _ = p.Bool("balaan_compensated")
		if v, ok := p.Float("compensation_amount"); ok {
			ap.Amount = &v
		}
		res.Promotion = ap
	}
	return res
}

// Promotion is a platform-wide promotion.
type Promotion struct {
	EndsAt      *time.Time // date_fin; nil means open-ended
	ID          string
	Name        string
	Description string
	Uses        int // utilisation_actuelle
	MaxUses     int // utilisation_max
	Active      bool
}

// Exhausted reports whether p has a usage cap and has reached it.
func (p Promotion) Exhausted() bool {
	return p.MaxUses > 0 && p.Uses >= p.MaxUses
}

// ActiveAt reports whether p is enabled and not past its end date at now.
func (p Promotion) ActiveAt(now time.Time) bool {
	return p.Active && (p.EndsAt == nil || p.EndsAt.After(now))
}

// PromotionFromRecord decodes a promotion document.
func PromotionFromRecord(r docstore.Record) Promotion {
	p := Promotion{ID: r.ID()}
	p.Name, _ = r.String("nom_promotion")
	p.Description, _ = r.String("description")
	p.Active, _ = r.Bool("est_active")
	p.EndsAt = timeField(r, "date_fin")
	if n, ok := r.Float("utilisation_actuelle"); ok {
		p.Uses = int(n)
	}
	if n, ok := r.Float("utilisation_max"); ok {
		p.MaxUses = int(n)
	}
	return p
}

// Decode applies fn to every record.
func Decode[T any](recs []docstore.Record, fn func(docstore.Record) T) []T {
	out := make([]T, len(recs))
	for i, r := range recs {
		out[i] = fn(r)
	}
	return out
}

func timeField(r docstore.Record, fields ...string) *time.Time {
	for _, f := range fields {
		if t, ok := r.Time(f); ok {
			return &t
		}
	}
	return nil
}
