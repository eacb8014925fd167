package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/balaan/admindash/pkg/aggregate"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/types"
)

// Compensation statuses.
const (
	CompensationPending = "pending"
	CompensationPaid    = "paid"
)

// Labels for missing reservation data.
const (
	unknownSalon     = "unknown"
	unknownSalonName = "Salon inconnu"
	unknownPromo     = "Promo inconnue"
	unknownClient    = "Client"
)

// CompensationLine is one compensated reservation.
type CompensationLine struct {
	Date          time.Time `json:"date"`
	ReservationID string    `json:"reservation_id"`
	ClientName    string    `json:"client_name"`
	PromoName     string    `json:"promo_name"`
	Amount        float64   `json:"amount"`
}

// Compensation is what the platform owes one salon for promotions it funded.
type Compensation struct {
	SalonID      string             `json:"salon_id"`
	SalonName    string             `json:"salon_name"`
	Status       string             `json:"status"`
	Reservations []CompensationLine `json:"reservations"`
	Total        float64            `json:"total"`
}

// Compensations groups completed, platform-compensated reservations by salon.
func (s *Service) Compensations(ctx context.Context) ([]Compensation, error) {
	recs, err := s.scan(ctx, types.CollectionReservations,
		docstore.Where("PromotionApplied.balaan_compensated", docstore.Eq, true),
		docstore.Where("status", docstore.Eq, types.ReservationCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("loading compensations: %w", err)
	}
	return GroupCompensations(types.Decode(recs, types.ReservationFromRecord), s.clock.Now()), nil
}

// GroupCompensations folds reservations into per-salon compensations in
// first-seen salon order. Reservations without a date are dated now.
func GroupCompensations(reservations []types.Reservation, now time.Time) []Compensation {
	salonOf := func(r types.Reservation) (string, bool) {
		if r.SalonID == nil {
			return "", false
		}
		return *r.SalonID, true
	}
	amountOf := func(r types.Reservation) (float64, bool) {
		if r.Promotion == nil || r.Promotion.Amount == nil {
			return 0, false
		}
		return *r.Promotion.Amount, true
	}

	groups := aggregate.GroupSum(reservations, salonOf, amountOf)
	out := make([]Compensation, len(groups))
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		id := g.Key
		if id == aggregate.Undefined {
			id = unknownSalon
		}
		out[i] = Compensation{SalonID: id, SalonName: unknownSalonName, Status: CompensationPending, Total: g.Total}
		index[g.Key] = i
	}

	for _, r := range reservations {
		key, ok := salonOf(r)
		if !ok {
			key = aggregate.Undefined
		}
		c := &out[index[key]]
		if c.SalonName == unknownSalonName && r.SalonName != "" {
			c.SalonName = r.SalonName
		}

		line := CompensationLine{
			ReservationID: r.ID,
			ClientName:    unknownClient,
			PromoName:     unknownPromo,
			Date:          now,
		}
		line.Amount, _ = amountOf(r)
		if r.ClientName != "" {
			line.ClientName = r.ClientName
		}
		if r.Promotion != nil && r.Promotion.Name != "" {
			line.PromoName = r.Promotion.Name
		}
		if r.Date != nil {
			line.Date = *r.Date
		}
		c.Reservations = append(c.Reservations, line)
	}
	return out
}

// PromoStats summarizes promotions and what they cost the platform.
type PromoStats struct {
	Total                int     `json:"total"`
	Active               int     `json:"active"`
	Uses                 int     `json:"uses"`
	Exhausted            int     `json:"exhausted"`
	TotalCompensations   float64 `json:"total_compensations"`
	PendingCompensations float64 `json:"pending_compensations"`
}

// ComputePromoStats folds promotions and compensations at now.
func ComputePromoStats(promos []types.Promotion, comps []Compensation, now time.Time) PromoStats {
	uses := 0
	for _, p := range promos {
		uses += p.Uses
	}
	status := func(c Compensation) (string, bool) { return c.Status, c.Status != "" }
	total := func(c Compensation) (float64, bool) { return c.Total, true }

	return PromoStats{
		Total: len(promos),
		Active: aggregate.CountWhere(promos, func(p types.Promotion) bool {
			return p.ActiveAt(now)
		}),
		Uses:                 uses,
		Exhausted:            aggregate.CountWhere(promos, types.Promotion.Exhausted),
		TotalCompensations:   aggregate.SumWhere(comps, status, total, CompensationPending, CompensationPaid),
		PendingCompensations: aggregate.SumWhere(comps, status, total, CompensationPending),
	}
}

// PromoStats loads promotions and compensations and summarizes them.
func (s *Service) PromoStats(ctx context.Context) (PromoStats, error) {
	recs, err := s.scan(ctx, types.CollectionPromotions)
	if err != nil {
		return PromoStats{}, fmt.Errorf("loading promotions: %w", err)
	}
	comps, err := s.Compensations(ctx)
	if err != nil {
		return PromoStats{}, err
	}
	return ComputePromoStats(types.Decode(recs, types.PromotionFromRecord), comps, s.clock.Now()), nil
}
