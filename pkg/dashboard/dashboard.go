// Package dashboard computes the statistics shown on the admin dashboard and
// applies the admin decisions that invalidate them.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/balaan/admindash/pkg/activity"
	"github.com/balaan/admindash/pkg/aggregate"
	"github.com/balaan/admindash/pkg/cache"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/metrics"
	"github.com/balaan/admindash/pkg/session"
	"github.com/balaan/admindash/pkg/types"
)

// Cache keys.
const (
	KeySummary   = "dashboard_stats"
	KeyKYC       = "kyc_data"
	KeyAnalytics = "salons_analytics"
)

// scanPageSize bounds each read while scanning a whole collection.
const scanPageSize = 500

// Config holds optional collaborators.
type Config struct {
	Tracker *activity.Tracker
	Clock   clockwork.Clock
}

// Service computes dashboard statistics from the store, through the cache.
type Service struct {
	store   docstore.Store
	cache   *cache.Cache
	tracker *activity.Tracker
	clock   clockwork.Clock
}

// New creates a service.
func New(store docstore.Store, c *cache.Cache, cfg Config) *Service {
	s := &Service{store: store, cache: c, tracker: cfg.Tracker, clock: cfg.Clock}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s
}

// Summary holds the headline totals.
type Summary struct {
	Salons         int `json:"salons"`
	ApprovedSalons int `json:"approved_salons"`
	Users          int `json:"users"`
	Tickets        int `json:"tickets"`
	KYCPending     int `json:"kyc_pending"`
}

// Summary returns the headline totals, loading them concurrently on a miss.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	if s.cache.Lookup(KeySummary, &sum) {
		return sum, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sum.Salons, err = s.count(gctx, types.CollectionSalons)
		return err
	})
	g.Go(func() (err error) {
		sum.ApprovedSalons, err = s.count(gctx, types.CollectionSalons, docstore.Where("isApproved", docstore.Eq, true))
		return err
	})
	g.Go(func() (err error) {
		sum.Users, err = s.count(gctx, types.CollectionUsers)
		return err
	})
	g.Go(func() (err error) {
		sum.Tickets, err = s.count(gctx, types.CollectionTickets)
		return err
	})
	g.Go(func() error {
		kyc, err := s.KYCStats(gctx)
		sum.KYCPending = kyc.Pending
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("loading dashboard summary: %w", err)
	}

	slog.Info("Dashboard summary loaded", "component", "dashboard",
		"salons", sum.Salons, "users", sum.Users, "tickets", sum.Tickets, "kyc_pending", sum.KYCPending)
	s.cache.Set(KeySummary, sum, cache.TTLStats)
	return sum, nil
}

// KYCStats counts salons per folded verification status.
type KYCStats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// KYCStats folds the kyc_status of every salon.
func (s *Service) KYCStats(ctx context.Context) (KYCStats, error) {
	var stats KYCStats
	if s.cache.Lookup(KeyKYC, &stats) {
		return stats, nil
	}

	recs, err := s.scan(ctx, types.CollectionSalons)
	if err != nil {
		return KYCStats{}, fmt.Errorf("loading kyc stats: %w", err)
	}
	salons := types.Decode(recs, types.SalonFromRecord)
	counts := aggregate.CountBy(salons, func(sl types.Salon) (string, bool) {
		return sl.KYCStatus, sl.KYCStatus != ""
	})
	stats = KYCStats{
		Pending:  counts.Get(types.KYCPending),
		Approved: counts.Get(types.KYCApproved),
		Rejected: counts.Get(types.KYCRejected),
	}

	slog.Debug("KYC stats", "component", "dashboard", "pending", stats.Pending, "approved", stats.Approved, "rejected", stats.Rejected)
	s.cache.Set(KeyKYC, stats, cache.TTLKYC)
	return stats, nil
}

// UnknownCity labels salons without a city.
const UnknownCity = "Non défini"

// SalonAnalytics describes the salon catalogue.
type SalonAnalytics struct {
	Cities     []aggregate.Item `json:"cities"`
	Categories []aggregate.Item `json:"categories"`
	Total      int              `json:"total"`
	AvgRating  float64          `json:"avg_rating"`
}

// SalonAnalytics computes the average rating and the top five cities and
// categories.
func (s *Service) SalonAnalytics(ctx context.Context) (SalonAnalytics, error) {
	var a SalonAnalytics
	if s.cache.Lookup(KeyAnalytics, &a) {
		return a, nil
	}

	recs, err := s.scan(ctx, types.CollectionSalons)
	if err != nil {
		return SalonAnalytics{}, fmt.Errorf("loading salon analytics: %w", err)
	}
	salons := types.Decode(recs, types.SalonFromRecord)

	cities := aggregate.CountBy(salons, func(sl types.Salon) (string, bool) {
		if sl.City == nil || *sl.City == "" {
			return UnknownCity, true
		}
		return *sl.City, true
	})

	a = SalonAnalytics{
		Total: len(salons),
		AvgRating: aggregate.Mean(salons, func(sl types.Salon) (float64, bool) {
			if sl.Rating == nil {
				return 0, false
			}
			return *sl.Rating, true
		}, 0),
		Cities:     aggregate.TopN(cities, 5),
		Categories: aggregate.TopN(aggregate.CountByEach(salons, func(sl types.Salon) []string { return sl.Categories }), 5),
	}
	s.cache.Set(KeyAnalytics, a, cache.TTLSalons)
	return a, nil
}

func (s *Service) count(ctx context.Context, collection string, where ...docstore.Condition) (int, error) {
	start := s.clock.Now()
	n, err := s.store.Count(ctx, collection, where...)
	metrics.ObserveRemote("count", s.clock.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return n, nil
}

// scan reads every matching document of a collection in id order.
func (s *Service) scan(ctx context.Context, collection string, where ...docstore.Condition) ([]docstore.Record, error) {
	var (
		out   []docstore.Record
		after docstore.Cursor
	)
	for {
		start := s.clock.Now()
		res, err := s.store.Query(ctx, collection, docstore.Query{
			Where:      where,
			StartAfter: after,
			Limit:      scanPageSize,
		})
		metrics.ObserveRemote("query", s.clock.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", collection, err)
		}
		out = append(out, res.Records...)
		if len(res.Records) < scanPageSize {
			return out, nil
		}
		after = res.Next
	}
}

// DecideKYC records the signed-in admin's verification decision on a salon
// and drops every cached statistic derived from salons.
func (s *Service) DecideKYC(ctx context.Context, salonID string, approve bool, reason string) error {
	admin, err := session.Require(ctx)
	if err != nil {
		return err
	}

	status, action := types.KYCRejected, "kyc_rejected"
	if approve {
		status, action = types.KYCApproved, "kyc_approved"
	}
	fields := docstore.Record{
		"kyc_status":      status,
		"isApproved":      approve,
		"kyc_reviewed_at": docstore.ServerTimestamp,
		"kyc_reviewed_by": admin.Email,
	}
	if !approve && reason != "" {
		fields["kyc_rejection_reason"] = reason
	}

	if err := s.store.Update(ctx, types.CollectionSalons, salonID, fields); err != nil {
		return fmt.Errorf("recording kyc decision for %s: %w", salonID, err)
	}

	s.cache.OnKYCUpdate()
	s.cache.OnSalonUpdate()
	s.tracker.Track(ctx, action, activity.CategoryKYC, map[string]any{
		"salon_id":     salonID,
		"kyc_decision": status,
	})
	slog.Info("KYC decision recorded", "component", "dashboard", "salon", salonID, "status", status, "admin", admin.Email)
	return nil
}
