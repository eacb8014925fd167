package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/balaan/admindash/pkg/aggregate"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/types"
)

// NoError is reported as the top error of an empty batch.
const NoError = "Aucune"

const (
	recentCrashLimit = 500
	trendBuckets     = 12
)

// CrashOverview summarizes a batch of crashes.
type CrashOverview struct {
	TopError      string             `json:"top_error"`
	ErrorTypes    []aggregate.Item   `json:"error_types"`
	Trend         []aggregate.Bucket `json:"trend"`
	CrashFreeRate float64            `json:"crash_free_rate"`
	Total         int                `json:"total"`
	AffectedUsers int                `json:"affected_users"`
	Fatal         int                `json:"fatal"`
}

// Overview computes crash statistics. sessions is the number of app sessions
// in the same period; without it the crash-free rate is 100.
func Overview(crashes []types.Crash, sessions int) CrashOverview {
	errorType := func(c types.Crash) (string, bool) { return c.ErrorType, c.ErrorType != "" }
	byType := aggregate.CountBy(crashes, errorType)

	o := CrashOverview{
		Total: len(crashes),
		AffectedUsers: aggregate.Distinct(crashes, func(c types.Crash) (string, bool) {
			return c.UserID, c.UserID != ""
		}),
		Fatal:         aggregate.CountWhere(crashes, types.Crash.Fatal),
		TopError:      NoError,
		ErrorTypes:    aggregate.TopN(byType, 5),
		CrashFreeRate: 100,
	}
	if top := aggregate.TopN(byType, 1); len(top) == 1 {
		o.TopError = top[0].Name
	}
	if sessions > 0 {
		o.CrashFreeRate = float64(sessions-o.Fatal) / float64(sessions) * 100
	}

	trend := aggregate.BucketByTime(crashes, func(c types.Crash) (time.Time, bool) {
		return c.Timestamp, !c.Timestamp.IsZero()
	}, aggregate.Hour)
	if len(trend) > trendBuckets {
		trend = trend[len(trend)-trendBuckets:]
	}
	o.Trend = trend
	return o
}

// RecentCrashes returns the latest crashes, newest first.
func (s *Service) RecentCrashes(ctx context.Context, limit int) ([]types.Crash, error) {
	if limit <= 0 {
		limit = recentCrashLimit
	}
	res, err := s.store.Query(ctx, types.CollectionCrashes, docstore.Query{
		OrderBy:   "timestamp",
		Direction: docstore.Desc,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("loading crashes: %w", err)
	}
	return types.Decode(res.Records, types.CrashFromRecord), nil
}

// CrashReport loads the latest crashes and summarizes them.
func (s *Service) CrashReport(ctx context.Context, sessions int) (CrashOverview, error) {
	crashes, err := s.RecentCrashes(ctx, recentCrashLimit)
	if err != nil {
		return CrashOverview{}, err
	}
	return Overview(crashes, sessions), nil
}
