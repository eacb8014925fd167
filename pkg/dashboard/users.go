package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/balaan/admindash/pkg/activity"
	"github.com/balaan/admindash/pkg/aggregate"
	"github.com/balaan/admindash/pkg/cache"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/session"
	"github.com/balaan/admindash/pkg/types"
)

// KeyUsers caches UserStats.
const KeyUsers = "users_stats"

// UserStats breaks the user base down by role and ban state.
type UserStats struct {
	Total          int `json:"total"`
	Clients        int `json:"clients"`
	Establishments int `json:"establishments"`
	Banned         int `json:"banned"`
}

// ComputeUserStats folds decoded users.
func ComputeUserStats(users []types.User) UserStats {
	roles := aggregate.CountBy(users, func(u types.User) (string, bool) {
		return u.Role, u.Role != ""
	})
	return UserStats{
		Total:          len(users),
		Clients:        roles.Get(types.RoleClient),
		Establishments: roles.Get(types.RoleEstablishment),
		Banned:         aggregate.CountWhere(users, func(u types.User) bool { return u.Banned }),
	}
}

// UserStats counts clients, establishments and banned users over the whole
// users collection.
func (s *Service) UserStats(ctx context.Context) (UserStats, error) {
	var st UserStats
	if s.cache.Lookup(KeyUsers, &st) {
		return st, nil
	}
	recs, err := s.scan(ctx, types.CollectionUsers)
	if err != nil {
		return UserStats{}, fmt.Errorf("loading user stats: %w", err)
	}
	st = ComputeUserStats(types.Decode(recs, types.UserFromRecord))
	s.cache.Set(KeyUsers, st, cache.TTLUsers)
	return st, nil
}

// SetBanned bans or unbans a user on behalf of the signed-in admin.
func (s *Service) SetBanned(ctx context.Context, userID string, banned bool) error {
	admin, err := session.Require(ctx)
	if err != nil {
		return err
	}

	fields := docstore.Record{"is_banned": banned}
	action := "user_unbanned"
	if banned {
		fields["banned_at"] = docstore.ServerTimestamp
		action = "user_banned"
	} else {
		fields["unbanned_at"] = docstore.ServerTimestamp
	}
	if err := s.store.Update(ctx, types.CollectionUsers, userID, fields); err != nil {
		return fmt.Errorf("updating ban state of %s: %w", userID, err)
	}

	s.cache.OnUserUpdate()
	s.tracker.Track(ctx, action, activity.CategoryUsers, map[string]any{"user_id": userID})
	slog.Info("User ban state changed", "component", "dashboard", "user", userID, "banned", banned, "admin", admin.Email)
	return nil
}
