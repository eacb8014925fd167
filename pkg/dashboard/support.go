package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/balaan/admindash/pkg/activity"
	"github.com/balaan/admindash/pkg/aggregate"
	"github.com/balaan/admindash/pkg/cache"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/session"
	"github.com/balaan/admindash/pkg/types"
)

// KeyTickets caches TicketStats.
const KeyTickets = "support_tickets_stats"

// ErrEmptyResponse is returned by RespondTicket for a blank message.
var ErrEmptyResponse = errors.New("response message is empty")

// TicketStats counts support tickets by state.
type TicketStats struct {
	Total        int `json:"total"`
	Open         int `json:"open"`
	Responded    int `json:"responded"`
	Resolved     int `json:"resolved"`
	HighPriority int `json:"high_priority"`
}

// ComputeTicketStats folds decoded tickets. Tickets without a status count
// as open.
func ComputeTicketStats(tickets []types.SupportTicket) TicketStats {
	byStatus := aggregate.CountBy(tickets, func(t types.SupportTicket) (string, bool) {
		return t.Status, true
	})
	high := aggregate.CountWhere(tickets, func(t types.SupportTicket) bool {
		return t.Priority == types.PriorityHigh
	})
	return TicketStats{
		Total:        len(tickets),
		Open:         byStatus.Get(types.TicketOpen),
		Responded:    byStatus.Get(types.TicketResponded),
		Resolved:     byStatus.Get(types.TicketResolved),
		HighPriority: high,
	}
}

// TicketStats summarizes the support queue.
func (s *Service) TicketStats(ctx context.Context) (TicketStats, error) {
	var st TicketStats
	if s.cache.Lookup(KeyTickets, &st) {
		return st, nil
	}
	recs, err := s.scan(ctx, types.CollectionTickets)
	if err != nil {
		return TicketStats{}, fmt.Errorf("loading ticket stats: %w", err)
	}
	st = ComputeTicketStats(types.Decode(recs, types.TicketFromRecord))
	s.cache.Set(KeyTickets, st, cache.TTLStats)
	return st, nil
}

// ResolveTicket marks a ticket resolved.
func (s *Service) ResolveTicket(ctx context.Context, ticketID string) error {
	if _, err := session.Require(ctx); err != nil {
		return err
	}
	err := s.store.Update(ctx, types.CollectionTickets, ticketID, docstore.Record{
		"status":      types.TicketResolved,
		"resolved_at": docstore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("resolving ticket %s: %w", ticketID, err)
	}
	s.ticketChanged(ctx, "ticket_resolved", ticketID)
	return nil
}

// RespondTicket stores an admin response to a ticket and marks it responded.
func (s *Service) RespondTicket(ctx context.Context, ticketID, message string) error {
	admin, err := session.Require(ctx)
	if err != nil {
		return err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyResponse
	}
	if _, err := s.store.Get(ctx, types.CollectionTickets, ticketID); err != nil {
		return fmt.Errorf("loading ticket %s: %w", ticketID, err)
	}

	_, err = s.store.Add(ctx, types.CollectionResponses, docstore.Record{
		"ticket_id":    ticketID,
		"message":      message,
		"sender":       "admin",
		"sender_email": admin.Email,
		"created_at":   docstore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("storing response to %s: %w", ticketID, err)
	}
	err = s.store.Update(ctx, types.CollectionTickets, ticketID, docstore.Record{
		"status":        types.TicketResponded,
		"last_response": docstore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("marking ticket %s responded: %w", ticketID, err)
	}
	s.ticketChanged(ctx, "ticket_responded", ticketID)
	return nil
}

func (s *Service) ticketChanged(ctx context.Context, action, ticketID string) {
	s.cache.InvalidatePattern(types.CollectionTickets)
	s.tracker.Track(ctx, action, activity.CategorySupport, map[string]any{"ticket_id": ticketID})
	slog.Info("Support ticket updated", "component", "dashboard", "ticket", ticketID, "action", action)
}
