// Package activity records admin actions as structured log events and,
// optionally, as documents in the admin_actions collection.
package activity

import (
	"context"
	"log/slog"
	"maps"

	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/session"
)

// Collection receives persisted actions.
const Collection = "admin_actions"

// Categories used across the dashboard.
const (
	CategoryUsers   = "user_management"
	CategoryKYC     = "kyc_verification"
	CategorySupport = "support_management"
)

// Sink persists an action document.
type Sink interface {
	Add(ctx context.Context, collection string, fields docstore.Record) (string, error)
}

// Tracker records admin actions. A nil *Tracker is valid and records nothing.
type Tracker struct {
	sink Sink
}

// New creates a tracker. sink may be nil to log only.
func New(sink Sink) *Tracker {
	return &Tracker{sink: sink}
}

// Track records action under category. The admin from ctx, if any, is
// attached. Sink failures are logged and otherwise ignored.
func (t *Tracker) Track(ctx context.Context, action, category string, fields map[string]any) {
	if t == nil {
		return
	}

	attrs := []any{"component", "activity", "action", action, "category", category}
	doc := docstore.Record{
		"action":    action,
		"category":  category,
		"timestamp": docstore.ServerTimestamp,
	}
	if admin, ok := session.FromContext(ctx); ok {
		attrs = append(attrs, "admin", admin.Email)
		doc["admin_email"] = admin.Email
	}
	if len(fields) > 0 {
		attrs = append(attrs, slog.Any("data", fields))
		doc["data"] = maps.Clone(fields)
	}
	slog.InfoContext(ctx, "Admin action", attrs...)

	if t.sink == nil {
		return
	}
	if _, err := t.sink.Add(ctx, Collection, doc); err != nil {
		slog.WarnContext(ctx, "Failed to persist admin action", "component", "activity", "action", action, "error", err)
	}
}
