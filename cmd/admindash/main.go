// Package main implements the admin dashboard CLI: headline statistics, KYC
// review, crash and promotion reports, and paginated collection listings.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/balaan/admindash/pkg/activity"
	"github.com/balaan/admindash/pkg/cache"
	"github.com/balaan/admindash/pkg/config"
	"github.com/balaan/admindash/pkg/dashboard"
	"github.com/balaan/admindash/pkg/docstore"
	"github.com/balaan/admindash/pkg/pagination"
	"github.com/balaan/admindash/pkg/session"
)

var (
	verbose    = flag.Bool("v", false, "Verbose output with detailed diagnostics")
	envFile    = flag.String("env", ".env", "Environment file to load if present")
	token      = flag.String("token", "", "Admin session token (required for kyc decisions)")
	admin      = flag.String("admin", "", "Admin email to issue a session token for (token command)")
	collection = flag.String("collection", "salons", "Collection to list (page command)")
	pageNum    = flag.Int("page", 1, "Page number to list (page command)")
	pageSize   = flag.Int("page-size", pagination.DefaultPageSize, "Items per page (page command)")
	orderBy    = flag.String("order-by", pagination.DefaultOrderField, "Order field (page command)")
	salonID    = flag.String("salon", "", "Salon id (approve/reject commands)")
	reason     = flag.String("reason", "", "Rejection reason (reject command)")
	userID     = flag.String("user", "", "User id (ban/unban commands)")
	ticketID   = flag.String("ticket", "", "Ticket id (resolve/respond commands)")
	message    = flag.String("message", "", "Response text (respond command)")
	sessions   = flag.Int("sessions", 0, "App sessions in the reporting window (crashes command)")
	limit      = flag.Int("limit", 50, "Recent crashes to analyze (crashes command)")
)

var commands = []string{
	"summary", "kyc", "analytics", "users", "tickets", "crashes", "compensations", "promos", "page",
	"approve", "reject", "ban", "unban", "resolve", "respond", "token",
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands: %v\n\n", commands)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s summary\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -collection support_tickets -page 2 page\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -token $TOKEN -salon s1 approve\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -token $TOKEN -ticket t1 -message \"Bonjour\" respond\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if err := run(context.Background(), flag.Arg(0)); err != nil {
		slog.Error("Command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string) error {
	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}

	if cmd == "token" {
		iss, err := cfg.Issuer()
		if err != nil {
			return err
		}
		tok, err := iss.Issue(*admin)
		if err != nil {
			return fmt.Errorf("issuing token for %q: %w", *admin, err)
		}
		fmt.Println(tok)
		return nil
	}

	if *token != "" {
		iss, err := cfg.Issuer()
		if err != nil {
			return err
		}
		a, err := iss.Verify(*token)
		if err != nil {
			return err
		}
		ctx = session.WithAdmin(ctx, a)
		slog.Debug("Session verified", "email", a.Email, "expires", a.ExpiresAt)
	}

	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	c, err := cfg.OpenCache(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Teardown(); err != nil {
			slog.Warn("Cache teardown failed", "error", err)
		}
	}()

	tracker := activity.New(store)
	svc := dashboard.New(store, c, dashboard.Config{Tracker: tracker})

	switch cmd {
	case "summary":
		return printResult(svc.Summary(ctx))
	case "kyc":
		return printResult(svc.KYCStats(ctx))
	case "analytics":
		return printResult(svc.SalonAnalytics(ctx))
	case "users":
		return printResult(svc.UserStats(ctx))
	case "tickets":
		return printResult(svc.TicketStats(ctx))
	case "crashes":
		crashes, err := svc.RecentCrashes(ctx, *limit)
		if err != nil {
			return err
		}
		return printResult(dashboard.Overview(crashes, *sessions), nil)
	case "compensations":
		return printResult(svc.Compensations(ctx))
	case "promos":
		return printResult(svc.PromoStats(ctx))
	case "approve", "reject":
		if *salonID == "" {
			return errors.New("-salon is required")
		}
		if err := svc.DecideKYC(ctx, *salonID, cmd == "approve", *reason); err != nil {
			return err
		}
		fmt.Printf("✅ Salon %s: KYC %sd\n", *salonID, cmd)
		return nil
	case "ban", "unban":
		if *userID == "" {
			return errors.New("-user is required")
		}
		if err := svc.SetBanned(ctx, *userID, cmd == "ban"); err != nil {
			return err
		}
		fmt.Printf("✅ User %s: %sned\n", *userID, cmd)
		return nil
	case "resolve":
		if *ticketID == "" {
			return errors.New("-ticket is required")
		}
		if err := svc.ResolveTicket(ctx, *ticketID); err != nil {
			return err
		}
		fmt.Printf("✅ Ticket %s resolved\n", *ticketID)
		return nil
	case "respond":
		if *ticketID == "" {
			return errors.New("-ticket is required")
		}
		if err := svc.RespondTicket(ctx, *ticketID, *message); err != nil {
			return err
		}
		fmt.Printf("✅ Response sent on ticket %s\n", *ticketID)
		return nil
	case "page":
		return listPage(ctx, store, c, tracker)
	}
	return fmt.Errorf("unknown command %q (want one of %v)", cmd, commands)
}

// listPage walks a Reader forward to the requested page so each page's cursor
// is learned along the way, then prints it.
func listPage(ctx context.Context, store docstore.Store, c *cache.Cache, tracker *activity.Tracker) error {
	r := pagination.New(store, c, pagination.Config{
		Tracker:    tracker,
		Collection: *collection,
		OrderField: *orderBy,
		PageSize:   *pageSize,
	})
	total, err := r.LoadTotalCount(ctx, false)
	if err != nil {
		return err
	}
	items, err := r.LoadPage(ctx, 1, false)
	if err != nil {
		return err
	}
	for r.CurrentPage() < *pageNum && r.HasMore() {
		if items, err = r.LoadNext(ctx); err != nil {
			return err
		}
	}

	fmt.Printf("📋 %s: page %d of %d (%d total)\n", *collection, r.CurrentPage(), r.TotalPages(), total)
	return printResult(items, nil)
}

func printResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
