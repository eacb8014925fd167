package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/balaan/admindash/pkg/types"
)

// Source yields the crashes reported since the last poll.
type Source interface {
	Recent(ctx context.Context) ([]types.Crash, error)
}

// HTTPDoer provides an interface for making HTTP requests.
// This allows us to mock HTTP calls in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource polls a crash-reporting endpoint returning a JSON array of
// crashes.
type HTTPSource struct {
	Client HTTPDoer
	URL    string
	Token  string // optional bearer token
	Retry  RetryPolicy
}

// maxResponseBytes caps a crash feed response.
const maxResponseBytes = 10 << 20

// Recent implements Source. Rate limiting and server errors are retried.
func (s *HTTPSource) Recent(ctx context.Context) ([]types.Crash, error) {
	policy := s.Retry
	if policy.Attempts == 0 {
		policy = DefaultRetry
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	var crashes []types.Crash
	err := retryWithBackoff(ctx, policy, "GET crash feed", isTransient, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if s.Token != "" {
			req.Header.Set("Authorization", "Bearer "+s.Token)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w: %w", errTransient, err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				slog.Debug("Failed to close response body", "component", "ingest", "error", err)
			}
		}()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("http %d: rate limited: %w", resp.StatusCode, errTransient)
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("http %d: server error: %w", resp.StatusCode, errTransient)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("http %d from crash feed", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("reading crash feed: %w: %w", errTransient, err)
		}
		crashes = nil
		if err := json.Unmarshal(body, &crashes); err != nil {
			return fmt.Errorf("decoding crash feed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return crashes, nil
}

// StaticSource returns the same crashes on every poll.
type StaticSource []types.Crash

// Recent implements Source.
func (s StaticSource) Recent(context.Context) ([]types.Crash, error) {
	out := make([]types.Crash, len(s))
	copy(out, s)
	return out, nil
}
