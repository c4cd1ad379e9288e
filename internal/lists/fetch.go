package lists

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SyncDaily pulls the full feeds, merges them into storage and refreshes the
// snapshot.
func (s *Service) SyncDaily(ctx context.Context) error {
	return s.sync(ctx, s.feeds.daily, kvKeyLastDailyFetch, "daily")
}

// SyncHourly pulls only the incremental feed. The banlist table accumulates,
// so hourly syncs still grow the same snapshot.
func (s *Service) SyncHourly(ctx context.Context) error {
	return s.sync(ctx, s.feeds.hourly, kvKeyLastHourlyFetch, "hourly")
}

func (s *Service) sync(ctx context.Context, urls []string, kvKey, scope string) error {
	fetched, err := fetchIDFeeds(ctx, s.httpClient, urls)
	if err != nil {
		return fmt.Errorf("fetch %s feeds: %w", scope, err)
	}

	userIDs := make([]int64, 0, len(fetched))
	for userID := range fetched {
		userIDs = append(userIDs, userID)
	}
	if err := s.store.UpsertBanlist(ctx, userIDs); err != nil {
		return fmt.Errorf("upsert banlist: %w", err)
	}

	full, err := s.store.GetBanlist(ctx)
	if err != nil {
		return fmt.Errorf("get banlist: %w", err)
	}
	s.setKnownBanned(full)
	s.getLogEntry().WithField("scope", scope).WithField("count", len(full)).Debug("synced known spammer ids")

	// Bookkeeping failure only means an extra sync later, never a failed one.
	if err := s.store.SetKV(ctx, kvKey, time.Now().Format(time.RFC3339)); err != nil {
		s.getLogEntry().WithError(err).WithField("key", kvKey).Error("failed to record fetch time")
	}
	return nil
}

func (s *Service) lastFetch(ctx context.Context, key string) (time.Time, error) {
	val, err := s.store.GetKV(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("get %s: %w", key, err)
	}
	if val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return t, nil
}

func fetchIDFeeds(ctx context.Context, client *http.Client, urls []string) (map[int64]struct{}, error) {
	results := make(map[int64]struct{})
	for _, url := range urls {
		ids, err := fetchIDFeedWithRetry(ctx, client, url)
		if err != nil {
			return nil, err
		}
		for userID := range ids {
			results[userID] = struct{}{}
		}
	}
	return results, nil
}

func fetchIDFeedWithRetry(ctx context.Context, client *http.Client, url string) (map[int64]struct{}, error) {
	var lastErr error
	for attempt := range maxFetchRetries {
		ids, err := fetchIDFeed(ctx, client, url)
		if err == nil {
			return ids, nil
		}
		lastErr = err

		if attempt == maxFetchRetries-1 {
			break
		}

		backoff := time.Duration(attempt+1) * fetchRetryStep
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("fetch %s failed after retries: %w", url, lastErr)
}

// fetchIDFeed reads one plain-text feed of numeric user IDs, one per line.
func fetchIDFeed(ctx context.Context, client *http.Client, url string) (map[int64]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	results := make(map[int64]struct{})
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		userID, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse user ID %q: %w", line, err)
		}
		results[userID] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan response body: %w", err)
	}
	return results, nil
}
