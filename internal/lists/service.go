// Package lists maintains the global reputation lists behind the network
// signals: a banlist of known spammer IDs synced from public text feeds and
// the operator-managed allowlist. The banlist is served from an in-memory
// snapshot refreshed on a schedule; the allowlist reads through to storage.
package lists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	feedBanlistDaily  = "https://lols.bot/spam/banlist.txt"
	feedBanlistHourly = "https://lols.bot/spam/banlist-1h.txt"
	feedScammers      = "https://lols.bot/scammers.txt"

	accountAPIURLTemplate = "https://api.lols.bot/account?id=%v"

	feedHTTPTimeout = 10 * time.Second
	maxFetchRetries = 3
	fetchRetryStep  = 300 * time.Millisecond

	kvKeyLastDailyFetch  = "last_daily_fetch"
	kvKeyLastHourlyFetch = "last_hourly_fetch"
)

// Store is the persistence the service needs: fetch bookkeeping in the kv
// table, the accumulated banlist, and the allowlist lookups.
type Store interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
	UpsertBanlist(ctx context.Context, userIDs []int64) error
	GetBanlist(ctx context.Context) (map[int64]struct{}, error)
	IsAllowlisted(ctx context.Context, userID int64) (bool, error)
}

type feedSet struct {
	daily   []string
	hourly  []string
	account string
}

// Service syncs the spammer ID feeds into storage and keeps a read-optimized
// snapshot for the per-message banlist checks. Start launches the refresh
// workers; lookups work before Start, off whatever the last sync persisted.
type Service struct {
	store      Store
	httpClient *http.Client
	feeds      feedSet

	knownBanned map[int64]struct{}
	mapMutex    sync.RWMutex

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewService(store Store) *Service {
	return &Service{
		store:      store,
		httpClient: &http.Client{Timeout: feedHTTPTimeout},
		feeds: feedSet{
			daily:   []string{feedScammers, feedBanlistDaily},
			hourly:  []string{feedBanlistHourly},
			account: accountAPIURLTemplate,
		},
		knownBanned: map[int64]struct{}{},
	}
}

func (s *Service) getLogEntry() *log.Entry {
	return log.WithField("object", "ListsService")
}

func (s *Service) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		if err := s.bootstrap(runCtx); err != nil && !isCanceled(err) {
			s.getLogEntry().WithError(err).Error("failed to bootstrap banlist")
		}
	}()

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.syncHourlyIfStale(runCtx); err != nil && !isCanceled(err) {
					s.getLogEntry().WithError(err).Error("failed to sync banlist feeds")
				}
			}
		}
	}()

	s.started = true
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// bootstrap warms the snapshot from storage before deciding whether the
// feeds are due. A restart inside the fetch window must not blind the
// banlist check until the next tick.
func (s *Service) bootstrap(ctx context.Context) error {
	persisted, err := s.store.GetBanlist(ctx)
	if err != nil {
		s.getLogEntry().WithError(err).Error("failed to load persisted banlist")
	} else {
		s.setKnownBanned(persisted)
	}

	lastDaily, err := s.lastFetch(ctx, kvKeyLastDailyFetch)
	if err != nil {
		s.getLogEntry().WithError(err).Error("failed to get last daily fetch time")
	}
	lastHourly, err := s.lastFetch(ctx, kvKeyLastHourlyFetch)
	if err != nil {
		s.getLogEntry().WithError(err).Error("failed to get last hourly fetch time")
	}

	if lastDaily.IsZero() || time.Since(lastDaily) >= 24*time.Hour {
		return s.SyncDaily(ctx)
	}
	if lastHourly.IsZero() || time.Since(lastHourly) >= time.Hour {
		return s.SyncHourly(ctx)
	}
	return nil
}

func (s *Service) syncHourlyIfStale(ctx context.Context) error {
	lastFetch, err := s.lastFetch(ctx, kvKeyLastHourlyFetch)
	if err != nil {
		return fmt.Errorf("get last hourly fetch: %w", err)
	}
	if !lastFetch.IsZero() && time.Since(lastFetch) < time.Hour {
		return nil
	}
	return s.SyncHourly(ctx)
}

// IsBanlisted serves from the in-memory snapshot so the per-message hot path
// never waits on storage or the network.
func (s *Service) IsBanlisted(_ context.Context, userID int64) (bool, error) {
	return s.isKnownBanned(userID), nil
}

// IsAllowlisted reads through to storage. Allowlist entries are rare and
// operator-curated, so there is no snapshot to keep coherent.
func (s *Service) IsAllowlisted(ctx context.Context, userID int64) (bool, error) {
	return s.store.IsAllowlisted(ctx, userID)
}

// CheckBan asks the live account API about one user, falling back to the
// snapshot first. A positive answer is remembered so repeat joins of the
// same spammer stay local.
func (s *Service) CheckBan(ctx context.Context, userID int64) (bool, error) {
	if s.isKnownBanned(userID) {
		return true, nil
	}

	url := fmt.Sprintf(s.feeds.account, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var banInfo struct {
		OK         bool    `json:"ok"`
		UserID     int64   `json:"user_id"`
		Banned     bool    `json:"banned"`
		When       string  `json:"when"`
		Offenses   int     `json:"offenses"`
		SpamFactor float64 `json:"spam_factor"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&banInfo); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	if banInfo.Banned {
		s.markKnownBanned(userID)
	}
	return banInfo.Banned, nil
}

func (s *Service) isKnownBanned(userID int64) bool {
	s.mapMutex.RLock()
	defer s.mapMutex.RUnlock()
	_, banned := s.knownBanned[userID]
	return banned
}

func (s *Service) setKnownBanned(banned map[int64]struct{}) {
	snapshot := make(map[int64]struct{}, len(banned))
	for userID := range banned {
		snapshot[userID] = struct{}{}
	}
	s.mapMutex.Lock()
	s.knownBanned = snapshot
	s.mapMutex.Unlock()
}

func (s *Service) markKnownBanned(userID int64) {
	s.mapMutex.Lock()
	s.knownBanned[userID] = struct{}{}
	s.mapMutex.Unlock()
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
