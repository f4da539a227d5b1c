// Package blacklist keeps the set of known-bad deployer addresses.
package blacklist

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// Feed retrieves the full blacklist from its authoritative source
type Feed interface {
	Fetch(ctx context.Context) ([]models.BlacklistEntry, error)
}

// Persister stores the last good blacklist so restarts survive a dead feed
type Persister interface {
	SaveBlacklist(ctx context.Context, entries []models.BlacklistEntry) error
	GetBlacklist(ctx context.Context) ([]models.BlacklistEntry, error)
}

// Snapshot is an immutable view of the blacklist at one point in time
type Snapshot struct {
	entries map[string]string
	loaded  time.Time
}

// Contains reports whether address is listed, with the listing comment.
// Matching is exact and case-sensitive; the empty address never matches.
func (s *Snapshot) Contains(address string) (string, bool) {
	if s == nil || address == "" {
		return "", false
	}
	comment, ok := s.entries[address]
	return comment, ok
}

// Len returns the number of listed addresses
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// LoadedAt returns when the snapshot contents were obtained
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loaded
}

// Entries returns a copy of the listed entries
func (s *Snapshot) Entries() []models.BlacklistEntry {
	if s == nil {
		return nil
	}
	out := make([]models.BlacklistEntry, 0, len(s.entries))
	for addr, comment := range s.entries {
		out = append(out, models.BlacklistEntry{Address: addr, Comment: comment})
	}
	return out
}

func newSnapshot(entries []models.BlacklistEntry, loaded time.Time) *Snapshot {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Address == "" {
			continue
		}
		// Later duplicates win.
		m[e.Address] = e.Comment
	}
	return &Snapshot{entries: m, loaded: loaded}
}

// Store holds the current blacklist and replaces it wholesale on refresh
type Store struct {
	feed      Feed
	persister Persister
	logger    *logrus.Entry

	mu          sync.RWMutex
	current     *Snapshot
	lastRefresh time.Time
	lastError   error
	refreshes   int64
	failures    int64
}

// StoreStats describes the store state
type StoreStats struct {
	Size            int       `json:"size"`
	LoadedAt        time.Time `json:"loaded_at"`
	LastRefresh     time.Time `json:"last_refresh"`
	LastError       string    `json:"last_error,omitempty"`
	Refreshes       int64     `json:"refreshes"`
	RefreshFailures int64     `json:"refresh_failures"`
}

// NewStore creates an empty store. persister may be nil.
func NewStore(feed Feed, persister Persister) *Store {
	return &Store{
		feed:      feed,
		persister: persister,
		logger:    utils.ComponentLogger("blacklist"),
		current:   newSnapshot(nil, time.Time{}),
	}
}

// Seed loads the persisted snapshot, if any
func (s *Store) Seed(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	entries, err := s.persister.GetBlacklist(ctx)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "failed to load persisted blacklist", err)
	}

	s.mu.Lock()
	s.current = newSnapshot(entries, time.Now())
	s.mu.Unlock()

	s.logger.WithField("entries", len(entries)).Info("Blacklist seeded from storage")
	return nil
}

// HasFeed reports whether the store has a source to refresh from. Without
// one the seeded snapshot is authoritative.
func (s *Store) HasFeed() bool {
	return s.feed != nil
}

// Refresh replaces the whole set with the feed's current contents. On
// failure the previous set stays in place and the error is returned.
func (s *Store) Refresh(ctx context.Context) ([]models.BlacklistEntry, error) {
	if s.feed == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "blacklist feed not configured")
	}

	entries, err := s.feed.Fetch(ctx)
	now := time.Now()

	s.mu.Lock()
	s.lastRefresh = now
	s.refreshes++
	if err != nil {
		s.failures++
		s.lastError = err
		s.mu.Unlock()

		s.logger.WithError(err).Warn("Blacklist refresh failed, keeping previous contents")
		return nil, err
	}
	s.current = newSnapshot(entries, now)
	s.lastError = nil
	s.mu.Unlock()

	s.logger.WithField("entries", len(entries)).Debug("Blacklist refreshed")

	if s.persister != nil {
		if perr := s.persister.SaveBlacklist(ctx, entries); perr != nil {
			s.logger.WithError(perr).Warn("Failed to persist blacklist snapshot")
		}
	}

	return entries, nil
}

// Contains checks address against the current set
func (s *Store) Contains(address string) (string, bool) {
	return s.Snapshot().Contains(address)
}

// Snapshot returns the current immutable set
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// GetStats returns store statistics
func (s *Store) GetStats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{
		Size:            s.current.Len(),
		LoadedAt:        s.current.LoadedAt(),
		LastRefresh:     s.lastRefresh,
		Refreshes:       s.refreshes,
		RefreshFailures: s.failures,
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}
