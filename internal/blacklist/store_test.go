package blacklist

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFeed struct {
	mu      sync.Mutex
	results [][]models.BlacklistEntry
	errs    []error
	calls   int
}

func (f *scriptedFeed) Fetch(context.Context) ([]models.BlacklistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.results[i], nil
}

type memoryPersister struct {
	saved []models.BlacklistEntry
	err   error
}

func (m *memoryPersister) SaveBlacklist(_ context.Context, entries []models.BlacklistEntry) error {
	m.saved = append([]models.BlacklistEntry(nil), entries...)
	return nil
}

func (m *memoryPersister) GetBlacklist(context.Context) ([]models.BlacklistEntry, error) {
	return m.saved, m.err
}

func TestStoreStartsEmpty(t *testing.T) {
	s := NewStore(StaticFeed{}, nil)
	_, ok := s.Contains("0xabc")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestRefreshReplacesWholeSet(t *testing.T) {
	feed := &scriptedFeed{results: [][]models.BlacklistEntry{
		{{Address: "0xA", Comment: "first"}, {Address: "0xB", Comment: "second"}},
		{{Address: "0xC", Comment: "third"}},
	}}
	s := NewStore(feed, nil)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	comment, ok := s.Contains("0xA")
	assert.True(t, ok)
	assert.Equal(t, "first", comment)

	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	_, ok = s.Contains("0xA")
	assert.False(t, ok, "entries absent from the new feed must disappear")
	_, ok = s.Contains("0xC")
	assert.True(t, ok)
}

func TestRefreshFailureKeepsPreviousContents(t *testing.T) {
	feed := &scriptedFeed{
		results: [][]models.BlacklistEntry{{{Address: "0xA", Comment: "scam"}}, nil},
		errs:    []error{nil, errors.New("feed down")},
	}
	s := NewStore(feed, nil)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	_, err = s.Refresh(context.Background())
	require.Error(t, err)

	comment, ok := s.Contains("0xA")
	assert.True(t, ok)
	assert.Equal(t, "scam", comment)

	stats := s.GetStats()
	assert.Equal(t, int64(2), stats.Refreshes)
	assert.Equal(t, int64(1), stats.RefreshFailures)
	assert.Equal(t, "feed down", stats.LastError)
}

func TestSnapshotIsStableAcrossRefresh(t *testing.T) {
	feed := &scriptedFeed{results: [][]models.BlacklistEntry{
		{{Address: "0xA"}},
		{{Address: "0xB"}},
	}}
	s := NewStore(feed, nil)
	_, _ = s.Refresh(context.Background())

	snap := s.Snapshot()
	_, _ = s.Refresh(context.Background())

	_, ok := snap.Contains("0xA")
	assert.True(t, ok)
	_, ok = snap.Contains("0xB")
	assert.False(t, ok)
}

func TestContainsIsExact(t *testing.T) {
	s := NewStore(StaticFeed{{Address: "0xAbC", Comment: "x"}, {Address: "", Comment: "blank"}}, nil)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	_, ok := s.Contains("0xabc")
	assert.False(t, ok)
	_, ok = s.Contains("")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Snapshot().Len())
}

func TestPersistAndSeed(t *testing.T) {
	p := &memoryPersister{}
	s := NewStore(StaticFeed{{Address: "0xA", Comment: "drainer"}}, p)
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, p.saved, 1)

	failing := &scriptedFeed{results: [][]models.BlacklistEntry{nil}, errs: []error{errors.New("boom")}}
	restarted := NewStore(failing, p)
	require.NoError(t, restarted.Seed(context.Background()))
	_, err = restarted.Refresh(context.Background())
	require.Error(t, err)

	comment, ok := restarted.Contains("0xA")
	assert.True(t, ok)
	assert.Equal(t, "drainer", comment)
}

func TestSeedWithoutFeedIsKept(t *testing.T) {
	p := &memoryPersister{saved: []models.BlacklistEntry{{Address: "0xA", Comment: "drainer"}}}
	s := NewStore(nil, p)
	assert.False(t, s.HasFeed())
	require.NoError(t, s.Seed(context.Background()))

	_, err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Len(t, p.saved, 1, "persisted table is untouched")

	comment, ok := s.Contains("0xA")
	assert.True(t, ok)
	assert.Equal(t, "drainer", comment)
	assert.True(t, NewStore(StaticFeed(nil), nil).HasFeed())
}

func TestHTTPFeed(t *testing.T) {
	t.Run("decodes entries", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"address":"0xA","comment":"rug pull"},{"address":"0xB","comment":""}]`))
		}))
		defer srv.Close()

		feed := NewHTTPFeed(srv.URL, map[string]string{"X-Api-Key": "secret"}, 0)
		entries, err := feed.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []models.BlacklistEntry{
			{Address: "0xA", Comment: "rug pull"},
			{Address: "0xB", Comment: ""},
		}, entries)
	})

	t.Run("non success status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPFeed(srv.URL, nil, 0).Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not":"an array"}`))
		}))
		defer srv.Close()

		_, err := NewHTTPFeed(srv.URL, nil, 0).Fetch(context.Background())
		assert.Error(t, err)
	})
}
