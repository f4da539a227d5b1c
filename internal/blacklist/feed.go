package blacklist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// HTTPFeed reads the blacklist as a JSON array of {address, comment}
type HTTPFeed struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewHTTPFeed creates a feed reading from url
func NewHTTPFeed(url string, headers map[string]string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFeed{
		url:     url,
		headers: headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch downloads and decodes the full list
func (f *HTTPFeed) Fetch(ctx context.Context) ([]models.BlacklistEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeInternal, "failed to create blacklist request", err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeExternal, "failed to fetch blacklist", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, utils.NewAppError(utils.ErrCodeExternal, "blacklist feed returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var entries []models.BlacklistEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeExternal, "failed to decode blacklist feed", err)
	}
	return entries, nil
}

// StaticFeed serves a fixed list, used when no remote feed is configured
type StaticFeed []models.BlacklistEntry

// Fetch returns the fixed entries
func (s StaticFeed) Fetch(context.Context) ([]models.BlacklistEntry, error) {
	out := make([]models.BlacklistEntry, len(s))
	copy(out, s)
	return out, nil
}
