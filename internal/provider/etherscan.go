// Package provider talks to an Etherscan-compatible explorer API for
// contract discovery and enrichment.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

var (
	// ErrNotFound means the explorer has no data for the request
	ErrNotFound = errors.New("no data found")
	// ErrRateLimited means the explorer rejected the request for rate limiting
	ErrRateLimited = errors.New("rate limited")
)

// Config holds explorer client settings
type Config struct {
	BaseURL     string
	APIKey      string
	ChainID     string
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	LogAddress  string
	LogTopic    string
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an Etherscan API client
type Client struct {
	config Config
	hc     httpDoer
	logger *logrus.Entry
}

// NewClient creates an explorer client. hc may be nil.
func NewClient(cfg Config, hc *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "explorer base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "explorer API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if hc == nil {
		hc = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
	return &Client{
		config: cfg,
		hc:     hc,
		logger: utils.ComponentLogger("etherscan"),
	}, nil
}

// GetSource returns the interface definition and verification state.
// Unverified contracts yield a nil interface and SourceVerified=false.
func (c *Client) GetSource(ctx context.Context, address string) (*models.ContractSource, error) {
	var results []sourceCode
	err := c.get(ctx, url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address},
	}, &results)
	if errors.Is(err, ErrNotFound) {
		return &models.ContractSource{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &models.ContractSource{}, nil
	}

	sc := results[0]
	src := &models.ContractSource{
		SourceVerified: strings.TrimSpace(sc.SourceCode) != "",
		ContractName:   sc.ContractName,
	}
	if abi := strings.TrimSpace(sc.ABI); abi != "" && abi != unverifiedABI {
		src.InterfaceDefinition = &abi
	}
	return src, nil
}

// GetCreationTime returns the timestamp of the earliest internal
// transaction touching address, or nil when there is none.
func (c *Client) GetCreationTime(ctx context.Context, address string) (*time.Time, error) {
	var txs []internalTx
	err := c.get(ctx, url.Values{
		"module":     {"account"},
		"action":     {"txlistinternal"},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"page":       {"1"},
		"offset":     {"1"},
		"sort":       {"asc"},
	}, &txs)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}

	secs, err := strconv.ParseInt(txs[0].TimeStamp, 10, 64)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeExternal, "invalid transaction timestamp", err)
	}
	ts := time.Unix(secs, 0).UTC()
	return &ts, nil
}

// GetTransactionCount returns the account nonce of address
func (c *Client) GetTransactionCount(ctx context.Context, address string) (*uint64, error) {
	var hex string
	err := c.proxy(ctx, url.Values{
		"action":  {"eth_getTransactionCount"},
		"address": {address},
		"tag":     {"latest"},
	}, &hex)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	count, err := utils.ParseHexUint64(hex)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeExternal, "invalid transaction count", err)
	}
	return &count, nil
}

// BlockNumber returns the latest block height
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.proxy(ctx, url.Values{"action": {"eth_blockNumber"}}, &hex); err != nil {
		return 0, err
	}
	n, err := utils.ParseHexUint64(hex)
	if err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeExternal, "invalid block number", err)
	}
	return n, nil
}

// GetDeployments lists contract deployments recorded in [from, to]
func (c *Client) GetDeployments(ctx context.Context, from, to uint64) ([]models.ContractCandidate, error) {
	params := url.Values{
		"module":    {"logs"},
		"action":    {"getLogs"},
		"fromBlock": {strconv.FormatUint(from, 10)},
		"toBlock":   {strconv.FormatUint(to, 10)},
	}
	if c.config.LogAddress != "" {
		params.Set("address", c.config.LogAddress)
	}
	if c.config.LogTopic != "" {
		params.Set("topic0", c.config.LogTopic)
	}

	var entries []logEntry
	err := c.get(ctx, params, &entries)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	candidates := make([]models.ContractCandidate, 0, len(entries))
	for _, e := range entries {
		candidate := e.candidate()
		if candidate.ContractAddress == "" {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (e logEntry) candidate() models.ContractCandidate {
	c := models.ContractCandidate{
		ContractAddress: e.ContractAddress,
		CreatorAddress:  e.CreatorAddress,
		TxHash:          e.TransactionHash,
	}
	if c.ContractAddress == "" {
		c.ContractAddress = e.Address
	}
	if c.CreatorAddress == "" {
		c.CreatorAddress = e.From
	}
	if n, err := parseQuantity(e.BlockNumber); err == nil {
		c.BlockNumber = n
	}
	return c
}

// parseQuantity accepts both hex (0x-prefixed) and decimal block numbers
func parseQuantity(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return utils.ParseHexUint64(s)
	}
	return strconv.ParseUint(s, 10, 64)
}

// get performs a module/action request and decodes result into out
func (c *Client) get(ctx context.Context, params url.Values, out interface{}) error {
	body, err := c.do(ctx, params)
	if err != nil {
		return err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return utils.WrapAppError(utils.ErrCodeExternal, "failed to decode explorer response", err)
	}
	if resp.Status != "1" {
		return classify(resp.Message, resp.Result)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return utils.WrapAppError(utils.ErrCodeExternal, "unexpected explorer result", err)
	}
	return nil
}

// proxy performs a module=proxy JSON-RPC passthrough request
func (c *Client) proxy(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("module", "proxy")
	body, err := c.do(ctx, params)
	if err != nil {
		return err
	}

	var resp proxyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return utils.WrapAppError(utils.ErrCodeExternal, "failed to decode proxy response", err)
	}
	if resp.Error != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "proxy call failed",
			fmt.Sprintf("rpc %d: %s", resp.Error.Code, resp.Error.Message))
	}
	// Rate-limit and key errors come back in the plain envelope.
	if resp.JSONRPC == "" {
		var env response
		if err := json.Unmarshal(body, &env); err == nil && env.Status == "0" {
			return classify(env.Message, env.Result)
		}
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return utils.WrapAppError(utils.ErrCodeExternal, "unexpected proxy result", err)
	}
	return nil
}

// classify maps an explorer error envelope to an error
func classify(message string, result json.RawMessage) error {
	var detail string
	if err := json.Unmarshal(result, &detail); err != nil {
		detail = string(result)
	}
	text := strings.ToLower(message + " " + detail)

	switch {
	case strings.Contains(text, "no transactions found"),
		strings.Contains(text, "no records found"),
		strings.Contains(text, "no data found"):
		return ErrNotFound
	case strings.Contains(text, "rate limit"):
		return fmt.Errorf("%w: %s", ErrRateLimited, detail)
	default:
		return utils.NewAppError(utils.ErrCodeExternal, "explorer request failed",
			fmt.Sprintf("%s: %s", message, detail))
	}
}

// do executes the request with retry on transport errors, 5xx, 429 and
// explorer rate limiting
func (c *Client) do(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("apikey", c.config.APIKey)
	if c.config.ChainID != "" {
		params.Set("chainid", c.config.ChainID)
	}
	endpoint := c.config.BaseURL + "?" + params.Encode()

	var lastErr error
	attempts := c.config.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.config.BackoffBase * (1 << (attempt - 1))
			c.logger.WithFields(logrus.Fields{
				"action":  params.Get("action"),
				"attempt": attempt + 1,
				"delay":   delay,
				"error":   lastErr,
			}).Debug("Retrying explorer request")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		body, retry, err := c.doOnce(ctx, endpoint)
		if err == nil {
			if isRateLimitBody(body) {
				lastErr = ErrRateLimited
				continue
			}
			return body, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, endpoint string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, utils.WrapAppError(utils.ErrCodeInternal, "failed to create explorer request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, true, utils.WrapAppError(utils.ErrCodeExternal, "explorer request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, true, utils.WrapAppError(utils.ErrCodeExternal, "failed to read explorer response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: http %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, utils.NewAppError(utils.ErrCodeExternal, "explorer server error",
			fmt.Sprintf("http %d", resp.StatusCode))
	case resp.StatusCode/100 != 2:
		return nil, false, utils.NewAppError(utils.ErrCodeExternal, "explorer rejected request",
			fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(string(body), 256)))
	}
	return body, false, nil
}

func isRateLimitBody(body []byte) bool {
	var env response
	if err := json.Unmarshal(body, &env); err != nil || env.Status != "0" {
		return false
	}
	return errors.Is(classify(env.Message, env.Result), ErrRateLimited)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
