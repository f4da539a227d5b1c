package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/smartdevs17/contract-risk-watcher/pkg/utils"
)

// HTTPConfig configures an HTTP sink
type HTTPConfig struct {
	Name          string
	URL           string
	Method        string
	Headers       map[string]string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Backoff       string // fixed, linear, exponential
}

// HTTPSink posts each record as a JSON document, e.g. to a Logstash http input
type HTTPSink struct {
	config     HTTPConfig
	httpClient *http.Client
	logger     *logrus.Entry
}

// deliveryResponse describes one POST attempt
type deliveryResponse struct {
	StatusCode   int
	ResponseTime time.Duration
	Success      bool
	Retryable    bool
	Error        error
	Body         string
}

// NewHTTPSink creates an HTTP sink
func NewHTTPSink(cfg HTTPConfig) (*HTTPSink, error) {
	if cfg.URL == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "HTTP sink URL is required")
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}

	return &HTTPSink{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: utils.ComponentLogger("http_sink").WithField("sink", cfg.Name),
	}, nil
}

// Name implements Sink
func (h *HTTPSink) Name() string { return h.config.Name }

// Close implements Sink
func (h *HTTPSink) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// Send posts the record, retrying transport errors and 5xx/429 responses
func (h *HTTPSink) Send(ctx context.Context, record *models.OutputRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeInternal, "Failed to marshal record", err)
	}

	var last *deliveryResponse
	for attempt := 1; attempt <= h.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			delay := h.calculateRetryDelay(attempt)
			h.logger.WithFields(logrus.Fields{
				"attempt":      attempt,
				"max_attempts": h.config.RetryAttempts,
				"delay":        delay,
			}).Debug("Retrying record delivery")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return deliveryError(h.config.Name, ctx.Err())
			}
		}

		last = h.sendOnce(ctx, payload)
		if last.Success {
			h.logger.WithFields(logrus.Fields{
				"contract":      record.ContractAddress,
				"status_code":   last.StatusCode,
				"response_time": last.ResponseTime,
			}).Debug("Record delivered")
			return nil
		}
		if !last.Retryable {
			break
		}
	}

	return deliveryError(h.config.Name, last.Error)
}

func (h *HTTPSink) sendOnce(ctx context.Context, payload []byte) *deliveryResponse {
	start := time.Now()
	response := &deliveryResponse{}

	req, err := http.NewRequestWithContext(ctx, h.config.Method, h.config.URL, bytes.NewReader(payload))
	if err != nil {
		response.Error = utils.WrapAppError(utils.ErrCodeInternal, "Failed to create sink request", err)
		return response
	}
	h.setRequestHeaders(req)

	resp, err := h.httpClient.Do(req)
	response.ResponseTime = time.Since(start)
	if err != nil {
		response.Error = utils.WrapAppError(utils.ErrCodeExternal, "Failed to send record", err)
		response.Retryable = ctx.Err() == nil
		return response
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	response.StatusCode = resp.StatusCode
	response.Body = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		response.Success = true
		return response
	}

	response.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	response.Error = utils.NewAppError(utils.ErrCodeExternal,
		"Sink returned non-success status",
		fmt.Sprintf("status: %d, body: %s", resp.StatusCode, response.Body))
	return response
}

// setRequestHeaders sets HTTP request headers
func (h *HTTPSink) setRequestHeaders(req *http.Request) {
	for key, value := range h.config.Headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "Contract-Risk-Watcher/1.0")
	}

	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if requestID, err := utils.GenerateID(); err == nil {
		req.Header.Set("X-Request-ID", requestID)
	}
}

// calculateRetryDelay calculates the delay before the given attempt (2..n).
// Growth stops at MaxRetryDelay so large attempt counts cannot overflow.
func (h *HTTPSink) calculateRetryDelay(attempt int) time.Duration {
	base := h.config.RetryDelay
	limit := h.config.MaxRetryDelay
	if base <= 0 {
		return 0
	}
	if base >= limit {
		return limit
	}

	delay := base
	switch h.config.Backoff {
	case "exponential":
		for i := 2; i < attempt && delay < limit; i++ {
			delay *= 2
		}
	case "linear":
		if steps := int64(attempt - 1); steps > 1 {
			if steps > int64(limit/base) {
				return limit
			}
			delay = base * time.Duration(steps)
		}
	}

	if delay > limit {
		delay = limit
	}
	return delay
}
