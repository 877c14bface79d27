// Package notify delivers teacher and parent alert notifications to the
// platform's messaging endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
	"github.com/Timmutegi/ae-tuition-backend/pkg/circuitbreaker"
	"github.com/Timmutegi/ae-tuition-backend/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the delivery client.
type ClientConfig struct {
	// Endpoint receives POSTed notification requests.
	Endpoint string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint: endpoint,
		Timeout:  10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client posts dispatch requests as JSON. Transient failures are retried;
// repeated failures open a circuit breaker so a dead endpoint fails fast.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a new delivery client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	logger := config.Logger.With("component", "notify_client")

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		retrier: retry.NotificationRetrier(func(attempt int, err error, delay time.Duration) {
			logger.Warn("notification attempt failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
		breaker: circuitbreaker.NotificationBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
		logger: logger,
	}
}

// deliveryResponse is the optional body returned by the endpoint.
type deliveryResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// Dispatch sends req. Delivery failures wrap shared.ErrExternalService;
// an invalid request is rejected before any network call.
func (c *Client) Dispatch(ctx context.Context, req intervention.DispatchRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("notify: marshal request: %w", err)
	}

	var resp deliveryResponse
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.post(ctx, req, body, &resp)
		})
	})
	if err != nil {
		return fmt.Errorf("%w: notify %s for alert %s: %v",
			shared.ErrExternalService, req.RecipientRole, req.AlertID, err)
	}

	c.logger.Info("notification delivered",
		"alert_id", req.AlertID,
		"recipient_role", req.RecipientRole,
		"message_id", resp.MessageID,
	)
	return nil
}

func (c *Client) post(ctx context.Context, req intervention.DispatchRequest, body []byte, out *deliveryResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.AlertID.String()+":"+strings.ToLower(string(req.RecipientRole)))
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return retry.Permanent(err)
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		if retry.HTTPStatusRetryable(resp.StatusCode) {
			return retry.Retryable(statusErr)
		}
		return retry.Permanent(statusErr)
	}

	if len(respBody) > 0 {
		// The body is informational; a non-JSON 2xx is still a delivery.
		_ = json.Unmarshal(respBody, out)
	}
	return nil
}

// StatusError reports a non-2xx response from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("delivery endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("delivery endpoint returned %d: %s", e.StatusCode, e.Body)
}

var _ intervention.NotificationDispatcher = (*Client)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// LOG DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// LogDispatcher records notifications in the log instead of sending them.
// Used when no delivery endpoint is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a new LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger.With("component", "notify_log")}
}

// Dispatch logs req and reports shared.ErrNotificationNotSent.
func (d *LogDispatcher) Dispatch(_ context.Context, req intervention.DispatchRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	d.logger.Info("notification (not sent: no endpoint configured)",
		"alert_id", req.AlertID,
		"recipient_role", req.RecipientRole,
		"student_name", req.StudentName,
		"subject", req.Subject,
		"weeks_failing", req.WeeksFailing,
	)
	return fmt.Errorf("notify: %w", shared.ErrNotificationNotSent)
}

var _ intervention.NotificationDispatcher = (*LogDispatcher)(nil)

// New returns an HTTP client when endpoint is set and a LogDispatcher otherwise.
func New(config ClientConfig) intervention.NotificationDispatcher {
	if strings.TrimSpace(config.Endpoint) == "" {
		return NewLogDispatcher(config.Logger)
	}
	return NewClient(config)
}
