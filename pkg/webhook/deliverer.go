package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/complianceai/certpipe/pkg/contracts"
)

const (
	defaultTimeout = 30 * time.Second
	breakerTrip    = 5
	breakerCool    = 120 * time.Second
)

// ErrBreakerOpen marks attempts refused by an open per-host breaker; the
// caller schedules a retry without counting an endpoint failure.
var ErrBreakerOpen = errors.New("webhook: host circuit open")

// Deliverer performs one HTTP POST per delivery attempt, signing and
// authenticating per the endpoint configuration.
type Deliverer struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDeliverer creates a deliverer.
func NewDeliverer(logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *Deliverer) breakerFor(host string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: breakerCool,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("webhook breaker state change", "host", name, "from", from.String(), "to", to.String())
		},
	})
	d.breakers[host] = cb
	return cb
}

// Attempt is the outcome of one POST.
type Attempt struct {
	StatusCode   int
	ResponseBody string
	Err          error
}

// Success reports whether the endpoint acknowledged the delivery.
func (a Attempt) Success() bool {
	return a.Err == nil && a.StatusCode >= 200 && a.StatusCode < 300
}

// Deliver POSTs the body to the endpoint through its host breaker.
func (d *Deliverer) Deliver(ctx context.Context, ep *contracts.WebhookEndpoint, eventType, deliveryID string, body []byte) Attempt {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return Attempt{Err: fmt.Errorf("bad endpoint url: %w", err)}
	}

	timeout := defaultTimeout
	if ep.TimeoutSecs > 0 {
		timeout = time.Duration(ep.TimeoutSecs) * time.Second
	}

	result, err := d.breakerFor(u.Host).Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return d.post(ctx, ep, eventType, deliveryID, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Attempt{Err: fmt.Errorf("%w: %s", ErrBreakerOpen, u.Host)}
	}

	// Execute hands back the callback's result even on error, so a non-2xx
	// response keeps its status code.
	attempt, _ := result.(Attempt)
	if err != nil && attempt.StatusCode == 0 {
		attempt.Err = err
	}
	return attempt
}

func (d *Deliverer) post(ctx context.Context, ep *contracts.WebhookEndpoint, eventType, deliveryID string, body []byte) (Attempt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return Attempt{}, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Source", "ComplianceAI")
	req.Header.Set("X-Webhook-Event", eventType)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	for k, v := range ep.CustomHeaders {
		req.Header.Set(k, v)
	}

	switch ep.AuthMode {
	case contracts.WebhookAuthAPIKey:
		req.Header.Set("X-API-Key", ep.Secret)
	case contracts.WebhookAuthBearer:
		req.Header.Set("Authorization", "Bearer "+ep.Secret)
	case contracts.WebhookAuthHMAC:
		req.Header.Set("X-Webhook-Signature", Sign(body, ep.Secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Attempt{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt := Attempt{StatusCode: resp.StatusCode, ResponseBody: string(respBody)}
	if !attempt.Success() {
		// Feed the breaker: non-2xx counts as a host failure.
		return attempt, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return attempt, nil
}
