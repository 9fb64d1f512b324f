// Package ocr wraps the Azure Document Intelligence read model. The client
// submits a document, polls the operation until it settles, and reports text
// plus a confidence the orchestrator gates on.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	apiVersion      = "2024-02-29-preview"
	defaultModel    = "prebuilt-read"
	pollInterval    = 2 * time.Second
	maxPollDuration = 90 * time.Second
)

// Result is one OCR pass. Usable() encodes the gating rule the orchestrator
// applies before trusting the text.
type Result struct {
	Succeeded        bool
	RawText          string
	Confidence       float64
	StructuredData   json.RawMessage
	ProcessingTimeMs int64
	Err              string
}

// Usable reports whether the OCR output is good enough to feed the analysis
// tier: either a substantial body of text, or a shorter one the service is
// confident about.
func (r Result) Usable() bool {
	if !r.Succeeded {
		return false
	}
	n := len(r.RawText)
	return n > 100 || (n > 50 && r.Confidence >= 0.7)
}

// Client calls Azure Document Intelligence.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates an OCR client. The limiter caps submissions at 1/s with
// a small burst, matching the service's S0 tier.
func NewClient(endpoint, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 3),
		logger:     logger,
	}
}

// Configured reports whether the client has credentials. An unconfigured
// client yields non-usable results so the cascade skips the tier.
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.apiKey != ""
}

type analyzeRequest struct {
	Base64Source string `json:"base64Source"`
}

type analyzeOperation struct {
	Status        string `json:"status"`
	AnalyzeResult *struct {
		Content string `json:"content"`
		Pages   []struct {
			Words []struct {
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"pages"`
	} `json:"analyzeResult"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze runs the read model over the document and returns text plus the
// mean word confidence.
func (c *Client) Analyze(ctx context.Context, data []byte, mimeType string) Result {
	start := time.Now()
	fail := func(format string, args ...any) Result {
		return Result{
			Succeeded:        false,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Err:              fmt.Sprintf(format, args...),
		}
	}

	if !c.Configured() {
		return fail("ocr not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fail("rate limit wait: %v", err)
	}

	opURL, err := c.submit(ctx, data)
	if err != nil {
		return fail("submit: %v", err)
	}

	op, err := c.poll(ctx, opURL)
	if err != nil {
		return fail("poll: %v", err)
	}
	if op.Status != "succeeded" || op.AnalyzeResult == nil {
		msg := op.Status
		if op.Error != nil {
			msg = fmt.Sprintf("%s: %s", op.Error.Code, op.Error.Message)
		}
		return fail("analysis %s", msg)
	}

	structured, _ := json.Marshal(op.AnalyzeResult)
	return Result{
		Succeeded:        true,
		RawText:          op.AnalyzeResult.Content,
		Confidence:       meanWordConfidence(op),
		StructuredData:   structured,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
}

func (c *Client) submit(ctx context.Context, data []byte) (string, error) {
	body, err := json.Marshal(analyzeRequest{Base64Source: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s", c.endpoint, c.model, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", fmt.Errorf("missing Operation-Location header")
	}
	return opURL, nil
}

func (c *Client) poll(ctx context.Context, opURL string) (*analyzeOperation, error) {
	deadline := time.Now().Add(maxPollDuration)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create poll request: %w", err)
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		var op analyzeOperation
		decodeErr := json.NewDecoder(resp.Body).Decode(&op)
		_ = resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode operation: %w", decodeErr)
		}

		switch op.Status {
		case "succeeded", "failed":
			return &op, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("operation still %s after %s", op.Status, maxPollDuration)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func meanWordConfidence(op *analyzeOperation) float64 {
	var sum float64
	var count int
	for _, page := range op.AnalyzeResult.Pages {
		for _, w := range page.Words {
			sum += w.Confidence
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
