package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// ErrLLM is a transport or service failure; the queue may retry the job.
var ErrLLM = errors.New("llm request failed")

// ErrInvalidJSON means the model replied without a parseable JSON block;
// terminal for this tier, the orchestrator escalates.
var ErrInvalidJSON = errors.New("llm response contained no valid JSON")

// Request is one analysis call. Either ImageData+ImageMime or Text feeds the
// model alongside the category prompt.
type Request struct {
	Category  string
	ImageData []byte
	ImageMime string
	Text      string
}

// Analysis is the structured result of one model call.
type Analysis struct {
	Data             json.RawMessage
	Confidence       float64
	Model            string
	PromptVersion    string
	ProcessingTimeMs int64
	CostUSD          float64
}

// Client drives the Claude multimodal model.
type Client struct {
	api     anthropic.Client
	model   string
	prompts *PromptRegistry
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a vision client. The API key comes from the standard
// ANTHROPIC_API_KEY environment variable resolved by the SDK.
func NewClient(model string, prompts *PromptRegistry, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:     anthropic.NewClient(option.WithMaxRetries(0)),
		model:   model,
		prompts: prompts,
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		logger:  logger,
	}
}

// Costs per million tokens, used for the audit-row cost estimate.
const (
	inputCostPerMTok  = 3.0
	outputCostPerMTok = 15.0
)

// Analyze submits the document to the model and parses its JSON reply.
// Confidence is synthesised: 0.85 when image or usable text accompanied the
// prompt, 0.5 when only the prompt was sent.
func (c *Client) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	start := time.Now()

	prompt, version, specific := c.prompts.Resolve(req.Category)
	if !specific {
		c.logger.Debug("no category prompt, using generic", "category", req.Category)
	}

	hasText := len(strings.TrimSpace(req.Text)) > 50
	blocks := []anthropic.ContentBlockParamUnion{}
	switch {
	case len(req.ImageData) > 0:
		blocks = append(blocks,
			anthropic.NewImageBlockBase64(req.ImageMime, base64.StdEncoding.EncodeToString(req.ImageData)),
			anthropic.NewTextBlock(prompt),
		)
	case hasText:
		blocks = append(blocks,
			anthropic.NewTextBlock(prompt+"\n\nDocument text:\n"+req.Text),
		)
	default:
		blocks = append(blocks, anthropic.NewTextBlock(prompt))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLM, err)
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLM, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	data, err := extractJSON(text.String())
	if err != nil {
		return nil, err
	}

	confidence := 0.5
	if len(req.ImageData) > 0 || hasText {
		confidence = 0.85
	}

	cost := float64(msg.Usage.InputTokens)/1e6*inputCostPerMTok +
		float64(msg.Usage.OutputTokens)/1e6*outputCostPerMTok

	return &Analysis{
		Data:             data,
		Confidence:       confidence,
		Model:            c.model,
		PromptVersion:    version,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		CostUSD:          cost,
	}, nil
}

// extractJSON pulls the first balanced JSON object out of a model reply,
// tolerating markdown fences and prose around it.
func extractJSON(s string) (json.RawMessage, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, ErrInvalidJSON
	}
	candidate := s[start : end+1]

	var probe map[string]any
	if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return json.RawMessage(candidate), nil
}
