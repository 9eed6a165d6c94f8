// Package vision adapts a vision-language model into the structured payment
// extractor. The model is a black box; its output is validated at this
// boundary and never trusted downstream.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"payproof/internal/extraction"
	"payproof/internal/platform/config"
	"payproof/internal/ratelimit"
	"payproof/pkg/platform/circuit"
)

// Client implements extraction.StructuredExtractor backed by Gemini.
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	policy  extraction.RetryPolicy
	limiter *ratelimit.Bucket
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func New(ctx context.Context, cfg config.VisionConfig, logger *slog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := extraction.DefaultRetryPolicy
	policy.MaxAttempts = attempts

	return &Client{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		policy:  policy,
		limiter: ratelimit.NewBucket(cfg.RatePerMinute, cfg.RatePerMinute),
		breaker: circuit.New("vision", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		logger:  logger,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// ExtractPayment implements extraction.StructuredExtractor. Backend failures
// come back as typed ExtractionError after retries; unparsable payloads come
// back as a low-confidence result, not an error.
func (c *Client) ExtractPayment(ctx context.Context, image []byte, hints *extraction.Hints) (*extraction.StructuredResult, error) {
	format, err := imageFormat(image)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, extraction.Categorize("vision", err)
	}

	policy := c.policy
	if c.breaker.IsOpen() {
		policy.MaxAttempts = 1
	}

	prompt := buildPrompt(hints)
	model := c.client.GenerativeModel(c.model)
	model.ResponseMIMEType = "application/json"

	var raw string
	err = extraction.Retry(ctx, "vision", policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := model.GenerateContent(callCtx, genai.Text(prompt), genai.ImageData(format, image))
		if err != nil {
			return err
		}
		text, err := responseText(resp)
		if err != nil {
			return err
		}
		raw = text
		return nil
	})
	if err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "vision circuit opened")
		}
		return nil, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "vision circuit closed")
	}

	result := parseResult(raw)
	if result.Confidence <= lowConfidenceFloor {
		c.logger.WarnContext(ctx, "vision payload unparsable, degrading to low confidence",
			"payload_length", len(raw),
		)
	}
	return result, nil
}

// responseText pulls the text part out of a generation response.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty model response")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}
	return "", fmt.Errorf("no text part in model response")
}

// imageFormat sniffs the upload and rejects anything that is not a supported
// image, which is terminal for the submission.
func imageFormat(image []byte) (string, error) {
	switch http.DetectContentType(image) {
	case "image/jpeg":
		return "jpeg", nil
	case "image/png":
		return "png", nil
	case "image/webp":
		return "webp", nil
	default:
		return "", &extraction.MalformedInputError{Reason: "unsupported image format"}
	}
}
