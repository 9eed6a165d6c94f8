// Package ocr adapts an OCR.Space-compatible text extraction service.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"payproof/internal/extraction"
	"payproof/internal/platform/config"
	"payproof/internal/ratelimit"
	"payproof/pkg/platform/circuit"
)

// parseResponse mirrors the OCR service's wire format. Word confidence is
// optional; providers that omit it report fully-confident tokens.
type parseResponse struct {
	ParsedResults []struct {
		ParsedText  string `json:"ParsedText"`
		TextOverlay struct {
			Lines []struct {
				Words []struct {
					WordText string  `json:"WordText"`
					WordConf float64 `json:"WordConf"`
					Left     int     `json:"Left"`
					Top      int     `json:"Top"`
					Width    int     `json:"Width"`
					Height   int     `json:"Height"`
				} `json:"Words"`
			} `json:"Lines"`
		} `json:"TextOverlay"`
	} `json:"ParsedResults"`
	OCRExitCode           int    `json:"OCRExitCode"`
	IsErroredOnProcessing bool   `json:"IsErroredOnProcessing"`
	ErrorMessage          any    `json:"ErrorMessage"`
	ErrorDetails          string `json:"ErrorDetails"`
}

// Client calls the OCR backend with multipart uploads, filtering tokens below
// the configured confidence floor before handing results upstream.
type Client struct {
	endpoint string
	apiKey   string
	language string
	floor    float64
	policy   extraction.RetryPolicy
	http     *http.Client
	limiter  *ratelimit.Bucket
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func New(cfg config.OCRConfig, logger *slog.Logger) *Client {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := extraction.DefaultRetryPolicy
	policy.MaxAttempts = attempts
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		floor:    cfg.ConfidenceFloor,
		policy:   policy,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  ratelimit.NewBucket(cfg.RatePerMinute, cfg.RatePerMinute),
		breaker:  circuit.New("ocr", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2)),
		logger:   logger,
	}
}

// ExtractText implements extraction.TextExtractor.
func (c *Client) ExtractText(ctx context.Context, image []byte) (*extraction.TextResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, extraction.Categorize("ocr", err)
	}

	// While the circuit is open, each call is a single probe without retries.
	policy := c.policy
	if c.breaker.IsOpen() {
		policy.MaxAttempts = 1
	}

	var result *extraction.TextResult
	err := extraction.Retry(ctx, "ocr", policy, func(ctx context.Context) error {
		res, err := c.call(ctx, image)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "ocr circuit opened")
		}
		return nil, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "ocr circuit closed")
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, image []byte) (*extraction.TextResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "proof.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(image); err != nil {
		return nil, err
	}
	w.WriteField("language", c.language)
	w.WriteField("isOverlayRequired", "true")
	// Engine 2 reads numerals more reliably
	w.WriteField("OCREngine", "2")
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr backend status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed parseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	if parsed.IsErroredOnProcessing || parsed.OCRExitCode != 1 || len(parsed.ParsedResults) == 0 {
		return nil, fmt.Errorf("ocr processing failed (exit code %d): %s", parsed.OCRExitCode, parsed.ErrorDetails)
	}

	return c.toResult(parsed), nil
}

// toResult flattens the overlay into tokens, dropping anything below the
// confidence floor.
func (c *Client) toResult(parsed parseResponse) *extraction.TextResult {
	out := &extraction.TextResult{FullText: parsed.ParsedResults[0].ParsedText}
	for _, line := range parsed.ParsedResults[0].TextOverlay.Lines {
		for _, word := range line.Words {
			conf := word.WordConf
			if conf == 0 {
				conf = 1.0
			}
			if conf < c.floor {
				continue
			}
			out.Tokens = append(out.Tokens, extraction.Token{
				Text:       word.WordText,
				Confidence: conf,
				BBox: extraction.BBox{
					Left:   word.Left,
					Top:    word.Top,
					Width:  word.Width,
					Height: word.Height,
				},
			})
		}
	}
	return out
}
