package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"easel/internal/config"
	"easel/internal/logging"
	"easel/internal/quality"
)

// GenerateRequest carries one generation call's parameters and image
// payloads. Both image parts are PNG-encoded.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Preset         quality.Preset
	Seed           *int64
	BaseImage      []byte
	ScribbleImage  []byte
}

// GenerateResult is the normalized backend answer.
type GenerateResult struct {
	Image []byte
	Seed  *int64
}

// Client performs generation calls with endpoint failover.
type Client struct {
	endpoints  []string
	attempts   int
	backoff    time.Duration
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithSleeper overrides the inter-attempt delay, letting tests skip
// real waiting.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithEndpoints replaces the expanded candidate list.
func WithEndpoints(endpoints []string) Option {
	return func(c *Client) {
		c.endpoints = endpoints
	}
}

// NewClient builds a client from inference configuration.
func NewClient(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	attempts := cfg.Inference.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	client := &Client{
		endpoints:  ExpandEndpoints(cfg.Inference.URL, cfg.Inference.HostAliases),
		attempts:   attempts,
		backoff:    cfg.ConnectBackoff(),
		httpClient: &http.Client{Timeout: cfg.InferenceTimeout()},
		sleep:      sleepContext,
		logger:     logging.NewComponentLogger(logger, "inference"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Endpoints returns the candidate list in call order.
func (c *Client) Endpoints() []string {
	out := make([]string, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// Generate posts the request to the first candidate endpoint that
// answers. Transport errors retry the same candidate up to the attempt
// limit before falling through to the next; a timeout anywhere aborts
// the whole call. Any HTTP response, success or error status, ends the
// search.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if len(c.endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints configured", ErrUnavailable)
	}

	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, fmt.Errorf("encode generation form: %w", err)
	}

	var diagnostics []string
	for _, endpoint := range c.endpoints {
		for attempt := 1; attempt <= c.attempts; attempt++ {
			resp, err := c.post(ctx, endpoint, contentType, body)
			if err == nil {
				defer resp.Body.Close()
				return interpretResponse(resp, req.Seed)
			}
			if isTimeout(err) {
				c.logger.Warn("inference timed out",
					logging.String(logging.FieldEndpoint, endpoint),
					logging.Error(err),
				)
				return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, endpoint, err)
			}
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %v", endpoint, err))
			c.logger.Debug("inference attempt failed",
				logging.String(logging.FieldEndpoint, endpoint),
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
			if attempt < c.attempts {
				if err := c.sleep(ctx, c.backoff); err != nil {
					return nil, err
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, strings.Join(diagnostics, "; "))
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.httpClient.Do(req)
}

func encodeForm(req *GenerateRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"prompt":                        req.Prompt,
		"negative_prompt":               req.NegativePrompt,
		"num_inference_steps":           strconv.Itoa(req.Preset.NumInferenceSteps),
		"guidance_scale":                formatFloat(req.Preset.GuidanceScale),
		"strength":                      formatFloat(req.Preset.Strength),
		"controlnet_conditioning_scale": formatFloat(req.Preset.ControlNetConditioningScale),
	}
	if req.Seed != nil {
		fields["seed"] = strconv.FormatInt(*req.Seed, 10)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	for _, part := range []struct {
		name string
		data []byte
	}{
		{"base_image", req.BaseImage},
		{"scribble_image", req.ScribbleImage},
	} {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, part.name, part.name+".png"))
		header.Set("Content-Type", "image/png")
		fileWriter, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := fileWriter.Write(part.data); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func interpretResponse(resp *http.Response, requestSeed *int64) (*GenerateResult, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBadResponse, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrOverloaded
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, errorMessage(raw))
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return decodeJSONResult(raw, requestSeed)
	case strings.HasPrefix(contentType, "image/"):
		seed := requestSeed
		if header := resp.Header.Get("X-Seed"); header != "" {
			if parsed, err := strconv.ParseInt(header, 10, 64); err == nil {
				seed = &parsed
			}
		}
		return &GenerateResult{Image: raw, Seed: seed}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrBadResponse, contentType)
	}
}

func decodeJSONResult(raw []byte, requestSeed *int64) (*GenerateResult, error) {
	var payload struct {
		ImageBase64 string          `json:"image_base64"`
		Seed        json.RawMessage `json:"seed"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode json body: %v", ErrBadResponse, err)
	}
	if payload.ImageBase64 == "" {
		return nil, fmt.Errorf("%w: json body lacks image data", ErrBadResponse)
	}
	image, err := base64.StdEncoding.DecodeString(payload.ImageBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image data: %v", ErrBadResponse, err)
	}

	seed := requestSeed
	if len(payload.Seed) > 0 {
		if parsed, ok := parseSeed(payload.Seed); ok {
			seed = &parsed
		}
	}
	return &GenerateResult{Image: image, Seed: seed}, nil
}

// parseSeed accepts both numeric and numeric-string seed fields.
func parseSeed(raw json.RawMessage) (int64, bool) {
	var numeric int64
	if err := json.Unmarshal(raw, &numeric); err == nil {
		return numeric, true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
