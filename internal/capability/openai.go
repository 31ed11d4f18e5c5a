package capability

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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/metrics"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
)

// OpenAI implements extract.Capability with text-only chat/completions in
// JSON mode.
type OpenAI struct {
	cfg     Config
	http    *http.Client
	schema  *normalize.Schema
	parser  *responseParser
	counter TokenCounter
	once    sync.Once
	log     *slog.Logger
}

var _ extract.Capability = (*OpenAI)(nil)

func NewOpenAI(cfg Config, schema *normalize.Schema, logger *slog.Logger) (*OpenAI, error) {
	cfg = cfg.withDefaults(ProviderOpenAI)
	if logger == nil {
		logger = slog.Default()
	}
	if schema == nil {
		schema = normalize.DefaultSchema()
	}
	parser, err := newResponseParser(schema, logger)
	if err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAI{
		cfg:    cfg,
		http:   hc,
		schema: schema,
		parser: parser,
		log:    logger,
	}, nil
}

// WithTokenCounter replaces the prompt token counter. Without one, a
// tiktoken encoder is loaded on first use.
func (c *OpenAI) WithTokenCounter(tc TokenCounter) *OpenAI {
	if tc != nil {
		c.counter = tc
	}
	return c
}

func (c *OpenAI) Extract(ctx context.Context, req extract.CapabilityRequest) (*extract.CapabilityResponse, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.once.Do(func() {
		if c.counter == nil {
			c.counter = NewTokenCounter(c.cfg.Model, c.log)
		}
	})
	prompt := BuildPrompt(c.schema, req, c.cfg.MaxPromptTokens, c.counter)
	c.log.Info("capability.openai.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"ref", req.DocumentRef,
		"blocks", len(req.Blocks),
		"blocks_sent", prompt.Blocks,
		"prompt_tokens", prompt.Tokens,
		"truncated", prompt.Truncated,
	)
	metrics.AddPromptTokens(ProviderOpenAI, c.cfg.Model, prompt.Tokens)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"max_tokens":      c.cfg.MaxOutputTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": prompt.System},
			{"role": "user", "content": prompt.User + "\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(ResponseSchema(c.schema))},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("capability.openai.http_error",
			"req_id", rid, "code", common.CodeOf(err), "err", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("capability.openai.decode_error", "req_id", rid, "err", err, "raw_bytes", len(raw))
		return nil, malformed("decode openai response", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("capability.openai.no_choices", "req_id", rid, "raw_bytes", len(raw))
		return nil, malformed("no choices in openai response", nil)
	}
	if cc.Choices[0].FinishReason == "length" {
		return nil, malformed("reply cut off at the output token limit", nil)
	}

	out, err := c.parser.Parse(cc.Choices[0].Message.Content, c.cfg.Model)
	if err != nil {
		return nil, err
	}
	c.log.Info("capability.openai.ok",
		"req_id", rid,
		"fields", len(out.Fields),
		"confidence", out.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (c *OpenAI) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, common.NewAppError(common.CodeInternal, "marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ProviderOpenAI, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("capability.openai.body_close_error", "err", err)
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, transportError(ProviderOpenAI, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(ProviderOpenAI, resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

// statusError classifies a provider HTTP status.
func statusError(provider string, status int, body string) error {
	msg := fmt.Sprintf("%s status %d: %s", provider, status, truncate(body, 300))
	switch {
	case status == http.StatusTooManyRequests:
		return common.NewAppError(common.CodeCapabilityRateLimited, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return common.NewAppError(common.CodeCapabilityTimeout, msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return common.NewAppError(common.CodeConfig, msg, nil)
	case status >= 500:
		return common.NewAppError(common.CodeCapabilityUnavailable, msg, nil)
	case status >= 400:
		return common.NewAppError(common.CodeCapabilityRejectedInput, msg, nil)
	}
	return common.NewAppError(common.CodeCapabilityMalformedResponse, msg, nil)
}

// transportError classifies a failed round trip.
func transportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewAppError(common.CodeCapabilityTimeout, provider+" request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return common.NewAppError(common.CodeCanceled, provider+" request canceled", err)
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return common.NewAppError(common.CodeCapabilityTimeout, provider+" request timed out", err)
	}
	return common.NewAppError(common.CodeCapabilityUnavailable, provider+" request failed", err)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
