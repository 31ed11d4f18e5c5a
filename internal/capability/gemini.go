package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/metrics"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
)

// Gemini implements extract.Capability with the Gemini API in JSON mode.
type Gemini struct {
	client  *genai.Client
	cfg     Config
	schema  *normalize.Schema
	parser  *responseParser
	counter TokenCounter
	once    sync.Once
	log     *slog.Logger
}

var _ extract.Capability = (*Gemini)(nil)

func NewGemini(ctx context.Context, cfg Config, schema *normalize.Schema, logger *slog.Logger) (*Gemini, error) {
	cfg = cfg.withDefaults(ProviderGemini)
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, common.NewAppError(common.CodeConfig, "gemini: empty api key", nil)
	}
	if schema == nil {
		schema = normalize.DefaultSchema()
	}
	parser, err := newResponseParser(schema, logger)
	if err != nil {
		return nil, err
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	}
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	} else {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "gemini client", err)
	}
	return &Gemini{client: client, cfg: cfg, schema: schema, parser: parser, log: logger}, nil
}

// WithTokenCounter replaces the local prompt token counter.
func (g *Gemini) WithTokenCounter(tc TokenCounter) *Gemini {
	if tc != nil {
		g.counter = tc
	}
	return g
}

func (g *Gemini) Extract(ctx context.Context, req extract.CapabilityRequest) (*extract.CapabilityResponse, error) {
	start := time.Now()
	g.once.Do(func() {
		if g.counter == nil {
			g.counter = NewTokenCounter(g.cfg.Model, g.log)
		}
	})

	prompt := BuildPrompt(g.schema, req, g.cfg.MaxPromptTokens, g.counter)
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt.User + "\nReturn ONLY JSON that matches this schema:\n" + mustJSON(ResponseSchema(g.schema))}},
	}}

	tokens := prompt.Tokens
	if ct, err := g.client.Models.CountTokens(ctx, g.cfg.Model, contents, nil); err == nil {
		tokens = int(ct.TotalTokens)
	} else {
		g.log.Debug("capability.gemini.count_tokens_failed", "err", err)
	}
	metrics.AddPromptTokens(ProviderGemini, g.cfg.Model, tokens)
	g.log.Info("capability.gemini.start",
		"model", g.cfg.Model,
		"ref", req.DocumentRef,
		"blocks_sent", prompt.Blocks,
		"prompt_tokens", tokens,
		"truncated", prompt.Truncated,
	)

	temp := g.cfg.Temperature
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: prompt.System}}},
		ResponseMIMEType:  "application/json",
		Temperature:       &temp,
		MaxOutputTokens:   int32(g.cfg.MaxOutputTokens),
	})
	if err != nil {
		cerr := geminiError(err)
		g.log.Error("capability.gemini.error", "code", common.CodeOf(cerr), "err", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, cerr
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, malformed("no candidates in gemini response", nil)
	}
	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonMaxTokens:
		return nil, malformed("reply cut off at the output token limit", nil)
	case genai.FinishReasonSafety:
		return nil, common.NewAppError(common.CodeCapabilityRejectedInput, "gemini refused the document", nil)
	}
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil {
			text.WriteString(p.Text)
		}
	}

	out, err := g.parser.Parse(text.String(), g.cfg.Model)
	if err != nil {
		return nil, err
	}
	g.log.Info("capability.gemini.ok",
		"fields", len(out.Fields),
		"confidence", out.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func geminiError(err error) error {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return statusError(ProviderGemini, ae.Code, fmt.Sprintf("%s %s", ae.Status, ae.Message))
	}
	var pae *genai.APIError
	if errors.As(err, &pae) && pae != nil {
		return statusError(ProviderGemini, pae.Code, fmt.Sprintf("%s %s", pae.Status, pae.Message))
	}
	return transportError(ProviderGemini, err)
}
