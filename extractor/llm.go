package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"inmobiscrap/logging"
	"inmobiscrap/models"
)

const DefaultUFRate = 37000

// SiteHint is extra prompt text for pages whose URL contains Match.
type SiteHint struct {
	Match string
	Hint  string
}

// ExtractionConfig is the fixed model configuration for one extraction
// call. It is passed by value so every call sees an immutable snapshot.
type ExtractionConfig struct {
	Model            string
	BaseURL          string
	Temperature      float64
	ContextWindow    int
	JSONOutput       bool
	RepeatPenalty    float64
	PresencePenalty  float64
	FrequencyPenalty float64
	UFRate           float64
	Hints            []SiteHint
}

// Request is what the LLM service receives.
type Request struct {
	Prompt  string
	Content string
	Config  ExtractionConfig
}

// Service turns a prompt plus page content into a JSON payload. The payload
// may be a JSON string holding the actual document.
type Service interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// OllamaClient talks to an Ollama server's /api/generate endpoint.
type OllamaClient struct {
	client *http.Client
}

func NewOllamaClient(client *http.Client) *OllamaClient {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &OllamaClient{client: client}
}

type ollamaOptions struct {
	Temperature      float64 `json:"temperature"`
	NumCtx           int     `json:"num_ctx,omitempty"`
	RepeatPenalty    float64 `json:"repeat_penalty,omitempty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}

func (c *OllamaClient) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	cfg := req.Config
	body := ollamaRequest{
		Model:  cfg.Model,
		Prompt: req.Prompt + "\n\nCONTENIDO:\n" + req.Content,
		Stream: false,
		Options: ollamaOptions{
			Temperature:      cfg.Temperature,
			NumCtx:           cfg.ContextWindow,
			RepeatPenalty:    cfg.RepeatPenalty,
			PresencePenalty:  cfg.PresencePenalty,
			FrequencyPenalty: cfg.FrequencyPenalty,
		},
	}
	if cfg.JSONOutput {
		body.Format = "json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(respBody))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Error != "" {
		return nil, errors.New(out.Error)
	}
	return out.Response, nil
}

// LLMExtractor delegates record extraction to an LLM service. It never
// fails the caller: transport and decode problems yield no records plus an
// *ExtractionError that the caller may log.
type LLMExtractor struct {
	service Service
	logger  *zap.Logger
}

func NewLLM(service Service, logger *zap.Logger) *LLMExtractor {
	return &LLMExtractor{service: service, logger: logging.OrNop(logger)}
}

func (e *LLMExtractor) Extract(ctx context.Context, cfg ExtractionConfig, content, sourceURL string) ([]models.RawListing, error) {
	if e.service == nil || strings.TrimSpace(content) == "" {
		return nil, nil
	}

	raw, err := e.service.Generate(ctx, Request{
		Prompt:  BuildPrompt(cfg, sourceURL),
		Content: content,
		Config:  cfg,
	})
	if err != nil {
		e.logger.Error("llm extraction request failed", zap.String("url", sourceURL), zap.Error(err))
		return nil, &ExtractionError{Op: "request", Err: err}
	}

	records, err := ParseResponse(raw)
	if err != nil {
		e.logger.Warn("llm response unusable", zap.String("url", sourceURL), zap.Error(err))
		return nil, &ExtractionError{Op: "parse", Err: err}
	}

	e.logger.Debug("llm extraction done", zap.String("url", sourceURL), zap.Int("records", len(records)))
	return records, nil
}
