package stages

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

	"meeting-summarizer/internal/pipeline"
)

const (
	defaultLLMTimeout     = 10 * time.Minute
	defaultTemperature    = 0.7
	defaultMaxTokens      = 4096
	emptyTranscriptNotice = "No content to summarize (transcription was empty)."
)

// DefaultPromptTemplate is used when no template file is configured. The
// single %s slot receives the speaker-attributed transcript.
const DefaultPromptTemplate = `You are an assistant that writes meeting minutes.
Summarize the following meeting transcript. Structure the summary in markdown
with a short overview, the key discussion points per topic, the decisions
made, and a list of action items with owners where identifiable. Keep the
summary faithful to the transcript and do not invent content.

Transcript:
---
%s
---`

// LLMConfig captures the settings required to talk to the summarization
// model endpoint.
type LLMConfig struct {
	ServiceURL string
	Endpoint   string
	APIKey     string
	UseAuth    bool
	Model      string
}

// LLMClient wraps an OpenAI-compatible chat completions API.
type LLMClient struct {
	cfg        LLMConfig
	template   string
	httpClient *http.Client
}

// LLMOption customizes the client.
type LLMOption func(*LLMClient)

// WithLLMHTTPClient overrides the default HTTP client.
func WithLLMHTTPClient(client *http.Client) LLMOption {
	return func(c *LLMClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPromptTemplate overrides the default summarization prompt. The
// template must contain exactly one %s slot for the transcript.
func WithPromptTemplate(template string) LLMOption {
	return func(c *LLMClient) {
		if strings.TrimSpace(template) != "" {
			c.template = template
		}
	}
}

// NewLLMClient constructs a summarization client from settings.
func NewLLMClient(cfg LLMConfig, opts ...LLMOption) *LLMClient {
	c := &LLMClient{
		cfg: LLMConfig{
			ServiceURL: strings.TrimRight(strings.TrimSpace(cfg.ServiceURL), "/"),
			Endpoint:   "/" + strings.TrimLeft(strings.TrimSpace(cfg.Endpoint), "/"),
			APIKey:     strings.TrimSpace(cfg.APIKey),
			UseAuth:    cfg.UseAuth,
			Model:      strings.TrimSpace(cfg.Model),
		},
		template:   DefaultPromptTemplate,
		httpClient: &http.Client{Timeout: defaultLLMTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize sends the transcript through the prompt template and returns the
// model's completion text.
func (c *LLMClient) Summarize(ctx context.Context, transcript string) (string, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(c.template, transcript)},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServiceURL+c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UseAuth && c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &RequestError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RequestError{Message: fmt.Sprintf("read completion: %v", err), Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &RequestError{
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(respBody),
			Retryable:  retryableStatus(resp.StatusCode, respBody),
		}
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", &RequestError{Message: fmt.Sprintf("decode completion: %v", err)}
	}
	if len(completion.Choices) == 0 {
		return "", &RequestError{Message: "completion contained no choices"}
	}

	summary := strings.TrimSpace(completion.Choices[0].Message.Content)
	if summary == "" {
		return "", &RequestError{Message: "completion text was empty"}
	}
	return summary, nil
}

// Health checks the LLM service's /health endpoint.
func (c *LLMClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServiceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm service unreachable: %w", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("llm service status %q", health.Status)
	}
	return nil
}

// SummarizeStage condenses the transcript into meeting minutes via the LLM.
type SummarizeStage struct {
	client *LLMClient
}

// NewSummarizeStage wraps the LLM client as a pipeline stage.
func NewSummarizeStage(client *LLMClient) *SummarizeStage {
	return &SummarizeStage{client: client}
}

// Name identifies the stage.
func (s *SummarizeStage) Name() pipeline.StageName { return pipeline.StageSummarize }

// Run produces the summary. An empty transcript yields a fixed notice
// without calling the model.
func (s *SummarizeStage) Run(ctx context.Context, in pipeline.Input) (pipeline.Output, error) {
	if strings.TrimSpace(in.Transcript) == "" {
		return pipeline.Output{Summary: emptyTranscriptNotice}, nil
	}

	summary, err := s.client.Summarize(ctx, in.Transcript)
	if err != nil {
		return pipeline.Output{}, stageError(pipeline.StageSummarize, err)
	}

	return pipeline.Output{Summary: summary}, nil
}
