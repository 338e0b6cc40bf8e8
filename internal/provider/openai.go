package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aeges-net/aeges/internal/risk"
)

// OpenAI solicits verdicts from an OpenAI-compatible chat completions API.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAI creates an OpenAI-backed adapter.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OpenAI) Name() string { return string(KindOpenAI) }
func (o *OpenAI) Kind() Kind   { return KindOpenAI }

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Analyze(ctx context.Context, tx *risk.TransactionRecord, prompt string) (*Verdict, error) {
	verdict, err := o.analyze(ctx, prompt)
	observe(o.Name(), err)
	return verdict, err
}

func (o *OpenAI) analyze(ctx context.Context, prompt string) (*Verdict, error) {
	body, _ := json.Marshal(openAIRequest{
		Model: o.model,
		Messages: []openAIMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(o.Name(), ErrMalformedResponse, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classifyTransport(o.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(o.Name(), resp.StatusCode)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewError(o.Name(), ErrMalformedResponse, "invalid completion JSON")
	}
	if len(parsed.Choices) == 0 {
		return nil, NewError(o.Name(), ErrMalformedResponse, "empty choices")
	}
	return ParseVerdict(o.Name(), parsed.Choices[0].Message.Content)
}

func (o *OpenAI) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return NewError(o.Name(), ErrMalformedResponse, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return classifyTransport(o.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(o.Name(), resp.StatusCode)
	}
	return nil
}
