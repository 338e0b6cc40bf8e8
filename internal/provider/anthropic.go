package provider

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aeges-net/aeges/internal/risk"
)

const anthropicMaxTokens = 512

// Anthropic solicits verdicts from the Anthropic Messages API.
type Anthropic struct {
	client sdk.Client
	model  string
}

// NewAnthropic creates an Anthropic-backed adapter.
func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *Anthropic) Name() string { return string(KindAnthropic) }
func (a *Anthropic) Kind() Kind   { return KindAnthropic }

func (a *Anthropic) Analyze(ctx context.Context, tx *risk.TransactionRecord, prompt string) (*Verdict, error) {
	verdict, err := a.analyze(ctx, prompt)
	observe(a.Name(), err)
	return verdict, err
}

func (a *Anthropic) analyze(ctx context.Context, prompt string) (*Verdict, error) {
	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
		Temperature: sdk.Float(0),
	})
	if err != nil {
		return nil, a.classify(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return ParseVerdict(a.Name(), text)
}

func (a *Anthropic) HealthCheck(ctx context.Context) error {
	_, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: 1,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return a.classify(err)
	}
	return nil
}

func (a *Anthropic) classify(err error) *Error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(a.Name(), apiErr.StatusCode)
	}
	return classifyTransport(a.Name(), err)
}
