package provider

import (
	"fmt"
	"log/slog"

	"github.com/aeges-net/aeges/internal/config"
)

// FromConfig builds the configured adapter set in priority order.
// Providers whose credentials are absent are skipped with a warning; if
// nothing usable remains, the local fallback is used so analysis never
// becomes impossible.
func FromConfig(cfg *config.Config, logger *slog.Logger) ([]Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var adapters []Adapter
	for _, name := range cfg.Providers {
		switch Kind(name) {
		case KindAnthropic:
			if cfg.AnthropicAPIKey == "" {
				logger.Warn("skipping provider, no credentials configured", "provider", name)
				continue
			}
			adapters = append(adapters, NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicModel))
		case KindOpenAI:
			if cfg.OpenAIAPIKey == "" {
				logger.Warn("skipping provider, no credentials configured", "provider", name)
				continue
			}
			adapters = append(adapters, NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
		case KindGemini:
			if cfg.GeminiAPIKey == "" {
				logger.Warn("skipping provider, no credentials configured", "provider", name)
				continue
			}
			adapters = append(adapters, NewGemini(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel))
		case KindFallback:
			adapters = append(adapters, NewFallback())
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}

	if len(adapters) == 0 {
		logger.Warn("no usable providers configured, using local fallback only")
		adapters = append(adapters, NewFallback())
	}
	return adapters, nil
}
