package llm

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// NewProvider builds the configured provider. Real providers are wrapped
// as retry(logging(base)) so each attempt is recorded by recorder, which
// may be nil. The mock provider is returned bare.
func NewProvider(ctx context.Context, cfg Config, recorder CallRecorder, log logrus.FieldLogger) (Provider, error) {
	if cfg.Provider == "mock" {
		return NewMockProvider(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s grader provider: %w", cfg.Provider, err)
	}
	return WithRetry(WithLogging(base, cfg.Provider, recorder, log), cfg.Retry, log), nil
}
