package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	maxRequestSize = 200000 // ~200KB limit for safety
	defaultTimeout = 60 * time.Second
	defaultTokens  = 900
)

// ErrUsageLimit is returned when the provider reports an exhausted quota.
var ErrUsageLimit = errors.New("API usage limit reached")

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON-only reply where supported.
	JSON bool
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Response struct {
	Text string
}

// New creates a client for provider. An empty model selects the provider
// default; API keys come from the provider's environment variable.
func New(ctx context.Context, provider, model string, logger zerolog.Logger) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return NewOpenAIFromEnv(model, logger)
	case "gemini":
		return NewGeminiFromEnv(ctx, model, logger)
	case "anthropic", "":
		return NewAnthropicFromEnv(model, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic', 'openai' or 'gemini')", provider)
	}
}

func envKey(name string) (string, error) {
	key := strings.TrimSpace(os.Getenv(name))
	if key == "" {
		return "", fmt.Errorf("missing %s", name)
	}
	return key, nil
}

func pickModel(model, envName, def string) string {
	if m := strings.Trim(strings.TrimSpace(model), "\"'"); m != "" {
		return m
	}
	if m := strings.Trim(strings.TrimSpace(os.Getenv(envName)), "\"'"); m != "" {
		return m
	}
	return def
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// clamp truncates oversized prompt parts in place.
func clamp(req *Request, logger zerolog.Logger) error {
	if len(req.Messages) == 0 {
		return errors.New("no messages")
	}
	for i, m := range req.Messages {
		if len(m.Content) > maxRequestSize {
			logger.Warn().Int("message_idx", i).Int("size", len(m.Content)).Msg("message too large, truncating")
			req.Messages[i].Content = m.Content[:maxRequestSize] + "... [truncated]"
		}
	}
	if len(req.System) > maxRequestSize {
		logger.Warn().Int("size", len(req.System)).Msg("system prompt too large, truncating")
		req.System = req.System[:maxRequestSize] + "... [truncated]"
	}
	return nil
}

// retry runs op with exponential backoff. op marks non-retryable failures
// with backoff.Permanent.
func retry(ctx context.Context, logger zerolog.Logger, provider string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseDelay
	b.MaxElapsedTime = 2 * time.Minute
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
	return backoff.RetryNotify(op, policy, func(err error, delay time.Duration) {
		logger.Info().Err(err).Dur("delay", delay).Str("provider", provider).Msg("retrying LLM call")
	})
}

// retryableStatus reports whether an HTTP status is worth another attempt.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
