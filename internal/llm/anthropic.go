package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	envAPIKey    = "ANTHROPIC_API_KEY"
	envModel     = "ANTHROPIC_MODEL"
	defaultModel = "claude-sonnet-4-5-20250929"

	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
)

type anthropicClient struct {
	apiKey string
	model  string
	url    string
	http   *http.Client
	logger zerolog.Logger
}

func NewAnthropicFromEnv(model string, logger zerolog.Logger) (Client, error) {
	key, err := envKey(envAPIKey)
	if err != nil {
		return nil, err
	}
	return &anthropicClient{
		apiKey: key,
		model:  pickModel(model, envModel, defaultModel),
		url:    apiURL,
		http:   newHTTPClient(),
		logger: logger,
	}, nil
}

func (c *anthropicClient) Name() string { return c.model }

func (c *anthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := clamp(&req, c.logger); err != nil {
		return Response{}, err
	}

	payload := anthropicPayload{
		Model:       c.model,
		System:      req.System,
		MaxTokens:   max(req.MaxTokens, defaultTokens),
		Temperature: float64(req.Temperature),
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(payload.Messages)).
		Int("payload_size", len(body)).
		Int("max_tokens", payload.MaxTokens).
		Msg("Anthropic API request")

	var text string
	err = retry(ctx, c.logger, "anthropic", func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", apiVersion)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		c.logger.Debug().
			Int("status", resp.StatusCode).
			Int("response_size", len(data)).
			Msg("Anthropic API response")

		if resp.StatusCode >= 400 {
			return c.apiError(resp.StatusCode, data)
		}

		var ar anthropicResponse
		if err := json.Unmarshal(data, &ar); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		var buf strings.Builder
		for _, content := range ar.Content {
			if content.Type == "text" {
				buf.WriteString(content.Text)
			}
		}
		text = buf.String()
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	c.logger.Debug().Int("response_length", len(text)).Msg("Anthropic API success")
	return Response{Text: text}, nil
}

func (c *anthropicClient) apiError(status int, data []byte) error {
	var envelope struct {
		Error anthropicError `json:"error"`
	}
	raw := truncateString(string(data), 500)
	var err error
	if jerr := json.Unmarshal(data, &envelope); jerr != nil || envelope.Error.Error() == "" {
		err = fmt.Errorf("anthropic %d: %s", status, raw)
	} else {
		err = fmt.Errorf("anthropic %d: %s (type: %s)", status, envelope.Error.Error(), envelope.Error.Type)
	}

	c.logger.Error().
		Int("status", status).
		Str("error_type", envelope.Error.Type).
		Str("error_msg", envelope.Error.Message).
		Str("raw_response", raw).
		Msg("Anthropic API error")

	if status == http.StatusBadRequest && strings.Contains(envelope.Error.Message, "API usage limits") {
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrUsageLimit, envelope.Error.Message))
	}
	if retryableStatus(status) {
		return err
	}
	return backoff.Permanent(err)
}

type anthropicPayload struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e anthropicError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Type
}
