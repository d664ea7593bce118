package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	envGeminiAPIKey    = "GEMINI_API_KEY"
	envGeminiModel     = "GEMINI_MODEL"
	defaultGeminiModel = "gemini-2.5-flash"
)

type geminiClient struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

func NewGeminiFromEnv(ctx context.Context, model string, logger zerolog.Logger) (Client, error) {
	key, err := envKey(envGeminiAPIKey)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &geminiClient{
		client: client,
		model:  pickModel(model, envGeminiModel, defaultGeminiModel),
		logger: logger,
	}, nil
}

func (c *geminiClient) Name() string { return c.model }

func (c *geminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := clamp(&req, c.logger); err != nil {
		return Response{}, err
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" || m.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(max(req.MaxTokens, defaultTokens)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	c.logger.Debug().Str("model", c.model).Int("messages", len(contents)).Msg("Gemini API request")

	var text string
	err := retry(ctx, c.logger, "gemini", func() error {
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
		if err != nil {
			return geminiError(err)
		}
		text = strings.TrimSpace(resp.Text())
		if text == "" {
			return errors.New("gemini returned empty content")
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	c.logger.Debug().Int("response_length", len(text)).Msg("Gemini API success")
	return Response{Text: text}, nil
}

// geminiError marks client errors other than rate limiting as permanent.
func geminiError(err error) error {
	wrapped := fmt.Errorf("gemini generate: %w", err)
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code >= 400 && code < 500 && !retryableStatus(code) {
		return backoff.Permanent(wrapped)
	}
	return wrapped
}
