package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	envOpenAIAPIKey    = "OPENAI_API_KEY"
	envOpenAIModel     = "OPENAI_MODEL"
	defaultOpenAIModel = "gpt-4o-mini"

	openAIAPIURL = "https://api.openai.com/v1/chat/completions"
)

type openAIClient struct {
	apiKey string
	model  string
	url    string
	http   *http.Client
	logger zerolog.Logger
}

type openAIPayload struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    float64               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func NewOpenAIFromEnv(model string, logger zerolog.Logger) (Client, error) {
	key, err := envKey(envOpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	return &openAIClient{
		apiKey: key,
		model:  pickModel(model, envOpenAIModel, defaultOpenAIModel),
		url:    openAIAPIURL,
		http:   newHTTPClient(),
		logger: logger,
	}, nil
}

func (c *openAIClient) Name() string {
	return c.model
}

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := clamp(&req, c.logger); err != nil {
		return Response{}, err
	}

	// OpenAI requires system message as first message with role "system"
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	payload := openAIPayload{
		Model:       c.model,
		Messages:    messages,
		Temperature: float64(req.Temperature),
		MaxTokens:   max(req.MaxTokens, defaultTokens),
	}
	if req.JSON {
		payload.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(messages)).
		Int("payload_size", len(body)).
		Int("max_tokens", payload.MaxTokens).
		Msg("OpenAI API request")

	var text string
	err = retry(ctx, c.logger, "openai", func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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
			Msg("OpenAI API response")

		var apiResp openAIResponse
		jerr := json.Unmarshal(data, &apiResp)

		if resp.StatusCode >= 400 {
			raw := truncateString(string(data), 500)
			var err error
			if jerr != nil || apiResp.Error == nil {
				err = fmt.Errorf("openai %d: %s", resp.StatusCode, raw)
			} else {
				err = fmt.Errorf("openai %d: %s (type: %s, code: %s)", resp.StatusCode, apiResp.Error.Message, apiResp.Error.Type, apiResp.Error.Code)
			}
			c.logger.Error().Int("status", resp.StatusCode).Str("raw_response", raw).Msg("OpenAI API error")
			if retryableStatus(resp.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}
		if jerr != nil {
			return backoff.Permanent(fmt.Errorf("parse response: %w (raw: %s)", jerr, truncateString(string(data), 200)))
		}
		if len(apiResp.Choices) == 0 {
			return backoff.Permanent(errors.New("no choices in response"))
		}

		choice := apiResp.Choices[0]
		if choice.Message.Content == "" {
			return backoff.Permanent(errors.New("empty response content"))
		}
		c.logger.Debug().
			Str("finish_reason", choice.FinishReason).
			Int("prompt_tokens", apiResp.Usage.PromptTokens).
			Int("completion_tokens", apiResp.Usage.CompletionTokens).
			Str("response_preview", truncateString(choice.Message.Content, 200)).
			Msg("OpenAI API success")
		text = choice.Message.Content
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text}, nil
}
