package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/meetjot/internal/adapters/httpclient"
	"github.com/bnema/meetjot/internal/ports"
	"golang.org/x/time/rate"
)

const completionsPath = "chat/completions"

var errEmptyAnswer = errors.New("reasoning service returned no choices")

type Config struct {
	BaseURL           string
	Model             string
	APIKeyRef         string
	Temperature       float64
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint in JSON mode.
type Client struct {
	endpoint    httpclient.Endpoint
	model       string
	temperature float64
	keyRef      string
	secrets     ports.SecretStore
	limiter     *rate.Limiter
}

var _ ports.Reasoner = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Temperature    float64        `json:"temperature"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func NewClient(cfg Config, secrets ports.SecretStore, httpClient *http.Client) *Client {
	return &Client{
		endpoint: httpclient.Endpoint{
			BaseURL:        cfg.BaseURL,
			HTTPClient:     httpClient,
			RequestTimeout: cfg.Timeout,
		},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		keyRef:      cfg.APIKeyRef,
		secrets:     secrets,
		limiter:     httpclient.PerMinute(cfg.RequestsPerMinute),
	}
}

func (c *Client) Complete(ctx context.Context, prompt ports.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	apiKey, err := httpclient.ResolveSecret(ctx, c.secrets, c.keyRef)
	if err != nil {
		return "", err
	}

	messages := make([]chatMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.User})

	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for reasoning rate limit: %w", err)
	}

	var resp chatResponse
	err = c.endpoint.DoJSON(ctx, "complete prompt", http.MethodPost, completionsPath, header, chatRequest{
		Model:          c.model,
		Temperature:    c.temperature,
		Messages:       messages,
		ResponseFormat: responseFormat{Type: "json_object"},
	}, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errEmptyAnswer
	}
	return resp.Choices[0].Message.Content, nil
}
