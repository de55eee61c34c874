package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/meetjot/internal/adapters/httpclient"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/ports"
	"golang.org/x/time/rate"
)

const transcriptionsPath = "audio/transcriptions"

type Config struct {
	BaseURL           string
	Model             string
	Language          string
	APIKeyRef         string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client speaks the OpenAI-compatible /audio/transcriptions endpoint. The API
// key is resolved through the secret store on every call.
type Client struct {
	endpoint httpclient.Endpoint
	model    string
	language string
	keyRef   string
	secrets  ports.SecretStore
	limiter  *rate.Limiter
}

var _ ports.SpeechToText = (*Client)(nil)

func NewClient(cfg Config, secrets ports.SecretStore, httpClient *http.Client) *Client {
	return &Client{
		endpoint: httpclient.Endpoint{
			BaseURL:        cfg.BaseURL,
			HTTPClient:     httpClient,
			RequestTimeout: cfg.Timeout,
		},
		model:    cfg.Model,
		language: cfg.Language,
		keyRef:   cfg.APIKeyRef,
		secrets:  secrets,
		limiter:  httpclient.PerMinute(cfg.RequestsPerMinute),
	}
}

func (c *Client) Transcribe(ctx context.Context, segment domain.AudioSegment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	apiKey, err := httpclient.ResolveSecret(ctx, c.secrets, c.keyRef)
	if err != nil {
		return "", err
	}

	body, contentType, err := c.multipartBody(segment)
	if err != nil {
		return "", err
	}

	endpoint, err := c.endpoint.URL(transcriptionsPath)
	if err != nil {
		return "", err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for speech rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	respBody, err := c.endpoint.Do(ctx, "transcribe segment", req)
	if err != nil {
		return "", err
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(payload.Text), nil
}

func (c *Client) multipartBody(segment domain.AudioSegment) ([]byte, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := [][2]string{
		{"model", c.model},
		{"response_format", "json"},
	}
	if c.language != "" {
		fields = append(fields, [2]string{"language", c.language})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", field[0], err)
		}
	}

	filename := fmt.Sprintf("%s-%04d-%s.wav", segment.SessionID, segment.Window, strings.ToLower(string(segment.Channel)))
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(segment.WAV()); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}

	return body.Bytes(), writer.FormDataContentType(), nil
}
