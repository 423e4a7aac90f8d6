// Package oracle asks a language model gateway for free-text verdicts.
//
// The gateway speaks the OpenAI chat completions protocol, which is what a LiteLLM proxy exposes.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/vulngraph/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrEmptyCompletion is returned when the gateway answers without any choice.
var ErrEmptyCompletion = errors.New("oracle returned no completion")

// Request is one question for the oracle.
type Request struct {
	System string
	Prompt string
	Model  string
}

// Oracle answers a prompt with free text.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oracle API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Client calls POST {base}/chat/completions.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewClient builds a Client from the oracle settings.
func NewClient(cfg config.OracleConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("oracle base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}

	return &Client{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:     cfg.APIKey,
		model:      model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("oracle"),
		tracer:     otel.Tracer("github.com/ortelius/vulngraph/oracle"),
	}, nil
}

// Complete sends the prompt and returns the first choice's message content.
// Transient failures are retried up to the configured max retries; the default is none.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	ctx, span := c.tracer.Start(ctx, "oracle.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("oracle.model", model),
		attribute.Int("oracle.prompt_length", len(req.Prompt)),
	)

	payload := chatRequest{Model: model}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var content string
	operation := func() error {
		text, err := c.do(ctx, body)
		if err != nil {
			return err
		}
		content = text
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute

	// backoff v2 treats WithMaxRetries(b, 0) as unlimited, unlike v4.
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.maxRetries > 0 {
		policy = backoff.WithMaxRetries(b, uint64(c.maxRetries))
	}

	attempt := 0
	err = backoff.RetryNotify(operation,
		backoff.WithContext(policy, ctx),
		func(err error, wait time.Duration) {
			attempt++
			c.logger.Warn("Oracle request failed, retrying",
				zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle request failed")
		return "", err
	}

	span.SetAttributes(attribute.Int("oracle.response_length", len(content)))
	return content, nil
}

func (c *Client) do(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.handleAPIError(resp.StatusCode, respBody)
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", backoff.Permanent(ErrEmptyCompletion)
	}

	c.logger.Debug("Oracle completion received",
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", decoded.Usage.PromptTokens),
		zap.Int("completion_tokens", decoded.Usage.CompletionTokens))

	return decoded.Choices[0].Message.Content, nil
}

func (c *Client) handleAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode, Body: strings.TrimSpace(string(body))}
	c.logger.Error("Oracle API returned error status", zap.Int("status", statusCode), zap.String("response", apiErr.Body))
	if apiErr.Transient() {
		return apiErr
	}
	return backoff.Permanent(apiErr)
}
