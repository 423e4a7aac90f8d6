package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/vulngraph/config"
	"go.uber.org/zap"
)

// Mode selects the agent pipeline that answers a chat message.
type Mode int

// Modes.
const (
	ModeSingle Mode = iota
	ModeMulti
)

func (m Mode) path() string {
	if m == ModeMulti {
		return "/chat/multi-agent/stream"
	}
	return "/chat/stream"
}

func (m Mode) String() string {
	if m == ModeMulti {
		return "multi-agent"
	}
	return "single"
}

// TraceCache stores raw trace lookups by trace id.
type TraceCache interface {
	Get(ctx context.Context, traceID string) ([]byte, bool, error)
	Set(ctx context.Context, traceID string, raw []byte, ttl time.Duration) error
}

// Client talks to the agent backend.
type Client struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	cache      TraceCache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client. Streams are long lived, so the client should
// not carry an overall timeout; cancel the context instead.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTraceCache consults cache before the backend on trace lookups.
func WithTraceCache(cache TraceCache, ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// NewClient creates a Client for the agent settings.
func NewClient(cfg config.AgentConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		prefix:     cfg.EventPrefix,
		httpClient: &http.Client{},
		logger:     logger.Named("stream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

// Stream sends message and reconstructs the answer. onStep, if set, sees every step as it arrives.
// A read failure or a cancelled ctx discards the partial answer and returns ErrStreamFailed.
func (c *Client) Stream(ctx context.Context, mode Mode, message string, onStep func(Step)) (*Message, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message is required")
	}

	traceID := uuid.NewString()
	body, err := jsonAPI.Marshal(chatRequest{Message: message, TraceID: traceID})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+mode.path(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	logger := c.logger.With(zap.String("trace_id", traceID), zap.Stringer("mode", mode))
	logger.Debug("Opening agent stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: agent returned status %d: %s", ErrStreamFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	msg, err := Consume(resp.Body, c.prefix, onStep)
	if err != nil {
		logger.Warn("Agent stream failed", zap.Error(err))
		return nil, err
	}

	logger.Debug("Agent stream finished", zap.Int("steps", len(msg.Steps)), zap.String("reference_id", msg.ReferenceID))
	return msg, nil
}

// Consume reads r until EOF through a Reconstructor.
func Consume(r io.Reader, prefix string, onStep func(Step)) (*Message, error) {
	rec := NewReconstructor(prefix)
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, step := range rec.Feed(buf[:n]) {
				if onStep != nil {
					onStep(step)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rec.Fail(err)
			return rec.Finish()
		}
	}

	return rec.Finish()
}

// Trace fetches the recorded steps of a finished run. Malformed records are skipped.
func (c *Client) Trace(ctx context.Context, traceID string) ([]Step, error) {
	if strings.TrimSpace(traceID) == "" {
		return nil, errors.New("trace id is required")
	}

	if c.cache != nil {
		raw, ok, err := c.cache.Get(ctx, traceID)
		if err != nil {
			c.logger.Warn("Trace cache read failed", zap.String("trace_id", traceID), zap.Error(err))
		} else if ok {
			return decodeTrace(raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/trace/"+url.PathEscape(traceID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating trace request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching trace %s: %w", traceID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading trace %s: %w", traceID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trace %s: agent returned status %d", traceID, resp.StatusCode)
	}

	steps, err := decodeTrace(raw)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, traceID, raw, c.cacheTTL); err != nil {
			c.logger.Warn("Trace cache write failed", zap.String("trace_id", traceID), zap.Error(err))
		}
	}
	return steps, nil
}

func decodeTrace(raw []byte) ([]Step, error) {
	var records []json.RawMessage
	if err := jsonAPI.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding trace: %w", err)
	}

	steps := make([]Step, 0, len(records))
	for _, rec := range records {
		step, err := DecodeStep(rec)
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	return steps, nil
}
