package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ortelius/vulngraph/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  time.Duration
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, raw []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	c.ttl = ttl
	return nil
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...ClientOption) *Client {
	t.Helper()
	hc := srv.Client()
	t.Cleanup(hc.CloseIdleConnections)
	opts = append([]ClientOption{WithHTTPClient(hc)}, opts...)
	return NewClient(config.AgentConfig{BaseURL: srv.URL + "/", EventPrefix: DefaultPrefix}, zap.NewNop(), opts...)
}

func TestClientStream(t *testing.T) {
	var gotPath string
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		// split mid-prefix and mid-payload
		for _, part := range []string{"da", "ta: {\"step\":\"Thought\",\"con", "tent\":\"checking\",\"trace_id\":\"t-1\"}\n",
			"data: {\"step\":\"Final Answer\",\"content\":\"SQL injection confirmed\",\"trace_id\":\"t-2\"}\n"} {
			_, _ = fmt.Fprint(w, part)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	var seen []Kind
	msg, err := newTestClient(t, srv).Stream(context.Background(), ModeMulti, "is this exploitable?", func(s Step) {
		seen = append(seen, s.Kind())
	})
	require.NoError(t, err)

	assert.Equal(t, "/chat/multi-agent/stream", gotPath)
	assert.Equal(t, "is this exploitable?", gotBody.Message)
	assert.NotEmpty(t, gotBody.TraceID)
	assert.Equal(t, []Kind{KindThought, KindFinalAnswer}, seen)
	assert.Equal(t, "Thought: checking\n\nFinal Answer: SQL injection confirmed", msg.Text)
	assert.Equal(t, "t-2", msg.ReferenceID)
}

func TestClientStreamSingleModePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/stream", r.URL.Path)
		_, _ = fmt.Fprint(w, "data: {\"step\":\"Final Answer\",\"content\":\"ok\"}\n")
	}))
	defer srv.Close()

	msg, err := newTestClient(t, srv).Stream(context.Background(), ModeSingle, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Final Answer: ok", msg.Text)
}

func TestClientStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "agent offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Stream(context.Background(), ModeSingle, "hi", nil)
	assert.ErrorIs(t, err, ErrStreamFailed)
	assert.ErrorContains(t, err, "502")
}

func TestClientStreamCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "data: {\"step\":\"Thought\",\"content\":\"still thinking\"}\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg, err := newTestClient(t, srv).Stream(ctx, ModeSingle, "hi", func(Step) { cancel() })
	assert.Nil(t, msg, "a cancelled stream yields no partial answer")
	assert.ErrorIs(t, err, ErrStreamFailed)
}

func TestClientStreamRequiresMessage(t *testing.T) {
	c := NewClient(config.AgentConfig{BaseURL: "http://unused"}, zap.NewNop())
	_, err := c.Stream(context.Background(), ModeSingle, "  ", nil)
	assert.Error(t, err)
}

func TestClientTraceUsesCache(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/trace/t-42", r.URL.Path)
		_, _ = fmt.Fprint(w, `[{"step":"Thought","content":"a","trace_id":"t-42"},{"content":"no step"},7,{"step":"Final Answer","content":"b"}]`)
	}))
	defer srv.Close()

	cache := &memCache{data: map[string][]byte{}}
	c := newTestClient(t, srv, WithTraceCache(cache, time.Minute))

	steps, err := c.Trace(context.Background(), "t-42")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, KindThought, steps[0].Kind())
	assert.Equal(t, KindFinalAnswer, steps[1].Kind())

	again, err := c.Trace(context.Background(), "t-42")
	require.NoError(t, err)
	assert.Equal(t, steps, again)
	assert.Equal(t, 1, hits, "second lookup is served from the cache")
	assert.Equal(t, time.Minute, cache.ttl)
}

func TestClientTraceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(t, srv).Trace(context.Background(), "missing")
	assert.ErrorContains(t, err, "404")
}
