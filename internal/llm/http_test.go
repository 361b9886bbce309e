package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sita/pkg/circuitbreaker"
	"sita/pkg/config"
	"sita/pkg/trace"
)

func TestHTTPGenerator_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "trace-1", r.Header.Get(trace.HeaderName()))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req.System)
		assert.Equal(t, "summarize", req.Prompt)

		_ = json.NewEncoder(w).Encode(generateResponse{Text: "done"})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL+"/", "secret", time.Second, zap.NewNop())
	ctx := trace.WithContext(context.Background(), "trace-1")

	gen, err := g.Generate(ctx, Prompt{System: "be brief", User: "summarize", Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "done", gen.Text)
	assert.Equal(t, "m1", gen.Model)
	assert.False(t, gen.Degraded)
}

func TestHTTPGenerator_Non2xxDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, "", time.Second, zap.NewNop())
	gen, err := g.Generate(context.Background(), Prompt{User: "hi"})
	require.NoError(t, err)
	assert.True(t, gen.Degraded)
	assert.NotEmpty(t, gen.Text)
}

func TestHTTPGenerator_OpenCircuitSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, "", time.Second, zap.NewNop())
	for i := 0; i < 5; i++ {
		gen, err := g.Generate(context.Background(), Prompt{User: "hi"})
		require.NoError(t, err)
		assert.True(t, gen.Degraded)
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, g.cb.GetState())
}

func TestHTTPGenerator_UndecodableBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL, "", time.Second, zap.NewNop())
	gen, err := g.Generate(context.Background(), Prompt{User: "hi"})
	assert.Error(t, err)
	assert.Nil(t, gen)
}

func TestHTTPGenerator_TransportErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := NewHTTPGenerator(url, "", time.Second, zap.NewNop())
	_, err := g.Generate(context.Background(), Prompt{User: "hi"})
	assert.Error(t, err)
}

func TestMockGenerator(t *testing.T) {
	m := NewMockGenerator()
	m.Reply = func(p Prompt) string { return "echo: " + p.User }

	gen, err := m.Generate(context.Background(), Prompt{User: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", gen.Text)
	require.Len(t, m.Prompts(), 1)

	m.Err = errors.New("boom")
	_, err = m.Generate(context.Background(), Prompt{User: "ping"})
	assert.EqualError(t, err, "boom")
}

func TestNew(t *testing.T) {
	g, err := New(context.Background(), config.LLMConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MockGenerator{}, g)

	_, err = New(context.Background(), config.LLMConfig{Provider: "http"}, zap.NewNop())
	assert.Error(t, err)

	g, err = New(context.Background(), config.LLMConfig{Provider: "http", URL: "http://localhost:1"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &HTTPGenerator{}, g)

	_, err = New(context.Background(), config.LLMConfig{Provider: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)
}
