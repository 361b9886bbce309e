package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sita/pkg/circuitbreaker"
	"sita/pkg/metrics"
	"sita/pkg/trace"
)

const providerHTTP = "http"

// HTTPGenerator calls a text-generation service over HTTP. Non-2xx answers and
// an open circuit yield a degraded result; transport and decode errors are
// returned to the caller.
type HTTPGenerator struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewHTTPGenerator(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.FailureThreshold = 3
	cbConfig.HalfOpenMaxRequests = 2

	return &HTTPGenerator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cb:         circuitbreaker.NewCircuitBreaker(cbConfig),
		logger:     logger,
	}
}

type generateRequest struct {
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("generator returned status %d", e.code)
}

func (g *HTTPGenerator) Generate(ctx context.Context, p Prompt) (*Generation, error) {
	var out *Generation

	err := g.cb.Execute(func() error {
		start := time.Now()
		body, err := json.Marshal(generateRequest{
			System:      p.System,
			Prompt:      p.User,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName(), traceID)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			metrics.RecordGeneratorCallLatency(providerHTTP, "error", time.Since(start))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.RecordGeneratorCallLatency(providerHTTP, strconv.Itoa(resp.StatusCode), time.Since(start))
			return &statusError{code: resp.StatusCode}
		}
		metrics.RecordGeneratorCallLatency(providerHTTP, "success", time.Since(start))

		var decoded generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode generator response: %w", err)
		}
		if decoded.Model == "" {
			decoded.Model = p.Model
		}
		out = &Generation{Text: decoded.Text, Model: decoded.Model, Provider: providerHTTP}
		return nil
	})

	var se *statusError
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &se), errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		g.logger.Warn("Generator unavailable, using degraded result",
			zap.String("trace_id", trace.FromContext(ctx)),
			zap.Error(err),
		)
		return degraded(p, providerHTTP, err), nil
	default:
		return nil, fmt.Errorf("generate: %w", err)
	}
}

func degraded(p Prompt, provider string, cause error) *Generation {
	return &Generation{
		Text:     fmt.Sprintf("The assistant is temporarily unavailable (%v). Your request was recorded and can be retried later.", cause),
		Model:    p.Model,
		Provider: provider,
		Degraded: true,
	}
}
