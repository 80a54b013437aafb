// Package sidecar provides an inference runtime adapter backed by a local
// sidecar HTTP server that hosts the embedding model.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
)

// Ensure Runtime implements the interface.
var _ driven.InferenceRuntime = (*Runtime)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:8431"
	DefaultTimeout = 60 * time.Second
	DefaultRPS     = 8
)

// Config holds configuration for the sidecar inference runtime.
type Config struct {
	// BaseURL is the sidecar API base URL (default: http://localhost:8431).
	BaseURL string

	// Timeout is the per-request timeout (default: 60s).
	Timeout time.Duration

	// RPS caps the request rate against the sidecar so bulk indexing
	// cannot starve interactive queries (default: 8).
	RPS int
}

// Runtime talks to the sidecar inference server. It is stateless apart
// from tracking the loaded model's dimension; the sidecar owns the model.
type Runtime struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter

	mu   sync.RWMutex
	dims int
}

type loadRequest struct {
	Path      string `json:"path"`
	Preset    string `json:"preset"`
	Variant   string `json:"variant"`
	Dimension int    `json:"dimension"`
}

type loadResponse struct {
	Dimension int `json:"dimension"`
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewRuntime creates a sidecar inference runtime.
func NewRuntime(cfg Config) *Runtime {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}

	return &Runtime{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
	}
}

// LoadModel asks the sidecar to load the model at path. A previously loaded
// model is released by the sidecar before the new one activates.
func (r *Runtime) LoadModel(ctx context.Context, path string, cfg domain.ModelConfig) error {
	var resp loadResponse
	err := r.post(ctx, "/v1/model/load", loadRequest{
		Path:      path,
		Preset:    cfg.Preset,
		Variant:   string(cfg.Variant),
		Dimension: cfg.Dimension,
	}, &resp)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	r.mu.Lock()
	r.dims = resp.Dimension
	r.mu.Unlock()
	return nil
}

// EmbedBatch embeds texts in one sidecar call. Output order matches input
// order; any failure fails the whole call.
func (r *Runtime) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embedResponse
	if err := r.post(ctx, "/v1/embed", embedRequest{Texts: texts}, &resp); err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("sidecar returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// Dimensions returns the vector length of the loaded model.
func (r *Runtime) Dimensions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dims
}

// Ping validates the sidecar is reachable.
func (r *Runtime) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// Close asks the sidecar to release the loaded model. Transport failures on
// shutdown are not reported; the sidecar reaps idle models itself.
func (r *Runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/model/unload", nil)
	if err != nil {
		return nil
	}
	if resp, err := r.client.Do(req); err == nil {
		resp.Body.Close()
	}
	r.mu.Lock()
	r.dims = 0
	r.mu.Unlock()
	return nil
}

// post sends a JSON request and decodes a JSON response. Calls are rate
// limited and carry a correlation ID so sidecar logs can be matched to
// client operations.
func (r *Runtime) post(ctx context.Context, endpoint string, body, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("sidecar error (status %d): failed to read response", resp.StatusCode)
		}
		return fmt.Errorf("sidecar error (status %d): %s", resp.StatusCode, string(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
