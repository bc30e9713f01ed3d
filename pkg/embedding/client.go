// Package embedding provides a client for interacting with embedding models.
package embedding

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

	"docvault-go/internal/config"
	"docvault-go/pkg/log"

	"golang.org/x/time/rate"
)

var (
	// ErrMalformedResponse is returned when the model service answers 200 but the
	// body lacks the expected vectors.
	ErrMalformedResponse = errors.New("embedding: malformed response")
	// ErrDimensionMismatch is returned when a vector's length differs from the
	// configured dimensionality of the vector column.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Client defines the interface for an embedding client.
// Implementations never retry internally; retry policy belongs to the caller.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	base := httpClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		base.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if strings.EqualFold(cfg.Provider, ProviderOpenAI) {
		return &openAICompatibleClient{httpClient: base}
	}
	return &ollamaClient{httpClient: base}
}

// httpClient holds what both providers share: config, HTTP client and optional limiter.
type httpClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter
}

func (c *httpClient) Dimensions() int { return c.cfg.Dimensions }
func (c *httpClient) Model() string   { return c.cfg.Model }

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("embedding rate limiter: %w", err)
		}
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return fmt.Errorf("embedding api returned non-200 status: %s, body: %s", resp.Status, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// check validates count and dimensionality of a batch response.
func (c *httpClient) check(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: expected %d vectors, got %d", ErrMalformedResponse, want, len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at index %d", ErrMalformedResponse, i)
		}
		if c.cfg.Dimensions > 0 && len(v) != c.cfg.Dimensions {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, c.cfg.Dimensions, len(v))
		}
	}
	return nil
}

func single(ctx context.Context, c Client, text string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// ollamaClient talks to Ollama's /api/embed endpoint.
type ollamaClient struct {
	httpClient
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *ollamaClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, c, text)
}

// CreateEmbeddings embeds a batch of texts in one request.
func (c *ollamaClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Debugf("[EmbeddingClient] 调用 Ollama Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))
	var resp ollamaResponse
	if err := c.post(ctx, "/api/embed", ollamaRequest{Model: c.cfg.Model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if err := c.check(resp.Embeddings, len(texts)); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

// openAICompatibleClient talks to any OpenAI-compatible /embeddings endpoint.
type openAICompatibleClient struct {
	httpClient
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, c, text)
}

// CreateEmbeddings calls the OpenAI-compatible API to get the vectors for a batch of texts.
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Debugf("[EmbeddingClient] 调用 OpenAI 兼容 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}
	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}

	// 按 index 还原顺序，服务端不保证与输入顺序一致
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrMalformedResponse, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrMalformedResponse, len(texts), len(resp.Data))
	}
	if err := c.check(vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// ProbeDimensions embeds a fixed string once and verifies the model's output size
// against the configured dimensionality. A mismatch is a configuration error.
func ProbeDimensions(ctx context.Context, c Client) error {
	v, err := c.CreateEmbedding(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("embedding probe failed: %w", err)
	}
	if len(v) != c.Dimensions() {
		return fmt.Errorf("%w: model %s returns %d, configured %d", ErrDimensionMismatch, c.Model(), len(v), c.Dimensions())
	}
	log.Infof("[EmbeddingClient] 维度探测通过, model: %s, dimensions: %d", c.Model(), len(v))
	return nil
}
