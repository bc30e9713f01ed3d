// Package llm provides a client for interacting with Large Language Models.
package llm

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
)

// ErrEmptyCompletion is returned when the model answers without any text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Client defines the interface for an LLM client.
type Client interface {
	// Generate 以单个 prompt 调用模型并返回完整回答。
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	hc := &http.Client{Timeout: timeout}
	if strings.EqualFold(cfg.Provider, "openai") {
		return &chatCompletionsClient{cfg: cfg, client: hc}
	}
	return &ollamaClient{cfg: cfg, client: hc}
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// paramsFromConfig 从配置注入生成参数（若非零值）
func paramsFromConfig(g config.LLMGenerationConfig) GenerationParams {
	var p GenerationParams
	if g.Temperature != 0 {
		t := g.Temperature
		p.Temperature = &t
	}
	if g.TopP != 0 {
		v := g.TopP
		p.TopP = &v
	}
	if g.MaxTokens != 0 {
		m := g.MaxTokens
		p.MaxTokens = &m
	}
	return p
}

func postJSON(ctx context.Context, hc *http.Client, url, apiKey string, body, out any) error {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal llm request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call llm api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("llm api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode llm response: %w", err)
	}
	return nil
}

// ollamaClient calls Ollama's /api/generate endpoint without streaming.
type ollamaClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *ollamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{Model: c.cfg.Model, Prompt: prompt}
	p := paramsFromConfig(c.cfg.Generation)
	if p.Temperature != nil || p.TopP != nil || p.MaxTokens != nil {
		reqBody.Options = &ollamaOptions{Temperature: p.Temperature, TopP: p.TopP, NumPredict: p.MaxTokens}
	}
	var resp generateResponse
	if err := postJSON(ctx, c.client, strings.TrimRight(c.cfg.BaseURL, "/")+"/api/generate", c.cfg.APIKey, reqBody, &resp); err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Response)
	if answer == "" {
		return "", ErrEmptyCompletion
	}
	return answer, nil
}

// chatCompletionsClient calls an OpenAI-compatible /chat/completions endpoint.
type chatCompletionsClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	GenerationParams
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *chatCompletionsClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:            c.cfg.Model,
		Messages:         []Message{{Role: "user", Content: prompt}},
		GenerationParams: paramsFromConfig(c.cfg.Generation),
	}
	var resp chatResponse
	if err := postJSON(ctx, c.client, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", c.cfg.APIKey, reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", ErrEmptyCompletion
	}
	return answer, nil
}
