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

	"cvforge/internal/config"
	"cvforge/internal/cvcontent"
	"cvforge/internal/errs"
	"cvforge/internal/metrics"
)

const anthropicAPIVersion = "2023-06-01"

// Client 通过 Anthropic Messages API 实现 Generator 与 Completer。
// 客户端是显式构造、注入使用的实例，没有包级全局状态。
type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
}

// NewClient 构造客户端。httpClient 为 nil 时按配置超时创建默认实例。
func NewClient(cfg config.LLMConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// contentSchemaInstructions 描述结构化输出契约。
// 与 cvcontent.Content 的 JSON 标签保持一致。
const contentSchemaInstructions = `
RESPONDE ÚNICAMENTE con un objeto JSON válido, sin bloques de código markdown, con exactamente esta estructura:
{
  "firstname": "string",
  "lastname": "string",
  "email": "string",
  "phone": "string",
  "github": "string (opcional)",
  "linkedin": "string (opcional)",
  "address": "string",
  "summary": "string",
  "experiences": [{"title": "string", "company": "string", "date": "string", "description": "string"}],
  "education": [{"degree": "string", "institution": "string", "date": "string", "description": "string"}],
  "skills": [{"category": "string", "skill_list": "string separado por comas"}],
  "chat_response": "string"
}`

// GenerateCVContent 发送提示词并要求满足契约的结构化结果。
// 响应无法通过契约校验时返回 errs.ErrGeneration；校验失败不重试。
func (c *Client) GenerateCVContent(ctx context.Context, prompt string) (*cvcontent.Content, error) {
	start := time.Now()
	text, err := c.Complete(ctx, prompt+"\n"+contentSchemaInstructions)
	if err != nil {
		metrics.ObserveGeneration("error", time.Since(start))
		return nil, err
	}

	var content cvcontent.Content
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &content); err != nil {
		metrics.ObserveGeneration("schema_error", time.Since(start))
		return nil, errs.Generationf("decode structured response: %v", err)
	}
	if err := content.Validate(); err != nil {
		metrics.ObserveGeneration("schema_error", time.Since(start))
		return nil, err
	}

	metrics.ObserveGeneration("ok", time.Since(start))
	return &content, nil
}

// Complete 发送单轮提示词并返回原始文本。
// 仅对瞬时传输错误重试一次；HTTP 4xx 视为确定性失败不重试。
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", errs.Generationf("anthropic api key missing")
	}

	text, err := c.sendOnce(ctx, prompt)
	if err != nil && isTransient(err) && ctx.Err() == nil {
		text, err = c.sendOnce(ctx, prompt)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// transientError 标记可重试的传输层失败。
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func (c *Client) sendOnce(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	payload := messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Generationf("marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(data))
	if err != nil {
		return "", errs.Generationf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("Anthropic-Version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrGeneration, &transientError{err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Generationf("read response body: %v", err)
	}

	if resp.StatusCode >= 500 {
		wrapped := &transientError{err: fmt.Errorf("anthropic http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
		return "", fmt.Errorf("%w: %w", errs.ErrGeneration, wrapped)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.Generationf("anthropic http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded messagesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", errs.Generationf("decode response: %v", err)
	}
	if len(decoded.Content) == 0 || decoded.Content[0].Text == "" {
		return "", errs.Generationf("empty response content")
	}
	return strings.TrimSpace(decoded.Content[0].Text), nil
}

// stripCodeFences 去掉模型偶尔输出的 markdown 代码块包装。
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
