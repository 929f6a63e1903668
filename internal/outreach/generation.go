package outreach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// GenerationParams 单次生成的采样参数
type GenerationParams struct {
	Temperature float32
	MaxTokens   int
}

// GenerationClient 外部生成模型的无状态适配器
// generation_unavailable(瞬态)与 generation_refused(模型拒答)是两类错误:
// 前者由客户端内部有界重试, 后者立即上抛, 重试不会改变结果。
type GenerationClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// GenerationConfig 生成客户端配置
type GenerationConfig struct {
	Model        string
	BaseURL      string // 为空时使用 OpenAI 官方地址, 网关/自建代理时覆盖
	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

func (c *GenerationConfig) withDefaults() {
	if c.Model == "" {
		c.Model = openai.GPT4oMini
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// OpenAIGenerationClient 基于 OpenAI Chat Completions 的生成客户端
type OpenAIGenerationClient struct {
	client *openai.Client
	cfg    GenerationConfig
}

// NewOpenAIGenerationClient 创建生成客户端
func NewOpenAIGenerationClient(apiKey string, cfg GenerationConfig) *OpenAIGenerationClient {
	cfg.withDefaults()

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerationClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Generate 发送提示词并返回草稿文本
func (c *OpenAIGenerationClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", NewError(KindGenerationUnavailable, "等待重试时上下文取消", ctx.Err())
			}
		}

		text, err := c.generateOnce(ctx, prompt, params)
		if err == nil {
			return text, nil
		}
		// 模型拒答不重试
		if IsKind(err, KindGenerationRefused) {
			return "", err
		}
		lastErr = err
	}

	return "", NewError(KindGenerationUnavailable,
		fmt.Sprintf("重试%d次后仍然失败", c.cfg.MaxRetries), lastErr)
}

func (c *OpenAIGenerationClient) generateOnce(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 400 {
			// 参数/内容被上游拒绝, 重试同样的请求不会有不同结果
			return "", NewError(KindGenerationRefused, "上游模型拒绝请求", err)
		}
		return "", fmt.Errorf("调用 Chat Completions API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("API 返回空选项")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", NewError(KindGenerationRefused, "内容被上游安全过滤器拦截", nil)
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", NewError(KindGenerationRefused, "模型未产出内容", nil)
	}

	return content, nil
}

// ParseDraft 从生成文本中拆出主题与正文
// 约定第一行为 "Subject: ..."; 不符合约定时整体作为正文, 主题留空
func ParseDraft(text string) (subject, body string) {
	text = strings.TrimSpace(text)

	lines := strings.SplitN(text, "\n", 2)
	first := strings.TrimSpace(lines[0])

	lower := strings.ToLower(first)
	if strings.HasPrefix(lower, "subject:") {
		subject = strings.TrimSpace(first[len("subject:"):])
		if len(lines) > 1 {
			body = strings.TrimSpace(lines[1])
		}
		return subject, body
	}

	return "", text
}
