package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"outreach/internal/token"
)

// EmbeddingConfig 向量化客户端配置
type EmbeddingConfig struct {
	Model          string        // 默认 text-embedding-3-small
	BaseURL        string        // 为空时使用 OpenAI 官方地址, 网关/自建代理时覆盖
	MaxInputTokens int           // 单条文本的 Token 上限, 超出直接报 input_too_large
	MaxRetries     int           // 瞬态错误的最大重试次数
	RetryBackoff   time.Duration // 重试退避基数, 按次数翻倍
	Timeout        time.Duration // 单次请求超时
}

// 默认值, 构造时填充零值字段
func (c *EmbeddingConfig) withDefaults() {
	if c.Model == "" {
		c.Model = string(openai.SmallEmbedding3)
	}
	if c.MaxInputTokens <= 0 {
		c.MaxInputTokens = 8191 // text-embedding-3 系列的上限
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// OpenAIEmbeddingProvider OpenAI 向量化服务提供者
type OpenAIEmbeddingProvider struct {
	client  *openai.Client
	cfg     EmbeddingConfig
	counter *token.Counter
}

// NewOpenAIEmbeddingProvider 创建 OpenAI 向量化提供者
func NewOpenAIEmbeddingProvider(apiKey string, cfg EmbeddingConfig, counter *token.Counter) *OpenAIEmbeddingProvider {
	cfg.withDefaults()

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbeddingProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		counter: counter,
	}
}

// Embed 将单条文本转换为向量
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// EmbedBatch 批量向量化文本, 保序返回
// 超长文本不做静默截断: 截断责任在分块器, 这里直接报 input_too_large
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	for i, text := range texts {
		if text == "" {
			return nil, NewError(KindInputTooLarge, fmt.Sprintf("第%d条文本为空", i), nil)
		}
		if n := p.counter.Count(text); n > p.cfg.MaxInputTokens {
			return nil, NewError(KindInputTooLarge,
				fmt.Sprintf("第%d条文本 %d tokens 超过上限 %d", i, n, p.cfg.MaxInputTokens), nil)
		}
	}

	// OpenAI API 限制单次请求最多2048条输入, 超过则分批
	const batchSize = 2048
	allEmbeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := p.embedWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// embedWithRetry 带有界重试与退避的单批向量化
func (p *OpenAIEmbeddingProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, NewError(KindEmbeddingUnavailable, "等待重试时上下文取消", ctx.Err())
			}
		}

		embeddings, err := p.embedOnce(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
	}

	return nil, NewError(KindEmbeddingUnavailable,
		fmt.Sprintf("重试%d次后仍然失败", p.cfg.MaxRetries), lastErr)
}

func (p *OpenAIEmbeddingProvider) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.cfg.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("调用 OpenAI Embeddings API 失败: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI API 返回向量数量不匹配: 期望%d, 实际%d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}
	return embeddings, nil
}

// GetDimension 获取向量维度
func (p *OpenAIEmbeddingProvider) GetDimension() int {
	switch p.cfg.Model {
	case string(openai.LargeEmbedding3):
		return 3072
	case string(openai.SmallEmbedding3), string(openai.AdaEmbeddingV2):
		return 1536
	default:
		return 1536
	}
}

// GetModel 获取当前使用的模型
func (p *OpenAIEmbeddingProvider) GetModel() string {
	return p.cfg.Model
}
