package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"outreach/internal/metrics"
	"outreach/internal/token"
)

// RetrieverConfig 检索器配置
type RetrieverConfig struct {
	TopK           int     // 候选数量上限
	ScoreThreshold float64 // 最小相似度阈值, 低于此值的候选被丢弃
	TokenBudget    int     // 上下文 Token 预算

	// 按租户覆盖阈值, 键为租户ID
	TenantThresholds map[string]float64
}

func (c *RetrieverConfig) withDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.ScoreThreshold == 0 {
		c.ScoreThreshold = 0.25
	}
	if c.TokenBudget <= 0 {
		c.TokenBudget = 500
	}
}

// thresholdFor 取租户的生效阈值
func (c *RetrieverConfig) thresholdFor(tenantID string) float64 {
	if t, ok := c.TenantThresholds[tenantID]; ok {
		return t
	}
	return c.ScoreThreshold
}

// RetrievedContext 一次检索组装出的上下文
// Chunks 按相似度降序, 总 Token 数不超过预算。空上下文是合法结果:
// 调用方必须把"没有相关知识"当作常见情况处理, 而不是错误。
type RetrievedContext struct {
	Query      string
	Chunks     []*SearchResult
	TokenCount int
}

// Empty 上下文是否为空
func (c *RetrievedContext) Empty() bool {
	return len(c.Chunks) == 0
}

// Text 拼接上下文文本, 片段之间空行分隔
func (c *RetrievedContext) Text() string {
	parts := make([]string, 0, len(c.Chunks))
	for _, chunk := range c.Chunks {
		parts = append(parts, chunk.Content)
	}
	return strings.Join(parts, "\n\n")
}

// Retriever 面向邮件生成的知识检索器
// 把查询向量化、在租户分区内取 top-k、按阈值过滤, 再贪心装入 Token 预算。
type Retriever struct {
	store    VectorStore
	embedder EmbeddingProvider
	counter  *token.Counter
	logger   *zap.Logger
	cfg      RetrieverConfig
}

// NewRetriever 创建检索器
func NewRetriever(store VectorStore, embedder EmbeddingProvider, counter *token.Counter, logger *zap.Logger, cfg RetrieverConfig) *Retriever {
	cfg.withDefaults()
	return &Retriever{
		store:    store,
		embedder: embedder,
		counter:  counter,
		logger:   logger,
		cfg:      cfg,
	}
}

// RetrieveRequest 检索请求, 零值字段回落到配置默认值
type RetrieveRequest struct {
	TenantID    string
	Query       string
	TopK        int
	TokenBudget int
	Filter      *QueryFilter
}

// Retrieve 检索并组装上下文
func (r *Retriever) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrievedContext, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, fmt.Errorf("tenant_id 不能为空")
	}

	result := &RetrievedContext{Query: req.Query, Chunks: []*SearchResult{}}
	if strings.TrimSpace(req.Query) == "" {
		return result, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	budget := req.TokenBudget
	if budget <= 0 {
		budget = r.cfg.TokenBudget
	}

	queryVec, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		metrics.RetrievalTotal.WithLabelValues(req.TenantID, "failed").Inc()
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	candidates, err := r.store.Query(ctx, req.TenantID, queryVec, topK, req.Filter)
	if err != nil {
		metrics.RetrievalTotal.WithLabelValues(req.TenantID, "failed").Inc()
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	threshold := r.cfg.thresholdFor(req.TenantID)

	// 贪心装箱: 候选已按相似度降序, 装到第一个放不下的为止
	for _, c := range candidates {
		if c.Similarity < threshold {
			continue
		}

		tokens := c.TokenCount
		if tokens <= 0 {
			tokens = r.counter.Count(c.Content)
		}
		if result.TokenCount+tokens > budget {
			break
		}

		result.Chunks = append(result.Chunks, c)
		result.TokenCount += tokens
	}

	metrics.RetrievalTotal.WithLabelValues(req.TenantID, "success").Inc()
	metrics.RetrievalChunks.WithLabelValues(req.TenantID).Observe(float64(len(result.Chunks)))

	r.logger.Debug("检索完成",
		zap.String("tenant_id", req.TenantID),
		zap.Int("candidates", len(candidates)),
		zap.Int("packed", len(result.Chunks)),
		zap.Int("tokens", result.TokenCount),
	)

	return result, nil
}
