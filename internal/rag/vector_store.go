package rag

import "context"

// QueryFilter 检索过滤条件
type QueryFilter struct {
	SourceTypes []string // 限定文档来源类型, 空表示不限
}

// VectorStore 抽象向量写入、检索与删除, 可由不同后端实现(pgvector、内存等)。
//
// 租户隔离是本接口的核心正确性约束: 每个操作都要求显式租户ID,
// 实现必须按租户做结构性分区(独立分区/查询约束), 而不是查询后再过滤。
// Query 返回跨租户记录属于致命缺陷, 实现应检测并报 tenant_isolation_violation。
type VectorStore interface {
	// Upsert 幂等写入: 同一 (tenant, chunk_id) 重复写入时覆盖旧记录
	Upsert(ctx context.Context, tenantID string, vectors []*Vector) error

	// ReplaceDocument 原子替换一个文档的全部分块(stage-then-swap)
	// 替换期间旧分块保持可查, 不会出现半新半旧的中间态
	ReplaceDocument(ctx context.Context, tenantID, documentID string, vectors []*Vector) error

	// DeleteByDocument 删除指定文档的全部分块
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error

	// Query 在单个租户分区内做余弦相似度检索, 相似度归一化到 [-1, 1]
	// 结果少于 topK 仅当分区内记录不足; 不做阈值过滤(那是检索器的职责)
	Query(ctx context.Context, tenantID string, queryVector []float32, topK int, filter *QueryFilter) ([]*SearchResult, error)
}
