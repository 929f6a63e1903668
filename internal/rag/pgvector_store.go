package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PGVectorStore 基于 PostgreSQL pgvector 扩展的向量存储实现
// 所有 SQL 都以 tenant_id 作为第一过滤条件, 并且只命中状态为 embedded 的文档。
type PGVectorStore struct {
	db *gorm.DB
}

// NewPGVectorStore 创建 pgvector 存储实例
func NewPGVectorStore(db *gorm.DB) (*PGVectorStore, error) {
	store := &PGVectorStore{db: db}

	// 确保 pgvector 扩展已启用
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("确保 pgvector 扩展失败: %w", err)
	}

	return store, nil
}

// Upsert 幂等写入分块向量, 同主键覆盖(last-write-wins)
func (s *PGVectorStore) Upsert(ctx context.Context, tenantID string, vectors []*Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	chunks := make([]*KnowledgeChunk, 0, len(vectors))
	for _, vec := range vectors {
		if vec.TenantID != tenantID {
			return NewError(KindTenantIsolation,
				fmt.Sprintf("写入载荷租户 %s 与目标租户 %s 不符", vec.TenantID, tenantID), nil)
		}
		chunks = append(chunks, chunkFromVector(vec))
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		CreateInBatches(chunks, 200).Error
}

// ReplaceDocument 在单个事务内替换文档的全部分块
func (s *PGVectorStore) ReplaceDocument(ctx context.Context, tenantID, documentID string, vectors []*Vector) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
			Delete(&KnowledgeChunk{}).Error; err != nil {
			return fmt.Errorf("清理旧分块失败: %w", err)
		}

		for _, vec := range vectors {
			if vec.TenantID != tenantID {
				return NewError(KindTenantIsolation,
					fmt.Sprintf("写入载荷租户 %s 与目标租户 %s 不符", vec.TenantID, tenantID), nil)
			}
			if err := tx.Create(chunkFromVector(vec)).Error; err != nil {
				return fmt.Errorf("写入分块失败: %w", err)
			}
		}
		return nil
	})
}

// DeleteByDocument 删除指定文档的全部分块
func (s *PGVectorStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND document_id = ?", tenantID, documentID).
		Delete(&KnowledgeChunk{}).Error
}

// Query 租户分区内的余弦相似度检索
// 1 - (embedding <=> query) 即余弦相似度, <=> 是 pgvector 的余弦距离操作符。
// 只连接状态为 embedded 的文档: 入库中/失败的文档对检索不可见。
func (s *PGVectorStore) Query(ctx context.Context, tenantID string, queryVector []float32, topK int, filter *QueryFilter) ([]*SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = 5
	}

	query := `
		SELECT
			c.id,
			c.document_id,
			c.tenant_id,
			c.content,
			c.chunk_index,
			c.token_count,
			c.source_type,
			c.source_uri,
			1 - (c.embedding <=> ?) AS similarity,
			d.ingested_at
		FROM knowledge_chunks c
		JOIN knowledge_documents d
			ON d.id = c.document_id AND d.tenant_id = c.tenant_id
		WHERE c.tenant_id = ?
			AND d.status = ?
			AND d.deleted_at IS NULL`

	args := []any{pgvector.NewVector(queryVector), tenantID, DocStatusEmbedded}

	if filter != nil && len(filter.SourceTypes) > 0 {
		query += " AND c.source_type IN ?"
		args = append(args, filter.SourceTypes)
	}

	query += `
		ORDER BY c.embedding <=> ? ASC, d.ingested_at DESC
		LIMIT ?`
	args = append(args, pgvector.NewVector(queryVector), topK)

	var rows []struct {
		ID         string     `gorm:"column:id"`
		DocumentID string     `gorm:"column:document_id"`
		TenantID   string     `gorm:"column:tenant_id"`
		Content    string     `gorm:"column:content"`
		ChunkIndex int        `gorm:"column:chunk_index"`
		TokenCount int        `gorm:"column:token_count"`
		SourceType string     `gorm:"column:source_type"`
		SourceURI  string     `gorm:"column:source_uri"`
		Similarity float64    `gorm:"column:similarity"`
		IngestedAt *time.Time `gorm:"column:ingested_at"`
	}

	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	results := make([]*SearchResult, 0, len(rows))
	for _, r := range rows {
		// 隔离断言: 出现跨租户记录说明查询约束被破坏, 必须中止而不是丢弃
		if r.TenantID != tenantID {
			return nil, NewError(KindTenantIsolation,
				fmt.Sprintf("查询租户 %s 返回了租户 %s 的分块 %s", tenantID, r.TenantID, r.ID), nil)
		}

		ingestedAt := time.Time{}
		if r.IngestedAt != nil {
			ingestedAt = *r.IngestedAt
		}
		results = append(results, &SearchResult{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			TenantID:   r.TenantID,
			Content:    r.Content,
			ChunkIndex: r.ChunkIndex,
			TokenCount: r.TokenCount,
			SourceType: r.SourceType,
			SourceURI:  r.SourceURI,
			Similarity: r.Similarity,
			IngestedAt: ingestedAt,
		})
	}

	return results, nil
}

func chunkFromVector(vec *Vector) *KnowledgeChunk {
	return &KnowledgeChunk{
		ID:             vec.ChunkID,
		DocumentID:     vec.DocumentID,
		TenantID:       vec.TenantID,
		ChunkIndex:     vec.ChunkIndex,
		Content:        vec.Content,
		ContentHash:    vec.ContentHash,
		TokenCount:     vec.TokenCount,
		StartOffset:    vec.StartOffset,
		EndOffset:      vec.EndOffset,
		Embedding:      pgvector.NewVector(vec.Embedding),
		EmbeddingModel: vec.EmbeddingModel,
		SourceType:     vec.SourceType,
		SourceURI:      vec.SourceURI,
	}
}
