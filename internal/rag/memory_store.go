package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryVectorStore 进程内向量存储
// 每个租户一个独立分区, 分区之间没有任何共享索引结构, 跨租户读取在结构上不可能发生。
// 用于单元测试与本地开发, 语义与 pgvector 实现保持一致。
type MemoryVectorStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*memRecord // tenantID -> chunkID -> record
}

type memRecord struct {
	vec *Vector
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		partitions: make(map[string]map[string]*memRecord),
	}
}

func (s *MemoryVectorStore) partition(tenantID string) map[string]*memRecord {
	p, ok := s.partitions[tenantID]
	if !ok {
		p = make(map[string]*memRecord)
		s.partitions[tenantID] = p
	}
	return p
}

// Upsert 幂等写入, 同 (tenant, chunk_id) 覆盖旧记录
func (s *MemoryVectorStore) Upsert(ctx context.Context, tenantID string, vectors []*Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(tenantID)
	for _, vec := range vectors {
		if vec.TenantID != tenantID {
			return NewError(KindTenantIsolation,
				fmt.Sprintf("写入载荷租户 %s 与目标租户 %s 不符", vec.TenantID, tenantID), nil)
		}
		p[vec.ChunkID] = &memRecord{vec: vec}
	}
	return nil
}

// ReplaceDocument 原子替换文档的全部分块: 新集合构建完成后一次性换入
func (s *MemoryVectorStore) ReplaceDocument(ctx context.Context, tenantID, documentID string, vectors []*Vector) error {
	staged := make(map[string]*memRecord, len(vectors))
	for _, vec := range vectors {
		if vec.TenantID != tenantID {
			return NewError(KindTenantIsolation,
				fmt.Sprintf("写入载荷租户 %s 与目标租户 %s 不符", vec.TenantID, tenantID), nil)
		}
		staged[vec.ChunkID] = &memRecord{vec: vec}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(tenantID)
	for id, rec := range p {
		if rec.vec.DocumentID == documentID {
			delete(p, id)
		}
	}
	for id, rec := range staged {
		p[id] = rec
	}
	return nil
}

// DeleteByDocument 删除指定文档的全部分块
func (s *MemoryVectorStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(tenantID)
	for id, rec := range p {
		if rec.vec.DocumentID == documentID {
			delete(p, id)
		}
	}
	return nil
}

// Query 租户分区内余弦相似度检索, 降序返回, 同分按入库时间倒序
func (s *MemoryVectorStore) Query(ctx context.Context, tenantID string, queryVector []float32, topK int, filter *QueryFilter) ([]*SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[tenantID]
	if !ok {
		return []*SearchResult{}, nil
	}

	results := make([]*SearchResult, 0, len(p))
	for _, rec := range p {
		if filter != nil && len(filter.SourceTypes) > 0 && !containsString(filter.SourceTypes, rec.vec.SourceType) {
			continue
		}
		results = append(results, &SearchResult{
			ChunkID:    rec.vec.ChunkID,
			DocumentID: rec.vec.DocumentID,
			TenantID:   rec.vec.TenantID,
			Content:    rec.vec.Content,
			ChunkIndex: rec.vec.ChunkIndex,
			TokenCount: rec.vec.TokenCount,
			SourceType: rec.vec.SourceType,
			SourceURI:  rec.vec.SourceURI,
			Similarity: cosineSimilarity(queryVector, rec.vec.Embedding),
			IngestedAt: rec.vec.IngestedAt,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].IngestedAt.After(results[j].IngestedAt)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// cosineSimilarity 计算余弦相似度, 结果落在 [-1, 1]
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
