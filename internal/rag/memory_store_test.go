package rag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeVec(tenantID, docID string, idx int, content string, embedding []float32, ingestedAt time.Time) *Vector {
	return &Vector{
		ChunkID:    ChunkID(docID, idx),
		DocumentID: docID,
		TenantID:   tenantID,
		Content:    content,
		ChunkIndex: idx,
		TokenCount: 10,
		Embedding:  embedding,
		SourceType: SourceTypeUpload,
		IngestedAt: ingestedAt,
	}
}

func TestMemoryVectorStore_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	now := time.Now()

	// 两个租户存入完全相同的内容与向量
	require.NoError(t, store.Upsert(ctx, "tenant-a", []*Vector{
		makeVec("tenant-a", "doc-a", 0, "We price per seat.", []float32{1, 0}, now),
	}))
	require.NoError(t, store.Upsert(ctx, "tenant-b", []*Vector{
		makeVec("tenant-b", "doc-b", 0, "We price per seat.", []float32{1, 0}, now),
	}))

	results, err := store.Query(ctx, "tenant-a", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	for _, r := range results {
		if r.TenantID != "tenant-a" {
			t.Fatalf("检索结果泄露了其他租户的数据: %+v", r)
		}
	}

	// 未知租户返回空集而非错误
	empty, err := store.Query(ctx, "tenant-c", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryVectorStore_UpsertRejectsTenantMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()

	err := store.Upsert(ctx, "tenant-a", []*Vector{
		makeVec("tenant-b", "doc-1", 0, "mismatch", []float32{1, 0}, time.Now()),
	})
	require.Error(t, err)
	if !IsKind(err, KindTenantIsolation) {
		t.Fatalf("期望 tenant_isolation_violation, 实际 %v", err)
	}
}

func TestMemoryVectorStore_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	now := time.Now()

	vec := makeVec("tenant-a", "doc-1", 0, "old content", []float32{1, 0}, now)
	require.NoError(t, store.Upsert(ctx, "tenant-a", []*Vector{vec}))

	// 同一 chunk_id 重写应覆盖而非追加
	updated := makeVec("tenant-a", "doc-1", 0, "new content", []float32{1, 0}, now)
	require.NoError(t, store.Upsert(ctx, "tenant-a", []*Vector{updated}))

	results, err := store.Query(ctx, "tenant-a", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "new content", results[0].Content)
}

func TestMemoryVectorStore_ReplaceDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	now := time.Now()

	require.NoError(t, store.Upsert(ctx, "tenant-a", []*Vector{
		makeVec("tenant-a", "doc-1", 0, "chunk zero", []float32{1, 0}, now),
		makeVec("tenant-a", "doc-1", 1, "chunk one", []float32{1, 0}, now),
		makeVec("tenant-a", "doc-1", 2, "chunk two", []float32{1, 0}, now),
		makeVec("tenant-a", "doc-2", 0, "other doc", []float32{1, 0}, now),
	}))

	// 重入库后该文档只剩一个分块, 旧分块不能残留
	require.NoError(t, store.ReplaceDocument(ctx, "tenant-a", "doc-1", []*Vector{
		makeVec("tenant-a", "doc-1", 0, "replacement", []float32{1, 0}, now.Add(time.Second)),
	}))

	results, err := store.Query(ctx, "tenant-a", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		if r.DocumentID == "doc-1" && r.Content != "replacement" {
			t.Fatalf("doc-1 残留了旧分块: %q", r.Content)
		}
	}
}

func TestMemoryVectorStore_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	now := time.Now()

	require.NoError(t, store.Upsert(ctx, "tenant-a", []*Vector{
		makeVec("tenant-a", "doc-1", 0, "to delete", []float32{1, 0}, now),
		makeVec("tenant-a", "doc-2", 0, "to keep", []float32{1, 0}, now),
	}))

	require.NoError(t, store.DeleteByDocument(ctx, "tenant-a", "doc-1"))

	results, err := store.Query(ctx, "tenant-a", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "doc-2", results[0].DocumentID)
}

func TestMemoryVectorStore_QueryOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	now := time.Now()

	require.NoError(t, store.Upsert(ctx, "tenant-a", []*Vector{
		makeVec("tenant-a", "doc-1", 0, "exact match", []float32{1, 0}, now),
		makeVec("tenant-a", "doc-2", 0, "partial match", []float32{0.7, 0.7}, now),
		makeVec("tenant-a", "doc-3", 0, "orthogonal", []float32{0, 1}, now),
	}))

	results, err := store.Query(ctx, "tenant-a", []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2, "topK 应截断结果")

	require.Equal(t, "exact match", results[0].Content)
	if results[0].Similarity < results[1].Similarity {
		t.Fatalf("结果应按相似度降序: %f < %f", results[0].Similarity, results[1].Similarity)
	}
}

func TestMemoryVectorStore_QueryTieBreakByIngestedAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	old := time.Now().Add(-time.Hour)
	fresh := time.Now()

	// 相同向量 → 相同相似度, 新入库的排前面
	require.NoError(t, store.Upsert(ctx, "tenant-a", []*Vector{
		makeVec("tenant-a", "doc-old", 0, "older", []float32{1, 0}, old),
		makeVec("tenant-a", "doc-new", 0, "newer", []float32{1, 0}, fresh),
	}))

	results, err := store.Query(ctx, "tenant-a", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "newer", results[0].Content)
}

func TestMemoryVectorStore_QuerySourceFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	now := time.Now()

	upload := makeVec("tenant-a", "doc-1", 0, "uploaded", []float32{1, 0}, now)
	scraped := makeVec("tenant-a", "doc-2", 0, "scraped", []float32{1, 0}, now)
	scraped.SourceType = SourceTypeProfile

	require.NoError(t, store.Upsert(ctx, "tenant-a", []*Vector{upload, scraped}))

	results, err := store.Query(ctx, "tenant-a", []float32{1, 0}, 10,
		&QueryFilter{SourceTypes: []string{SourceTypeProfile}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "scraped", results[0].Content)
}
