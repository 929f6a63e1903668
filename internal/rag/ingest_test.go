package rag

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"outreach/internal/token"
)

type fakeEmbeddingProvider struct {
	calls int
	fail  bool
}

func (f *fakeEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("模拟嵌入服务故障")
	}
	f.calls++
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("模拟嵌入服务故障")
	}
	f.calls++
	res := make([][]float32, len(texts))
	for i, txt := range texts {
		res[i] = []float32{float32(len(txt)), 1}
	}
	return res, nil
}

func (f *fakeEmbeddingProvider) GetDimension() int { return 2 }
func (f *fakeEmbeddingProvider) GetModel() string  { return "test-model" }

type fakeIngestQueue struct {
	docIDs []string
}

func (f *fakeIngestQueue) EnqueueIngestDocument(documentID string) error {
	f.docIDs = append(f.docIDs, documentID)
	return nil
}

func setupIngestTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ingest_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&KnowledgeDocument{}))
	return db
}

func newTestIngestionService(t *testing.T, db *gorm.DB, store VectorStore, embedder EmbeddingProvider, queue IngestQueue) *IngestionService {
	t.Helper()
	counter := token.NewCounter("gpt-4o-mini")
	return NewIngestionService(
		db,
		store,
		embedder,
		NewChunker(50, 5, counter),
		NewLocalDocumentLocker(),
		queue,
		zap.NewNop(),
		IngestConfig{},
	)
}

func TestIngestionService_SubmitAndProcess(t *testing.T) {
	ctx := context.Background()
	db := setupIngestTestDB(t)
	store := NewMemoryVectorStore()
	embedder := &fakeEmbeddingProvider{}
	queue := &fakeIngestQueue{}
	svc := newTestIngestionService(t, db, store, embedder, queue)

	doc, err := svc.SubmitDocument(ctx, &SubmitDocumentRequest{
		TenantID:   "tenant-1",
		Title:      "公司产品介绍",
		SourceType: SourceTypeUpload,
		Content:    "We build an outbound sales platform. Our pricing starts at 49 dollars per seat.",
	})
	require.NoError(t, err)
	require.Equal(t, DocStatusPending, doc.Status)
	require.Equal(t, []string{doc.ID}, queue.docIDs, "提交后应将文档入队")

	require.NoError(t, svc.ProcessDocument(ctx, doc.ID))

	var stored KnowledgeDocument
	require.NoError(t, db.Where("id = ?", doc.ID).First(&stored).Error)
	require.Equal(t, DocStatusEmbedded, stored.Status)
	require.NotEmpty(t, stored.ContentHash)
	require.Greater(t, stored.ChunkCount, 0)
	require.NotNil(t, stored.IngestedAt)

	results, err := store.Query(ctx, "tenant-1", []float32{1, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, stored.ChunkCount)

	// 分块 ID 由 (document_id, ordinal) 确定性派生
	require.Equal(t, ChunkID(doc.ID, 0), results[0].ChunkID)
}

func TestIngestionService_SkipUnchangedContent(t *testing.T) {
	ctx := context.Background()
	db := setupIngestTestDB(t)
	store := NewMemoryVectorStore()
	embedder := &fakeEmbeddingProvider{}
	queue := &fakeIngestQueue{}
	svc := newTestIngestionService(t, db, store, embedder, queue)

	doc, err := svc.SubmitDocument(ctx, &SubmitDocumentRequest{
		TenantID:   "tenant-1",
		SourceType: SourceTypeUpload,
		Content:    "Stable content that will not change between runs.",
	})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessDocument(ctx, doc.ID))

	callsAfterFirst := embedder.calls
	require.Greater(t, callsAfterFirst, 0)

	// 内容未变化, 第二次处理不应重新向量化
	require.NoError(t, svc.ProcessDocument(ctx, doc.ID))
	require.Equal(t, callsAfterFirst, embedder.calls, "未变更的文档不应重算向量")

	var stored KnowledgeDocument
	require.NoError(t, db.Where("id = ?", doc.ID).First(&stored).Error)
	require.Equal(t, DocStatusEmbedded, stored.Status)
}

func TestIngestionService_ReplaceOnContentChange(t *testing.T) {
	ctx := context.Background()
	db := setupIngestTestDB(t)
	store := NewMemoryVectorStore()
	embedder := &fakeEmbeddingProvider{}
	queue := &fakeIngestQueue{}
	svc := newTestIngestionService(t, db, store, embedder, queue)

	doc, err := svc.SubmitDocument(ctx, &SubmitDocumentRequest{
		TenantID:   "tenant-1",
		SourceType: SourceTypeUpload,
		Content:    "Original pricing: 49 dollars per seat.",
	})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessDocument(ctx, doc.ID))

	// 同一文档重新提交变更后的内容
	_, err = svc.SubmitDocument(ctx, &SubmitDocumentRequest{
		TenantID:   "tenant-1",
		DocumentID: doc.ID,
		SourceType: SourceTypeUpload,
		Content:    "Updated pricing: 99 dollars per seat with annual discount.",
	})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessDocument(ctx, doc.ID))

	results, err := store.Query(ctx, "tenant-1", []float32{1, 1}, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		if r.Content == "Original pricing: 49 dollars per seat." {
			t.Fatalf("重入库后不应残留旧内容")
		}
	}
}

func TestIngestionService_EmbedFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	db := setupIngestTestDB(t)
	store := NewMemoryVectorStore()
	embedder := &fakeEmbeddingProvider{fail: true}
	queue := &fakeIngestQueue{}
	svc := newTestIngestionService(t, db, store, embedder, queue)

	doc, err := svc.SubmitDocument(ctx, &SubmitDocumentRequest{
		TenantID:   "tenant-1",
		SourceType: SourceTypeUpload,
		Content:    "Content that will fail to embed.",
	})
	require.NoError(t, err)

	err = svc.ProcessDocument(ctx, doc.ID)
	require.Error(t, err)
	if !IsKind(err, KindIngestionFailed) {
		t.Fatalf("期望 ingestion_failed, 实际 %v", err)
	}

	var stored KnowledgeDocument
	require.NoError(t, db.Where("id = ?", doc.ID).First(&stored).Error)
	require.Equal(t, DocStatusFailed, stored.Status)
	require.NotEmpty(t, stored.ErrorMessage, "失败原因应落在文档记录上")

	// 失败的文档不应在检索中出现
	results, err := store.Query(ctx, "tenant-1", []float32{1, 1}, 10, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestIngestionService_LockedDocumentSkipped(t *testing.T) {
	ctx := context.Background()
	db := setupIngestTestDB(t)
	store := NewMemoryVectorStore()
	embedder := &fakeEmbeddingProvider{}
	queue := &fakeIngestQueue{}

	locker := NewLocalDocumentLocker()
	counter := token.NewCounter("gpt-4o-mini")
	svc := NewIngestionService(db, store, embedder, NewChunker(50, 5, counter), locker, queue, zap.NewNop(), IngestConfig{})

	doc, err := svc.SubmitDocument(ctx, &SubmitDocumentRequest{
		TenantID:   "tenant-1",
		SourceType: SourceTypeUpload,
		Content:    "Locked document content.",
	})
	require.NoError(t, err)

	// 预先持有锁, 模拟另一个 worker 正在处理
	held, err := locker.TryLock(ctx, doc.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, svc.ProcessDocument(ctx, doc.ID))
	require.Equal(t, 0, embedder.calls, "持锁期间的重复处理应直接放弃")

	var stored KnowledgeDocument
	require.NoError(t, db.Where("id = ?", doc.ID).First(&stored).Error)
	require.Equal(t, DocStatusPending, stored.Status)
}

func TestIngestionService_EmptyDocument(t *testing.T) {
	ctx := context.Background()
	db := setupIngestTestDB(t)
	store := NewMemoryVectorStore()
	embedder := &fakeEmbeddingProvider{}
	queue := &fakeIngestQueue{}
	svc := newTestIngestionService(t, db, store, embedder, queue)

	doc, err := svc.SubmitDocument(ctx, &SubmitDocumentRequest{
		TenantID:   "tenant-1",
		SourceType: SourceTypeUpload,
		Content:    "   ",
	})
	require.NoError(t, err)
	require.NoError(t, svc.ProcessDocument(ctx, doc.ID))

	var stored KnowledgeDocument
	require.NoError(t, db.Where("id = ?", doc.ID).First(&stored).Error)
	require.Equal(t, DocStatusEmbedded, stored.Status)
	require.Equal(t, 0, stored.ChunkCount)
}

func TestIngestAndRetrieveEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := setupIngestTestDB(t)
	store := NewMemoryVectorStore()
	embedder := &fakeEmbeddingProvider{}
	queue := &fakeIngestQueue{}
	svc := newTestIngestionService(t, db, store, embedder, queue)

	// 两个租户入库一字不差的内容
	content := "We price per seat and offer annual discounts."
	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		doc, err := svc.SubmitDocument(ctx, &SubmitDocumentRequest{
			TenantID:   tenant,
			SourceType: SourceTypeUpload,
			Content:    content,
		})
		require.NoError(t, err)
		require.NoError(t, svc.ProcessDocument(ctx, doc.ID))
	}

	counter := token.NewCounter("gpt-4o-mini")
	retriever := NewRetriever(store, embedder, counter, zap.NewNop(), RetrieverConfig{
		ScoreThreshold: 0.01,
	})

	result, err := retriever.Retrieve(ctx, &RetrieveRequest{
		TenantID: "tenant-a",
		Query:    "pricing per seat",
	})
	require.NoError(t, err)
	require.False(t, result.Empty(), "入库完成的内容应可被同租户检索到")
	for _, chunk := range result.Chunks {
		require.Equal(t, "tenant-a", chunk.TenantID, "检索结果只能来自发起租户")
	}
}

func TestSubmitDocumentRequest_Validate(t *testing.T) {
	cases := []struct {
		name    string
		req     SubmitDocumentRequest
		wantErr bool
	}{
		{"合法请求", SubmitDocumentRequest{TenantID: "t1", SourceType: SourceTypeUpload}, false},
		{"缺少租户", SubmitDocumentRequest{SourceType: SourceTypeUpload}, true},
		{"未知来源", SubmitDocumentRequest{TenantID: "t1", SourceType: "carrier_pigeon"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
