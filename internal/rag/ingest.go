package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"outreach/internal/metrics"
)

// IngestQueue 入库任务队列的最小接口, 由 infra/queue 的 asynq 客户端实现
type IngestQueue interface {
	EnqueueIngestDocument(documentID string) error
}

// DocumentLocker 文档级互斥锁
// 同一文档不允许并发入库; 不同文档之间不受限制。
type DocumentLocker interface {
	TryLock(ctx context.Context, documentID string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, documentID string) error
}

// IngestConfig 入库管线配置
type IngestConfig struct {
	MaxChunkTokens   int           // 分块 Token 上限
	OverlapTokens    int           // 分块重叠 Token 数
	EmbedConcurrency int           // 并发向量化上限, 超出的请求排队等待
	LockTTL          time.Duration // 文档锁的保护期
}

func (c *IngestConfig) withDefaults() {
	if c.MaxChunkTokens <= 0 {
		c.MaxChunkTokens = 250
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
}

// IngestionService 文档入库管线
// 每个文档按 pending → chunked → embedded 推进, 任一步失败进入 failed 终态并保留原因。
// 状态持久化在文档记录上, 进程崩溃后留下的是可检查、可恢复的状态而非模糊的半成品。
type IngestionService struct {
	db       *gorm.DB
	store    VectorStore
	embedder EmbeddingProvider
	chunker  *Chunker
	locker   DocumentLocker
	queue    IngestQueue
	logger   *zap.Logger
	cfg      IngestConfig

	embedSem chan struct{}
}

// NewIngestionService 创建入库管线
func NewIngestionService(
	db *gorm.DB,
	store VectorStore,
	embedder EmbeddingProvider,
	chunker *Chunker,
	locker DocumentLocker,
	queue IngestQueue,
	logger *zap.Logger,
	cfg IngestConfig,
) *IngestionService {
	cfg.withDefaults()
	return &IngestionService{
		db:       db,
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		locker:   locker,
		queue:    queue,
		logger:   logger,
		cfg:      cfg,
		embedSem: make(chan struct{}, cfg.EmbedConcurrency),
	}
}

// SubmitDocumentRequest 提交文档请求
// 周边 CRUD 层传入的松散载荷在此边界收敛为严格结构
type SubmitDocumentRequest struct {
	TenantID   string // 必填, 由外层认证组件解析
	DocumentID string // 可选, 为空时生成; 提供时表示对既有文档重新入库
	Title      string
	SourceType string // upload, url, scraped_profile
	SourceURI  string
	Content    string // 必填
}

// Validate 校验请求
func (r *SubmitDocumentRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("tenant_id 不能为空")
	}
	switch r.SourceType {
	case SourceTypeUpload, SourceTypeURL, SourceTypeProfile:
	default:
		return fmt.Errorf("未知的来源类型: %q", r.SourceType)
	}
	return nil
}

// SubmitDocument 登记文档并入队异步处理
// 返回的文档处于 pending 状态; 实际分块/向量化由 worker 调用 ProcessDocument 完成
func (s *IngestionService) SubmitDocument(ctx context.Context, req *SubmitDocumentRequest) (*KnowledgeDocument, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	doc := &KnowledgeDocument{
		ID:         req.DocumentID,
		TenantID:   req.TenantID,
		Title:      req.Title,
		SourceType: req.SourceType,
		SourceURI:  req.SourceURI,
		Content:    req.Content,
		Status:     DocStatusPending,
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing KnowledgeDocument
		err := tx.Where("id = ? AND tenant_id = ?", doc.ID, req.TenantID).First(&existing).Error
		switch {
		case err == nil:
			// 重新入库: 保留旧哈希供幂等判断, 内容与状态重置
			return tx.Model(&KnowledgeDocument{}).
				Where("id = ? AND tenant_id = ?", doc.ID, req.TenantID).
				Updates(map[string]any{
					"title":         doc.Title,
					"source_type":   doc.SourceType,
					"source_uri":    doc.SourceURI,
					"content":       doc.Content,
					"status":        DocStatusPending,
					"error_message": "",
					"updated_at":    time.Now(),
				}).Error
		case err == gorm.ErrRecordNotFound:
			return tx.Create(doc).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("登记文档失败: %w", err)
	}

	if err := s.queue.EnqueueIngestDocument(doc.ID); err != nil {
		_ = s.markFailed(ctx, doc.ID, fmt.Sprintf("任务入队失败: %v", err))
		return nil, fmt.Errorf("任务入队失败: %w", err)
	}

	return doc, nil
}

// ProcessDocument 执行入库状态机
func (s *IngestionService) ProcessDocument(ctx context.Context, documentID string) error {
	locked, err := s.locker.TryLock(ctx, documentID, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("获取文档锁失败: %w", err)
	}
	if !locked {
		// 同一文档正在处理中, 这里直接放弃而不是排队重入
		s.logger.Warn("文档正在入库, 跳过重复处理", zap.String("document_id", documentID))
		return nil
	}
	defer func() { _ = s.locker.Unlock(ctx, documentID) }()

	start := time.Now()

	var doc KnowledgeDocument
	if err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", documentID).
		First(&doc).Error; err != nil {
		return fmt.Errorf("查询文档失败: %w", err)
	}

	// 1. 内容哈希: 与上次成功入库一致则直接置为 embedded, 不重算分块与向量
	contentHash := HashContent(doc.Content)
	if contentHash == doc.ContentHash && doc.ChunkCount > 0 {
		s.logger.Info("文档内容未变化, 跳过重新入库",
			zap.String("document_id", doc.ID), zap.String("tenant_id", doc.TenantID))
		metrics.IngestTotal.WithLabelValues(doc.TenantID, "skipped").Inc()
		return s.markEmbedded(ctx, doc.ID, doc.ChunkCount)
	}

	// 2. 分块
	chunks := s.chunker.Chunk(doc.Content)
	if err := s.updateStatus(ctx, doc.ID, DocStatusChunked, ""); err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}

	if len(chunks) == 0 {
		// 空文档没有可检索内容, 直接完成
		return s.finishIngest(ctx, &doc, contentHash, nil, start)
	}

	// 3. 批量向量化(受并发上限约束)
	embeddings, err := s.embedChunks(ctx, chunks)
	if err != nil {
		_ = s.markFailed(ctx, doc.ID, err.Error())
		metrics.IngestTotal.WithLabelValues(doc.TenantID, "failed").Inc()
		return NewError(KindIngestionFailed, fmt.Sprintf("文档 %s 向量化失败", doc.ID), err)
	}

	// 4. 原子替换该文档的全部分块: 旧向量整体换成新向量, 不留陈旧残片
	now := time.Now()
	vectors := make([]*Vector, len(chunks))
	for i, chunk := range chunks {
		vectors[i] = &Vector{
			ChunkID:        ChunkID(doc.ID, chunk.ChunkIndex),
			DocumentID:     doc.ID,
			TenantID:       doc.TenantID,
			Content:        chunk.Content,
			ContentHash:    chunk.ContentHash,
			ChunkIndex:     chunk.ChunkIndex,
			StartOffset:    chunk.StartOffset,
			EndOffset:      chunk.EndOffset,
			TokenCount:     chunk.TokenCount,
			Embedding:      embeddings[i],
			EmbeddingModel: s.embedder.GetModel(),
			SourceType:     doc.SourceType,
			SourceURI:      doc.SourceURI,
			IngestedAt:     now,
		}
	}

	if err := s.store.ReplaceDocument(ctx, doc.TenantID, doc.ID, vectors); err != nil {
		_ = s.markFailed(ctx, doc.ID, err.Error())
		metrics.IngestTotal.WithLabelValues(doc.TenantID, "failed").Inc()
		return NewError(KindIngestionFailed, fmt.Sprintf("文档 %s 写入向量失败", doc.ID), err)
	}

	return s.finishIngest(ctx, &doc, contentHash, chunks, start)
}

// DeleteDocument 删除文档及其全部向量
func (s *IngestionService) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	var doc KnowledgeDocument
	if err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", documentID, tenantID).
		First(&doc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("文档不存在")
		}
		return fmt.Errorf("查询文档失败: %w", err)
	}

	if err := s.store.DeleteByDocument(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("删除向量失败: %w", err)
	}

	return s.db.WithContext(ctx).
		Model(&KnowledgeDocument{}).
		Where("id = ? AND tenant_id = ?", documentID, tenantID).
		Update("deleted_at", time.Now()).Error
}

// embedChunks 受信号量保护的批量向量化
func (s *IngestionService) embedChunks(ctx context.Context, chunks []*ChunkResult) ([][]float32, error) {
	select {
	case s.embedSem <- struct{}{}:
		defer func() { <-s.embedSem }()
	case <-ctx.Done():
		return nil, NewError(KindEmbeddingUnavailable, "等待向量化配额时上下文取消", ctx.Err())
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	return s.embedder.EmbedBatch(ctx, texts)
}

func (s *IngestionService) finishIngest(ctx context.Context, doc *KnowledgeDocument, contentHash string, chunks []*ChunkResult, start time.Time) error {
	now := time.Now()
	err := s.db.WithContext(ctx).
		Model(&KnowledgeDocument{}).
		Where("id = ?", doc.ID).
		Updates(map[string]any{
			"status":        DocStatusEmbedded,
			"content_hash":  contentHash,
			"chunk_count":   len(chunks),
			"error_message": "",
			"ingested_at":   now,
			"updated_at":    now,
		}).Error
	if err != nil {
		return fmt.Errorf("更新文档状态失败: %w", err)
	}

	metrics.IngestTotal.WithLabelValues(doc.TenantID, "success").Inc()
	metrics.IngestDuration.WithLabelValues(doc.TenantID).Observe(time.Since(start).Seconds())

	s.logger.Info("文档入库完成",
		zap.String("document_id", doc.ID),
		zap.String("tenant_id", doc.TenantID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

func (s *IngestionService) markEmbedded(ctx context.Context, documentID string, chunkCount int) error {
	return s.db.WithContext(ctx).
		Model(&KnowledgeDocument{}).
		Where("id = ?", documentID).
		Updates(map[string]any{
			"status":      DocStatusEmbedded,
			"chunk_count": chunkCount,
			"updated_at":  time.Now(),
		}).Error
}

func (s *IngestionService) markFailed(ctx context.Context, documentID, reason string) error {
	return s.updateStatus(ctx, documentID, DocStatusFailed, reason)
}

func (s *IngestionService) updateStatus(ctx context.Context, documentID, status, errorMsg string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMsg != "" {
		updates["error_message"] = errorMsg
	}

	return s.db.WithContext(ctx).
		Model(&KnowledgeDocument{}).
		Where("id = ?", documentID).
		Updates(updates).Error
}

// chunkIDNamespace 派生分块 ID 用的命名空间
var chunkIDNamespace = uuid.MustParse("8f7a1c2e-4b5d-4e6f-9a0b-1c2d3e4f5a6b")

// ChunkID 由 (document_id, ordinal) 确定性派生分块 ID
// 同一文档重复入库时分块 ID 不变, 这是入库幂等的基础。
func ChunkID(documentID string, ordinal int) string {
	return uuid.NewSHA1(chunkIDNamespace, []byte(fmt.Sprintf("%s#%d", documentID, ordinal))).String()
}
