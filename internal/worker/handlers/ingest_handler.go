package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"outreach/internal/rag"
	"outreach/internal/worker/tasks"
)

type IngestHandler struct {
	ingestService *rag.IngestionService
	logger        *zap.Logger
}

func NewIngestHandler(ingestService *rag.IngestionService, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		ingestService: ingestService,
		logger:        logger,
	}
}

func (h *IngestHandler) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var p tasks.IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始处理文档入库任务", zap.String("document_id", p.DocumentID))

	if err := h.ingestService.ProcessDocument(ctx, p.DocumentID); err != nil {
		h.logger.Error("文档入库失败", zap.String("document_id", p.DocumentID), zap.Error(err))
		return err
	}

	h.logger.Info("文档入库完成", zap.String("document_id", p.DocumentID))
	return nil
}
