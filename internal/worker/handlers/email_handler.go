package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"outreach/internal/outreach"
	"outreach/internal/tenant"
	"outreach/internal/worker/tasks"
)

// DraftSink 草稿落地回调, 由上层决定如何消费生成结果(入库/回推/通知)
// 租户与操作人身份通过 ctx 传递, 用 tenant.FromContext 取出
type DraftSink func(ctx context.Context, draft *outreach.DraftEmail) error

type EmailHandler struct {
	orchestrator *outreach.Orchestrator
	sink         DraftSink
	logger       *zap.Logger
}

func NewEmailHandler(orchestrator *outreach.Orchestrator, sink DraftSink, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{
		orchestrator: orchestrator,
		sink:         sink,
		logger:       logger,
	}
}

func (h *EmailHandler) HandleGenerateEmail(ctx context.Context, t *asynq.Task) error {
	var p tasks.GenerateEmailPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	lead, err := outreach.LeadFromPayload(p.Lead)
	if err != nil {
		// 载荷不合法, 重试不会变好
		h.logger.Error("线索载荷不合法", zap.String("tenant_id", p.TenantID), zap.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	ctx = tenant.WithTenantContext(ctx, tenant.TenantContext{TenantID: p.TenantID, UserID: p.UserID})

	req := &outreach.GenerateRequest{
		TenantID: p.TenantID,
		Lead:     lead,
	}
	if p.Template != "" {
		req.Template = &outreach.PromptTemplate{Name: "custom", Content: p.Template}
	}

	draft, err := h.orchestrator.GenerateEmail(ctx, req)
	if err != nil {
		// 模型拒答与提示词装配失败属于确定性错误, 不重试
		if outreach.IsKind(err, outreach.KindGenerationRefused) ||
			outreach.IsKind(err, outreach.KindTemplateFieldMissing) {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}

	if h.sink != nil {
		if err := h.sink(ctx, draft); err != nil {
			return fmt.Errorf("落地草稿失败: %w", err)
		}
	}

	h.logger.Info("冷邮件生成完成",
		zap.String("tenant_id", p.TenantID),
		zap.String("lead", lead.FullName()),
		zap.Bool("revised", draft.Revised),
		zap.String("review_state", draft.ReviewState),
	)
	return nil
}
