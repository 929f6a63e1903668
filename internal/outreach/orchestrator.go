package outreach

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"outreach/internal/metrics"
	"outreach/internal/rag"
)

// OrchestratorConfig 邮件生成编排配置
type OrchestratorConfig struct {
	TopK               int              // 检索候选数
	ContextTokenBudget int              // 检索上下文 Token 预算
	Concurrency        int              // 并发生成上限, 超出的请求排队
	Params             GenerationParams // 生成采样参数
}

func (c *OrchestratorConfig) withDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = 500
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Params.Temperature == 0 {
		c.Params.Temperature = 0.7
	}
	if c.Params.MaxTokens == 0 {
		c.Params.MaxTokens = 800
	}
}

// Orchestrator 单条线索的冷邮件生成编排器
//
// 每个请求走 retrieving → assembling → generating → scoring 状态机。
// 垃圾邮件分超过阈值时按修订策略重新生成一次; 第二次仍超阈值则把草稿标记为
// flagged_for_review 返回 —— 外呼链路绝不因评分而静默产不出草稿。
type Orchestrator struct {
	retriever *rag.Retriever
	assembler *PromptAssembler
	generator GenerationClient
	spam      *SpamEvaluator
	logger    *zap.Logger
	cfg       OrchestratorConfig

	sem chan struct{}
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	retriever *rag.Retriever,
	assembler *PromptAssembler,
	generator GenerationClient,
	spam *SpamEvaluator,
	logger *zap.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		spam:      spam,
		logger:    logger,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// GenerateRequest 生成请求
type GenerateRequest struct {
	TenantID string          // 由外层认证组件解析并传入, 核心不再推导
	Lead     *Lead           // 只读线索
	Template *PromptTemplate // 为空时使用内置模板
}

// GenerateEmail 为一条线索生成冷邮件草稿
// 返回值二选一: 草稿(可能带 flagged_for_review 标记), 或带步骤与错误类别的失败
func (o *Orchestrator) GenerateEmail(ctx context.Context, req *GenerateRequest) (*DraftEmail, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, &StepError{Step: StepRetrieving, Err: fmt.Errorf("tenant_id 不能为空")}
	}
	if req.Lead == nil {
		return nil, &StepError{Step: StepRetrieving, Err: fmt.Errorf("缺少线索数据")}
	}
	if err := req.Lead.Validate(); err != nil {
		return nil, &StepError{Step: StepRetrieving, Err: err}
	}

	// 并发上限: 排队等待而不是拒绝
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return nil, &StepError{Step: StepRetrieving, Err: ctx.Err()}
	}

	start := time.Now()

	// 1. retrieving: 空上下文是常态(新租户知识库可能为空), 不是错误
	retrieved, err := o.retriever.Retrieve(ctx, &rag.RetrieveRequest{
		TenantID:    req.TenantID,
		Query:       req.Lead.RetrievalQuery(),
		TopK:        o.cfg.TopK,
		TokenBudget: o.cfg.ContextTokenBudget,
	})
	if err != nil {
		return nil, o.fail(req.TenantID, StepRetrieving, err)
	}

	// 2. assembling
	prompt, err := o.assembler.Assemble(&AssembleRequest{
		Lead:     req.Lead,
		Context:  retrieved,
		Template: req.Template,
	})
	if err != nil {
		return nil, o.fail(req.TenantID, StepAssembling, err)
	}

	// 3. generating
	text, err := o.generator.Generate(ctx, prompt, o.cfg.Params)
	if err != nil {
		return nil, o.fail(req.TenantID, StepGenerating, err)
	}

	subject, body := ParseDraft(text)
	draft := &DraftEmail{Subject: subject, Body: body, Context: retrieved}

	// 4. scoring
	draft.SpamScore = o.spam.Score(draft.Subject, draft.Body)
	if draft.SpamScore.Risk <= o.spam.Threshold() {
		metrics.GenerationTotal.WithLabelValues(req.TenantID, "done").Inc()
		metrics.GenerationDuration.WithLabelValues(req.TenantID).Observe(time.Since(start).Seconds())
		return draft, nil
	}

	// 修订策略: 带避词指令重新生成一次, 有界重试而非循环
	o.logger.Info("草稿超过垃圾邮件阈值, 执行修订",
		zap.String("tenant_id", req.TenantID),
		zap.Float64("risk", draft.SpamScore.Risk),
		zap.Strings("flagged", draft.SpamScore.Flagged),
	)
	metrics.SpamFlagTotal.WithLabelValues(req.TenantID).Inc()

	revised, err := o.reviseDraft(ctx, req, retrieved, draft.SpamScore)
	if err != nil {
		// 修订失败时退回首稿并交人工复核, 不让整个请求失败
		o.logger.Warn("修订生成失败, 返回首稿交人工复核", zap.Error(err))
		draft.ReviewState = ReviewStateFlagged
		metrics.GenerationTotal.WithLabelValues(req.TenantID, "flagged_for_review").Inc()
		metrics.GenerationDuration.WithLabelValues(req.TenantID).Observe(time.Since(start).Seconds())
		return draft, nil
	}

	revised.Context = retrieved
	revised.Revised = true
	revised.SpamScore = o.spam.Score(revised.Subject, revised.Body)

	status := "done"
	if revised.SpamScore.Risk > o.spam.Threshold() {
		// 仍然超阈值: 标记复核但照常返回
		revised.ReviewState = ReviewStateFlagged
		status = "flagged_for_review"
	}

	metrics.GenerationTotal.WithLabelValues(req.TenantID, status).Inc()
	metrics.GenerationDuration.WithLabelValues(req.TenantID).Observe(time.Since(start).Seconds())
	return revised, nil
}

// reviseDraft 带避词指令的二次生成
func (o *Orchestrator) reviseDraft(ctx context.Context, req *GenerateRequest, retrieved *rag.RetrievedContext, score SpamScore) (*DraftEmail, error) {
	avoidance := fmt.Sprintf(
		"The previous draft was likely to be flagged by spam filters. Rewrite it avoiding these phrases and patterns entirely: %s. Keep the tone natural and professional.",
		strings.Join(score.Flagged, ", "))

	prompt, err := o.assembler.Assemble(&AssembleRequest{
		Lead:              req.Lead,
		Context:           retrieved,
		Template:          req.Template,
		ExtraInstructions: []string{avoidance},
	})
	if err != nil {
		return nil, err
	}

	text, err := o.generator.Generate(ctx, prompt, o.cfg.Params)
	if err != nil {
		return nil, err
	}

	subject, body := ParseDraft(text)
	return &DraftEmail{Subject: subject, Body: body}, nil
}

func (o *Orchestrator) fail(tenantID, step string, err error) error {
	metrics.GenerationTotal.WithLabelValues(tenantID, "failed").Inc()
	o.logger.Error("邮件生成失败",
		zap.String("tenant_id", tenantID),
		zap.String("step", step),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	)
	return &StepError{Step: step, Err: err}
}
