package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 入库指标
var (
	// IngestTotal 文档入库总数
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_ingest_documents_total",
			Help: "文档入库总数",
		},
		[]string{"tenant_id", "status"}, // status: success, skipped, failed
	)

	// IngestDuration 入库耗时(秒)
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_ingest_duration_seconds",
			Help:    "文档入库耗时分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant_id"},
	)
)

// 检索指标
var (
	// RetrievalTotal 检索请求总数
	RetrievalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_retrieval_total",
			Help: "知识库检索总数",
		},
		[]string{"tenant_id", "status"},
	)

	// RetrievalChunks 单次检索返回的片段数
	RetrievalChunks = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_retrieval_chunks",
			Help:    "单次检索进入上下文的片段数分布",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"tenant_id"},
	)
)

// 邮件生成指标
var (
	// GenerationTotal 邮件生成请求总数
	GenerationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_email_generations_total",
			Help: "冷邮件生成总数",
		},
		[]string{"tenant_id", "status"}, // status: done, flagged_for_review, failed
	)

	// GenerationDuration 生成全链路耗时(秒)
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_email_generation_duration_seconds",
			Help:    "冷邮件生成全链路耗时分布",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"tenant_id"},
	)

	// SpamFlagTotal 垃圾邮件特征命中总数
	SpamFlagTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_spam_flags_total",
			Help: "草稿超过垃圾邮件阈值的次数",
		},
		[]string{"tenant_id"},
	)
)
