package outreach

import "outreach/internal/rag"

// 复用 rag 包的错误类别机制, 保持全局一套 errors.As 判定
type (
	Error     = rag.Error
	ErrorKind = rag.ErrorKind
)

const (
	KindGenerationUnavailable ErrorKind = "generation_unavailable" // 生成服务不可用(瞬态,可重试)
	KindGenerationRefused     ErrorKind = "generation_refused"     // 上游模型拒绝生成(不可重试)
	KindTemplateFieldMissing  ErrorKind = "template_field_missing" // 模板占位符缺少对应字段
)

var (
	NewError = rag.NewError
	IsKind   = rag.IsKind
	KindOf   = rag.KindOf
)
