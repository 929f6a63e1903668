package tasks

// Task Types
const (
	TypeIngestDocument = "rag:ingest_document"
	TypeGenerateEmail  = "outreach:generate_email"
)

// IngestDocumentPayload 知识文档入库任务载荷
type IngestDocumentPayload struct {
	DocumentID string `json:"document_id"`
}

// GenerateEmailPayload 冷邮件生成任务载荷
// Lead 字段与线索校验规则保持一致: first_name/company/role 必填
type GenerateEmailPayload struct {
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id"`
	Lead     map[string]any `json:"lead"`
	Template string         `json:"template,omitempty"` // 为空时使用内置模板
}
