package rag

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// 文档入库状态机: pending → chunked → embedded, 任一步失败进入 failed 终态
const (
	DocStatusPending  = "pending"
	DocStatusChunked  = "chunked"
	DocStatusEmbedded = "embedded"
	DocStatusFailed   = "failed"
)

// 文档来源类型
const (
	SourceTypeUpload  = "upload"          // 用户上传的文本
	SourceTypeURL     = "url"             // 抓取的网页快照
	SourceTypeProfile = "scraped_profile" // 爬取的领英/公司主页资料
)

// KnowledgeDocument represents a single knowledge-base document owned by one tenant.
type KnowledgeDocument struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID string `json:"tenantId" gorm:"type:uuid;not null;index"`

	Title      string `json:"title" gorm:"size:500"`
	SourceType string `json:"sourceType" gorm:"size:50;not null"` // upload, url, scraped_profile
	SourceURI  string `json:"sourceUri" gorm:"type:text"`
	Content    string `json:"content" gorm:"type:text"`

	// 内容哈希(SHA-256), 重复入库未变更内容时据此跳过
	ContentHash string `json:"contentHash" gorm:"size:64;index"`

	Status       string `json:"status" gorm:"size:50;not null;default:pending"`
	ErrorMessage string `json:"errorMessage" gorm:"type:text"`

	ChunkCount int `json:"chunkCount" gorm:"default:0"`

	// 入库完成时间, 检索同分结果按此排序
	IngestedAt *time.Time `json:"ingestedAt"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// KnowledgeChunk is one embedded content chunk derived from a document.
// ID 由 (document_id, chunk_index) 确定性派生, 同一文档重复入库产生相同 ID。
type KnowledgeChunk struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	DocumentID string `json:"documentId" gorm:"type:uuid;not null;index"`
	TenantID   string `json:"tenantId" gorm:"type:uuid;not null;index"`

	ChunkIndex  int    `json:"chunkIndex" gorm:"not null"`
	Content     string `json:"content" gorm:"type:text;not null"`
	ContentHash string `json:"contentHash" gorm:"size:64"`
	TokenCount  int    `json:"tokenCount" gorm:"default:0"`

	StartOffset int `json:"startOffset" gorm:"column:start_pos"`
	EndOffset   int `json:"endOffset" gorm:"column:end_pos"`

	Embedding      pgvector.Vector `json:"-" gorm:"type:vector(1536)"`
	EmbeddingModel string          `json:"embeddingModel" gorm:"size:100"`

	// 引用所需的反规范化元数据
	SourceType string `json:"sourceType" gorm:"size:50"`
	SourceURI  string `json:"sourceUri" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// Vector 描述一条待写入向量存储的知识片段
type Vector struct {
	ChunkID        string
	DocumentID     string
	TenantID       string
	Content        string
	ContentHash    string
	ChunkIndex     int
	StartOffset    int
	EndOffset      int
	TokenCount     int
	Embedding      []float32
	EmbeddingModel string
	SourceType     string
	SourceURI      string
	IngestedAt     time.Time
}

// SearchResult 描述一次相似度检索命中的片段
type SearchResult struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	Content    string    `json:"content"`
	ChunkIndex int       `json:"chunk_index"`
	TokenCount int       `json:"token_count"`
	SourceType string    `json:"source_type"`
	SourceURI  string    `json:"source_uri"`
	Similarity float64   `json:"similarity"`
	IngestedAt time.Time `json:"ingested_at"`
}
