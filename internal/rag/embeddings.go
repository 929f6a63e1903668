package rag

import "context"

// EmbeddingProvider 抽象不同向量模型/服务的统一接口。
// 批量接口保序: 返回向量与输入文本一一对应。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetDimension() int
	GetModel() string
}
