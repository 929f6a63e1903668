package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"outreach/internal/config"
	"outreach/internal/worker/tasks"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueIngestDocument(documentID string) error
	EnqueueGenerateEmail(payload tasks.GenerateEmailPayload) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueIngestDocument(documentID string) error {
	payload, err := json.Marshal(tasks.IngestDocumentPayload{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeIngestDocument, payload)

	// 入库具备幂等性, 失败重试安全; TaskID 去重同一文档的并发投递
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("ingest"),
		asynq.TaskID("ingest:"+documentID),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue task failed: %w", err)
	}

	return nil
}

func (c *asynqClient) EnqueueGenerateEmail(payload tasks.GenerateEmailPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeGenerateEmail, data)

	// 生成客户端内部已有有界重试, 队列层只兜底一次
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("outreach"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}

	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
