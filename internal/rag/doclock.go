package rag

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDocumentLocker 基于 Redis SETNX 的文档锁
// 多个 worker 实例之间共享, 保证同一文档不会被并发入库。
type RedisDocumentLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisDocumentLocker 创建 Redis 文档锁
func NewRedisDocumentLocker(client *redis.Client) *RedisDocumentLocker {
	return &RedisDocumentLocker{
		client: client,
		prefix: "outreach:ingest_lock:",
	}
}

func (l *RedisDocumentLocker) TryLock(ctx context.Context, documentID string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+documentID, 1, ttl).Result()
}

func (l *RedisDocumentLocker) Unlock(ctx context.Context, documentID string) error {
	return l.client.Del(ctx, l.prefix+documentID).Err()
}

// LocalDocumentLocker 进程内文档锁, 用于测试与单实例部署
type LocalDocumentLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

// NewLocalDocumentLocker 创建进程内文档锁
func NewLocalDocumentLocker() *LocalDocumentLocker {
	return &LocalDocumentLocker{locks: make(map[string]time.Time)}
}

func (l *LocalDocumentLocker) TryLock(ctx context.Context, documentID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, held := l.locks[documentID]; held && time.Now().Before(expiry) {
		return false, nil
	}
	l.locks[documentID] = time.Now().Add(ttl)
	return true, nil
}

func (l *LocalDocumentLocker) Unlock(ctx context.Context, documentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, documentID)
	return nil
}
