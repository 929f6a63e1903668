package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	RAG      RAGConfig      `mapstructure:"rag"`
	Outreach OutreachConfig `mapstructure:"outreach"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns"` // 最小空闲连接数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// OpenAIConfig OpenAI 配置
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`        // 为空时使用官方地址
	EmbeddingModel string `mapstructure:"embedding_model"` // 默认 text-embedding-3-small
	ChatModel      string `mapstructure:"chat_model"`      // 默认 gpt-4o-mini
	MaxRetries     int    `mapstructure:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RAGConfig 知识库入库与检索配置
type RAGConfig struct {
	MaxChunkTokens   int                `mapstructure:"max_chunk_tokens"`  // 分块 Token 上限
	OverlapTokens    int                `mapstructure:"overlap_tokens"`    // 相邻块重叠 Token 数
	EmbedConcurrency int                `mapstructure:"embed_concurrency"` // 嵌入并发上限
	TopK             int                `mapstructure:"top_k"`             // 检索候选数
	ScoreThreshold   float64            `mapstructure:"score_threshold"`   // 相似度阈值
	TenantThresholds map[string]float64 `mapstructure:"tenant_thresholds"` // 按租户覆盖阈值
	ContextBudget    int                `mapstructure:"context_budget"`    // 检索上下文 Token 预算
}

// OutreachConfig 冷邮件生成配置
type OutreachConfig struct {
	PromptBudget  int     `mapstructure:"prompt_budget"`  // 提示词 Token 预算
	SpamThreshold float64 `mapstructure:"spam_threshold"` // 垃圾邮件风险阈值
	Concurrency   int     `mapstructure:"concurrency"`    // 并发生成上限
	Temperature   float32 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
}

// WorkerConfig 异步任务配置
type WorkerConfig struct {
	Concurrency int            `mapstructure:"concurrency"` // asynq worker 并发数
	Queues      map[string]int `mapstructure:"queues"`      // 队列名 -> 权重
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr Redis 地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout OpenAI 调用超时
func (c *OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
