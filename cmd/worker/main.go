package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"outreach/internal/config"
	"outreach/internal/infra"
	"outreach/internal/infra/queue"
	"outreach/internal/logger"
	"outreach/internal/outreach"
	"outreach/internal/rag"
	"outreach/internal/token"
	"outreach/internal/worker"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	// 获取环境变量
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Outreach Worker 启动中...", zap.String("env", env))

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	// 4. 执行数据库迁移（根据配置）
	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	// 5. 初始化 Redis（入库锁 + asynq 后端）
	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	defer infra.CloseRedis()

	// 6. 组装知识库入库与检索管线
	chatModel := cfg.OpenAI.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	embeddingModel := cfg.OpenAI.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}

	counter := token.NewCounter(chatModel)
	chunker := rag.NewChunker(cfg.RAG.MaxChunkTokens, cfg.RAG.OverlapTokens, counter)

	embedder := rag.NewOpenAIEmbeddingProvider(cfg.OpenAI.APIKey, rag.EmbeddingConfig{
		Model:      embeddingModel,
		BaseURL:    cfg.OpenAI.BaseURL,
		MaxRetries: cfg.OpenAI.MaxRetries,
		Timeout:    cfg.OpenAI.Timeout(),
	}, counter)

	store, err := rag.NewPGVectorStore(db)
	if err != nil {
		logger.Fatal("初始化向量存储失败", zap.Error(err))
	}

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	ingestService := rag.NewIngestionService(
		db,
		store,
		embedder,
		chunker,
		rag.NewRedisDocumentLocker(rdb),
		queueClient,
		logger.Get(),
		rag.IngestConfig{
			MaxChunkTokens:   cfg.RAG.MaxChunkTokens,
			OverlapTokens:    cfg.RAG.OverlapTokens,
			EmbedConcurrency: cfg.RAG.EmbedConcurrency,
		},
	)

	retriever := rag.NewRetriever(store, embedder, counter, logger.Get(), rag.RetrieverConfig{
		TopK:             cfg.RAG.TopK,
		ScoreThreshold:   cfg.RAG.ScoreThreshold,
		TokenBudget:      cfg.RAG.ContextBudget,
		TenantThresholds: cfg.RAG.TenantThresholds,
	})

	// 7. 组装冷邮件生成编排器
	assembler := outreach.NewPromptAssembler(counter, outreach.PromptConfig{
		TokenBudget: cfg.Outreach.PromptBudget,
	})
	generator := outreach.NewOpenAIGenerationClient(cfg.OpenAI.APIKey, outreach.GenerationConfig{
		Model:      chatModel,
		BaseURL:    cfg.OpenAI.BaseURL,
		MaxRetries: cfg.OpenAI.MaxRetries,
	})
	spam := outreach.NewSpamEvaluator(outreach.SpamConfig{
		Threshold: cfg.Outreach.SpamThreshold,
	})
	orchestrator := outreach.NewOrchestrator(
		retriever,
		assembler,
		generator,
		spam,
		logger.Get(),
		outreach.OrchestratorConfig{
			TopK:               cfg.RAG.TopK,
			ContextTokenBudget: cfg.RAG.ContextBudget,
			Concurrency:        cfg.Outreach.Concurrency,
			Params: outreach.GenerationParams{
				Temperature: cfg.Outreach.Temperature,
				MaxTokens:   cfg.Outreach.MaxTokens,
			},
		},
	)

	// 8. 指标端点
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9091", mux); err != nil && err != http.ErrServerClosed {
			logger.Error("指标服务器退出", zap.Error(err))
		}
	}()

	// 9. 启动 Worker 服务器
	workerServer := worker.NewServer(
		cfg.Redis,
		cfg.Worker,
		ingestService,
		orchestrator,
		nil, // 草稿落地由上层服务接管时注入
		logger.Get(),
	)
	go func() {
		if err := workerServer.Run(); err != nil {
			logger.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}()

	// 10. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号, 正在关闭...")
	workerServer.Shutdown()
	logger.Info("Worker 已退出")
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 尝试从当前工作目录、可执行文件目录向上查找根目录 .env
func resolveEnvPath() string {
	for _, path := range collectEnvCandidates() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func collectEnvCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		candidates = append(candidates, path)
	}

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			if dir == "" || dir == string(filepath.Separator) || dir == "." {
				break
			}
			add(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}

	return candidates
}
