package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"outreach/internal/config"
	"outreach/internal/outreach"
	"outreach/internal/rag"
	"outreach/internal/worker/handlers"
	"outreach/internal/worker/tasks"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(
	redisCfg config.RedisConfig,
	workerCfg config.WorkerConfig,
	ingestService *rag.IngestionService,
	orchestrator *outreach.Orchestrator,
	sink handlers.DraftSink,
	logger *zap.Logger,
) *Server {
	concurrency := workerCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	queues := workerCfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{
			"outreach": 6, // 生成任务直接面向用户, 优先级高
			"ingest":   3,
			"default":  1,
		}
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr(),
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	// 注册入库处理器
	ingestHandler := handlers.NewIngestHandler(ingestService, logger)
	mux.HandleFunc(tasks.TypeIngestDocument, ingestHandler.HandleIngestDocument)

	// 注册邮件生成处理器
	emailHandler := handlers.NewEmailHandler(orchestrator, sink, logger)
	mux.HandleFunc(tasks.TypeGenerateEmail, emailHandler.HandleGenerateEmail)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
