// @title           Knowledge Base Chat API
// @version         1.0
// @description     Document ingestion, knowledge-base access control and tool-calling chat with citations.
// @termsOfService  http://swagger.io/terms/

// @license.name    Apache 2.0
// @license.url     http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:3000
// @BasePath  /
// @schemes   http https
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/akolanti/kbchat/internal/access"
	"github.com/akolanti/kbchat/internal/adapter/utils"
	"github.com/akolanti/kbchat/internal/agent"
	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/credit"
	"github.com/akolanti/kbchat/internal/data/sqlStore"
	"github.com/akolanti/kbchat/internal/data/store"
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
	jobmodel "github.com/akolanti/kbchat/internal/domain/jobModel"
	"github.com/akolanti/kbchat/internal/handlers"
	"github.com/akolanti/kbchat/internal/job"
	"github.com/akolanti/kbchat/internal/mcpServer"
	"github.com/akolanti/kbchat/internal/middleware"
	"github.com/akolanti/kbchat/internal/rag"
	"github.com/akolanti/kbchat/internal/rag/embedding"
	"github.com/akolanti/kbchat/internal/rag/embedding/googleEmbedding"
	"github.com/akolanti/kbchat/internal/rag/embedding/openaiEmbedding"
	"github.com/akolanti/kbchat/internal/rag/ingest"
	"github.com/akolanti/kbchat/internal/rag/llm/gemini"
	"github.com/akolanti/kbchat/internal/rag/vectorDB"
	"github.com/akolanti/kbchat/internal/rag/vectorDB/memoryDB"
	"github.com/akolanti/kbchat/internal/rag/vectorDB/qdrantDB"
	"github.com/akolanti/kbchat/internal/server"
	"github.com/akolanti/kbchat/internal/worker"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

var (
	listenAddr        string
	requestCount      int64
	stopWorkerChannel chan bool
	workerWaitGroup   sync.WaitGroup
)

func main() {
	settings := config.Get()
	logger_i.Init(settings)
	var logger = logger_i.NewLogger("main")

	flag.StringVar(&listenAddr, "listen-addr", settings.ListenAddr, "server listen address")
	flag.Parse()

	//init buffered job channel
	jobChannel := make(chan jobmodel.Job, config.BufferLimit)
	dispatcherChannel := make(chan bool, 1)
	stopWorkerChannel = make(chan bool, 1)

	serviceContext, closeExternalServices := context.WithCancel(context.Background())
	defer closeExternalServices()

	//relational store: documents, knowledge bases, shares, credits
	relational, err := sqlStore.NewStore(serviceContext, settings.SQLitePath)
	if err != nil {
		logger.Error("Could not open the document database", "path", settings.SQLitePath, "err", err)
		return
	}
	go relational.CloseOnDone(serviceContext)

	//job and chat stores
	serviceConfig := job.ServiceConfig{
		JobChannel:        jobChannel,
		RequestCount:      requestCount,
		DispatcherChannel: dispatcherChannel,
	}
	healthChecks := map[string]func(ctx context.Context) error{"sqlite": relational.Ping}
	var chats chatModel.ChatStore
	if jobStore := store.GetRedisJobStore(serviceContext, settings); jobStore != nil {
		serviceConfig.JobStore = jobStore
		healthChecks["redis"] = jobStore.Ping
	}
	if chatStore := store.GetRedisChatStore(serviceContext, settings); chatStore != nil {
		chats = chatStore
	}
	if serviceConfig.JobStore == nil || chats == nil {
		logger.Error("Redis stores are offline, jobs and chats are kept in memory")
		serviceConfig.JobStore = store.InitInMemoryJobStore()
		chats = store.InitInMemoryChatStore()
		delete(healthChecks, "redis")
	}
	service := job.InitJobService(serviceConfig)

	//vector index
	var index vectorDB.ChunkIndex
	if holder := qdrantDB.GetQuadrantClient(serviceContext, settings); holder != nil {
		index = holder
	} else {
		logger.Error("Qdrant is offline, using the in-memory index")
		index = memoryDB.NewStorage(int(settings.EmbeddingDimensions))
	}

	embedder := newEmbedder(serviceContext, settings)
	llmProvider := gemini.GetGeminiClient(serviceContext, settings)

	if embedder == nil || llmProvider == nil {
		logger.Error("One or more external services failed to initialize. Shutting down.")
		logger.Debug("Available services : ", "EmbeddingService", embedder != nil, "LLMProvider", llmProvider != nil)
		return
	}

	pipeline := ingest.NewPipeline(relational, relational, index, embedder, ingest.Options{
		ChunkSize:      settings.ChunkSize,
		ChunkOverlap:   settings.ChunkOverlap,
		EmbeddingModel: settings.EmbeddingModel,
	})
	engine := rag.NewEngine(embedder, index, relational, rag.Options{
		Threshold:        settings.SimilarityThreshold,
		MaxResults:       settings.MaxResults,
		ContextCharLimit: settings.ContextCharLimit,
	})
	gate := access.NewGate(relational)
	meter := credit.NewMeter(relational)
	orchestrator := agent.NewOrchestrator(gate, engine, llmProvider, meter, chats, embedder, agent.Options{
		MaxSteps:   settings.MaxStepsPerTurn,
		Threshold:  settings.SimilarityThreshold,
		MaxResults: settings.MaxResults,
	})
	mcpHandler := mcpServer.NewTools(gate, engine).Handler(func(r *http.Request) commonModels.Caller {
		return utils.CallerFrom(r.Context())
	})

	middleware.InitMiddleware(settings)
	handlers.InitHandlers(handlers.Dependencies{
		Documents:      relational,
		KnowledgeBases: relational,
		Index:          index,
		Gate:           gate,
		Credits:        meter,
		Turns:          orchestrator,
		Chats:          chats,
		UploadDir:      settings.UploadDir,
		HealthChecks:   healthChecks,
	})
	handlers.InitJobHandler(service)

	//init worker pool
	worker.InitServices(service, pipeline)
	worker.InitWorkerPool(stopWorkerChannel, &workerWaitGroup)

	//server handling
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	stopExecution := make(chan bool, 1)

	shutdownParams := server.ShutdownParams{
		GracefulShutdown: gracefulShutdown,
		StopExecution:    stopExecution,
		WorkerStop:       stopWorkerChannel,
		Group:            &workerWaitGroup,
		CloseServices:    closeExternalServices,
	}
	go server.ShutDownHandler(shutdownParams)
	go server.CreateServer(listenAddr, mcpHandler)

	<-stopExecution
	logger.Info("Server stopped")
}

func newEmbedder(ctx context.Context, settings *config.Settings) embedding.Embedder {
	if settings.EmbeddingProvider == "openai" {
		return openaiEmbedding.NewOpenAIEmbedder(settings)
	}
	return googleEmbedding.GetGoogleEmbeddingClient(ctx, settings)
}
