package config

import (
	"log/slog"
	"time"
)

const (
	LOG_LEVEL_PROD  = slog.LevelInfo
	TRACE_ID_KEY    = "traceId"
	CALLER_KEY      = "caller"
	TraceHeader     = "X-Trace-Id"
	UserIdHeader    = "X-User-Id"
	UserEmailHeader = "X-User-Email"

	RATE_LIMIT_PER_SECOND       = 2
	BURST_RATE_LIMIT_PER_SECOND = 5
	RATE_LIMIT_IDLE_TTL         = 10 * time.Minute

	//retrieval defaults - all overridable through Settings
	DefaultSimilarityThreshold float32 = 0.3
	DefaultMaxResults                  = 5
	DefaultContextCharLimit            = 12000
	DefaultMaxStepsPerTurn             = 5
	DefaultChunkSize                   = 1000
	DefaultChunkOverlap                = 150
	EmbeddingSentenceChunkSize         = 400
	MaxPageSegments                    = 200

	DefaultEmbeddingDimensions int32 = 1536
	ChunkCollectionName              = "kb-chunks"

	RequestsPerNewWorkerCount int64 = 10
	MaxWorkerCount            int64 = 10
	MinWorkerCount            int64 = 1
	IdleWorkerTimeout               = 1 * time.Minute

	//serverTimeouts
	ReadHeaderTimeout      = 5 * time.Second
	ReadTimeout            = 30 * time.Second
	UploadTimeout          = 5 * time.Minute
	WriteTimeout           = 120 * time.Second
	IdleTimeout            = 120 * time.Second
	ShutdownContextTimeout = 10 * time.Second
	TurnTimeout            = 90 * time.Second
	IngestTimeout          = 10 * time.Minute

	//server listening port
	ServerListenAddr = ":3000"

	//job requests buffer limit
	BufferLimit   = 100
	MaxUploadSize = 32 << 20

	//vectorDB
	QdrantHost             = "localhost"
	QdrantGrpcPort         = 6334
	QdrantUseTLS           = false
	QdrantPoolSize         = 1
	QdrantKeepAliveTimeout = 30 * time.Second

	//llm
	GeminiModelName      = "gemini-2.5-flash"
	GoogleEmbeddingModel = "gemini-embedding-001"
	OpenAIEmbeddingModel = "text-embedding-3-small"

	ModelTemperature float32 = 0.3

	MaxIdleConns        = 50
	MaxIdleConnsPerHost = 25
	IdleConnTimeout     = 60 * time.Second
	UpstreamTimeout     = 60 * time.Second

	//redis
	redisHost = "127.0.0.1"
	redisPort = "6379"
	RedisAddr = redisHost + ":" + redisPort

	//redis has 16 DB we can use
	RedisJobStore  = 0
	RedisChatStore = 1

	RedisJobStoreTTL    = 24 * time.Hour
	RedisIOTimeout      = 30 * time.Second
	RedisPingTimeout    = 3 * time.Second
	ActivityLogMaxItems = 10000
	MaxJobListSize      = 100

	SQLitePath      = "kbchat.db"
	UploadDirectory = "temporary_data"
)
