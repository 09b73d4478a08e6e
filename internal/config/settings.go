package config

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Settings holds the knobs that deployments tune without a rebuild.
// Retrieval quality is mostly decided here.
type Settings struct {
	IsProd   bool
	LogDebug bool

	ListenAddr string
	AuthToken  string
	AdminToken string

	SimilarityThreshold float32
	MaxResults          int
	ContextCharLimit    int
	MaxStepsPerTurn     int
	ChunkSize           int
	ChunkOverlap        int

	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingDimensions int32
	CompletionModel     string
	GoogleAPIKey        string
	OpenAIAPIKey        string
	OpenAIBaseURL       string

	QdrantHost string
	QdrantPort int
	RedisAddr  string
	RedisPass  string
	SQLitePath string
	UploadDir  string
}

var (
	settings     *Settings
	settingsOnce sync.Once
)

// Get returns the process settings, loading them on first use.
func Get() *Settings {
	settingsOnce.Do(func() {
		// a missing .env is fine, the environment may already be populated
		_ = godotenv.Load()
		settings = FromEnv(os.Getenv)
	})
	return settings
}

// FromEnv builds Settings from a lookup function. Unset or malformed values fall back to defaults.
func FromEnv(lookup func(string) string) *Settings {
	s := &Settings{
		IsProd:   parseBool(lookup("APP_ENV_PROD"), false),
		LogDebug: parseBool(lookup("LOG_DEBUG"), true),

		ListenAddr: stringOr(lookup("LISTEN_ADDR"), ServerListenAddr),
		AuthToken:  lookup("AUTH_TOKEN"),
		AdminToken: lookup("ADMIN_TOKEN"),

		SimilarityThreshold: float32(parseFloat(lookup("SIMILARITY_THRESHOLD"), float64(DefaultSimilarityThreshold))),
		MaxResults:          parseInt(lookup("MAX_RESULTS"), DefaultMaxResults),
		ContextCharLimit:    parseInt(lookup("CONTEXT_CHAR_LIMIT"), DefaultContextCharLimit),
		MaxStepsPerTurn:     parseInt(lookup("MAX_STEPS_PER_TURN"), DefaultMaxStepsPerTurn),
		ChunkSize:           parseInt(lookup("CHUNK_SIZE"), DefaultChunkSize),
		ChunkOverlap:        parseNonNegativeInt(lookup("CHUNK_OVERLAP"), DefaultChunkOverlap),

		EmbeddingProvider:   strings.ToLower(stringOr(lookup("EMBEDDING_PROVIDER"), "google")),
		EmbeddingModel:      lookup("EMBEDDING_MODEL"),
		EmbeddingDimensions: int32(parseInt(lookup("EMBEDDING_DIMENSIONS"), int(DefaultEmbeddingDimensions))),
		CompletionModel:     stringOr(lookup("COMPLETION_MODEL"), GeminiModelName),
		GoogleAPIKey:        lookup("GOOGLE_API_KEY"),
		OpenAIAPIKey:        lookup("OPENAI_API_KEY"),
		OpenAIBaseURL:       lookup("OPENAI_BASE_URL"),

		QdrantHost: stringOr(lookup("QDRANT_HOST"), QdrantHost),
		QdrantPort: parseInt(lookup("QDRANT_PORT"), QdrantGrpcPort),
		RedisAddr:  stringOr(lookup("REDIS_ADDR"), RedisAddr),
		RedisPass:  lookup("REDIS_PASSWORD"),
		SQLitePath: stringOr(lookup("SQLITE_PATH"), SQLitePath),
		UploadDir:  stringOr(lookup("UPLOAD_DIR"), UploadDirectory),
	}

	if s.EmbeddingModel == "" {
		s.EmbeddingModel = GoogleEmbeddingModel
		if s.EmbeddingProvider == "openai" {
			s.EmbeddingModel = OpenAIEmbeddingModel
		}
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		s.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if s.ChunkOverlap >= s.ChunkSize {
		s.ChunkOverlap = 0
	}
	return s
}

func stringOr(v string, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func parseInt(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// parseNonNegativeInt is parseInt for knobs where zero switches the feature off.
func parseNonNegativeInt(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseFloat(v string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}
