package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by ORCHESTRATOR_ENV (or .env by
// default), then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("ORCHESTRATOR_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// StoreDriver returns the configured task store backend.
// Defaults to "memory" if not set.
// Valid values: memory, sqlite, postgres
func StoreDriver() string {
	d := os.Getenv("STORE_DRIVER")
	if d == "" {
		return "memory"
	}
	return d
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func SQLitePath() string {
	p := os.Getenv("SQLITE_PATH")
	if p == "" {
		return "orchestrator.db"
	}
	return p
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// LLMProvider returns the configured LLM provider.
// Defaults to "openai" if not set.
// Valid values: openai, anthropic, mock
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// EmbeddingProvider returns the configured embedding provider.
// Defaults to "openai" if not set.
// Valid values: openai, mock
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// ClassifierModel returns the model used for question classification.
func ClassifierModel() string {
	m := os.Getenv("CLASSIFIER_MODEL")
	if m == "" {
		return "gpt-4o-mini"
	}
	return m
}

// ReasonerModel returns the model requested for the reasoning stage. The
// cost guard may still downgrade it per call.
func ReasonerModel() string {
	m := os.Getenv("REASONER_MODEL")
	if m == "" {
		return "gpt-4o"
	}
	return m
}

// CriticModel returns the model used for answer verification.
func CriticModel() string {
	m := os.Getenv("CRITIC_MODEL")
	if m == "" {
		return "gpt-4o-mini"
	}
	return m
}

// CostThreshold returns the per-call cost ceiling in dollars above which
// the reasoner downgrades to a cheaper model.
// Defaults to 0.05 if not set.
func CostThreshold() float64 {
	t, err := strconv.ParseFloat(os.Getenv("COST_THRESHOLD"), 64)
	if err != nil || t <= 0 {
		return 0.05
	}
	return t
}

// WorkerCount returns the number of pipeline workers.
// Defaults to 4 if not set.
func WorkerCount() int {
	n, err := strconv.Atoi(os.Getenv("WORKER_COUNT"))
	if err != nil || n <= 0 {
		return 4
	}
	return n
}

// QueueCapacity returns the task queue size.
// Defaults to 256 if not set.
func QueueCapacity() int {
	n, err := strconv.Atoi(os.Getenv("QUEUE_CAPACITY"))
	if err != nil || n <= 0 {
		return 256
	}
	return n
}

// MaxEvidenceResults returns the evidence result cap per task.
// Defaults to 5 if not set.
func MaxEvidenceResults() int {
	n, err := strconv.Atoi(os.Getenv("MAX_EVIDENCE_RESULTS"))
	if err != nil || n <= 0 {
		return 5
	}
	return n
}

// MaxVerifyIterations returns how many critique-driven re-analysis passes a
// task may take before completing unverified.
// Defaults to 1 if not set.
func MaxVerifyIterations() int {
	n, err := strconv.Atoi(os.Getenv("MAX_VERIFY_ITERATIONS"))
	if err != nil || n < 0 {
		return 1
	}
	return n
}

// RetryMaxAttempts returns the per-stage attempt budget.
// Defaults to 3 if not set.
func RetryMaxAttempts() int {
	n, err := strconv.Atoi(os.Getenv("RETRY_MAX_ATTEMPTS"))
	if err != nil || n <= 0 {
		return 3
	}
	return n
}

// RetryBaseBackoff returns the initial retry delay.
// Defaults to 1s if not set.
func RetryBaseBackoff() time.Duration {
	ms, err := strconv.Atoi(os.Getenv("RETRY_BASE_BACKOFF_MS"))
	if err != nil || ms <= 0 {
		return time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// CrossrefMailto returns the contact address sent to the Crossref API, which
// routes requests to their polite pool.
func CrossrefMailto() string {
	return os.Getenv("CROSSREF_MAILTO")
}

// RetractionsPath returns an optional file of retracted DOIs loaded into the
// registry at startup.
func RetractionsPath() string {
	return os.Getenv("RETRACTIONS_PATH")
}

// APIToken returns the static bearer token guarding the /v1 routes.
// Empty (the default) disables authentication.
func APIToken() string {
	return os.Getenv("API_TOKEN")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
