package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed extractors.yaml
var extractorsYAML []byte

type Config struct {
	Server      ServerConfig
	Extractor   ExtractorConfig
	Embedder    EmbedderConfig
	Classifier  ClassifierConfig
	Recognition RecognitionConfig
	Validation  ValidationConfig
	Database    DatabaseConfig
	Artifacts   ArtifactsConfig
	Worker      WorkerConfig
	Extractors  ExtractorRegistry
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      // listen port (default 8080)
	AllowedOrigins []string // extra CORS origins besides localhost
}

// ExtractorConfig configures the embedding service client.
type ExtractorConfig struct {
	URL      string        // embedding service base URL (default http://localhost:8000)
	Identity string        // backbone identity, must exist in the embedded registry
	Timeout  time.Duration // per-request timeout for embedding calls
}

// EmbedderConfig configures multi-sample extraction.
type EmbedderConfig struct {
	NumCrops int // embeddings per image: 1 primary + NumCrops-1 augmented
}

// ClassifierConfig configures the training pipeline defaults.
type ClassifierConfig struct {
	Family    string // knn, centroid or ensemble
	Neighbors int    // k for the knn family
}

// RecognitionConfig configures the matching engine.
type RecognitionConfig struct {
	MatchThreshold float64 // minimum confidence to declare a match
}

// ValidationConfig configures the optional species pre-check.
type ValidationConfig struct {
	Provider     string // "openai", "gemini" or "" (disabled)
	OpenAIToken  string
	GeminiAPIKey string
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// ArtifactsConfig configures the on-disk blob stores.
type ArtifactsConfig struct {
	Dir        string // directory for serialized classifier artifacts
	UploadsDir string // directory for uploaded photos
}

// WorkerConfig configures the background extraction pool.
type WorkerConfig struct {
	Concurrency int // parallel extraction workers (default 4)
	QueueSize   int // pending job buffer (default 64)
}

// ExtractorRegistry maps backbone identities to their output dimensions.
// Loaded from the embedded extractors.yaml, never from the environment:
// the dimension is a property of the backbone, not a deployment choice.
type ExtractorRegistry struct {
	Backbones map[string]BackboneSpec `yaml:"backbones"`
}

// BackboneSpec describes one supported feature extractor.
type BackboneSpec struct {
	Dim       int    `yaml:"dim"`
	InputSize int    `yaml:"input_size"`
	Notes     string `yaml:"notes"`
}

// Dim returns the embedding dimension for an identity, or 0 if unknown.
func (r *ExtractorRegistry) Dim(identity string) int {
	if spec, ok := r.Backbones[identity]; ok {
		return spec.Dim
	}
	return 0
}

// InputSize returns the expected square input size for an identity, or 0 if unknown.
func (r *ExtractorRegistry) InputSize(identity string) int {
	if spec, ok := r.Backbones[identity]; ok {
		return spec.InputSize
	}
	return 0
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float in (0, 1].
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads an environment variable as a comma-separated list.
// Empty entries are dropped; an unset variable yields nil.
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var registry ExtractorRegistry
	if err := yaml.Unmarshal(extractorsYAML, &registry); err != nil {
		// Embedded file, cannot fail in practice.
		panic("failed to unmarshal embedded extractors.yaml: " + err.Error())
	}

	return &Config{
		Server: ServerConfig{
			Port:           envInt("PORT", 8080),
			AllowedOrigins: envList("ALLOWED_ORIGINS"),
		},
		Extractor: ExtractorConfig{
			URL:      envString("EXTRACTOR_URL", "http://localhost:8000"),
			Identity: envString("EXTRACTOR_IDENTITY", "efficientnet_b0"),
			Timeout:  envDuration("EXTRACTOR_TIMEOUT_SECONDS", 30*time.Second),
		},
		Embedder: EmbedderConfig{
			NumCrops: envInt("EMBEDDER_NUM_CROPS", 4),
		},
		Classifier: ClassifierConfig{
			Family:    envString("CLASSIFIER_FAMILY", "knn"),
			Neighbors: envInt("CLASSIFIER_NEIGHBORS", 7),
		},
		Recognition: RecognitionConfig{
			MatchThreshold: envFloat("MATCH_THRESHOLD", 0.30),
		},
		Validation: ValidationConfig{
			Provider:     os.Getenv("VALIDATION_PROVIDER"),
			OpenAIToken:  os.Getenv("OPENAI_TOKEN"),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Artifacts: ArtifactsConfig{
			Dir:        envString("ARTIFACTS_DIR", "artifacts"),
			UploadsDir: envString("UPLOADS_DIR", "uploads"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", 4),
			QueueSize:   envInt("WORKER_QUEUE_SIZE", 64),
		},
		Extractors: registry,
	}
}
