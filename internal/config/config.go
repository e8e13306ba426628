// Package config provides configuration loading and structs for the diydoctor server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool                   `yaml:"debug"`
	Server     ServerConfig           `yaml:"server"`
	Records    RecordsConfig          `yaml:"records"`
	Embedding  EmbeddingConfig        `yaml:"embedding"`
	Chunking   ChunkingConfig         `yaml:"chunking"`
	Retrieval  RetrievalConfig        `yaml:"retrieval"`
	Models     map[string]ModelConfig `yaml:"models"`
	Generator  GeneratorConfig        `yaml:"generator"`
	Judge      JudgeConfig            `yaml:"judge"`
	Resilience ResilienceConfig       `yaml:"resilience"`
	Watch      WatchConfig            `yaml:"watch"`
	Evaluation EvaluationConfig       `yaml:"evaluation"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RecordsConfig selects the patient record store.
type RecordsConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
	// DSNEnv names an environment variable holding the DSN; it wins over DSN when set.
	DSNEnv string `yaml:"dsn_env"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	// Provider is "onnx", "mock" or "model" (an entry of the models table).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// ChunkingConfig tunes the semantic splitter and node hierarchy.
type ChunkingConfig struct {
	BufferSize           int     `yaml:"buffer_size"`
	BreakpointPercentile float64 `yaml:"breakpoint_percentile"`
	ParentSize           int     `yaml:"parent_size"`
	// MaxChunkWords caps semantic chunks; longer ones are re-split into overlapping word windows.
	MaxChunkWords int `yaml:"max_chunk_words"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
}

// RetrievalConfig tunes strategies and fusion.
type RetrievalConfig struct {
	// Mode is one of "base", "auto_merging", "bm25" or "fusion".
	Mode        string  `yaml:"mode"`
	TopK        int     `yaml:"top_k"`
	RRFConstant float64 `yaml:"rrf_constant"`
	NumQueries  int     `yaml:"num_queries"`
	Language    string  `yaml:"language"`
	DenseTopK   int     `yaml:"dense_top_k"`
	LexicalTopK int     `yaml:"lexical_top_k"`
	MergingTopK int     `yaml:"merging_top_k"`
	MergeRatio  float64 `yaml:"merge_ratio"`
	// VectorStrategy picks the vector side of fusion: "merging" or "dense".
	VectorStrategy string  `yaml:"vector_strategy"`
	VectorWeight   float64 `yaml:"vector_weight"`
	LexicalWeight  float64 `yaml:"lexical_weight"`
	// Candidate counts of the fusion sub-retrievers; the standalone modes use
	// the *_top_k fields above.
	FusionVectorTopK  int `yaml:"fusion_vector_top_k"`
	FusionLexicalTopK int `yaml:"fusion_lexical_top_k"`
}

// ModelConfig is one row of the provider table.
type ModelConfig struct {
	// Provider is one of "openai", "openrouter", "ollama", "anthropic" or "gemini".
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// GeneratorConfig selects the answer model.
type GeneratorConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// JudgeConfig selects the evaluator model.
type JudgeConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Verbose   bool   `yaml:"verbose"`
}

// ResilienceConfig tunes retries, rate limiting and circuit breaking around provider calls.
type ResilienceConfig struct {
	RetryMaxAttempts      int     `yaml:"retry_max_attempts"`
	RetryInitialBackoffMs int     `yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int     `yaml:"retry_max_backoff_ms"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`
	Burst                 int     `yaml:"burst"`
	BreakerMaxRequests    uint32  `yaml:"breaker_max_requests"`
	BreakerFailures       uint32  `yaml:"breaker_failures"`
	BreakerOpenSeconds    int     `yaml:"breaker_open_seconds"`
}

// WatchConfig holds document directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	DebounceMs  int      `yaml:"debounce_ms"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// EvaluationConfig configures the batch evaluation harness.
type EvaluationConfig struct {
	Queries          []string `yaml:"queries"`
	QueriesFile      string   `yaml:"queries_file"`
	Models           []string `yaml:"models"`
	OutputPath       string   `yaml:"output_path"`
	QuestionsPerNode int      `yaml:"questions_per_node"`
	RetrievalTopK    int      `yaml:"retrieval_top_k"`
	// Concurrency is how many model pairs run at once; 0 uses the runner default.
	Concurrency      int      `yaml:"concurrency"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Records.Path = expandPath(cfg.Records.Path, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Evaluation.OutputPath = expandPath(cfg.Evaluation.OutputPath, configDir)
	if cfg.Evaluation.QueriesFile != "" {
		cfg.Evaluation.QueriesFile = expandPath(cfg.Evaluation.QueriesFile, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// LoadEnv loads KEY=value pairs from a .env file into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// RecordsDSN returns the postgres DSN, preferring the DSNEnv variable.
func (c *Config) RecordsDSN() string {
	if c.Records.DSNEnv != "" {
		if v := os.Getenv(c.Records.DSNEnv); v != "" {
			return v
		}
	}
	return c.Records.DSN
}

// Model returns the provider table entry for name.
func (c *Config) Model(name string) (ModelConfig, error) {
	m, ok := c.Models[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("model %q is not configured", name)
	}
	return m, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
