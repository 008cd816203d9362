package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Index     IndexConfig     `mapstructure:"index"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Server    ServerConfig    `mapstructure:"server"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	BatchSize int    `mapstructure:"batch_size"`
}

type ChunkingConfig struct {
	SizeWords    int `mapstructure:"size_words"`
	OverlapWords int `mapstructure:"overlap_words"`
	MinWords     int `mapstructure:"min_words"`
}

type IndexConfig struct {
	Dir    string `mapstructure:"dir"`
	Metric string `mapstructure:"metric"`
}

type RetrievalConfig struct {
	TopK       int `mapstructure:"top_k"`
	SnippetLen int `mapstructure:"snippet_len"`
}

type IngestConfig struct {
	Email             string  `mapstructure:"email"`
	APIKey            string  `mapstructure:"api_key"`
	RawDir            string  `mapstructure:"raw_dir"`
	MaxArticles       int     `mapstructure:"max_articles"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	OpsAddr string `mapstructure:"ops_addr"`
}

// SecretsConfig selects the secrets backend API keys are resolved from.
type SecretsConfig struct {
	Provider     string `mapstructure:"provider"`
	FilePath     string `mapstructure:"file_path"`
	VaultAddress string `mapstructure:"vault_address"`
	VaultToken   string `mapstructure:"vault_token"`
	VaultMount   string `mapstructure:"vault_mount"`
	VaultPath    string `mapstructure:"vault_path"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "",
			Temperature: 0.0,
			MaxTokens:   512,
		},
		Embedding: EmbeddingConfig{
			Provider:  "",
			Model:     "text-embedding-3-small",
			BatchSize: 64,
		},
		Chunking: ChunkingConfig{
			SizeWords:    300,
			OverlapWords: 50,
			MinWords:     1,
		},
		Index: IndexConfig{
			Dir:    "data/index",
			Metric: "cosine",
		},
		Retrieval: RetrievalConfig{
			TopK:       5,
			SnippetLen: 50,
		},
		Ingest: IngestConfig{
			RawDir:            "data/raw",
			MaxArticles:       200,
			RequestsPerSecond: 3,
		},
		Vector: VectorConfig{
			Collection: "adrag_chunks",
		},
		Temporal: TemporalConfig{
			Host:      "localhost:7233",
			Namespace: "default",
			TaskQueue: "adrag-pipeline",
		},
		Server: ServerConfig{
			Addr:    ":8000",
			OpsAddr: ":8081",
		},
		Secrets: SecretsConfig{
			Provider: "env",
		},
		Tracing: TracingConfig{
			SampleRate:  1.0,
			Environment: "development",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	// Check for empty API key with active provider (skip "none" provider)
	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.Provider != "dummy" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}
	if c.Embedding.Provider != "" && c.Embedding.Provider != "none" && c.Embedding.Provider != "dummy" && c.Embedding.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("embedding provider '%s' is configured but api_key is empty", c.Embedding.Provider))
	}

	// Check temperature range [0, 2.0]
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}

	if c.Chunking.SizeWords <= 0 {
		warnings = append(warnings, fmt.Sprintf("chunk size_words %d must be positive", c.Chunking.SizeWords))
	}
	if c.Chunking.OverlapWords < 0 || c.Chunking.OverlapWords >= c.Chunking.SizeWords {
		warnings = append(warnings, fmt.Sprintf("chunk overlap_words %d must be in [0, size_words)", c.Chunking.OverlapWords))
	}

	if c.Retrieval.TopK <= 0 {
		warnings = append(warnings, fmt.Sprintf("retrieval top_k %d must be positive", c.Retrieval.TopK))
	}
	if c.Index.Metric != "" && c.Index.Metric != "cosine" {
		warnings = append(warnings, fmt.Sprintf("index metric '%s' is not supported, only 'cosine'", c.Index.Metric))
	}

	if c.Ingest.Email == "" {
		warnings = append(warnings, "ingest email is empty, NCBI requests should identify a contact address")
	}

	switch c.Secrets.Provider {
	case "", "env", "file", "vault":
	default:
		warnings = append(warnings, fmt.Sprintf("secrets provider '%s' is not supported, use env, file or vault", c.Secrets.Provider))
	}
	if c.Secrets.Provider == "file" && c.Secrets.FilePath == "" {
		warnings = append(warnings, "secrets provider 'file' is configured but file_path is empty")
	}

	return warnings
}

// Load reads configuration from file and environment. An empty path loads
// defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return cfg, nil
}

// setDefaults registers defaults with viper so environment variables bind
// even when no config file names the key.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.batch_size", d.Embedding.BatchSize)

	v.SetDefault("chunking.size_words", d.Chunking.SizeWords)
	v.SetDefault("chunking.overlap_words", d.Chunking.OverlapWords)
	v.SetDefault("chunking.min_words", d.Chunking.MinWords)

	v.SetDefault("index.dir", d.Index.Dir)
	v.SetDefault("index.metric", d.Index.Metric)

	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("retrieval.snippet_len", d.Retrieval.SnippetLen)

	v.SetDefault("ingest.email", d.Ingest.Email)
	v.SetDefault("ingest.api_key", d.Ingest.APIKey)
	v.SetDefault("ingest.raw_dir", d.Ingest.RawDir)
	v.SetDefault("ingest.max_articles", d.Ingest.MaxArticles)
	v.SetDefault("ingest.requests_per_second", d.Ingest.RequestsPerSecond)

	v.SetDefault("vector.host", d.Vector.Host)
	v.SetDefault("vector.port", d.Vector.Port)
	v.SetDefault("vector.collection", d.Vector.Collection)

	v.SetDefault("temporal.host", d.Temporal.Host)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.ops_addr", d.Server.OpsAddr)

	v.SetDefault("secrets.provider", d.Secrets.Provider)
	v.SetDefault("secrets.file_path", d.Secrets.FilePath)
	v.SetDefault("secrets.vault_address", d.Secrets.VaultAddress)
	v.SetDefault("secrets.vault_token", d.Secrets.VaultToken)
	v.SetDefault("secrets.vault_mount", d.Secrets.VaultMount)
	v.SetDefault("secrets.vault_path", d.Secrets.VaultPath)

	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.environment", d.Tracing.Environment)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
