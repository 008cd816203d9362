package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adrag/adrag/internal/chunk"
	"github.com/adrag/adrag/internal/config"
	"github.com/adrag/adrag/internal/generator"
	"github.com/adrag/adrag/internal/index"
	"github.com/adrag/adrag/internal/ingest"
	"github.com/adrag/adrag/internal/llm"
	"github.com/adrag/adrag/internal/llm/anthropic"
	"github.com/adrag/adrag/internal/llm/dummy"
	"github.com/adrag/adrag/internal/llm/openai"
	"github.com/adrag/adrag/internal/observability"
	"github.com/adrag/adrag/internal/retrieval"
	"github.com/adrag/adrag/internal/secrets"
	"github.com/adrag/adrag/internal/server"
	"github.com/adrag/adrag/internal/service"
	"github.com/adrag/adrag/internal/vector"
	"github.com/adrag/adrag/internal/vector/qdrant"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "adrag",
		Short: "Retrieval-augmented question answering over PMC biomedical literature",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (optional)")

	// fetch
	var (
		fetchQuery    string
		fetchOut      string
		fetchTarget   int
		fetchManifest string
		fetchResume   bool
	)
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download PMC full-text XML for a PubMed query",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			if fetchOut == "" {
				fetchOut = cfg.Ingest.RawDir
			}
			if fetchTarget <= 0 {
				fetchTarget = cfg.Ingest.MaxArticles
			}

			client := ingest.NewEntrezClient(ingest.EntrezConfig{
				Email:             cfg.Ingest.Email,
				APIKey:            cfg.Ingest.APIKey,
				RequestsPerSecond: cfg.Ingest.RequestsPerSecond,
			})
			fetcher := ingest.NewFetcher(client, logger)
			summary, err := fetcher.FetchCorpus(cmd.Context(), ingest.FetchOptions{
				Query:        fetchQuery,
				OutDir:       fetchOut,
				TargetN:      fetchTarget,
				Resume:       fetchResume,
				ManifestPath: fetchManifest,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Downloaded %d, skipped %d, failed %d, no PMC link %d\n",
				summary.Downloaded, summary.Skipped, summary.Failed, summary.NoLink)
			return nil
		},
	}
	fetchCmd.Flags().StringVar(&fetchQuery, "query", "", "PubMed search query")
	fetchCmd.Flags().StringVar(&fetchOut, "out", "", "Output directory for XML files")
	fetchCmd.Flags().IntVar(&fetchTarget, "n", 0, "Target number of articles")
	fetchCmd.Flags().StringVar(&fetchManifest, "manifest", "", "Manifest JSONL path (optional)")
	fetchCmd.Flags().BoolVar(&fetchResume, "resume", true, "Skip articles already on disk")
	_ = fetchCmd.MarkFlagRequired("query")

	// chunk
	var (
		chunkRaw      string
		chunkOut      string
		chunkManifest string
		chunkForce    bool
	)
	chunkCmd := &cobra.Command{
		Use:   "chunk",
		Short: "Build the chunk dataset from downloaded XML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			if chunkRaw == "" {
				chunkRaw = cfg.Ingest.RawDir
			}

			var pmidMap map[string]string
			if chunkManifest != "" {
				pmidMap, err = ingest.LoadPMIDMap(chunkManifest)
				if err != nil {
					return fmt.Errorf("loading manifest: %w", err)
				}
			}

			chunksPath, _, err := chunk.BuildDataset(chunk.DatasetOptions{
				RawDir: chunkRaw,
				OutDir: chunkOut,
				Params: chunk.Params{
					SizeWords:    cfg.Chunking.SizeWords,
					OverlapWords: cfg.Chunking.OverlapWords,
					MinWords:     cfg.Chunking.MinWords,
				},
				PMIDMap:      pmidMap,
				ManifestPath: chunkManifest,
				Force:        chunkForce,
			}, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Chunk dataset written to %s\n", chunksPath)
			return nil
		},
	}
	chunkCmd.Flags().StringVar(&chunkRaw, "raw", "", "Directory with PMC*.xml files")
	chunkCmd.Flags().StringVar(&chunkOut, "out", "data/chunks", "Output directory")
	chunkCmd.Flags().StringVar(&chunkManifest, "manifest", "", "Ingest manifest for pmid mapping (optional)")
	chunkCmd.Flags().BoolVar(&chunkForce, "force", false, "Overwrite an existing dataset")

	// index
	var (
		indexChunks string
		indexOut    string
		indexForce  bool
		indexMirror bool
	)
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the chunk dataset and build the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			if indexOut == "" {
				indexOut = cfg.Index.Dir
			}

			embedProvider, err := buildProvider(embedProviderConfig(cfg))
			if err != nil {
				return err
			}
			if embedProvider == nil {
				return fmt.Errorf("indexing requires an embedding provider, set embedding.provider")
			}
			embedder := vector.NewEmbedder(embedProvider, cfg.Embedding.BatchSize)

			var mirror index.Mirror
			if indexMirror {
				repo, err := qdrant.New(cmd.Context(), cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
				if err != nil {
					logger.Warn("vector mirror unavailable", "error", err)
				} else {
					defer repo.Close()
					mirror = &vector.IndexMirror{Repo: repo}
				}
			}

			builder := index.NewBuilder(embedder, mirror, logger)
			paths, err := builder.Build(cmd.Context(), index.BuildOptions{
				ChunksPath:        indexChunks,
				OutDir:            indexOut,
				ModelID:           cfg.Embedding.Model,
				BatchSize:         cfg.Embedding.BatchSize,
				Device:            "remote",
				Metric:            cfg.Index.Metric,
				Force:             indexForce,
				ChunkSizeWords:    cfg.Chunking.SizeWords,
				ChunkOverlapWords: cfg.Chunking.OverlapWords,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Index written to %s\n", filepath.Dir(paths.Index))
			return nil
		},
	}
	indexCmd.Flags().StringVar(&indexChunks, "chunks", "data/chunks/chunks.jsonl", "Chunk dataset path")
	indexCmd.Flags().StringVar(&indexOut, "out", "", "Output directory for index artifacts")
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "Overwrite existing artifacts")
	indexCmd.Flags().BoolVar(&indexMirror, "mirror", false, "Also upsert vectors into qdrant")

	// query
	var (
		queryTopK int
		queryJSON bool
	)
	queryCmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer a question against the local index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}

			svc, _, err := buildService(cfg, logger)
			if err != nil {
				return err
			}

			answer, err := svc.Answer(cmd.Context(), args[0], queryTopK)
			if err != nil {
				return err
			}

			if queryJSON {
				data, _ := json.MarshalIndent(answer, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Println(answer.Answer)
			if len(answer.Citations) > 0 {
				fmt.Println("\nSources:")
				for i, c := range answer.Citations {
					fmt.Printf("  [%d] %s: %s\n", i+1, c.PMCID, c.TextSnippet)
				}
			}
			return nil
		},
	}
	queryCmd.Flags().IntVar(&queryTopK, "k", 0, "Number of chunks to retrieve (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print the full answer object as JSON")

	// serve
	var serveAddr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = cfg.Server.Addr
			}
			return runServer(cmd.Context(), cfg, logger, serveAddr)
		},
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")

	// providers
	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-14s %s\n", name, url)
			}
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println("  none           (retrieval-only, no answer generation)")
			fmt.Println()
			fmt.Println("Configure in a config file or via environment:")
			fmt.Println("  ADRAG_LLM_PROVIDER=openai")
			fmt.Println("  ADRAG_LLM_API_KEY=sk-...")
			fmt.Println("  ADRAG_LLM_MODEL=gpt-4o-mini")
		},
	}

	rootCmd.AddCommand(fetchCmd, chunkCmd, indexCmd, queryCmd, serveCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads config and builds the process logger.
func setup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	if err := secrets.Init(secretsConfig(cfg)); err != nil {
		return nil, nil, fmt.Errorf("initializing secrets backend: %w", err)
	}
	resolveSecrets(cfg)
	return cfg, logger, nil
}

// secretsConfig maps the config section onto the secrets backend selection.
func secretsConfig(cfg *config.Config) *secrets.Config {
	sc := secrets.DefaultConfig()
	sc.Provider = cfg.Secrets.Provider
	switch cfg.Secrets.Provider {
	case "vault":
		vc := secrets.DefaultVaultConfig()
		if cfg.Secrets.VaultAddress != "" {
			vc.Address = cfg.Secrets.VaultAddress
		}
		if cfg.Secrets.VaultToken != "" {
			vc.Token = cfg.Secrets.VaultToken
		}
		if cfg.Secrets.VaultMount != "" {
			vc.MountPath = cfg.Secrets.VaultMount
		}
		if cfg.Secrets.VaultPath != "" {
			vc.SecretPath = cfg.Secrets.VaultPath
		}
		sc.VaultConfig = vc
	case "file":
		sc.FileConfig = &secrets.FileConfig{Path: cfg.Secrets.FilePath}
	}
	return sc
}

// resolveSecrets fills API keys left empty by the config file from the
// secrets backend (env by default, vault or file when configured).
func resolveSecrets(cfg *config.Config) {
	ctx := context.Background()
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretLLMAPIKey), "")
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretEmbeddingAPIKey), cfg.LLM.APIKey)
	}
	if cfg.Ingest.APIKey == "" {
		cfg.Ingest.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretNCBIAPIKey), "")
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newProviderFactory registers every shipped provider.
func newProviderFactory() *llm.ProviderFactory {
	factory := llm.NewFactory()
	factory.Register("anthropic", func(c llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(c.APIKey, c.Model, c.BaseURL), nil
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	factory.Register("dummy", func(c llm.ProviderConfig) (llm.Provider, error) {
		return dummy.New(), nil
	})
	// All OpenAI-compatible presets
	for _, p := range []struct{ name, url string }{
		{"groq", llm.KnownProviders["groq"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"together", llm.KnownProviders["together"]},
		{"custom", ""},
	} {
		p := p
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}
	return factory
}

func buildProvider(cfg llm.ProviderConfig) (llm.Provider, error) {
	return newProviderFactory().Create(cfg)
}

func llmProviderConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.DefaultProviderConfig()
	pc.Provider = cfg.LLM.Provider
	pc.APIKey = cfg.LLM.APIKey
	pc.Model = cfg.LLM.Model
	pc.BaseURL = cfg.LLM.BaseURL
	return pc
}

func embedProviderConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.DefaultProviderConfig()
	pc.Provider = cfg.Embedding.Provider
	pc.APIKey = cfg.Embedding.APIKey
	pc.BaseURL = cfg.Embedding.BaseURL
	pc.EmbedModel = cfg.Embedding.Model
	return pc
}

// buildService loads the index and assembles the answer pipeline.
func buildService(cfg *config.Config, logger *slog.Logger) (*service.Service, *index.Store, error) {
	paths := index.DefaultPaths(cfg.Index.Dir)
	store := index.NewStore(paths, logger)
	if err := store.Load(); err != nil {
		return nil, nil, fmt.Errorf("loading index: %w", err)
	}
	observability.Metrics().IndexRows.Set(float64(store.Len()))

	embedProvider, err := buildProvider(embedProviderConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	if embedProvider == nil {
		return nil, nil, fmt.Errorf("querying requires an embedding provider, set embedding.provider")
	}
	embedder := vector.NewEmbedder(embedProvider, cfg.Embedding.BatchSize)
	retriever := retrieval.NewRetriever(store, embedder, logger)

	llmProvider, err := buildProvider(llmProviderConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	gen := generator.NewGenerator(llmProvider, generator.Options{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		SnippetLen:  cfg.Retrieval.SnippetLen,
	}, logger)

	svc := service.New(retriever, gen, cfg.Retrieval.TopK, logger)
	return svc, store, nil
}

// runServer assembles the pipeline and serves the HTTP API until SIGTERM.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "adrag",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	if err := observability.InitGlobalAuditLogger(observability.DefaultAuditConfig()); err != nil {
		return fmt.Errorf("initializing audit log: %w", err)
	}

	svc, store, err := buildService(cfg, logger)
	if err != nil {
		return err
	}

	api := server.NewAPIServer(svc, store, index.DefaultPaths(cfg.Index.Dir), server.APIConfig{
		LLMProvider:    cfg.LLM.Provider,
		LLMModel:       cfg.LLM.Model,
		EmbeddingModel: cfg.Embedding.Model,
		TopKDefault:    cfg.Retrieval.TopK,
	}, logger)

	health := server.NewHealthServer("0.1.0")
	health.RegisterCheck("index", server.IndexHealthChecker(store))
	go func() {
		if err := health.ListenAndServe(ctx, cfg.Server.OpsAddr); err != nil {
			logger.Warn("health server stopped", "error", err)
		}
	}()
	health.SetReady(true)

	sd := server.NewShutdownHandler(0, logger)
	sd.RegisterHook(server.ShutdownHook{Name: "health-ready", Priority: 5, Fn: func(ctx context.Context) error {
		health.SetReady(false)
		return nil
	}})
	sd.RegisterHook(server.ShutdownHook{Name: "api", Priority: 10, Fn: func(ctx context.Context) error {
		cancel()
		return nil
	}})
	sd.RegisterHook(server.ShutdownHook{Name: "tracing", Priority: 80, Fn: func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}})
	sd.RegisterHook(server.ShutdownHook{Name: "audit-log", Priority: 90, Fn: func(ctx context.Context) error {
		return observability.Audit().Close()
	}})
	sd.Start()

	err = api.ListenAndServe(ctx, addr)
	sd.Trigger()
	sd.Wait()
	return err
}
