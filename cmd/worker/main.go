package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/adrag/adrag/internal/config"
	"github.com/adrag/adrag/internal/index"
	"github.com/adrag/adrag/internal/ingest"
	"github.com/adrag/adrag/internal/llm"
	"github.com/adrag/adrag/internal/llm/dummy"
	"github.com/adrag/adrag/internal/llm/openai"
	"github.com/adrag/adrag/internal/secrets"
	"github.com/adrag/adrag/internal/server"
	temporalmod "github.com/adrag/adrag/internal/temporal"
	"github.com/adrag/adrag/internal/vector"
	"github.com/adrag/adrag/internal/vector/qdrant"

	temporalclient "go.temporal.io/sdk/client"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := secrets.Init(secretsConfig(cfg)); err != nil {
		log.Fatalf("secrets backend: %v", err)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretEmbeddingAPIKey), "")
	}
	if cfg.Ingest.APIKey == "" {
		cfg.Ingest.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretNCBIAPIKey), "")
	}

	// Build the embedding provider via factory.
	factory := llm.NewFactory()
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	factory.Register("dummy", func(c llm.ProviderConfig) (llm.Provider, error) {
		return dummy.New(), nil
	})
	factory.Register("custom", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})

	pc := llm.DefaultProviderConfig()
	pc.Provider = cfg.Embedding.Provider
	pc.APIKey = cfg.Embedding.APIKey
	pc.BaseURL = cfg.Embedding.BaseURL
	pc.EmbedModel = cfg.Embedding.Model

	provider, err := factory.Create(pc)
	if err != nil {
		log.Fatalf("creating embedding provider: %v", err)
	}
	if provider == nil {
		log.Fatalf("the pipeline worker requires an embedding provider, set embedding.provider")
	}

	// Wire rate limiter before SetDependencies
	provider = llm.WithRateLimit(provider, llm.DefaultRateLimitConfig())

	entrez := ingest.NewEntrezClient(ingest.EntrezConfig{
		Email:             cfg.Ingest.Email,
		APIKey:            cfg.Ingest.APIKey,
		RequestsPerSecond: cfg.Ingest.RequestsPerSecond,
	})

	sd := server.NewShutdownHandler(0, logger)
	health := server.NewHealthServer("0.1.0")

	var mirror index.Mirror
	if cfg.Vector.Host != "" {
		repo, err := qdrant.New(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
		if err != nil {
			logger.Warn("qdrant unavailable, index builds run without mirror", "error", err)
		} else {
			mirror = &vector.IndexMirror{Repo: repo}
			health.RegisterCheck("mirror", server.MirrorHealthChecker(func(ctx context.Context) error {
				return repo.Ping(ctx)
			}))
			sd.RegisterHook(server.ShutdownHook{Name: "mirror", Priority: 30, Fn: func(ctx context.Context) error {
				return repo.Close()
			}})
		}
	}

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Fetcher:  ingest.NewFetcher(entrez, logger),
		Embedder: vector.NewEmbedder(provider, cfg.Embedding.BatchSize),
		Mirror:   mirror,
		Logger:   logger,
	})

	opts := temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	}
	if token := secrets.GetOrDefault(ctx, string(secrets.SecretTemporalToken), ""); token != "" {
		opts.Credentials = temporalclient.NewAPIKeyStaticCredentials(token)
	}
	c, err := temporalclient.Dial(opts)
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))
	sd.RegisterHook(server.ShutdownHook{Name: "temporal-client", Priority: 20, Fn: func(ctx context.Context) error {
		c.Close()
		return nil
	}})

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	sd.RegisterHook(server.ShutdownHook{Name: "worker", Priority: 10, Fn: func(ctx context.Context) error {
		w.Stop()
		return nil
	}})
	sd.RegisterHook(server.ShutdownHook{Name: "ops", Priority: 5, Fn: func(ctx context.Context) error {
		health.SetReady(false)
		cancel()
		return nil
	}})

	go func() {
		if err := health.ListenAndServe(ctx, cfg.Server.OpsAddr); err != nil {
			logger.Warn("health server stopped", "error", err)
		}
	}()
	health.SetReady(true)

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	sd.Start()
	sd.Wait()
	fmt.Println("Worker stopped")
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
