package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tanpawarit/lead-capture-agent/agent/agents/dialogue"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/httpapi"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	"github.com/tanpawarit/lead-capture-agent/agent/llm"
	"github.com/tanpawarit/lead-capture-agent/agent/notify"
	configx "github.com/tanpawarit/lead-capture-agent/pkg/config"
	_ "github.com/tanpawarit/lead-capture-agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/lead-capture-agent/pkg/openrouter"
	qstashx "github.com/tanpawarit/lead-capture-agent/pkg/qstash"
	"github.com/tanpawarit/lead-capture-agent/pkg/telemetry"
)

type AppConfig struct {
	Environment   string        `envconfig:"ENVIRONMENT" default:"development"`
	StoreBackend  string        `envconfig:"STORE_BACKEND" default:"memory"`
	LLMDriver     string        `envconfig:"LLM_DRIVER" default:"eino"`
	ModelTimeout  time.Duration `envconfig:"MODEL_TIMEOUT" default:"45s"`
	NotifyEnabled bool          `envconfig:"NOTIFY_ENABLED" default:"false"`
	NotifyTimeout time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
}

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("lead capture agent stopped")
		os.Exit(1)
	}
}

func run() error {
	appCfg := configx.MustNew[AppConfig]("")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracingCfg := configx.MustNew[telemetry.Config]("OTEL")
	shutdownTracing, err := telemetry.Setup(ctx, *tracingCfg, appCfg.Environment, log.Logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	store, err := newStore(ctx, appCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("lead store close failed")
		}
	}()

	model, err := newModelClient(ctx, appCfg.LLMDriver)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(appCfg.NotifyEnabled)
	if err != nil {
		return err
	}

	controller, err := dialogue.New(store, model, notifier, dialogue.Config{
		ModelTimeout:  appCfg.ModelTimeout,
		NotifyTimeout: appCfg.NotifyTimeout,
	})
	if err != nil {
		return fmt.Errorf("build dialogue controller: %w", err)
	}

	httpCfg := configx.MustNew[httpapi.Config]("")
	server, err := httpapi.NewServer(*httpCfg, controller)
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	log.Info().
		Str("environment", appCfg.Environment).
		Str("store", appCfg.StoreBackend).
		Str("llm_driver", appCfg.LLMDriver).
		Bool("notify", appCfg.NotifyEnabled).
		Msg("lead capture agent starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	return g.Wait()
}

func newStore(ctx context.Context, appCfg *AppConfig) (lead.Store, error) {
	switch strings.ToLower(strings.TrimSpace(appCfg.StoreBackend)) {
	case "", "memory":
		log.Warn().Msg("using in-memory lead store; leads are lost on restart")
		return lead.NewMemoryStore(), nil
	case "bolt":
		cfg := configx.MustNew[lead.BoltConfig]("BOLT")
		return lead.NewBoltStore(*cfg)
	case "upstash":
		cfg := configx.MustNew[lead.UpstashRedisConfig]("UPSTASH_REDIS")
		return lead.NewUpstashRedisStore(*cfg)
	case "postgres":
		cfg := configx.MustNew[lead.PostgresConfig]("POSTGRES")
		return lead.NewPostgresStore(ctx, *cfg)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", appCfg.StoreBackend)
	}
}

func newModelClient(ctx context.Context, driver string) (contractx.ModelClient, error) {
	cfg := configx.MustNew[llm.Config]("OPENROUTER")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	routerCfg := cfg.OpenRouter()

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", llm.DriverEino:
		chatModel, err := routerCfg.New(ctx)
		if err != nil {
			return nil, err
		}
		return llm.NewEinoClient(ctx, chatModel)
	case llm.DriverOpenAI:
		client := openrouterx.NewClient(routerCfg)
		if client == nil {
			return nil, fmt.Errorf("failed to initialize openrouter client")
		}
		return llm.NewOpenAIClient(client, *cfg)
	default:
		return nil, fmt.Errorf("unknown LLM_DRIVER %q", driver)
	}
}

func newNotifier(enabled bool) (contractx.LeadNotifier, error) {
	if !enabled {
		return contractx.NoopNotifier{}, nil
	}
	cfg := configx.MustNew[qstashx.Config]("QSTASH")
	client, err := qstashx.NewClient(*cfg)
	if err != nil {
		return nil, fmt.Errorf("build qstash client: %w", err)
	}
	return notify.NewQStashNotifier(client, cfg.Destination)
}
