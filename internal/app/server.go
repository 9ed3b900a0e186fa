package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quorumlabs/quorum/internal/circuitbreaker"
	"github.com/quorumlabs/quorum/internal/classify"
	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/events"
	"github.com/quorumlabs/quorum/internal/health"
	"github.com/quorumlabs/quorum/internal/httpapi"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/metrics"
	"github.com/quorumlabs/quorum/internal/providers/anthropic"
	"github.com/quorumlabs/quorum/internal/providers/openai"
	"github.com/quorumlabs/quorum/internal/providers/vllm"
	"github.com/quorumlabs/quorum/internal/ratelimit"
	"github.com/quorumlabs/quorum/internal/recall"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/stats"
	"github.com/quorumlabs/quorum/internal/store"
	temporalpkg "github.com/quorumlabs/quorum/internal/temporal"
	"github.com/quorumlabs/quorum/internal/tools"
	"github.com/quorumlabs/quorum/internal/tracing"
	"github.com/quorumlabs/quorum/internal/vault"
	"github.com/quorumlabs/quorum/internal/voting"
)

type Server struct {
	cfg Config

	r *chi.Mux

	logger       *slog.Logger
	store        store.Store
	registry     *registry.Registry
	limiter      *ratelimit.Limiter
	temporal     *temporalpkg.Manager
	traceCleanup func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	traceCleanup, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "quorum",
	})
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	ht := health.NewTracker(health.DefaultConfig())
	sc := stats.NewCollector()
	m := metrics.New()
	bus := events.NewBus()

	reg := registry.New(logger, ht, sc, m)
	registerProviders(context.Background(), reg, time.Duration(cfg.ProviderTimeoutSecs)*time.Second, logger)

	classifier, err := classify.New(logger, reg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	voter := voting.New(logger, reg, db, bus, cfg.VotingAggregation, cfg.MaxTokens)

	ccfg := cfg.Consensus()
	orch := consensus.New(logger, reg, db, bus, m, ccfg).
		WithClassifier(classifier).
		WithVoter(voter)

	if cfg.ToolsEnabled {
		toolReg := tools.NewRegistry()
		loop := tools.NewLoop(logger, toolReg, reg, cfg.ToolMaxRounds)
		orch = orch.WithToolSend(loop.Send)
	}

	var asker httpapi.Asker = orch
	var mgr *temporalpkg.Manager
	if cfg.TemporalEnabled {
		detector := consensus.NewDetector(nil)
		acts := &temporalpkg.Activities{
			Log:        logger,
			Registry:   reg,
			Store:      db,
			Bus:        bus,
			Detector:   detector,
			Recall:     recall.NewBuilder(db),
			Classifier: classifier,
		}
		mgr, err = temporalpkg.New(temporalpkg.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, acts)
		if err != nil {
			logger.Warn("temporal unavailable, running in-process only", "error", err.Error())
		} else if err := mgr.Start(); err != nil {
			logger.Warn("temporal worker failed to start, running in-process only", "error", err.Error())
			mgr.Stop()
			mgr = nil
		}
		if mgr != nil {
			breaker := circuitbreaker.New(circuitbreaker.WithOnChange(func(from, to circuitbreaker.State) {
				logger.Warn("durable dispatch breaker transition",
					slog.String("from", from.String()), slog.String("to", to.String()))
			}))
			asker = temporalpkg.NewDispatcher(logger, mgr, breaker, orch, ccfg)
		}
	}

	var v *vault.Vault
	if cfg.VaultEnabled {
		v, err = vault.Open(context.Background(), db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst,
		ratelimit.WithRejectionCounter(m.RateLimited))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(limiter.Middleware)

	deps := httpapi.Dependencies{
		Asker:    asker,
		Registry: reg,
		Store:    db,
		Vault:    v,
		Health:   ht,
		Stats:    sc,
		EventBus: bus,
		Metrics:  m,
	}
	if mgr != nil {
		deps.TemporalClient = mgr.Client()
	}
	httpapi.MountRoutes(r, deps)

	return &Server{
		cfg:          cfg,
		r:            r,
		logger:       logger,
		store:        db,
		registry:     reg,
		limiter:      limiter,
		temporal:     mgr,
		traceCleanup: traceCleanup,
	}, nil
}

func (s *Server) Router() http.Handler { return s.r }

func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.traceCleanup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.traceCleanup(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// registerProviders wires adapters from environment credentials. A provider
// with no credential simply stays unregistered.
func registerProviders(ctx context.Context, reg *registry.Registry, timeout time.Duration, logger *slog.Logger) {
	if key := os.Getenv("QUORUM_ANTHROPIC_API_KEY"); key != "" {
		base := getEnv("QUORUM_ANTHROPIC_BASE_URL", "https://api.anthropic.com")
		if err := reg.RegisterAdapter(ctx, anthropic.New("anthropic", key, base, anthropic.WithTimeout(timeout))); err != nil {
			logger.Warn("anthropic registration failed", "error", err.Error())
		} else {
			logger.Info("registered provider", slog.String("provider", "anthropic"))
		}
	}

	if key := os.Getenv("QUORUM_OPENAI_API_KEY"); key != "" {
		base := getEnv("QUORUM_OPENAI_BASE_URL", "https://api.openai.com")
		if err := reg.RegisterAdapter(ctx, openai.New("openai", key, base, openai.WithTimeout(timeout))); err != nil {
			logger.Warn("openai registration failed", "error", err.Error())
		} else {
			logger.Info("registered provider", slog.String("provider", "openai"))
		}
	}

	if endpoints := os.Getenv("QUORUM_VLLM_ENDPOINTS"); endpoints != "" {
		for i, ep := range strings.Split(endpoints, ",") {
			ep = strings.TrimSpace(ep)
			if ep == "" {
				continue
			}
			id := "vllm"
			if i > 0 {
				id = strings.ReplaceAll(ep, "://", "-")
				id = strings.ReplaceAll(id, ":", "-")
				id = strings.ReplaceAll(id, "/", "")
			}
			if err := reg.RegisterAdapter(ctx, vllm.New(id, ep, vllm.WithTimeout(timeout))); err != nil {
				logger.Warn("vllm registration failed", slog.String("endpoint", ep), "error", err.Error())
				continue
			}
			logger.Info("registered provider", slog.String("provider", id), slog.String("endpoint", ep))
		}
	}
}
