package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/szaher/augur/internal/auth"
	"github.com/szaher/augur/internal/llm"
	"github.com/szaher/augur/internal/mcp"
	"github.com/szaher/augur/internal/orchestrator"
	"github.com/szaher/augur/internal/prompts"
	"github.com/szaher/augur/internal/routes"
	"github.com/szaher/augur/internal/session"
	"github.com/szaher/augur/internal/tarot"
	"github.com/szaher/augur/internal/telemetry"
	"github.com/szaher/augur/internal/tools"
	"github.com/szaher/augur/internal/topology"
)

// Runtime owns every long-lived component of the service.
type Runtime struct {
	cfg          *Config
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	store        session.Store
	catalog      *prompts.Catalog
	pool         *mcp.Pool
	registry     *tools.Registry
	orchestrator *orchestrator.Orchestrator
	server       *Server
	closers      []func() error
}

// Options override components, mainly for tests and the CLI.
type Options struct {
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	// Client serves every model instead of the provider clients.
	Client llm.Client
	// Store replaces the configured history backend.
	Store session.Store
	// Rand drives the card draw.
	Rand *rand.Rand
	// Pool supplies pre-connected MCP clients; configured servers are
	// dialed into it.
	Pool *mcp.Pool
}

// New builds the runtime from cfg. Prompts are loaded and MCP servers
// connected before it returns, so a broken deployment fails at startup.
func New(ctx context.Context, cfg *Config, opts Options) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, logger: opts.Logger, metrics: opts.Metrics, pool: opts.Pool}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	if rt.metrics == nil {
		rt.metrics = telemetry.NewMetrics()
	}
	if rt.pool == nil {
		rt.pool = mcp.NewPool()
	}
	rt.closers = append(rt.closers, rt.pool.Close)

	if err := rt.build(ctx, opts); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, opts Options) error {
	cfg := rt.cfg

	rt.store = opts.Store
	if rt.store == nil {
		store, closer, err := newStore(ctx, cfg.History)
		if err != nil {
			return err
		}
		rt.store = store
		if closer != nil {
			rt.closers = append(rt.closers, closer)
		}
	}

	catalog, err := NewCatalog(ctx, cfg.Prompts, rt.logger)
	if err != nil {
		return err
	}
	if err := catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	rt.catalog = catalog

	graphCfg, err := rt.registerTools(ctx, opts.Rand)
	if err != nil {
		return err
	}

	def, models, err := clients(ctx, cfg, graphCfg, opts.Client)
	if err != nil {
		return err
	}
	builder, err := topology.New(graphCfg, topology.Deps{
		Prompts: catalog,
		Default: def,
		Models:  models,
		Tools:   rt.registry,
		Metrics: rt.metrics,
		Logger:  rt.logger,
	})
	if err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithHistoryEvents(cfg.History.Events),
		orchestrator.WithMetrics(rt.metrics),
		orchestrator.WithLogger(rt.logger),
	}
	if cfg.Fallback != "" {
		orchOpts = append(orchOpts, orchestrator.WithFallback(cfg.Fallback))
	}
	rt.orchestrator = orchestrator.New(rt.store, builder, orchOpts...)

	verifier, err := newVerifier(cfg.Auth)
	if err != nil {
		return err
	}
	serverOpts := []ServerOption{
		WithLogger(rt.logger),
		WithMetrics(rt.metrics),
		WithRateLimiter(auth.NewRateLimiter(cfg.Auth.RateLimit)),
		WithCORSOrigins(cfg.Server.CORSOrigins),
		WithTrustedProxy(cfg.Server.TrustProxy),
	}
	if verifier != nil {
		serverOpts = append(serverOpts, WithVerifier(verifier))
	} else {
		rt.logger.Warn("server starting WITHOUT authentication (auth.disabled is set)")
	}
	rt.server = NewServer(rt.orchestrator, serverOpts...)
	return nil
}

// registerTools registers the card draw and every MCP tool. When the
// numerology agent has no tools configured it gets all MCP tools.
func (rt *Runtime) registerTools(ctx context.Context, rng *rand.Rand) (topology.Config, error) {
	cfg := rt.cfg
	rt.registry = tools.NewRegistry()
	rt.registry.Register(tools.DrawDefinition, tools.NewDrawExecutor(rng, tarot.DrawOptions{
		AllowReversed:       cfg.Draw.AllowReversed,
		ReversedProbability: cfg.Draw.ReversedProbability,
	}))

	for _, srv := range cfg.MCP {
		rt.logger.Info("connecting MCP server", "name", srv.Name, "transport", srv.Transport)
		if _, err := rt.pool.Connect(ctx, srv); err != nil {
			return topology.Config{}, fmt.Errorf("start MCP server %s: %w", srv.Name, err)
		}
	}
	infos, err := mcp.Discover(ctx, rt.pool)
	if err != nil {
		return topology.Config{}, err
	}
	if err := mcp.Register(rt.registry, rt.pool, infos); err != nil {
		return topology.Config{}, err
	}
	for _, t := range infos {
		rt.logger.Info("discovered MCP tool", "server", t.ServerName, "tool", t.Name)
	}

	graphCfg := cfg.Graph
	numerology := string(routes.Numerology)
	if len(infos) > 0 && len(graphCfg.Agents[numerology].Tools) == 0 {
		agents := make(map[string]topology.AgentSpec, len(graphCfg.Agents)+1)
		for k, v := range graphCfg.Agents {
			agents[k] = v
		}
		spec := agents[numerology]
		spec.Tools = mcp.Names(infos)
		agents[numerology] = spec
		graphCfg.Agents = agents
	}
	return graphCfg, nil
}

// clients resolves the default model and every per-agent model override.
func clients(ctx context.Context, cfg *Config, graphCfg topology.Config, override llm.Client) (topology.Binding, map[string]topology.Binding, error) {
	resolve := func(model string) (topology.Binding, error) {
		if override != nil {
			_, name := llm.ParseModelString(model)
			return topology.Binding{Client: override, Model: name}, nil
		}
		c, name, err := llm.NewClientForModel(ctx, model)
		if err != nil {
			return topology.Binding{}, fmt.Errorf("model %s: %w", model, err)
		}
		return topology.Binding{Client: c, Model: name}, nil
	}

	def, err := resolve(cfg.Model.Default)
	if err != nil {
		return topology.Binding{}, nil, err
	}
	models := make(map[string]topology.Binding)
	for _, spec := range graphCfg.Agents {
		if spec.Model == "" {
			continue
		}
		if _, ok := models[spec.Model]; ok {
			continue
		}
		b, err := resolve(spec.Model)
		if err != nil {
			return topology.Binding{}, nil, err
		}
		models[spec.Model] = b
	}
	return def, models, nil
}

func newStore(ctx context.Context, cfg HistoryConfig) (session.Store, func() error, error) {
	switch cfg.Backend {
	case BackendRedis:
		opts := []session.RedisStoreOption{session.WithMaxEvents(cfg.MaxEvents)}
		if cfg.Redis.Prefix != "" {
			opts = append(opts, session.WithPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			opts = append(opts, session.WithTTL(cfg.Redis.TTL))
		}
		s := session.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, opts...)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	case BackendPostgres:
		s, err := session.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return session.NewMemoryStore(cfg.MaxEvents), nil, nil
	}
}

// NewCatalog builds an unloaded prompt catalog over the configured source.
func NewCatalog(ctx context.Context, cfg PromptsConfig, logger *slog.Logger) (*prompts.Catalog, error) {
	var src prompts.Source
	switch cfg.Source {
	case PromptsFile:
		src = prompts.NewFileSource(cfg.Path)
	case PromptsS3:
		s3src, err := prompts.NewS3SourceFromEnv(ctx, cfg.S3.Region, cfg.S3.Endpoint, cfg.S3.Bucket, cfg.S3.Prefix)
		if err != nil {
			return nil, err
		}
		src = s3src
	default:
		src = prompts.DefaultSource()
	}
	return prompts.NewCatalog(src, cfg.Bindings, prompts.WithLogger(logger))
}

func newVerifier(cfg AuthConfig) (auth.Verifier, error) {
	switch {
	case cfg.Disabled:
		return nil, nil
	case cfg.IntrospectionURL != "":
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = auth.DefaultIntrospectionTimeout
		}
		return auth.NewIntrospectionVerifier(cfg.IntrospectionURL, &http.Client{Timeout: timeout})
	case cfg.StaticToken != "":
		return auth.StaticVerifier{Token: cfg.StaticToken}, nil
	default:
		return nil, errors.New("no token verifier configured")
	}
}

// Orchestrator returns the turn handler.
func (rt *Runtime) Orchestrator() *orchestrator.Orchestrator { return rt.orchestrator }

// Catalog returns the prompt catalog.
func (rt *Runtime) Catalog() *prompts.Catalog { return rt.catalog }

// Tools returns the tool registry.
func (rt *Runtime) Tools() *tools.Registry { return rt.registry }

// Handler returns the invocation handler, for httptest and embedding.
func (rt *Runtime) Handler() http.Handler { return rt.server.Handler() }

// Start serves until ctx ends or a listener fails, then shuts down
// gracefully. It runs the metrics listener and prompt refreshers alongside.
func (rt *Runtime) Start(ctx context.Context) error {
	cfg := rt.cfg
	if cfg.Prompts.Refresh != "" {
		sched, err := rt.catalog.Schedule(cfg.Prompts.Refresh)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := rt.server.ListenAndServe(cfg.Server.Addr(), cfg.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			rt.logger.Info("metrics listener starting", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}

	if cfg.Prompts.Watch {
		g.Go(func() error { return rt.catalog.Watch(gctx, cfg.Prompts.Path, 0) })
	}

	g.Go(func() error {
		<-gctx.Done()
		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		rt.logger.Info("shutting down runtime")
		err := rt.server.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			err = errors.Join(err, metricsSrv.Shutdown(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}

// Close releases MCP sessions and the history store.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
