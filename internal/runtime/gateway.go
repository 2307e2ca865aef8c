// Package runtime assembles the identifier registry, session store,
// controller manager and stage pipeline into a running HTTP gateway.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/tjfontaine/polyglot-pipe/internal/config"
	"github.com/tjfontaine/polyglot-pipe/internal/controller"
	"github.com/tjfontaine/polyglot-pipe/internal/pipeline"
	"github.com/tjfontaine/polyglot-pipe/internal/pipeline/stages"
	"github.com/tjfontaine/polyglot-pipe/internal/registration"
	"github.com/tjfontaine/polyglot-pipe/internal/registry"
	"github.com/tjfontaine/polyglot-pipe/internal/server"
	"github.com/tjfontaine/polyglot-pipe/internal/session"
	"github.com/tjfontaine/polyglot-pipe/internal/telemetry"
)

// ServiceName names the tracer and the otelhttp operation.
const ServiceName = "pipegate"

// Gateway owns every long-lived component of a running instance.
// Nothing is held in package-level state; two gateways in one process are
// fully independent.
type Gateway struct {
	cfg        *config.Config
	logger     *slog.Logger
	files      fs.FS
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	sessions    *session.Store
	controllers *stages.ControllerManager
	pipeline    *pipeline.Pipeline
	metrics     *telemetry.Metrics
	server      *server.Server

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New builds a Gateway from the given options. A configuration is required
// (WithFileConfig or WithConfig).
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		return nil, fmt.Errorf("config required (use WithFileConfig or WithConfig)")
	}
	if gw.files == nil {
		gw.files = os.DirFS(gw.cfg.Static.Root)
	}
	if gw.registerer == nil {
		reg := prometheus.NewRegistry()
		gw.registerer, gw.gatherer = reg, reg
	}

	if err := gw.init(); err != nil {
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) init() error {
	cfg := g.cfg

	regOpts := []registry.Option{
		registry.WithKeyLength(cfg.Registry.KeyLength),
		registry.WithMaxAttempts(cfg.Registry.MaxAttempts),
	}
	if cfg.Registry.Alphabet != "" {
		regOpts = append(regOpts, registry.WithAlphabet(cfg.Registry.Alphabet))
	}
	reg, err := registry.New[*session.Session](regOpts...)
	if err != nil {
		return fmt.Errorf("session registry: %w", err)
	}
	g.sessions = session.NewStore(reg, g.logger)

	g.controllers = controller.NewManager[stages.Controller](
		controller.WithAttribute(cfg.Controllers.Attribute),
		controller.WithLogger(g.logger),
	)
	if err := registration.RegisterBuiltins(g.controllers, cfg.Controllers.Preload); err != nil {
		return fmt.Errorf("controllers: %w", err)
	}

	g.metrics, err = telemetry.NewMetrics(g.registerer, g.sessions.Len)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	built, err := stages.Build(cfg.Pipeline.Stages, g.stageDeps())
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	g.pipeline = pipeline.New(
		pipeline.WithTracer(otel.Tracer(ServiceName)),
		pipeline.WithObserver(g.metrics),
		pipeline.WithLogger(g.logger),
	).Use(built...)

	var metricsHandler http.Handler
	if g.gatherer != nil {
		metricsHandler = promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{})
	}
	g.server = server.New(server.Options{
		Port:     cfg.Server.Port,
		Timeout:  cfg.Server.Timeout,
		Logger:   g.logger,
		Pipeline: server.PipelineHandler(g.pipeline, g.logger),
		Metrics:  metricsHandler,
	})

	g.logger.Debug("pipeline assembled", slog.Any("stages", g.pipeline.Stages()))
	return nil
}

func (g *Gateway) stageDeps() stages.Deps {
	cfg := g.cfg
	webhooks := make(map[string]stages.WebhookStageConfig, len(cfg.Pipeline.Webhooks))
	for _, wh := range cfg.Pipeline.Webhooks {
		sc := stages.WebhookStageConfig{
			URL:     wh.URL,
			Timeout: wh.Timeout,
			OnError: stages.WebhookAction(wh.OnError),
			Retries: wh.Retries,
			Headers: wh.Headers,
			Logger:  g.logger,
		}
		if !wh.AllowPrivate {
			sc.Transport = stages.PublicTransport()
		}
		webhooks[wh.Name] = sc
	}

	return stages.Deps{
		Files:            g.files,
		Index:            cfg.Static.Index,
		ClientScriptPath: cfg.Static.ClientScript.Path,
		ClientScriptFile: cfg.Static.ClientScript.File,
		Sessions:         g.sessions,
		SessionCookie:    cfg.Session.Cookie,
		SessionHeader:    cfg.Session.Header,
		Controllers:      g.controllers,
		Webhooks:         webhooks,
		Logger:           g.logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.server.Router
}

// Sessions returns the gateway's session store.
func (g *Gateway) Sessions() *session.Store {
	return g.sessions
}

// Controllers returns the gateway's controller manager.
func (g *Gateway) Controllers() *stages.ControllerManager {
	return g.controllers
}

// Start launches the session sweeper and the HTTP server. Listen errors are
// reported on the returned channel, which is closed when the server stops.
func (g *Gateway) Start(ctx context.Context) (<-chan error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return nil, fmt.Errorf("gateway already started")
	}
	g.started = true
	g.ctx, g.cancel = context.WithCancel(ctx)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.sessions.Run(g.ctx, g.cfg.Session.SweepInterval, g.cfg.Session.MaxIdle)
	}()

	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if err := g.server.Start(); err != nil {
			errc <- err
		}
	}()

	g.logger.Info("gateway started",
		slog.Int("port", g.cfg.Server.Port),
		slog.Any("stages", g.pipeline.Stages()),
		slog.Any("controllers", g.controllers.Names()))

	return errc, nil
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return nil
	}
	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	err := g.server.Shutdown(ctx)
	g.wg.Wait()
	g.started = false
	if err != nil {
		g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		return err
	}

	g.logger.Info("gateway shutdown complete", slog.Int("sessions", g.sessions.Len()))
	return nil
}
