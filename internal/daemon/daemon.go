package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/judwhite/go-svc"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adcondev/receipt-daemon/internal/auth"
	"github.com/adcondev/receipt-daemon/internal/config"
	"github.com/adcondev/receipt-daemon/internal/delivery"
	"github.com/adcondev/receipt-daemon/internal/poller"
	"github.com/adcondev/receipt-daemon/internal/printer"
	"github.com/adcondev/receipt-daemon/internal/queue"
	"github.com/adcondev/receipt-daemon/internal/render"
	"github.com/adcondev/receipt-daemon/internal/server"
)

const (
	// intakeHistory is how many finished jobs the memory queue keeps for /jobs.
	intakeHistory  = 100
	shutdownBudget = 10 * time.Second
)

// Program implements svc.Service interface
type Program struct {
	// Console tees log output to stdout.
	Console bool

	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        config.Environment
	logging    *Logging
	logger     *zap.Logger
	startTime  time.Time
	httpServer *http.Server
	wsServer   *server.Server
	authMgr    *auth.Manager
	discovery  *printer.Discovery
	dispatcher *delivery.Dispatcher
	poller     *poller.Poller
	backend    *backend
	printer    string
}

// Init loads configuration and initializes logging
func (p *Program) Init(_ svc.Environment) error {
	programData := os.Getenv("PROGRAMDATA")
	cfg, err := config.Load(config.BuildEnvironment, config.SearchPaths(programData)...)
	if err != nil {
		return err
	}
	p.cfg = cfg

	logPath := cfg.LogPath(programData)
	if err := os.MkdirAll(filepath.Dir(logPath), 0750); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging, err := NewLogger(logPath, cfg.Verbose, p.Console)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	p.logging = logging
	p.logger = logging.Logger

	p.logger.Info("RECEIPT DAEMON - POS Print Service starting",
		zap.String("environment", cfg.Name),
		zap.String("build_date", config.BuildDate),
		zap.String("build_time", config.BuildTime),
		zap.String("log_file", logPath),
		zap.String("config_file", cfg.ConfigFile),
	)
	return nil
}

// Start wires the pipeline, the queue, the poller and the HTTP server.
func (p *Program) Start() error {
	p.startTime = time.Now()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	if p.logger == nil {
		p.logger = zap.NewNop()
	}

	handler, err := p.build(p.ctx, printer.NewOSLister())
	if err != nil {
		p.cancel()
		return err
	}

	cfg := p.cfg
	p.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	if cfg.Poller.Enabled {
		p.poller.Start()
	} else {
		p.logger.Warn("poller disabled: jobs are accepted but not printed")
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		p.logger.Info("RECEIPT DAEMON READY",
			zap.String("environment", cfg.Name),
			zap.String("websocket", "ws://"+cfg.ListenAddr+"/ws"),
			zap.String("health", "http://"+cfg.ListenAddr+"/health"),
			zap.String("queue", cfg.Queue.Backend),
			zap.String("printer", p.printer),
			zap.Strings("methods", p.dispatcher.Methods()),
			zap.Bool("auth", p.authMgr.Enabled()),
		)

		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("error starting HTTP server", zap.Error(err))
		}
	}()

	return nil
}

// build creates every component from p.cfg and returns the HTTP handler.
func (p *Program) build(ctx context.Context, lister printer.Lister) (http.Handler, error) {
	cfg := p.cfg
	logger := p.logger

	p.authMgr = auth.NewManager(ctx, config.PasswordHashB64, config.AuthToken, logger.Named("auth"))

	p.discovery = printer.NewDiscovery(lister, printer.DefaultCacheTTL, logger.Named("printers"))
	p.discovery.LogStartupDiagnostics(cfg.Verbose)
	preferred := append([]string{cfg.Printer.Default}, cfg.Printer.Candidates...)
	if resolved := p.discovery.Resolve(ctx, preferred...); len(resolved) > 0 {
		p.printer = resolved[0]
		logger.Info("printer resolved", zap.String("printer", p.printer), zap.Strings("candidates", resolved))
	} else {
		logger.Warn("no printer resolved; jobs must name one")
	}

	methods, err := delivery.NewMethods(delivery.Settings{
		Methods:        cfg.Delivery.Methods,
		SpoolerCommand: cfg.Delivery.SpoolerCommand,
		PortPath:       cfg.Delivery.PortPath,
		RawAddresses:   cfg.Delivery.RawAddresses,
	})
	if err != nil {
		return nil, fmt.Errorf("delivery methods: %w", err)
	}
	p.dispatcher = delivery.NewDispatcher(methods,
		delivery.WithTimeout(cfg.Delivery.Timeout),
		delivery.WithLogger(logger.Named("delivery")),
	)

	prof, err := render.ProfileByName(cfg.Printer.Paper)
	if err != nil {
		return nil, err
	}
	prof.NativeBitmap = cfg.Printer.NativeBitmap
	pipeline := render.NewPipeline(render.WithLogger(logger.Named("render")))

	p.backend, err = openBackend(cfg, logger.Named("queue"))
	if err != nil {
		return nil, err
	}

	deps := server.Deps{
		Printers: p.discovery,
		Waker:    wakerFunc(func() { p.poller.Wake() }),
		Renderer: pipeline,
	}
	if p.backend.intake != nil {
		deps.Intake = p.backend.intake
	}
	if p.authMgr.TokenRequired() {
		deps.Tokens = p.authMgr
	}
	p.wsServer = server.NewServer(server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Profile:        prof,
	}, deps, logger.Named("ws"))

	p.poller = poller.New(p.backend.queue, pipeline, p.dispatcher, p.wsServer, poller.Config{
		Interval:       cfg.Poller.Interval,
		Workers:        cfg.Poller.Workers,
		DefaultPrinter: p.printer,
		Profile:        prof,
	}, logger.Named("poller"))

	mux := http.NewServeMux()

	// ── PUBLIC ROUTES (no auth required) ─────────────────────
	mux.HandleFunc("/ws", p.wsServer.HandleWebSocket) // WS is public; token validates inside per-message
	mux.HandleFunc("/health", p.handleHealth)         // Health is public for monitoring tools

	// ── PROTECTED ROUTES (basic auth) ────────────────────────
	mux.Handle("/printers", p.authMgr.RequireAdmin(http.HandlerFunc(p.wsServer.HandlePrinters)))
	mux.Handle("/jobs", p.authMgr.RequireAdmin(http.HandlerFunc(p.wsServer.HandleJobs)))

	return mux, nil
}

type wakerFunc func()

func (f wakerFunc) Wake() { f() }

// backend is the job queue selected by configuration.
type backend struct {
	name   string
	queue  queue.Queue
	intake *queue.Memory // set for the memory backend only
	db     *gorm.DB
}

func openBackend(cfg config.Environment, logger *zap.Logger) (*backend, error) {
	switch cfg.Queue.Backend {
	case config.BackendMemory, "":
		m := queue.NewMemory(cfg.QueueCapacity, intakeHistory)
		return &backend{name: config.BackendMemory, queue: m, intake: m}, nil
	case config.BackendSQL:
		db, err := queue.OpenDB(cfg.Queue.Driver, cfg.Queue.DSN)
		if err != nil {
			return nil, fmt.Errorf("open job database: %w", err)
		}
		q, err := queue.NewSQL(db, cfg.QueueCapacity)
		if err != nil {
			return nil, fmt.Errorf("prepare job table: %w", err)
		}
		logger.Info("sql job queue ready", zap.String("driver", cfg.Queue.Driver))
		return &backend{name: config.BackendSQL, queue: q, db: db}, nil
	case config.BackendHTTP:
		logger.Info("remote job queue", zap.String("url", cfg.Queue.URL))
		return &backend{name: config.BackendHTTP, queue: queue.NewHTTP(cfg.Queue.URL, cfg.Queue.APIKey)}, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

func (b *backend) close() error {
	if b == nil || b.db == nil {
		return nil
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// health builds the /health response.
func (p *Program) health() HealthResponse {
	current, capacity := p.wsServer.QueueStatus()
	var utilization float64
	if capacity > 0 {
		utilization = float64(current) / float64(capacity) * 100
	}

	response := HealthResponse{
		Status: "ok",
		Queue: QueueStatus{
			Backend:     p.backend.name,
			Current:     current,
			Capacity:    capacity,
			Utilization: utilization,
		},
		Poller: p.poller.Stats(),
		Delivery: DeliveryStatus{
			Printer: p.printer,
			Methods: p.dispatcher.Methods(),
		},
		Printers: p.discovery.GetSummary(),
		Clients:  p.wsServer.Clients(),
		Build: BuildInfo{
			Env:  config.BuildEnvironment,
			Date: config.BuildDate,
			Time: config.BuildTime,
		},
		Uptime: int(time.Since(p.startTime).Seconds()),
	}

	if response.Printers.Status == "error" || (p.cfg.Poller.Enabled && !response.Poller.IsRunning) {
		response.Status = "degraded"
	}
	return response
}

func (p *Program) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(p.health())
}

// Stop stops the service gracefully
func (p *Program) Stop() error {
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger.Info("service shutting down")

	// 1. Cancel context (stops auth cleanup goroutine)
	if p.cancel != nil {
		p.cancel()
	}

	// 2. Stop polling; in-flight jobs finish first
	if p.poller != nil {
		p.poller.Stop()
	}

	// 3. Graceful HTTP shutdown
	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			p.logger.Warn("HTTP shutdown error", zap.Error(err))
		}
	}

	// 4. Shutdown WebSocket server
	if p.wsServer != nil {
		p.wsServer.Shutdown()
	}

	p.wg.Wait()

	if err := p.backend.close(); err != nil {
		p.logger.Warn("closing job database", zap.Error(err))
	}

	p.logger.Info("service stopped", zap.Duration("uptime", time.Since(p.startTime).Round(time.Second)))
	if p.logging != nil {
		return p.logging.Close()
	}
	return nil
}
