package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/podium-backend/internal/data/db"
	"github.com/yungbote/podium-backend/internal/data/repos"
	httpapi "github.com/yungbote/podium-backend/internal/http"
	httpH "github.com/yungbote/podium-backend/internal/http/handlers"
	"github.com/yungbote/podium-backend/internal/observability"
	"github.com/yungbote/podium-backend/internal/platform/envutil"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/services"
	"github.com/yungbote/podium-backend/internal/temporalx"
	"github.com/yungbote/podium-backend/internal/temporalx/analysisrun"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Core     *Core
	Analyses services.AnalysisService
	Server   *httpapi.Server
	Metrics  *observability.Metrics

	Temporal temporalsdkclient.Client
	Worker   *analysisrun.Worker

	dbService       *db.Service
	shutdownTracing func(context.Context) error
	cancel          context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	bootLog, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg, err := LoadConfig(bootLog)
	if err != nil {
		bootLog.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := bootLog
	if cfg.LogMode != "" {
		if l, err := logger.New(cfg.LogMode); err == nil {
			log = l
		}
	}

	a := &App{Log: log, Cfg: cfg}
	a.shutdownTracing = observability.InitTracing(ctx, log, observability.TracingConfigFromEnv(cfg.ServiceName, cfg.Environment))
	if observability.Enabled() {
		a.Metrics = observability.Init()
	}

	a.dbService, err = db.Open(log, cfg.DB)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := a.dbService.Migrate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	a.DB = a.dbService.DB()

	a.Core, err = BuildCore(ctx, log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	reposet := repos.New(a.DB, log)
	var events services.EventPublisher
	var subscriber httpH.EventSubscriber
	if a.Core.Events != nil {
		events = a.Core.Events
		subscriber = a.Core.Events
	}

	var starter services.RunStarter
	a.Temporal, err = temporalx.NewClient(ctx, log, cfg.Temporal)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init temporal: %w", err)
	}
	if a.Temporal != nil {
		starter = &analysisrun.Starter{Client: a.Temporal, TaskQueue: cfg.Temporal.TaskQueue, RunTimeout: cfg.Analysis.RunTimeout}
	}
	a.Analyses = services.NewAnalysisService(log, reposet.AnalysisRun, a.Core.Pipeline, events, starter, cfg.Analysis)
	if a.Temporal != nil {
		acts := &analysisrun.Activities{Log: log, Analyses: a.Analyses}
		a.Worker = analysisrun.NewWorker(log, a.Temporal, cfg.Temporal.TaskQueue, cfg.Analysis.MaxConcurrentRuns, cfg.ShutdownGrace, acts)
	}

	deps := map[string]httpH.Pinger{
		"db": httpH.PingFunc(func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	if a.Core.Redis != nil {
		deps["redis"] = httpH.PingFunc(func(ctx context.Context) error { return a.Core.Redis.Ping(ctx).Err() })
	}

	a.Server = httpapi.NewServer(httpapi.RouterConfig{
		Log:             log,
		ServiceName:     cfg.ServiceName,
		AllowedOrigins:  cfg.AllowedOrigins,
		Metrics:         a.Metrics,
		AnalysisHandler: httpH.NewAnalysisHandler(a.Analyses, subscriber),
		HealthHandler:   httpH.NewHealthHandler(deps),
	})
	return a, nil
}

// Start runs background work: the analysis worker, stale-run recovery and
// metrics collectors.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Worker != nil {
		if err := a.Worker.Start(); err != nil {
			return err
		}
	}
	if err := a.Analyses.RecoverStale(ctx); err != nil {
		a.Log.Warn("recover stale analyses failed", "error", err)
	}
	if a.Metrics != nil {
		a.Metrics.StartDBCollector(ctx, a.Log, a.DB)
		if a.Core.Redis != nil {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.Core.Redis)
		}
	}
	return nil
}

// Run serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("http server listening", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run(ctx, a.Cfg.HTTPAddr, a.Cfg.ShutdownGrace)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	var result error
	// Runs stop before the stores they write to close.
	if a.Worker != nil {
		a.Worker.Stop()
		a.Worker = nil
	}
	if a.Analyses != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownGrace)
		if err := a.Analyses.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		cancel()
		a.Analyses = nil
	}
	if a.Core != nil {
		if err := a.Core.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.Temporal != nil {
		a.Temporal.Close()
		a.Temporal = nil
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTracing(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		cancel()
	}
	if result != nil && a.Log != nil {
		a.Log.Warn("shutdown finished with errors", "error", result)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
