package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/podium-backend/internal/http/handlers"
	httpMW "github.com/yungbote/podium-backend/internal/http/middleware"
	"github.com/yungbote/podium-backend/internal/observability"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string
	Metrics        *observability.Metrics

	AnalysisHandler *httpH.AnalysisHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	v1 := r.Group("/v1")
	{
		if cfg.AnalysisHandler != nil {
			v1.POST("/analyses", cfg.AnalysisHandler.Create)
			v1.GET("/analyses", cfg.AnalysisHandler.List)
			v1.GET("/analyses/:id", cfg.AnalysisHandler.Get)
			v1.GET("/analyses/:id/events", cfg.AnalysisHandler.Events)
		}
	}

	return r
}
