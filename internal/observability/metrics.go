package observability

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/podium-backend/internal/platform/envutil"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

// Metrics holds the service's process-wide collectors. A nil *Metrics is
// valid and records nothing, so call sites never check Enabled.
type Metrics struct {
	apiRequests    *CounterVec
	apiLatency     *HistogramVec
	apiInflight    *GaugeVec
	analyses       *CounterVec
	stageLatency   *HistogramVec
	transcriptions *CounterVec
	transcribeTime *HistogramVec
	cacheLookups   *CounterVec
	dbPool         *GaugeVec
	redisUp        *GaugeVec

	all []collector
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

func Current() *Metrics { return instance }

// Init creates the global Metrics when METRICS_ENABLED is set.
func Init() *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() { instance = New() })
	return instance
}

// New builds an unregistered Metrics. Tests use it directly.
func New() *Metrics {
	m := &Metrics{
		apiRequests: NewCounterVec("podium_api_requests_total", "API requests by method, route and status.", "method", "route", "status"),
		apiLatency: NewHistogramVec("podium_api_request_duration_seconds", "API latency in seconds.",
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}, "method", "route"),
		apiInflight: NewGaugeVec("podium_api_inflight_requests", "In-flight API requests."),
		analyses:    NewCounterVec("podium_analyses_total", "Finished analysis runs by outcome.", "outcome"),
		stageLatency: NewHistogramVec("podium_pipeline_stage_duration_seconds", "Ingestion stage latency in seconds.",
			[]float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}, "stage", "status"),
		transcriptions: NewCounterVec("podium_transcription_requests_total", "Speech-to-text calls by provider and status.", "provider", "status"),
		transcribeTime: NewHistogramVec("podium_transcription_duration_seconds", "Speech-to-text call latency in seconds.",
			[]float64{1, 5, 10, 30, 60, 120, 300}, "provider"),
		cacheLookups: NewCounterVec("podium_transcript_cache_lookups_total", "Transcript cache lookups by result.", "result"),
		dbPool:       NewGaugeVec("podium_db_pool", "database/sql pool stats.", "stat"),
		redisUp:      NewGaugeVec("podium_redis_up", "1 when the last Redis ping succeeded."),
	}
	m.all = []collector{
		m.apiRequests, m.apiLatency, m.apiInflight, m.analyses, m.stageLatency,
		m.transcriptions, m.transcribeTime, m.cacheLookups, m.dbPool, m.redisUp,
	}
	return m
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.all {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, strconv.Itoa(status))
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflight(delta float64) {
	if m == nil {
		return
	}
	m.apiInflight.Add(delta)
}

func (m *Metrics) ObserveStage(stage string, err error, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageLatency.Observe(dur.Seconds(), stage, statusOf(err))
}

func (m *Metrics) IncAnalysis(outcome string) {
	if m == nil {
		return
	}
	m.analyses.Inc(outcome)
}

func (m *Metrics) ObserveTranscription(provider string, err error, dur time.Duration) {
	if m == nil {
		return
	}
	m.transcriptions.Inc(provider, statusOf(err))
	m.transcribeTime.Observe(dur.Seconds(), provider)
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.Inc("hit")
	} else {
		m.cacheLookups.Inc("miss")
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

// StartDBCollector samples the connection pool until ctx is done.
func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go tick(ctx, scrapeInterval(), func() {
		sqlDB, err := db.DB()
		if err != nil {
			log.Warn("metrics: db stats unavailable", "error", err)
			return
		}
		s := sqlDB.Stats()
		m.dbPool.Set(float64(s.OpenConnections), "open_connections")
		m.dbPool.Set(float64(s.InUse), "in_use")
		m.dbPool.Set(float64(s.Idle), "idle")
		m.dbPool.Set(float64(s.WaitCount), "wait_count")
		m.dbPool.Set(s.WaitDuration.Seconds(), "wait_duration_seconds")
	})
}

// StartRedisCollector pings rdb until ctx is done.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	go tick(ctx, scrapeInterval(), func() {
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			log.Warn("metrics: redis ping failed", "error", err)
			return
		}
		m.redisUp.Set(1)
	})
}

func tick(ctx context.Context, every time.Duration, fn func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
