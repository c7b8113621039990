package app

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/podium-backend/internal/data/db"
	"github.com/yungbote/podium-backend/internal/modules/acoustics"
	"github.com/yungbote/podium-backend/internal/modules/delivery"
	"github.com/yungbote/podium-backend/internal/modules/ingestion"
	"github.com/yungbote/podium-backend/internal/platform/envutil"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/rediscache"
	"github.com/yungbote/podium-backend/internal/services"
	"github.com/yungbote/podium-backend/internal/temporalx"
)

const (
	TranscriberOpenAI = "openai"
	TranscriberGCP    = "gcp"
)

type Config struct {
	ServiceName    string        `yaml:"service_name"`
	Environment    string        `yaml:"environment"`
	LogMode        string        `yaml:"log_mode"`
	HTTPAddr       string        `yaml:"http_addr"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	AllowedOrigins []string      `yaml:"allowed_origins"`

	ScratchDir  string `yaml:"scratch_dir"`
	Transcriber string `yaml:"transcriber"`

	Retriever ingestion.RetrieverConfig      `yaml:"retriever"`
	Prepare   ingestion.PrepareConfig        `yaml:"prepare"`
	Split     ingestion.SplitConfig          `yaml:"split"`
	Pipeline  ingestion.PipelineConfig       `yaml:"pipeline"`
	Acoustics acoustics.Config               `yaml:"acoustics"`
	Analysis  services.AnalysisServiceConfig `yaml:"analysis"`

	DB       db.Config         `yaml:"db"`
	Redis    rediscache.Config `yaml:"redis"`
	Temporal temporalx.Config  `yaml:"temporal"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:   "podium-backend",
		Environment:   "development",
		LogMode:       "development",
		HTTPAddr:      ":8080",
		ShutdownGrace: 20 * time.Second,
		Transcriber:   TranscriberOpenAI,
		Retriever:     ingestion.DefaultRetrieverConfig(),
		Prepare:       ingestion.DefaultPrepareConfig(),
		Split:         ingestion.DefaultSplitConfig(),
		Pipeline: ingestion.PipelineConfig{
			Concurrency: ingestion.DefaultConcurrency,
			Delivery:    delivery.DefaultConfig(),
		},
		Acoustics: acoustics.DefaultConfig(),
		Analysis: services.AnalysisServiceConfig{
			MaxConcurrentRuns: 2,
			RunTimeout:        30 * time.Minute,
		},
		DB:       db.ConfigFromEnv(),
		Redis:    rediscache.ConfigFromEnv(),
		Temporal: temporalx.ConfigFromEnv(),
	}
}

// LoadConfig starts from DefaultConfig, overlays the YAML file named by
// PODIUM_CONFIG_PATH, then applies environment overrides.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := DefaultConfig()
	if path := envutil.String("PODIUM_CONFIG_PATH", ""); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return cfg, err
		}
		log.Info("config file loaded", "path", path)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = envutil.String("ENVIRONMENT", cfg.Environment)
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	if port := envutil.String("PORT", ""); port != "" {
		cfg.HTTPAddr = ":" + strings.TrimPrefix(port, ":")
	}
	cfg.HTTPAddr = envutil.String("HTTP_ADDR", cfg.HTTPAddr)
	cfg.ShutdownGrace = envutil.Duration("SHUTDOWN_GRACE", cfg.ShutdownGrace)
	if origins := envutil.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	cfg.ScratchDir = envutil.String("PODIUM_SCRATCH_DIR", cfg.ScratchDir)
	cfg.Transcriber = strings.ToLower(envutil.String("TRANSCRIBER", cfg.Transcriber))

	cfg.Retriever.MaxAttempts = envutil.Int("PODIUM_DOWNLOAD_ATTEMPTS", cfg.Retriever.MaxAttempts)
	cfg.Retriever.RequestTimeout = envutil.Duration("PODIUM_DOWNLOAD_TIMEOUT", cfg.Retriever.RequestTimeout)
	cfg.Pipeline.Concurrency = envutil.Int("PODIUM_TRANSCRIBE_CONCURRENCY", cfg.Pipeline.Concurrency)
	cfg.Pipeline.DeleteSourceAfter = envutil.Bool("PODIUM_DELETE_SOURCE_AFTER_PROCESSING", cfg.Pipeline.DeleteSourceAfter)
	cfg.Analysis.MaxConcurrentRuns = envutil.Int("PODIUM_MAX_CONCURRENT_RUNS", cfg.Analysis.MaxConcurrentRuns)
	cfg.Analysis.RunTimeout = envutil.Duration("PODIUM_RUN_TIMEOUT", cfg.Analysis.RunTimeout)

	cfg.Temporal.Address = envutil.String("TEMPORAL_ADDRESS", cfg.Temporal.Address)
	cfg.Temporal.Namespace = envutil.String("TEMPORAL_NAMESPACE", cfg.Temporal.Namespace)
	cfg.Temporal.TaskQueue = envutil.String("TEMPORAL_TASK_QUEUE", cfg.Temporal.TaskQueue)
}

func (c Config) Validate() error {
	switch c.Transcriber {
	case TranscriberOpenAI, TranscriberGCP:
	default:
		return fmt.Errorf("TRANSCRIBER must be %q or %q, got %q", TranscriberOpenAI, TranscriberGCP, c.Transcriber)
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline concurrency must be positive, got %d", c.Pipeline.Concurrency)
	}
	if c.Retriever.MaxAttempts <= 0 {
		return fmt.Errorf("download attempts must be positive, got %d", c.Retriever.MaxAttempts)
	}
	if c.Temporal.Enabled() && (c.Temporal.Namespace == "" || c.Temporal.TaskQueue == "") {
		return fmt.Errorf("temporal namespace and task queue are required when TEMPORAL_ADDRESS is set")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
