package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/podium-backend/internal/modules/acoustics"
	"github.com/yungbote/podium-backend/internal/modules/ingestion"
	"github.com/yungbote/podium-backend/internal/platform/envutil"
	"github.com/yungbote/podium-backend/internal/platform/gcp"
	"github.com/yungbote/podium-backend/internal/platform/localmedia"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/openai"
	"github.com/yungbote/podium-backend/internal/platform/rediscache"
	"github.com/yungbote/podium-backend/internal/platform/scratch"
)

// Core is the ingestion stack shared by the server and the CLI.
type Core struct {
	Pipeline *ingestion.Pipeline
	Bucket   gcp.BucketService
	Redis    *goredis.Client
	Events   *rediscache.EventBus

	closers []func() error
}

func (c *Core) Close() error {
	var result error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.closers = nil
	return result
}

// BuildCore wires storage, transcription, media tools and the pipeline.
// Redis and the bucket are optional: without them the cache, the events and
// the storage existence check are skipped.
func BuildCore(ctx context.Context, log *logger.Logger, cfg Config) (*Core, error) {
	core := &Core{}

	media := localmedia.New(log)
	if err := media.AssertReady(ctx); err != nil {
		return nil, err
	}

	sm, err := scratch.New(cfg.ScratchDir)
	if err != nil {
		return nil, err
	}

	if envutil.String("UPLOADS_GCS_BUCKET_NAME", "") != "" {
		bucket, err := gcp.NewBucketService(log)
		if err != nil {
			return nil, fmt.Errorf("init bucket: %w", err)
		}
		core.Bucket = bucket
	} else {
		log.Warn("UPLOADS_GCS_BUCKET_NAME not set, storage existence check disabled")
	}

	if cfg.Redis.Addr != "" {
		rdb, err := rediscache.Dial(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, continuing without transcript cache and events", "error", err)
		} else {
			core.Redis = rdb
			core.Events = rediscache.NewEventBus(log, rdb, cfg.Redis)
			core.closers = append(core.closers, rdb.Close)
		}
	}

	transcriber, namespace, err := buildTranscriber(log, cfg, core)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	if core.Redis != nil {
		transcriber = ingestion.NewCachedTranscriber(log, transcriber, rediscache.NewTranscriptCache(core.Redis, cfg.Redis), namespace)
	}

	splitCfg := cfg.Split
	splitCfg.Encoding = localmedia.DefaultSpeechEncoding()
	prepCfg := cfg.Prepare
	prepCfg.Encoding = splitCfg.Encoding

	var store ingestion.ObjectStore
	if core.Bucket != nil {
		store = core.Bucket
	}
	retriever := ingestion.NewRetriever(log, store, sm, cfg.Retriever)
	splitter := ingestion.NewSplitter(log, media, sm, splitCfg)
	preparer := ingestion.NewPreparer(log, media, sm, splitter, prepCfg)
	analyzer := acoustics.NewAnalyzer(log, media, cfg.Acoustics)

	core.Pipeline = ingestion.NewPipeline(log, retriever, preparer, transcriber, analyzer, cfg.Pipeline)
	return core, nil
}

func buildTranscriber(log *logger.Logger, cfg Config, core *Core) (ingestion.Transcriber, string, error) {
	switch cfg.Transcriber {
	case TranscriberGCP:
		scfg := gcp.SpeechConfigFromEnv()
		st, err := gcp.NewSpeechTranscriber(log, core.Bucket, scfg)
		if err != nil {
			return nil, "", err
		}
		core.closers = append(core.closers, st.Close)
		return st, "gcp:" + scfg.Model, nil
	case TranscriberOpenAI:
		wt, err := openai.NewWhisperTranscriber(log, openai.ConfigFromEnv())
		if err != nil {
			return nil, "", err
		}
		return wt, wt.Namespace(), nil
	default:
		return nil, "", errors.New("unknown transcriber " + cfg.Transcriber)
	}
}
