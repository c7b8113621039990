package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/modules/acoustics"
	"github.com/yungbote/podium-backend/internal/modules/delivery"
	"github.com/yungbote/podium-backend/internal/observability"
	"github.com/yungbote/podium-backend/internal/platform/ctxutil"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/scratch"
)

type Stage string

const (
	StageRetrieve   Stage = "retrieve"
	StagePrepare    Stage = "prepare"
	StageTranscribe Stage = "transcribe"
	StageAcoustics  Stage = "acoustics"
	StageAnalytics  Stage = "analytics"
)

// AcousticAnalyzer measures energy and pitch windows of one audio file.
type AcousticAnalyzer interface {
	Analyze(ctx context.Context, path string) (*acoustics.Result, error)
}

type Source struct {
	URL      string
	FileName string
	// OnStage, when set, is called as each stage starts.
	OnStage func(Stage)
}

type Result struct {
	Transcript string                   `json:"transcript"`
	Analytics  speech.DeliveryAnalytics `json:"analytics"`
	ChunkCount int                      `json:"chunk_count"`
	Transcoded bool                     `json:"transcoded"`
	// AcousticsError is set when acoustic analysis failed and the windows are empty.
	AcousticsError string                  `json:"acoustics_error,omitempty"`
	Timings        map[Stage]time.Duration `json:"timings"`
}

type PipelineConfig struct {
	Concurrency       int             `yaml:"concurrency"`
	DeleteSourceAfter bool            `yaml:"delete_source_after"`
	Delivery          delivery.Config `yaml:"delivery"`
}

type Pipeline struct {
	log         *logger.Logger
	retriever   *Retriever
	preparer    *Preparer
	transcriber Transcriber
	analyzer    AcousticAnalyzer
	cfg         PipelineConfig
	tracer      trace.Tracer
}

func NewPipeline(log *logger.Logger, retriever *Retriever, preparer *Preparer, transcriber Transcriber, analyzer AcousticAnalyzer, cfg PipelineConfig) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Pipeline{
		log:         log.With("service", "IngestionPipeline"),
		retriever:   retriever,
		preparer:    preparer,
		transcriber: transcriber,
		analyzer:    analyzer,
		cfg:         cfg,
		tracer:      otel.Tracer("github.com/yungbote/podium-backend/internal/modules/ingestion"),
	}
}

// ProcessFile downloads src and runs the whole analysis. Every scratch file
// the job creates is removed before it returns, on success or failure.
func (p *Pipeline) ProcessFile(ctx context.Context, src Source) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	ctx, span := p.tracer.Start(ctx, "ingestion.process_file", trace.WithAttributes(attribute.String("file_name", src.FileName)))
	defer span.End()

	janitor := scratch.NewJanitor(p.log)
	defer janitor.Cleanup()

	timings := map[Stage]time.Duration{}
	notify(src, StageRetrieve)
	var localPath string
	err := p.stage(ctx, StageRetrieve, timings, func(ctx context.Context) error {
		var err error
		localPath, err = p.retriever.Retrieve(ctx, src.URL, src.FileName)
		return err
	})
	if err != nil {
		return nil, failSpan(span, err)
	}
	janitor.Track(localPath)

	res, err := p.run(ctx, localPath, src, janitor, timings)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if p.cfg.DeleteSourceAfter {
		p.retriever.DeleteSource(ctx, src.URL)
	}
	return res, nil
}

// ProcessLocalFile analyzes a file already on disk. The input file is left in place.
func (p *Pipeline) ProcessLocalFile(ctx context.Context, path string) (*Result, error) {
	ctx = ctxutil.Default(ctx)
	ctx, span := p.tracer.Start(ctx, "ingestion.process_local_file")
	defer span.End()

	janitor := scratch.NewJanitor(p.log)
	defer janitor.Cleanup()

	res, err := p.run(ctx, path, Source{FileName: path}, janitor, map[Stage]time.Duration{})
	if err != nil {
		return nil, failSpan(span, err)
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, localPath string, src Source, janitor *scratch.Janitor, timings map[Stage]time.Duration) (*Result, error) {
	notify(src, StagePrepare)
	var prepared *Prepared
	if err := p.stage(ctx, StagePrepare, timings, func(ctx context.Context) error {
		var err error
		prepared, err = p.preparer.Prepare(ctx, localPath)
		return err
	}); err != nil {
		return nil, err
	}
	janitor.Track(prepared.AllTempPaths...)

	notify(src, StageTranscribe)
	var merged *MergedTranscript
	if err := p.stage(ctx, StageTranscribe, timings, func(ctx context.Context) error {
		var err error
		merged, err = TranscribeAll(ctx, p.transcriber, prepared.Chunks, p.cfg.Concurrency)
		return err
	}); err != nil {
		return nil, err
	}

	res := &Result{
		Transcript: merged.Text,
		ChunkCount: len(prepared.Chunks),
		Transcoded: prepared.Transcoded,
		Timings:    timings,
	}

	notify(src, StageAcoustics)
	var energy []speech.EnergyWindow
	var pitch []speech.PitchWindow
	if p.analyzer != nil {
		err := p.stage(ctx, StageAcoustics, timings, func(ctx context.Context) error {
			ar, err := p.analyzer.Analyze(ctx, prepared.AnalysisPath)
			if err != nil {
				return err
			}
			energy, pitch = ar.Energy, ar.Pitch
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.log.Warn("acoustic analysis failed, continuing without energy and pitch", "error", err)
			res.AcousticsError = err.Error()
			energy, pitch = nil, nil
		}
	}

	notify(src, StageAnalytics)
	_ = p.stage(ctx, StageAnalytics, timings, func(context.Context) error {
		res.Analytics = delivery.ComputeWith(p.cfg.Delivery, merged.Words, energy, pitch)
		return nil
	})

	p.log.Info("file processed",
		"file_name", src.FileName,
		"chunks", res.ChunkCount,
		"words", len(merged.Words),
		"transcoded", res.Transcoded,
		"total_ms", totalMillis(timings),
	)
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, name Stage, timings map[Stage]time.Duration, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "ingestion."+string(name))
	defer span.End()
	started := time.Now()
	err := fn(ctx)
	timings[name] = time.Since(started)
	observability.Current().ObserveStage(string(name), err, timings[name])
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func notify(src Source, s Stage) {
	if src.OnStage != nil {
		src.OnStage(s)
	}
}

func totalMillis(t map[Stage]time.Duration) int64 {
	var sum time.Duration
	for _, d := range t {
		sum += d
	}
	return sum.Milliseconds()
}
