package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"

	"github.com/yungbote/podium-backend/internal/data/repos"
	types "github.com/yungbote/podium-backend/internal/domain/analysis"
	"github.com/yungbote/podium-backend/internal/modules/ingestion"
	"github.com/yungbote/podium-backend/internal/observability"
	"github.com/yungbote/podium-backend/internal/platform/apierr"
	"github.com/yungbote/podium-backend/internal/platform/dbctx"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/rediscache"
)

// FileProcessor runs one file through the ingestion pipeline.
type FileProcessor interface {
	ProcessFile(ctx context.Context, src ingestion.Source) (*ingestion.Result, error)
}

// EventPublisher broadcasts analysis progress. A nil publisher disables events.
type EventPublisher interface {
	Publish(ctx context.Context, ev rediscache.AnalysisEvent) error
}

type SubmitRequest struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

type AnalysisService interface {
	Submit(ctx context.Context, req SubmitRequest) (*types.AnalysisRun, error)
	Get(ctx context.Context, id uuid.UUID) (*types.AnalysisRun, error)
	List(ctx context.Context, status string, limit int) ([]*types.AnalysisRun, error)
	// Execute runs one analysis and records its outcome. A non-nil error means
	// the run was interrupted before an outcome could be recorded.
	Execute(ctx context.Context, id uuid.UUID) error
	// Abandon records a failure for a run its executor gave up on.
	Abandon(ctx context.Context, id uuid.UUID, cause error) error
	RecoverStale(ctx context.Context) error
	// Shutdown lets in-process runs finish until ctx is done, then cancels the
	// rest and waits for them to record the interruption.
	Shutdown(ctx context.Context) error
}

// RunStarter hands a queued run to a durable executor. A nil starter runs
// analyses on goroutines in this process.
type RunStarter interface {
	StartAnalysis(ctx context.Context, id uuid.UUID) error
}

type AnalysisServiceConfig struct {
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
}

// interruptWait bounds how long Shutdown waits for cancelled runs to unwind.
const interruptWait = 10 * time.Second

var terminalStatuses = []string{types.StatusSucceeded, types.StatusFailed}

// ErrInterrupted marks a run stopped by shutdown or abandoned by its executor.
var ErrInterrupted = errors.New("analysis interrupted")

type analysisService struct {
	log       *logger.Logger
	repo      repos.AnalysisRunRepo
	processor FileProcessor
	events    EventPublisher
	starter   RunStarter
	cfg       AnalysisServiceConfig

	root     context.Context
	cancel   context.CancelFunc
	slots    *semaphore.Weighted
	inflight sync.WaitGroup
	started  time.Time
}

func NewAnalysisService(
	baseLog *logger.Logger,
	repo repos.AnalysisRunRepo,
	processor FileProcessor,
	events EventPublisher,
	starter RunStarter,
	cfg AnalysisServiceConfig,
) AnalysisService {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 2
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	root, cancel := context.WithCancel(context.Background())
	return &analysisService{
		log:       baseLog.With("service", "AnalysisService"),
		repo:      repo,
		processor: processor,
		events:    events,
		starter:   starter,
		cfg:       cfg,
		root:      root,
		cancel:    cancel,
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		started:   time.Now().UTC(),
	}
}

func (s *analysisService) Submit(ctx context.Context, req SubmitRequest) (*types.AnalysisRun, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, apierr.New(http.StatusBadRequest, "missing_url", errors.New("url is required"))
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apierr.New(http.StatusBadRequest, "invalid_url", fmt.Errorf("url must be an absolute http(s) URL"))
	}
	name := strings.TrimSpace(req.FileName)
	if name == "" {
		name = path.Base(u.Path)
	}
	if name == "" || name == "/" || name == "." {
		return nil, apierr.New(http.StatusBadRequest, "missing_file_name", errors.New("file_name is required when the url has no file name"))
	}

	run, err := s.repo.Create(dbctx.Context{Ctx: ctx}, &types.AnalysisRun{
		SourceURL: rawURL,
		FileName:  name,
		Status:    types.StatusQueued,
		Stage:     types.StatusQueued,
	})
	if err != nil {
		return nil, fmt.Errorf("create analysis run: %w", err)
	}
	s.publish(run.ID, types.StatusQueued, types.StatusQueued, "")

	if s.starter == nil {
		s.runLocal(run.ID)
		return run, nil
	}
	if err := s.starter.StartAnalysis(ctx, run.ID); err != nil {
		err = fmt.Errorf("start analysis workflow: %w", err)
		_ = s.Abandon(context.Background(), run.ID, err)
		return nil, err
	}
	return run, nil
}

// runLocal executes a run on a goroutine holding one of the run slots. Runs
// cancelled by Shutdown are recorded as interrupted.
func (s *analysisService) runLocal(id uuid.UUID) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.slots.Acquire(s.root, 1); err != nil {
			_ = s.Abandon(context.Background(), id, err)
			return
		}
		defer s.slots.Release(1)
		if err := s.Execute(s.root, id); err != nil {
			_ = s.Abandon(context.Background(), id, err)
		}
	}()
}

func (s *analysisService) Execute(ctx context.Context, id uuid.UUID) error {
	parent := ctx
	run, err := s.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return fmt.Errorf("load analysis run: %w", err)
	}
	if run == nil {
		return apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("analysis %s not found", id))
	}
	if run.Terminal() {
		return nil
	}
	log := s.log.With("analysis_id", id.String())

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	startedAt := time.Now().UTC()
	if err := s.repo.UpdateFields(dbctx.Context{Ctx: ctx}, id, map[string]interface{}{
		"status":     types.StatusRunning,
		"started_at": startedAt,
	}); err != nil {
		log.Warn("mark running failed", "error", err)
	}

	src := ingestion.Source{URL: run.SourceURL, FileName: run.FileName}
	src.OnStage = func(stage ingestion.Stage) {
		_, err := s.repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, id, terminalStatuses,
			map[string]interface{}{"stage": string(stage)})
		if err != nil {
			log.Warn("stage update failed", "stage", stage, "error", err)
		}
		s.publish(id, types.StatusRunning, string(stage), "")
	}

	res, err := s.processor.ProcessFile(ctx, src)
	if err != nil {
		// ffmpeg killed by a cancelled context reports a signal, not ctx.Err().
		if perr := parent.Err(); perr != nil {
			log.Warn("analysis interrupted", "error", err)
			return fmt.Errorf("%w: %w", ErrInterrupted, perr)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		s.recordFailure(log, id, err)
		return nil
	}
	return s.recordSuccess(log, id, res, startedAt)
}

func (s *analysisService) recordSuccess(log *logger.Logger, id uuid.UUID, res *ingestion.Result, startedAt time.Time) error {
	analytics, err := json.Marshal(res.Analytics)
	if err != nil {
		s.recordFailure(log, id, fmt.Errorf("encode analytics: %w", err))
		return nil
	}
	timings := make(map[string]int64, len(res.Timings))
	for stage, d := range res.Timings {
		timings[string(stage)] = d.Milliseconds()
	}
	timingsJSON, _ := json.Marshal(timings)

	updates := map[string]interface{}{
		"status":      types.StatusSucceeded,
		"stage":       "done",
		"transcript":  res.Transcript,
		"analytics":   datatypes.JSON(analytics),
		"timings":     datatypes.JSON(timingsJSON),
		"chunk_count": res.ChunkCount,
		"transcoded":  res.Transcoded,
		"finished_at": time.Now().UTC(),
	}
	if res.AcousticsError != "" {
		updates["error"] = res.AcousticsError
	}
	if err := s.repo.UpdateFields(dbctx.Context{Ctx: context.Background()}, id, updates); err != nil {
		log.Error("persist analysis result failed", "error", err)
		observability.Current().IncAnalysis("error")
		return fmt.Errorf("persist analysis result: %w", err)
	}
	observability.Current().IncAnalysis("success")
	s.publish(id, types.StatusSucceeded, "done", "")
	log.Info("analysis succeeded",
		"chunks", res.ChunkCount,
		"words", res.Analytics.TotalWords,
		"elapsed_ms", time.Since(startedAt).Milliseconds(),
	)
	return nil
}

func (s *analysisService) recordFailure(log *logger.Logger, id uuid.UUID, err error) {
	if uerr := s.markFailed(context.Background(), id, err); uerr != nil {
		log.Error("persist analysis failure failed", "error", uerr)
	}
}

func (s *analysisService) Abandon(ctx context.Context, id uuid.UUID, cause error) error {
	if cause == nil {
		cause = errors.New("analysis abandoned")
	}
	return s.markFailed(ctx, id, cause)
}

// markFailed leaves a run that already finished alone. Callers pass a context
// that outlives the run's own.
func (s *analysisService) markFailed(ctx context.Context, id uuid.UUID, err error) error {
	ae := ClassifyAnalysisError(err)
	s.log.Warn("analysis failed", "analysis_id", id.String(), "code", ae.Code, "error", err)
	changed, uerr := s.repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, id, terminalStatuses, map[string]interface{}{
		"status":      types.StatusFailed,
		"error":       err.Error(),
		"error_code":  ae.Code,
		"finished_at": time.Now().UTC(),
	})
	if uerr != nil {
		return uerr
	}
	if changed {
		observability.Current().IncAnalysis(ae.Code)
		s.publish(id, types.StatusFailed, "", err.Error())
	}
	return nil
}

// ClassifyAnalysisError maps a pipeline failure to an API status and code.
func ClassifyAnalysisError(err error) *apierr.Error {
	var dl *ingestion.DownloadError
	switch {
	case errors.Is(err, ingestion.ErrNoAudioTrack):
		return apierr.New(http.StatusUnprocessableEntity, "no_audio_track", err)
	case errors.Is(err, ingestion.ErrSourceNotFound), errors.As(err, &dl):
		return apierr.New(http.StatusBadGateway, "source_unavailable", err)
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return apierr.New(http.StatusServiceUnavailable, "interrupted", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apierr.New(http.StatusGatewayTimeout, "timeout", err)
	default:
		return apierr.New(http.StatusInternalServerError, "analysis_failed", err)
	}
}

func (s *analysisService) publish(id uuid.UUID, status, stage, errMsg string) {
	if s.events == nil {
		return
	}
	ev := rediscache.AnalysisEvent{AnalysisID: id.String(), Status: status, Stage: stage, Error: errMsg}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Debug("publish analysis event failed", "analysis_id", id.String(), "error", err)
	}
}

func (s *analysisService) Get(ctx context.Context, id uuid.UUID) (*types.AnalysisRun, error) {
	run, err := s.repo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.New(http.StatusNotFound, "not_found", fmt.Errorf("analysis %s not found", id))
	}
	return run, nil
}

func (s *analysisService) List(ctx context.Context, status string, limit int) ([]*types.AnalysisRun, error) {
	switch status {
	case "", types.StatusQueued, types.StatusRunning, types.StatusSucceeded, types.StatusFailed:
	default:
		return nil, apierr.New(http.StatusBadRequest, "invalid_status", fmt.Errorf("unknown status %q", status))
	}
	return s.repo.ListRecent(dbctx.Context{Ctx: ctx}, status, limit)
}

// RecoverStale settles runs left unfinished by a previous process. With a
// durable executor they are handed to it again; the workflow id is the run id,
// so runs it still owns are not started twice. Without one they are failed.
func (s *analysisService) RecoverStale(ctx context.Context) error {
	if s.starter == nil {
		_, err := s.repo.FailStale(dbctx.Context{Ctx: ctx}, s.started, "analysis interrupted by server restart")
		return err
	}
	runs, err := s.repo.ListUnfinished(dbctx.Context{Ctx: ctx}, s.started, 0)
	if err != nil {
		return err
	}
	var result error
	for _, run := range runs {
		if err := s.starter.StartAnalysis(ctx, run.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("restart analysis %s: %w", run.ID, err))
			continue
		}
		s.log.Info("analysis handed back to workflow", "analysis_id", run.ID.String(), "status", run.Status)
	}
	return result
}

func (s *analysisService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
	}

	s.log.Warn("shutdown grace elapsed, interrupting running analyses")
	s.cancel()
	select {
	case <-done:
		return nil
	case <-time.After(interruptWait):
		return fmt.Errorf("analyses still running %s after interrupt", interruptWait)
	}
}
