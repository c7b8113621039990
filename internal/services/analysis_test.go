package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/podium-backend/internal/data/repos"
	"github.com/yungbote/podium-backend/internal/data/repos/testutil"
	types "github.com/yungbote/podium-backend/internal/domain/analysis"
	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/modules/ingestion"
	"github.com/yungbote/podium-backend/internal/platform/apierr"
	"github.com/yungbote/podium-backend/internal/platform/dbctx"
	"github.com/yungbote/podium-backend/internal/platform/rediscache"
)

type fakeProcessor struct {
	res *ingestion.Result
	err error
}

func (f *fakeProcessor) ProcessFile(ctx context.Context, src ingestion.Source) (*ingestion.Result, error) {
	for _, st := range []ingestion.Stage{ingestion.StageRetrieve, ingestion.StagePrepare, ingestion.StageTranscribe} {
		src.OnStage(st)
	}
	return f.res, f.err
}

type recordingBus struct {
	mu     sync.Mutex
	events []rediscache.AnalysisEvent
}

func (b *recordingBus) Publish(ctx context.Context, ev rediscache.AnalysisEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) stages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events {
		out = append(out, ev.Status+"/"+ev.Stage)
	}
	return out
}

func newService(t *testing.T, p FileProcessor, bus EventPublisher) AnalysisService {
	t.Helper()
	svc, _ := newServiceWithRepo(t, p, bus, nil)
	return svc
}

func newServiceWithRepo(t *testing.T, p FileProcessor, bus EventPublisher, starter RunStarter) (AnalysisService, repos.AnalysisRunRepo) {
	t.Helper()
	r := repos.New(testutil.DB(t), testutil.Logger(t))
	svc := NewAnalysisService(testutil.Logger(t), r.AnalysisRun, p, bus, starter, AnalysisServiceConfig{MaxConcurrentRuns: 1, RunTimeout: time.Minute})
	return svc, r.AnalysisRun
}

func drain(t *testing.T, svc AnalysisService) {
	t.Helper()
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSubmitSucceeds(t *testing.T) {
	res := &ingestion.Result{
		Transcript: "so um hello",
		ChunkCount: 2,
		Analytics:  speech.DeliveryAnalytics{TotalWords: 3, AverageWPM: 140},
		Timings:    map[ingestion.Stage]time.Duration{ingestion.StageTranscribe: 1500 * time.Millisecond},
	}
	bus := &recordingBus{}
	svc := newService(t, &fakeProcessor{res: res}, bus)
	ctx := context.Background()

	run, err := svc.Submit(ctx, SubmitRequest{URL: "https://cdn.example.com/talks/keynote.mp4"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if run.FileName != "keynote.mp4" || run.Status != types.StatusQueued {
		t.Fatalf("queued run: %+v", run)
	}
	drain(t, svc)

	got, err := svc.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.StatusSucceeded || got.Stage != "done" || got.ChunkCount != 2 || got.Transcript != "so um hello" || got.FinishedAt == nil {
		t.Fatalf("finished run: %+v", got)
	}
	var a speech.DeliveryAnalytics
	if err := json.Unmarshal(got.Analytics, &a); err != nil || a.AverageWPM != 140 {
		t.Fatalf("analytics: %s err=%v", got.Analytics, err)
	}
	var timings map[string]int64
	if err := json.Unmarshal(got.Timings, &timings); err != nil || timings["transcribe"] != 1500 {
		t.Fatalf("timings: %s", got.Timings)
	}

	want := []string{"queued/queued", "running/retrieve", "running/prepare", "running/transcribe", "succeeded/done"}
	if fmt.Sprint(bus.stages()) != fmt.Sprint(want) {
		t.Fatalf("events: want=%v got=%v", want, bus.stages())
	}
}

func TestSubmitRecordsFailureCode(t *testing.T) {
	svc := newService(t, &fakeProcessor{err: fmt.Errorf("prepare: %w", ingestion.ErrNoAudioTrack)}, nil)
	run, err := svc.Submit(context.Background(), SubmitRequest{URL: "https://cdn.example.com/silent.mov"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, svc)

	got, _ := svc.Get(context.Background(), run.ID)
	if got.Status != types.StatusFailed || got.ErrorCode != "no_audio_track" || got.Error != "prepare: file does not contain an audio track" {
		t.Fatalf("failed run: %+v", got)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := newService(t, &fakeProcessor{}, nil)
	cases := []struct {
		req  SubmitRequest
		code string
	}{
		{SubmitRequest{}, "missing_url"},
		{SubmitRequest{URL: "ftp://host/a.mp3"}, "invalid_url"},
		{SubmitRequest{URL: "/relative/a.mp3"}, "invalid_url"},
		{SubmitRequest{URL: "https://host/"}, "missing_file_name"},
	}
	for _, tc := range cases {
		_, err := svc.Submit(context.Background(), tc.req)
		var ae *apierr.Error
		if !errors.As(err, &ae) || ae.Code != tc.code || ae.Status != http.StatusBadRequest {
			t.Fatalf("%+v: want code=%s got=%v", tc.req, tc.code, err)
		}
	}
	if _, err := svc.List(context.Background(), "bogus", 10); apierr.From(err).Code != "invalid_status" {
		t.Fatalf("List: want invalid_status got=%v", err)
	}
}

func TestGetMissing(t *testing.T) {
	svc := newService(t, &fakeProcessor{}, nil)
	_, err := svc.Get(context.Background(), uuid.New())
	if ae := apierr.From(err); ae.Status != http.StatusNotFound {
		t.Fatalf("want 404 got=%v", err)
	}
}

func TestClassifyAnalysisError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("prepare: %w", ingestion.ErrNoAudioTrack), http.StatusUnprocessableEntity, "no_audio_track"},
		{fmt.Errorf("retrieve: %w", ingestion.ErrSourceNotFound), http.StatusBadGateway, "source_unavailable"},
		{&ingestion.DownloadError{Attempts: 3, LastStatus: 502}, http.StatusBadGateway, "source_unavailable"},
		{fmt.Errorf("analysis interrupted: %w", context.Canceled), http.StatusServiceUnavailable, "interrupted"},
		{fmt.Errorf("%w: activity timeout", ErrInterrupted), http.StatusServiceUnavailable, "interrupted"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "analysis_failed"},
	}
	for _, tc := range cases {
		got := ClassifyAnalysisError(tc.err)
		if got.Status != tc.status || got.Code != tc.code {
			t.Fatalf("%v: want=%d/%s got=%d/%s", tc.err, tc.status, tc.code, got.Status, got.Code)
		}
	}
}

// blockingProcessor runs until its context is cancelled and then fails the way
// a killed ffmpeg does, without wrapping ctx.Err().
type blockingProcessor struct {
	started chan struct{}
}

func (p *blockingProcessor) ProcessFile(ctx context.Context, src ingestion.Source) (*ingestion.Result, error) {
	src.OnStage(ingestion.StageTranscribe)
	close(p.started)
	<-ctx.Done()
	return nil, errors.New("ffmpeg encode talk.mp3: signal: killed")
}

func TestShutdownInterruptsRunningAnalysis(t *testing.T) {
	proc := &blockingProcessor{started: make(chan struct{})}
	svc := newService(t, proc, nil)
	run, err := svc.Submit(context.Background(), SubmitRequest{URL: "https://cdn.example.com/talk.mp3"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-proc.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("analysis never started")
	}

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Shutdown(expired); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	got, _ := svc.Get(context.Background(), run.ID)
	if got.Status != types.StatusFailed || got.ErrorCode != "interrupted" || got.FinishedAt == nil {
		t.Fatalf("interrupted run: status=%s code=%s finished=%v", got.Status, got.ErrorCode, got.FinishedAt)
	}
}

type recordingStarter struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (s *recordingStarter) StartAnalysis(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return s.err
}

// countingProcessor fails the test if a run executes in-process.
type countingProcessor struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProcessor) ProcessFile(ctx context.Context, src ingestion.Source) (*ingestion.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return &ingestion.Result{}, nil
}

func TestSubmitHandsRunToStarter(t *testing.T) {
	proc := &countingProcessor{}
	starter := &recordingStarter{}
	svc, _ := newServiceWithRepo(t, proc, nil, starter)

	run, err := svc.Submit(context.Background(), SubmitRequest{URL: "https://cdn.example.com/talk.mp3"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, svc)
	if len(starter.ids) != 1 || starter.ids[0] != run.ID {
		t.Fatalf("started: want=[%s] got=%v", run.ID, starter.ids)
	}
	if proc.calls != 0 {
		t.Fatalf("run executed in-process: calls=%d", proc.calls)
	}
	got, _ := svc.Get(context.Background(), run.ID)
	if got.Status != types.StatusQueued {
		t.Fatalf("status: want=queued got=%s", got.Status)
	}

	starter.err = errors.New("temporal unavailable")
	if _, err := svc.Submit(context.Background(), SubmitRequest{URL: "https://cdn.example.com/b.mp3"}); err == nil {
		t.Fatalf("want error when the workflow cannot start")
	}
	failed, _ := svc.List(context.Background(), types.StatusFailed, 10)
	if len(failed) != 1 || failed[0].FileName != "b.mp3" {
		t.Fatalf("unstarted run not failed: %+v", failed)
	}
}

func TestExecuteSkipsFinishedRun(t *testing.T) {
	proc := &countingProcessor{}
	svc, repo := newServiceWithRepo(t, proc, nil, &recordingStarter{})
	run, err := repo.Create(dbctx.Context{Ctx: context.Background()}, &types.AnalysisRun{
		SourceURL: "https://cdn.example.com/a.mp3",
		FileName:  "a.mp3",
		Status:    types.StatusSucceeded,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Execute(context.Background(), run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if proc.calls != 0 {
		t.Fatalf("finished run executed again")
	}
	if err := svc.Execute(context.Background(), uuid.New()); apierr.From(err).Code != "not_found" {
		t.Fatalf("Execute missing: want not_found got=%v", err)
	}
}

func TestRecoverStale(t *testing.T) {
	seed := func(t *testing.T, repo repos.AnalysisRunRepo) *types.AnalysisRun {
		t.Helper()
		run, err := repo.Create(dbctx.Context{Ctx: context.Background()}, &types.AnalysisRun{
			SourceURL: "https://cdn.example.com/a.mp3",
			FileName:  "a.mp3",
			Status:    types.StatusRunning,
			CreatedAt: time.Now().UTC().Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		return run
	}

	t.Run("with workflows", func(t *testing.T) {
		starter := &recordingStarter{}
		svc, repo := newServiceWithRepo(t, &countingProcessor{}, nil, starter)
		run := seed(t, repo)
		if err := svc.RecoverStale(context.Background()); err != nil {
			t.Fatalf("RecoverStale: %v", err)
		}
		if len(starter.ids) != 1 || starter.ids[0] != run.ID {
			t.Fatalf("restarted: want=[%s] got=%v", run.ID, starter.ids)
		}
		got, _ := svc.Get(context.Background(), run.ID)
		if got.Status != types.StatusRunning {
			t.Fatalf("status: want=running got=%s", got.Status)
		}
	})

	t.Run("in process", func(t *testing.T) {
		svc, repo := newServiceWithRepo(t, &countingProcessor{}, nil, nil)
		run := seed(t, repo)
		if err := svc.RecoverStale(context.Background()); err != nil {
			t.Fatalf("RecoverStale: %v", err)
		}
		got, _ := svc.Get(context.Background(), run.ID)
		if got.Status != types.StatusFailed || got.ErrorCode != "interrupted" {
			t.Fatalf("stale run: status=%s code=%s", got.Status, got.ErrorCode)
		}
	})
}
