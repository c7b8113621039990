package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/podium-backend/internal/domain/analysis"
	"github.com/yungbote/podium-backend/internal/platform/apierr"
	"github.com/yungbote/podium-backend/internal/platform/rediscache"
	"github.com/yungbote/podium-backend/internal/services"
)

type fakeAnalyses struct {
	runs      map[uuid.UUID]*types.AnalysisRun
	submitted []services.SubmitRequest
	listErr   error
}

func (f *fakeAnalyses) Submit(ctx context.Context, req services.SubmitRequest) (*types.AnalysisRun, error) {
	if req.URL == "" {
		return nil, apierr.New(http.StatusBadRequest, "missing_url", errors.New("url is required"))
	}
	f.submitted = append(f.submitted, req)
	run := &types.AnalysisRun{ID: uuid.New(), SourceURL: req.URL, FileName: "talk.mp3", Status: types.StatusQueued}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeAnalyses) Get(ctx context.Context, id uuid.UUID) (*types.AnalysisRun, error) {
	if run, ok := f.runs[id]; ok {
		return run, nil
	}
	return nil, apierr.New(http.StatusNotFound, "not_found", errors.New("analysis not found"))
}

func (f *fakeAnalyses) List(ctx context.Context, status string, limit int) ([]*types.AnalysisRun, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*types.AnalysisRun
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeAnalyses) Execute(ctx context.Context, id uuid.UUID) error              { return nil }
func (f *fakeAnalyses) Abandon(ctx context.Context, id uuid.UUID, cause error) error { return nil }
func (f *fakeAnalyses) RecoverStale(ctx context.Context) error                       { return nil }
func (f *fakeAnalyses) Shutdown(ctx context.Context) error                           { return nil }

func newTestRouter(svc services.AnalysisService, events EventSubscriber) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAnalysisHandler(svc, events)
	r := gin.New()
	r.POST("/v1/analyses", h.Create)
	r.GET("/v1/analyses", h.List)
	r.GET("/v1/analyses/:id", h.Get)
	r.GET("/v1/analyses/:id/events", h.Events)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetAnalysis(t *testing.T) {
	svc := &fakeAnalyses{runs: map[uuid.UUID]*types.AnalysisRun{}}
	r := newTestRouter(svc, nil)

	rec := do(r, http.MethodPost, "/v1/analyses", `{"url":"https://cdn.example.com/talk.mp3"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status: want=202 got=%d body=%s", rec.Code, rec.Body)
	}
	var created struct {
		Analysis types.AnalysisRun `json:"analysis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/analyses/"+created.Analysis.ID.String() {
		t.Fatalf("location: %q", loc)
	}

	rec = do(r, http.MethodGet, "/v1/analyses/"+created.Analysis.ID.String(), "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"queued"`) {
		t.Fatalf("get: status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestAnalysisErrors(t *testing.T) {
	svc := &fakeAnalyses{runs: map[uuid.UUID]*types.AnalysisRun{}, listErr: errors.New("db is down")}
	r := newTestRouter(svc, nil)

	cases := []struct {
		method, path, body string
		status             int
		code               string
	}{
		{http.MethodPost, "/v1/analyses", `{`, http.StatusBadRequest, "invalid_request"},
		{http.MethodPost, "/v1/analyses", `{}`, http.StatusBadRequest, "missing_url"},
		{http.MethodGet, "/v1/analyses/not-a-uuid", "", http.StatusBadRequest, "invalid_analysis_id"},
		{http.MethodGet, "/v1/analyses/" + uuid.NewString(), "", http.StatusNotFound, "not_found"},
		{http.MethodGet, "/v1/analyses", "", http.StatusInternalServerError, "internal_error"},
		{http.MethodGet, "/v1/analyses/" + uuid.NewString() + "/events", "", http.StatusServiceUnavailable, "events_disabled"},
	}
	for _, tc := range cases {
		rec := do(r, tc.method, tc.path, tc.body)
		var env struct {
			Error struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
		if rec.Code != tc.status || env.Error.Code != tc.code {
			t.Fatalf("%s %s: want=%d/%s got=%d/%s", tc.method, tc.path, tc.status, tc.code, rec.Code, env.Error.Code)
		}
		if tc.status >= 500 && strings.Contains(env.Error.Message, "db is down") {
			t.Fatalf("internal error leaked: %s", env.Error.Message)
		}
	}
}

// closeNotifyingRecorder satisfies http.CloseNotifier, which gin's Stream requires.
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool { return r.closed }

type fakeSubscriber struct {
	events []rediscache.AnalysisEvent
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, onEvent func(rediscache.AnalysisEvent)) error {
	go func() {
		for _, ev := range f.events {
			onEvent(ev)
		}
	}()
	return nil
}

func TestEventsStreamsUntilTerminal(t *testing.T) {
	run := &types.AnalysisRun{ID: uuid.New(), Status: types.StatusRunning}
	svc := &fakeAnalyses{runs: map[uuid.UUID]*types.AnalysisRun{run.ID: run}}
	sub := &fakeSubscriber{events: []rediscache.AnalysisEvent{
		{AnalysisID: uuid.NewString(), Status: "running", Stage: "retrieve"},
		{AnalysisID: run.ID.String(), Status: "running", Stage: "transcribe"},
		{AnalysisID: run.ID.String(), Status: "succeeded", Stage: "done"},
	}}
	r := newTestRouter(svc, sub)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+run.ID.String()+"/events", nil)
	rec := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	r.ServeHTTP(rec, req)
	body := rec.Body.String()
	if !strings.Contains(body, "event:running") || !strings.Contains(body, "event:succeeded") {
		t.Fatalf("stream missing events: %s", body)
	}
	if strings.Contains(body, `"stage":"retrieve"`) {
		t.Fatalf("stream leaked another analysis: %s", body)
	}
}

// finishingSubscriber completes the run while the subscription is being set
// up and publishes nothing afterwards.
type finishingSubscriber struct {
	run *types.AnalysisRun
}

func (f *finishingSubscriber) Subscribe(ctx context.Context, onEvent func(rediscache.AnalysisEvent)) error {
	f.run.Status = types.StatusSucceeded
	f.run.Stage = "done"
	return nil
}

func TestEventsRunFinishedBeforeSubscribe(t *testing.T) {
	run := &types.AnalysisRun{ID: uuid.New(), Status: types.StatusRunning, Stage: "transcribe"}
	svc := &fakeAnalyses{runs: map[uuid.UUID]*types.AnalysisRun{run.ID: run}}
	r := newTestRouter(svc, &finishingSubscriber{run: run})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+run.ID.String()+"/events", nil).WithContext(ctx)
	rec := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	started := time.Now()
	r.ServeHTTP(rec, req)
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("handler waited for the client to leave: elapsed=%s", elapsed)
	}
	if body := rec.Body.String(); !strings.Contains(body, "event:succeeded") || !strings.Contains(body, `"stage":"done"`) {
		t.Fatalf("want terminal event got=%q", body)
	}
}

func TestEventsForFinishedRun(t *testing.T) {
	run := &types.AnalysisRun{ID: uuid.New(), Status: types.StatusFailed, Error: "boom"}
	svc := &fakeAnalyses{runs: map[uuid.UUID]*types.AnalysisRun{run.ID: run}}
	rec := do(newTestRouter(svc, &fakeSubscriber{}), http.MethodGet, "/v1/analyses/"+run.ID.String()+"/events", "")
	if !strings.Contains(rec.Body.String(), "event:failed") {
		t.Fatalf("want single failed event got=%s", rec.Body)
	}
}

func TestReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler(map[string]Pinger{
		"db":    PingFunc(func(context.Context) error { return nil }),
		"redis": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	r := gin.New()
	r.GET("/readyz", h.Ready)
	rec := do(r, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("readyz: status=%d body=%s", rec.Code, rec.Body)
	}
}
