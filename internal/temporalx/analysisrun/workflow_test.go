package analysisrun

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/testsuite"

	"github.com/yungbote/podium-backend/internal/platform/apierr"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/services"
)

type fakeExecutor struct {
	mu        sync.Mutex
	execErr   error
	executes  int
	abandoned []error
	lastID    uuid.UUID
}

func (f *fakeExecutor) Execute(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executes++
	f.lastID = id
	return f.execErr
}

func (f *fakeExecutor) Abandon(ctx context.Context, id uuid.UUID, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, cause)
	return nil
}

func runWorkflow(t *testing.T, exec *fakeExecutor, in Input) error {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	Register(env, &Activities{Log: logger.Nop(), Analyses: exec})
	env.ExecuteWorkflow(WorkflowName, in)
	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	return env.GetWorkflowError()
}

func TestWorkflowRunsAnalysisOnce(t *testing.T) {
	id := uuid.New()
	exec := &fakeExecutor{}
	if err := runWorkflow(t, exec, Input{AnalysisID: id.String(), RunTimeout: time.Minute}); err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if exec.executes != 1 || exec.lastID != id {
		t.Fatalf("executes: want=1/%s got=%d/%s", id, exec.executes, exec.lastID)
	}
	if len(exec.abandoned) != 0 {
		t.Fatalf("abandoned: want=0 got=%d", len(exec.abandoned))
	}
}

func TestWorkflowAbandonsAfterRetries(t *testing.T) {
	exec := &fakeExecutor{execErr: fmt.Errorf("%w: worker stopped", services.ErrInterrupted)}
	err := runWorkflow(t, exec, Input{AnalysisID: uuid.NewString()})
	if err == nil {
		t.Fatalf("want workflow error")
	}
	if exec.executes != executeAttempts {
		t.Fatalf("executes: want=%d got=%d", executeAttempts, exec.executes)
	}
	if len(exec.abandoned) != 1 {
		t.Fatalf("abandoned: want=1 got=%d", len(exec.abandoned))
	}
	cause := exec.abandoned[0]
	if !errors.Is(cause, services.ErrInterrupted) || !strings.Contains(cause.Error(), "worker stopped") {
		t.Fatalf("abandon cause: got=%v", cause)
	}
	if got := services.ClassifyAnalysisError(cause).Code; got != "interrupted" {
		t.Fatalf("abandon code: want=interrupted got=%s", got)
	}
}

func TestWorkflowDoesNotRetryMissingRun(t *testing.T) {
	exec := &fakeExecutor{execErr: apierr.New(http.StatusNotFound, "analysis_not_found", errors.New("no such run"))}
	if err := runWorkflow(t, exec, Input{AnalysisID: uuid.NewString()}); err == nil {
		t.Fatalf("want workflow error")
	}
	if exec.executes != 1 {
		t.Fatalf("executes: want=1 got=%d", exec.executes)
	}
}

func TestWorkflowRejectsBadInput(t *testing.T) {
	exec := &fakeExecutor{}
	if err := runWorkflow(t, exec, Input{AnalysisID: "  "}); err == nil {
		t.Fatalf("empty id: want error")
	}
	if err := runWorkflow(t, exec, Input{AnalysisID: "not-a-uuid"}); err == nil {
		t.Fatalf("bad id: want error")
	}
	if exec.executes != 0 {
		t.Fatalf("executes: want=0 got=%d", exec.executes)
	}
}
