package analysisrun

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/podium-backend/internal/platform/logger"
)

type registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register binds the workflow and activities under their stable names.
func Register(r registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.Execute, activity.RegisterOptions{Name: ActivityExecute})
	r.RegisterActivityWithOptions(acts.Abandon, activity.RegisterOptions{Name: ActivityAbandon})
}

type Worker struct {
	log *logger.Logger
	w   worker.Worker
}

// NewWorker polls taskQueue, running at most maxRuns analyses at a time.
// Stop gives running analyses stopGrace to finish before cancelling them.
func NewWorker(log *logger.Logger, c client.Client, taskQueue string, maxRuns int, stopGrace time.Duration, acts *Activities) *Worker {
	if maxRuns <= 0 {
		maxRuns = 1
	}
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     maxRuns,
		MaxConcurrentWorkflowTaskExecutionSize: maxRuns,
		WorkerStopTimeout:                      stopGrace,
	})
	Register(w, acts)
	return &Worker{log: log.With("service", "AnalysisWorker", "task_queue", taskQueue), w: w}
}

func (w *Worker) Start() error {
	if err := w.w.Start(); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}
	w.log.Info("temporal worker started")
	return nil
}

// Stop cancels running activities; Temporal retries them on another worker.
func (w *Worker) Stop() {
	w.w.Stop()
	w.log.Info("temporal worker stopped")
}
