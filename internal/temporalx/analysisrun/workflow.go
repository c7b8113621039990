package analysisrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	defaultRunTimeout = 30 * time.Minute
	heartbeatEvery    = 10 * time.Second
	heartbeatTimeout  = 45 * time.Second
	executeAttempts   = 3
)

// Workflow runs the analysis activity. Attempts lost to a dead worker or a
// stopped process are retried on any worker, since the pipeline starts over
// from the source URL. When every attempt is spent the run is recorded failed.
func Workflow(ctx workflow.Context, in Input) error {
	if strings.TrimSpace(in.AnalysisID) == "" {
		return temporal.NewNonRetryableApplicationError("analysis_id is required", errTypeInvalidInput, nil)
	}
	timeout := in.RunTimeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout + time.Minute,
		HeartbeatTimeout:    heartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        executeAttempts,
			NonRetryableErrorTypes: []string{errTypeInvalidInput, errTypeNotFound},
		},
	})
	err := workflow.ExecuteActivity(execCtx, ActivityExecute, in.AnalysisID).Get(ctx, nil)
	if err == nil {
		return nil
	}
	workflow.GetLogger(ctx).Warn("analysis attempts exhausted", "analysis_id", in.AnalysisID, "error", err)

	abandonCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 5,
		},
	})
	if aerr := workflow.ExecuteActivity(abandonCtx, ActivityAbandon, in.AnalysisID, err.Error()).Get(ctx, nil); aerr != nil {
		return fmt.Errorf("record abandoned analysis: %w", aerr)
	}
	return err
}
