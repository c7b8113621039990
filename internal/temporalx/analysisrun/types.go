// Package analysisrun executes analysis runs as Temporal workflows: one
// workflow per run, one retryable activity that runs the whole pipeline.
package analysisrun

import (
	"time"

	"github.com/google/uuid"
)

const (
	WorkflowName    = "analysis_run"
	ActivityExecute = "analysis_run_execute"
	ActivityAbandon = "analysis_run_abandon"
)

const (
	errTypeInvalidInput = "invalid_input"
	errTypeNotFound     = "analysis_not_found"
)

type Input struct {
	AnalysisID string        `json:"analysis_id"`
	RunTimeout time.Duration `json:"run_timeout"`
}

// WorkflowID is derived from the run id so a run never has two live executions.
func WorkflowID(id uuid.UUID) string {
	return "analysis-" + id.String()
}
