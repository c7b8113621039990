package analysisrun

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Starter starts the workflow for a run. Starting a run whose workflow is
// still open returns the open execution instead of a second one.
type Starter struct {
	Client     client.Client
	TaskQueue  string
	RunTimeout time.Duration
}

func (s *Starter) StartAnalysis(ctx context.Context, id uuid.UUID) error {
	opts := client.StartWorkflowOptions{
		ID:                    WorkflowID(id),
		TaskQueue:             s.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}
	if _, err := s.Client.ExecuteWorkflow(ctx, opts, WorkflowName, Input{AnalysisID: id.String(), RunTimeout: s.RunTimeout}); err != nil {
		return fmt.Errorf("start workflow %s: %w", opts.ID, err)
	}
	return nil
}
