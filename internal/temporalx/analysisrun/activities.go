package analysisrun

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/podium-backend/internal/platform/apierr"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/services"
)

// Executor is the slice of the analysis service the activities drive.
type Executor interface {
	Execute(ctx context.Context, id uuid.UUID) error
	Abandon(ctx context.Context, id uuid.UUID, cause error) error
}

type Activities struct {
	Log      *logger.Logger
	Analyses Executor
}

// Execute runs one attempt of the analysis. Pipeline failures are recorded on
// the run and return nil; an error means the attempt was cut short.
func (a *Activities) Execute(ctx context.Context, analysisID string) error {
	id, err := parseID(analysisID)
	if err != nil {
		return err
	}
	info := activity.GetInfo(ctx)
	a.Log.Info("analysis attempt started", "analysis_id", id.String(), "attempt", info.Attempt)

	stop := heartbeat(ctx)
	defer stop()

	err = a.Analyses.Execute(ctx, id)
	if err == nil {
		return nil
	}
	if apierr.From(err).Status == http.StatusNotFound {
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeNotFound, err)
	}
	return err
}

// Abandon records the run failed after the workflow gave up on it.
func (a *Activities) Abandon(ctx context.Context, analysisID, cause string) error {
	id, err := parseID(analysisID)
	if err != nil {
		return err
	}
	return a.Analyses.Abandon(ctx, id, fmt.Errorf("%w: %s", services.ErrInterrupted, cause))
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, temporal.NewNonRetryableApplicationError(fmt.Sprintf("invalid analysis_id %q", raw), errTypeInvalidInput, err)
	}
	return id, nil
}

func heartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(heartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
