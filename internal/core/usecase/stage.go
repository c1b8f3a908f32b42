package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

// StageExecutor runs a single pipeline stage and reports it as a StageOutcome.
// It never returns an error: every failure mode becomes a failed outcome.
type StageExecutor struct {
	timeout  time.Duration
	now      func() time.Time
	observer ports.PipelineObserver
}

func NewStageExecutor(timeout time.Duration, observer ports.PipelineObserver) *StageExecutor {
	return &StageExecutor{
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
		observer: observer,
	}
}

type stageResult[T any] struct {
	value T
	err   error
}

// RunStage invokes action exactly once under the stage deadline and waits for
// it to return. A result produced after the deadline counts as a failure.
func RunStage[T any](
	ctx context.Context,
	exec *StageExecutor,
	emailID string,
	stage domain.Stage,
	action func(context.Context) (T, error),
) (domain.StageOutcome, T, bool) {
	var zero T
	start := time.Now()

	stageCtx := ctx
	cancel := func() {}
	if exec.timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, exec.timeout)
	}
	defer cancel()

	res := invokeStage(stageCtx, stage, action)
	if res.err == nil && stageCtx.Err() != nil {
		res.err = stageCtx.Err()
	}

	outcome := domain.StageOutcome{
		Stage:     stage,
		Timestamp: exec.now(),
	}
	duration := time.Since(start)
	if res.err != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.Error = describeStageError(stage, res.err)
		slog.Warn("stage_failed",
			"email_id", emailID,
			"stage", string(stage),
			"duration_ms", float64(duration.Microseconds())/1000.0,
			"error", res.err,
		)
	} else {
		outcome.Status = domain.OutcomeSucceeded
		slog.Debug("stage_succeeded",
			"email_id", emailID,
			"stage", string(stage),
			"duration_ms", float64(duration.Microseconds())/1000.0,
		)
	}
	if exec.observer != nil {
		exec.observer.ObserveStage(stage, outcome.Status, duration)
	}

	if res.err != nil {
		return outcome, zero, false
	}
	return outcome, res.value, true
}

func invokeStage[T any](ctx context.Context, stage domain.Stage, action func(context.Context) (T, error)) (res stageResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = stageResult[T]{err: fmt.Errorf("panic in %s stage: %v", stage, r)}
		}
	}()
	value, err := action(ctx)
	return stageResult[T]{value: value, err: err}
}

func describeStageError(stage domain.Stage, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s stage timed out: %v", stage, err)
	}
	return err.Error()
}
