package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// MaxAttempts caps executions of a single stage, including the one retry
// allowed for retryable failures.
const MaxAttempts = 2

// Runner executes one stage under the uniform contract: wall-clock timing
// regardless of outcome, fault normalization, and a bounded retry.
type Runner struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner builds a runner; a nil logger disables logging.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{logger: logger, now: time.Now}
}

// NewRunnerForTests builds a runner with an injectable clock.
func NewRunnerForTests(logger *slog.Logger, now func() time.Time) *Runner {
	r := NewRunner(logger)
	if now != nil {
		r.now = now
	}
	return r
}

// Run executes the stage and reports its output, total elapsed time across
// attempts, and a *StageError on failure. Faults never escape unstructured:
// panics and foreign error types are converted before returning.
func (r *Runner) Run(ctx context.Context, stage Stage, in Input) (Output, time.Duration, error) {
	started := r.now()

	var lastErr *StageError
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		out, err := r.runOnce(ctx, stage, in)
		if err == nil {
			elapsed := r.now().Sub(started)
			r.logger.Info("stage completed",
				slog.String("stage", string(stage.Name())),
				slog.Duration("elapsed", elapsed),
				slog.Int("attempts", attempt))
			return out, elapsed, nil
		}

		lastErr = normalize(stage.Name(), err)
		r.logger.Warn("stage attempt failed",
			slog.String("stage", string(stage.Name())),
			slog.Int("attempt", attempt),
			slog.Bool("retryable", lastErr.Retryable),
			slog.String("reason", lastErr.Reason))

		if !lastErr.Retryable || ctx.Err() != nil {
			break
		}
	}

	return Output{}, r.now().Sub(started), lastErr
}

// runOnce executes a single attempt, converting panics into errors.
func (r *Runner) runOnce(ctx context.Context, stage Stage, in Input) (out Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &StageError{
				Stage:  stage.Name(),
				Reason: fmt.Sprintf("stage panicked: %v", rec),
			}
		}
	}()

	return stage.Run(ctx, in)
}

// normalize guarantees every stage failure is a *StageError.
func normalize(name StageName, err error) *StageError {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		if stageErr.Stage == "" {
			stageErr.Stage = name
		}
		return stageErr
	}

	return &StageError{
		Stage:  name,
		Reason: err.Error(),
		Err:    err,
	}
}
