package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeStage counts invocations and delegates to injected behavior.
type fakeStage struct {
	name  StageName
	calls int
	run   func(ctx context.Context, in Input) (Output, error)
}

func (f *fakeStage) Name() StageName { return f.name }

func (f *fakeStage) Run(ctx context.Context, in Input) (Output, error) {
	f.calls++
	if f.run == nil {
		return Output{}, nil
	}
	return f.run(ctx, in)
}

// fakeClock advances a fixed step on every reading.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

// TestRunnerSuccessReportsElapsed checks timing on the happy path.
func TestRunnerSuccessReportsElapsed(t *testing.T) {
	clock := &fakeClock{step: 250 * time.Millisecond}
	runner := NewRunnerForTests(nil, clock.Now)
	stage := &fakeStage{name: StageDiarize, run: func(ctx context.Context, in Input) (Output, error) {
		return Output{Summary: "ok"}, nil
	}}

	out, elapsed, err := runner.Run(context.Background(), stage, Input{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Summary != "ok" {
		t.Fatalf("summary = %q, want ok", out.Summary)
	}
	if elapsed <= 0 {
		t.Fatalf("elapsed = %v, want > 0", elapsed)
	}
	if stage.calls != 1 {
		t.Fatalf("calls = %d, want 1", stage.calls)
	}
}

// TestRunnerNonRetryableFailsImmediately checks a fatal fault stops at one attempt.
func TestRunnerNonRetryableFailsImmediately(t *testing.T) {
	runner := NewRunner(nil)
	stage := &fakeStage{name: StageTranscribe, run: func(ctx context.Context, in Input) (Output, error) {
		return Output{}, &StageError{Stage: StageTranscribe, Reason: "CUDA out of memory"}
	}}

	_, _, err := runner.Run(context.Background(), stage, Input{})
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error type = %T, want *StageError", err)
	}
	if stageErr.Retryable {
		t.Fatal("expected non-retryable error")
	}
	if stage.calls != 1 {
		t.Fatalf("calls = %d, want 1", stage.calls)
	}
}

// TestRunnerRetryableRetriesAtMostOnce verifies the retry bound.
func TestRunnerRetryableRetriesAtMostOnce(t *testing.T) {
	runner := NewRunner(nil)
	stage := &fakeStage{name: StageDiarize, run: func(ctx context.Context, in Input) (Output, error) {
		return Output{}, &StageError{Stage: StageDiarize, Reason: "upstream timeout", Retryable: true}
	}}

	_, _, err := runner.Run(context.Background(), stage, Input{})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if stage.calls != MaxAttempts {
		t.Fatalf("calls = %d, want %d", stage.calls, MaxAttempts)
	}
}

// TestRunnerRetryableSecondAttemptSucceeds checks recovery on retry.
func TestRunnerRetryableSecondAttemptSucceeds(t *testing.T) {
	runner := NewRunner(nil)
	stage := &fakeStage{name: StageSummarize}
	stage.run = func(ctx context.Context, in Input) (Output, error) {
		if stage.calls == 1 {
			return Output{}, &StageError{Stage: StageSummarize, Reason: "flaky", Retryable: true}
		}
		return Output{Summary: "recovered"}, nil
	}

	out, _, err := runner.Run(context.Background(), stage, Input{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Summary != "recovered" {
		t.Fatalf("summary = %q, want recovered", out.Summary)
	}
	if stage.calls != 2 {
		t.Fatalf("calls = %d, want 2", stage.calls)
	}
}

// TestRunnerNormalizesForeignErrors checks plain errors become StageErrors.
func TestRunnerNormalizesForeignErrors(t *testing.T) {
	runner := NewRunner(nil)
	cause := errors.New("connection reset")
	stage := &fakeStage{name: StageDiarize, run: func(ctx context.Context, in Input) (Output, error) {
		return Output{}, cause
	}}

	_, _, err := runner.Run(context.Background(), stage, Input{})
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error type = %T, want *StageError", err)
	}
	if stageErr.Stage != StageDiarize {
		t.Fatalf("stage = %q, want diarize", stageErr.Stage)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to survive")
	}
}

// TestRunnerRecoversPanics checks a panicking stage yields a StageError.
func TestRunnerRecoversPanics(t *testing.T) {
	runner := NewRunner(nil)
	stage := &fakeStage{name: StageTranscribe, run: func(ctx context.Context, in Input) (Output, error) {
		panic("model crashed")
	}}

	_, _, err := runner.Run(context.Background(), stage, Input{})
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error type = %T, want *StageError", err)
	}
	if stageErr.Retryable {
		t.Fatal("panic must not be retryable")
	}
}

// TestRunnerCancelledContextStopsRetry checks no retry after cancellation.
func TestRunnerCancelledContextStopsRetry(t *testing.T) {
	runner := NewRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stage := &fakeStage{name: StageDiarize, run: func(ctx context.Context, in Input) (Output, error) {
		cancel()
		return Output{}, &StageError{Stage: StageDiarize, Reason: "interrupted", Retryable: true}
	}}

	_, _, err := runner.Run(ctx, stage, Input{})
	if err == nil {
		t.Fatal("expected error")
	}
	if stage.calls != 1 {
		t.Fatalf("calls = %d, want 1", stage.calls)
	}
}
