package pipeline

import (
	"context"
	"fmt"

	"meeting-summarizer/internal/domain"
)

// StageName identifies one unit of the processing pipeline.
type StageName string

const (
	StageDiarize    StageName = "diarize"
	StageTranscribe StageName = "transcribe"
	StageSummarize  StageName = "summarize"
)

// Input carries the original audio plus all outputs of earlier stages.
// Each stage reads only the fields its position in the pipeline guarantees
// to be populated.
type Input struct {
	AudioName       string
	Audio           []byte
	SpeakerSegments []domain.SpeakerSegment
	Transcript      string
}

// Output is a tagged payload; a stage populates only the fields it owns.
type Output struct {
	SpeakerSegments    []domain.SpeakerSegment
	TranscriptSegments []domain.TranscriptSegment
	Transcript         string
	Summary            string
}

// StageError is the only error type allowed to cross the stage boundary.
// Retryable marks faults worth one more attempt within the same process,
// such as a transient upstream timeout; device exhaustion is not retryable.
type StageError struct {
	Stage     StageName
	Reason    string
	Retryable bool
	Err       error
}

// Error formats stage failures for logs and status responses.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Stage is the uniform execution contract for one inference step.
// Implementations must return either Output or a *StageError; any other
// failure mode is normalized by the Runner.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, in Input) (Output, error)
}
