package stages

import (
	"context"
	"errors"

	"meeting-summarizer/internal/pipeline"
)

// DiarizeStage segments raw audio into speaker-attributed time ranges via
// the model server.
type DiarizeStage struct {
	client *InferenceClient
}

// NewDiarizeStage wraps the inference client as a pipeline stage.
func NewDiarizeStage(client *InferenceClient) *DiarizeStage {
	return &DiarizeStage{client: client}
}

// Name identifies the stage.
func (s *DiarizeStage) Name() pipeline.StageName { return pipeline.StageDiarize }

// Run performs diarization on the submitted audio.
func (s *DiarizeStage) Run(ctx context.Context, in pipeline.Input) (pipeline.Output, error) {
	segments, err := s.client.Diarize(ctx, in.AudioName, in.Audio)
	if err != nil {
		return pipeline.Output{}, stageError(pipeline.StageDiarize, err)
	}

	return pipeline.Output{SpeakerSegments: segments}, nil
}

// stageError converts a client failure into the stage error contract.
func stageError(name pipeline.StageName, err error) *pipeline.StageError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return &pipeline.StageError{
			Stage:     name,
			Reason:    reqErr.Message,
			Retryable: reqErr.Retryable,
			Err:       err,
		}
	}

	return &pipeline.StageError{
		Stage:  name,
		Reason: err.Error(),
		Err:    err,
	}
}
