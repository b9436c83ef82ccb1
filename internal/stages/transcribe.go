package stages

import (
	"context"

	"meeting-summarizer/internal/pipeline"
)

// TranscribeStage turns audio plus diarization segments into a
// speaker-attributed transcript via the model server.
type TranscribeStage struct {
	client *InferenceClient
}

// NewTranscribeStage wraps the inference client as a pipeline stage.
func NewTranscribeStage(client *InferenceClient) *TranscribeStage {
	return &TranscribeStage{client: client}
}

// Name identifies the stage.
func (s *TranscribeStage) Name() pipeline.StageName { return pipeline.StageTranscribe }

// Run transcribes each diarized segment and formats the full transcript.
func (s *TranscribeStage) Run(ctx context.Context, in pipeline.Input) (pipeline.Output, error) {
	segments, err := s.client.Transcribe(ctx, in.AudioName, in.Audio, in.SpeakerSegments)
	if err != nil {
		return pipeline.Output{}, stageError(pipeline.StageTranscribe, err)
	}

	return pipeline.Output{
		TranscriptSegments: segments,
		Transcript:         FormatTranscript(segments),
	}, nil
}
