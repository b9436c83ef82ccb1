package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/pipeline"
)

// ErrBusy is returned when submitting while a job is still in flight.
var ErrBusy = errors.New("a job is already in progress")

// ErrNoActiveJob is returned when cancel is requested with nothing running.
var ErrNoActiveJob = errors.New("no active job")

// ErrEmptyAudio is returned when the submitted audio payload is empty.
var ErrEmptyAudio = errors.New("audio payload is empty")

// ArtifactSink receives the outputs of a fully successful pipeline.
type ArtifactSink interface {
	SaveTranscript(text string) error
	SaveSummary(text string) error
}

// Status is a point-in-time view of the manager for polling clients.
type Status struct {
	Job          domain.Job
	StageElapsed time.Duration
}

// Manager owns the single allowed active job. It validates submissions,
// drives the fixed diarize-transcribe-summarize sequence on one worker
// goroutine, and exposes snapshots that are monotonically non-decreasing
// along the state machine for a given job.
type Manager struct {
	runner     *pipeline.Runner
	diarize    pipeline.Stage
	transcribe pipeline.Stage
	summarize  pipeline.Stage
	sink       ArtifactSink
	events     *EventBus
	logger     *slog.Logger
	now        func() time.Time

	mu              sync.Mutex
	job             domain.Job
	audio           []byte
	cancelRequested bool
	stageStarted    time.Time
	done            chan struct{}
}

// NewManager creates a manager in idle state.
func NewManager(
	runner *pipeline.Runner,
	diarize, transcribe, summarize pipeline.Stage,
	sink ArtifactSink,
	events *EventBus,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Manager{
		runner:     runner,
		diarize:    diarize,
		transcribe: transcribe,
		summarize:  summarize,
		sink:       sink,
		events:     events,
		logger:     logger,
		now:        time.Now,
		job:        domain.Job{State: domain.JobStateIdle},
	}
}

// Submit accepts one audio payload and starts the pipeline worker. It
// returns immediately with the accepted job snapshot; progress is observed
// via Status. Submission fails fast with ErrBusy while a job is in flight.
func (m *Manager) Submit(audioName string, audio []byte) (domain.Job, error) {
	if len(audio) == 0 {
		return domain.Job{}, ErrEmptyAudio
	}

	m.mu.Lock()
	if m.job.State.Active() {
		m.mu.Unlock()
		return domain.Job{}, ErrBusy
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		State:     domain.JobStateSubmitted,
		AudioName: audioName,
		Timings:   make(map[string]time.Duration),
	}
	m.job = job
	m.audio = append([]byte(nil), audio...)
	m.cancelRequested = false
	m.stageStarted = m.now()
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.publishState(job.ID, domain.JobStateSubmitted, "Job accepted")
	m.logger.Info("job submitted",
		slog.String("jobId", job.ID),
		slog.String("audio", audioName),
		slog.Int("bytes", len(audio)))

	go m.run(job.ID, done)
	return job, nil
}

// Status returns the current job snapshot and elapsed time in its stage.
// It is side-effect free and safe to call from any goroutine.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{Job: m.job}
	if m.job.State.Active() {
		status.StageElapsed = m.now().Sub(m.stageStarted)
	}
	return status
}

// Cancel requests cooperative cancellation. The flag is honored at the next
// stage boundary; a stage already running is never interrupted because the
// underlying inference call is not interruptible.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.job.State.Active() {
		return ErrNoActiveJob
	}

	m.cancelRequested = true
	m.logger.Info("cancellation requested", slog.String("jobId", m.job.ID))
	return nil
}

// WaitForTerminal blocks until the active job reaches a terminal state or
// the context expires, then returns the final job record.
func (m *Manager) WaitForTerminal(ctx context.Context) (domain.Job, error) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done != nil {
		select {
		case <-ctx.Done():
			return domain.Job{}, ctx.Err()
		case <-done:
		}
	}
	return m.Status().Job, nil
}

// run drives the fixed stage sequence for one job. It is the only writer of
// job state after submission, which makes observed states monotonic.
func (m *Manager) run(jobID string, done chan struct{}) {
	defer close(done)

	// Stage calls deliberately receive a background context: cancellation
	// is checkpoint-based and must not interrupt an in-flight inference.
	ctx := context.Background()

	m.mu.Lock()
	audio := m.audio
	audioName := m.job.AudioName
	m.mu.Unlock()

	in := pipeline.Input{AudioName: audioName, Audio: audio}

	if m.checkpoint(jobID) {
		return
	}
	m.transition(jobID, domain.JobStateDiarizing)
	out, elapsed, err := m.runner.Run(ctx, m.diarize, in)
	m.recordTiming(pipeline.StageDiarize, elapsed)
	if err != nil {
		m.fail(jobID, err)
		return
	}
	m.setSpeakerSegments(out.SpeakerSegments)
	in.SpeakerSegments = out.SpeakerSegments

	if m.checkpoint(jobID) {
		return
	}
	m.transition(jobID, domain.JobStateTranscribing)
	out, elapsed, err = m.runner.Run(ctx, m.transcribe, in)
	m.recordTiming(pipeline.StageTranscribe, elapsed)
	if err != nil {
		m.fail(jobID, err)
		return
	}
	m.setTranscript(out.TranscriptSegments, out.Transcript)
	in.Transcript = out.Transcript

	if m.checkpoint(jobID) {
		return
	}
	m.transition(jobID, domain.JobStateSummarizing)
	out, elapsed, err = m.runner.Run(ctx, m.summarize, in)
	m.recordTiming(pipeline.StageSummarize, elapsed)
	if err != nil {
		m.fail(jobID, err)
		return
	}
	m.setSummary(out.Summary)

	if err := m.sink.SaveTranscript(in.Transcript); err != nil {
		m.fail(jobID, &pipeline.StageError{Stage: pipeline.StageSummarize,
			Reason: "persist transcript artifact: " + err.Error(), Err: err})
		return
	}
	if err := m.sink.SaveSummary(out.Summary); err != nil {
		m.fail(jobID, &pipeline.StageError{Stage: pipeline.StageSummarize,
			Reason: "persist summary artifact: " + err.Error(), Err: err})
		return
	}

	m.complete(jobID)
}

// checkpoint honors a pending cancellation at a stage boundary. It reports
// true when the job was cancelled and the worker must stop. The audio
// buffer is released either way once the job is terminal.
func (m *Manager) checkpoint(jobID string) bool {
	m.mu.Lock()
	if !m.cancelRequested {
		m.mu.Unlock()
		return false
	}

	m.job.State = domain.JobStateCancelled
	m.audio = nil
	m.mu.Unlock()

	m.publishState(jobID, domain.JobStateCancelled, "Job cancelled")
	m.logger.Info("job cancelled", slog.String("jobId", jobID))
	return true
}

// transition advances the state machine and restarts the stage clock.
func (m *Manager) transition(jobID string, state domain.JobState) {
	m.mu.Lock()
	if !isValidTransition(m.job.State, state) {
		m.mu.Unlock()
		m.logger.Error("invalid state transition",
			slog.String("jobId", jobID),
			slog.String("from", string(m.job.State)),
			slog.String("to", string(state)))
		return
	}
	m.job.State = state
	m.stageStarted = m.now()
	m.mu.Unlock()

	m.publishState(jobID, state, "Running "+string(state)+" stage")
}

// fail records a stage failure and moves the job to its terminal state
// before any poller can observe an ambiguous intermediate.
func (m *Manager) fail(jobID string, err error) {
	reason := err.Error()
	stage := ""
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		reason = stageErr.Reason
		stage = string(stageErr.Stage)
	}

	m.mu.Lock()
	m.job.State = domain.JobStateFailed
	m.job.FailedStage = stage
	m.job.Error = reason
	m.audio = nil
	m.mu.Unlock()

	if m.events != nil {
		m.events.Publish(Event{
			JobID:   jobID,
			Type:    EventTypeError,
			State:   domain.JobStateFailed,
			Stage:   stage,
			Message: reason,
		})
	}
	m.logger.Error("job failed",
		slog.String("jobId", jobID),
		slog.String("stage", stage),
		slog.String("reason", reason))
}

// complete marks the job successful and releases the audio buffer.
func (m *Manager) complete(jobID string) {
	m.mu.Lock()
	m.job.State = domain.JobStateCompleted
	m.audio = nil
	summaryLen := len(m.job.Summary)
	m.mu.Unlock()

	if m.events != nil {
		m.events.Publish(Event{
			JobID:   jobID,
			Type:    EventTypeResult,
			State:   domain.JobStateCompleted,
			Message: "Summary and transcript ready",
		})
	}
	m.logger.Info("job completed",
		slog.String("jobId", jobID),
		slog.Int("summaryBytes", summaryLen))
}

// recordTiming appends the elapsed duration for one stage.
func (m *Manager) recordTiming(stage pipeline.StageName, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.Timings[string(stage)] = elapsed
}

// setSpeakerSegments stores the diarization output; set once per job.
func (m *Manager) setSpeakerSegments(segments []domain.SpeakerSegment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.SpeakerSegments = segments
}

// setTranscript stores the transcription output; set once per job.
func (m *Manager) setTranscript(segments []domain.TranscriptSegment, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.TranscriptSegments = segments
	m.job.Transcript = text
}

// setSummary stores the summarization output; set once per job.
func (m *Manager) setSummary(summary string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.Summary = summary
}

// publishState emits a normalized state event.
func (m *Manager) publishState(jobID string, state domain.JobState, message string) {
	if m.events == nil {
		return
	}
	m.events.Publish(Event{
		JobID:   jobID,
		Type:    EventTypeState,
		State:   state,
		Message: message,
	})
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobState) bool {
	switch from {
	case domain.JobStateIdle, domain.JobStateCompleted, domain.JobStateFailed, domain.JobStateCancelled:
		return to == domain.JobStateSubmitted
	case domain.JobStateSubmitted:
		return to == domain.JobStateDiarizing || to.Terminal()
	case domain.JobStateDiarizing:
		return to == domain.JobStateTranscribing || to.Terminal()
	case domain.JobStateTranscribing:
		return to == domain.JobStateSummarizing || to.Terminal()
	case domain.JobStateSummarizing:
		return to.Terminal()
	default:
		return false
	}
}
