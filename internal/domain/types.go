package domain

import "time"

// JobState tracks each pipeline stage for a single summarization job.
type JobState string

const (
	JobStateIdle         JobState = "idle"
	JobStateSubmitted    JobState = "submitted"
	JobStateDiarizing    JobState = "diarizing"
	JobStateTranscribing JobState = "transcribing"
	JobStateSummarizing  JobState = "summarizing"
	JobStateCompleted    JobState = "completed"
	JobStateFailed       JobState = "failed"
	JobStateCancelled    JobState = "cancelled"
)

// Active reports whether the state represents in-flight pipeline execution.
func (s JobState) Active() bool {
	switch s {
	case JobStateSubmitted, JobStateDiarizing, JobStateTranscribing, JobStateSummarizing:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state is a final job outcome.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// SpeakerSegment is one diarized time range attributed to a speaker.
type SpeakerSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// TranscriptSegment pairs a speaker segment with its transcribed text.
type TranscriptSegment struct {
	SpeakerSegment
	Text string `json:"text"`
}

// Job stores identity, lifecycle state, and stage outputs for one request.
// Stage outputs are set once by the worker and never overwritten within the
// same job; the whole record is replaced by the next accepted submission.
type Job struct {
	ID                 string                   `json:"id"`
	State              JobState                 `json:"state"`
	AudioName          string                   `json:"audioName,omitempty"`
	SpeakerSegments    []SpeakerSegment         `json:"speakerSegments,omitempty"`
	TranscriptSegments []TranscriptSegment      `json:"transcriptSegments,omitempty"`
	Transcript         string                   `json:"transcript,omitempty"`
	Summary            string                   `json:"summary,omitempty"`
	FailedStage        string                   `json:"failedStage,omitempty"`
	Error              string                   `json:"error,omitempty"`
	Timings            map[string]time.Duration `json:"timings,omitempty"`
}

// ResourceSample is a point-in-time host and GPU telemetry reading.
// GPU fields are nil together with a populated GPUError when the GPU
// cannot be queried; host fields are always present in a valid sample.
type ResourceSample struct {
	CPUPercent            float64  `json:"cpu_percent"`
	MemPercent            float64  `json:"mem_percent"`
	ProcessMemMB          float64  `json:"process_mem_mb"`
	GPUUtilizationPercent *float64 `json:"gpu_utilization_percent"`
	GPUMemPercent         *float64 `json:"gpu_mem_percent"`
	GPUMemUsedMB          *float64 `json:"gpu_mem_used_mb"`
	GPUMemTotalMB         *float64 `json:"gpu_mem_total_mb"`
	GPUError              string   `json:"gpu_error,omitempty"`
}

// Settings contains runtime configuration loaded from settings.json.
type Settings struct {
	Bind                string `json:"bind"`
	InferenceServiceURL string `json:"inference_service_url"`
	LLMServiceURL       string `json:"llm_service_url"`
	LLMAPIEndpoint      string `json:"llm_api_endpoint"`
	LLMAPIKey           string `json:"llm_api_key"`
	LLMAPIAuth          bool   `json:"llm_api_auth"`
	LLMAPIModel         string `json:"llm_api_model"`
	HFAccessToken       string `json:"hf_access_token"`
	GPUDeviceIndex      int    `json:"gpu_device_index"`
	ArtifactDir         string `json:"artifact_dir"`
	PromptTemplatePath  string `json:"prompt_template_path"`
	LogLevel            string `json:"log_level"`
}
