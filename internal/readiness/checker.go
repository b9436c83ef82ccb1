package readiness

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/stages"
)

// InferenceProber reports the health of the diarization/transcription service.
type InferenceProber interface {
	Health(ctx context.Context) (stages.ServiceHealth, error)
}

// LLMProber reports the health of the summarization backend.
type LLMProber interface {
	Health(ctx context.Context) error
}

// Checker validates external services and required filesystem paths.
type Checker struct {
	inference InferenceProber
	llm       LLMProber

	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(inference InferenceProber, llm LLMProber) *Checker {
	return &Checker{
		inference:  inference,
		llm:        llm,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// NewCheckerForTests creates a checker with injectable OS dependencies.
func NewCheckerForTests(
	inference InferenceProber,
	llm LLMProber,
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		inference:  inference,
		llm:        llm,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// Run executes all readiness probes and returns a combined report. The
// service is ready only when every probe passes.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.ReadinessReport {
	items := []domain.CheckItem{
		c.checkInference(ctx),
		c.checkLLM(ctx),
		c.checkArtifactDir(settings.ArtifactDir),
	}

	ready := true
	for _, item := range items {
		if item.Status == domain.CheckStatusFail {
			ready = false
			break
		}
	}

	return domain.ReadinessReport{
		GeneratedAt: time.Now().UTC(),
		Ready:       ready,
		Items:       items,
	}
}

// checkInference verifies the diarization/transcription service reports
// both of its models loaded.
func (c *Checker) checkInference(ctx context.Context) domain.CheckItem {
	item := domain.CheckItem{
		ID:   "inference_service",
		Name: "Diarization/transcription service",
	}

	health, err := c.inference.Health(ctx)
	if err != nil {
		item.Status = domain.CheckStatusFail
		item.Message = fmt.Sprintf("Service unreachable: %v", err)
		item.Hint = "Start the inference service and check the configured URL."
		return item
	}

	if !health.Ready() {
		item.Status = domain.CheckStatusFail
		item.Message = fmt.Sprintf(
			"Service not ready: status=%s pipeline=%s model=%s",
			health.Status, health.PyannotePipeline, health.GigaamModel)
		if health.Details != "" {
			item.Message += " (" + health.Details + ")"
		}
		item.Hint = "Wait for model loading to finish or inspect the service logs."
		return item
	}

	item.Status = domain.CheckStatusPass
	item.Message = "Diarization pipeline and transcription model loaded"
	return item
}

// checkLLM verifies the summarization backend answers its health probe.
func (c *Checker) checkLLM(ctx context.Context) domain.CheckItem {
	item := domain.CheckItem{
		ID:   "llm_service",
		Name: "LLM service",
	}

	if err := c.llm.Health(ctx); err != nil {
		item.Status = domain.CheckStatusFail
		item.Message = fmt.Sprintf("LLM not available: %v", err)
		item.Hint = "Start the LLM server and verify the model is loaded."
		return item
	}

	item.Status = domain.CheckStatusPass
	item.Message = "LLM service is up"
	return item
}

// checkArtifactDir validates artifact directory existence and write access.
func (c *Checker) checkArtifactDir(dir string) domain.CheckItem {
	item := domain.CheckItem{
		ID:   "artifact_dir",
		Name: "Artifact directory",
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.CheckStatusFail
		item.Message = "Artifact directory is empty."
		item.Hint = "Set a directory where transcript and summary files can be written."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.CheckStatusFail
		item.Message = fmt.Sprintf("Cannot create artifact directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.CheckStatusFail
		item.Message = fmt.Sprintf("Artifact directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory for artifact export."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.CheckStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}
