package readiness

import (
	"context"
	"errors"
	"os"
	"testing"

	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/stages"
)

type fakeInference struct {
	health stages.ServiceHealth
	err    error
}

func (f *fakeInference) Health(ctx context.Context) (stages.ServiceHealth, error) {
	return f.health, f.err
}

type fakeLLM struct {
	err error
}

func (f *fakeLLM) Health(ctx context.Context) error {
	return f.err
}

func healthyInference() *fakeInference {
	return &fakeInference{health: stages.ServiceHealth{
		Status:           "healthy",
		PyannotePipeline: "OK",
		GigaamModel:      "OK",
	}}
}

func realOSChecker(inference InferenceProber, llm LLMProber) *Checker {
	return NewCheckerForTests(inference, llm, os.MkdirAll, os.CreateTemp, os.Remove)
}

// TestCheckerAllPass verifies the ready report when every probe succeeds.
func TestCheckerAllPass(t *testing.T) {
	checker := realOSChecker(healthyInference(), &fakeLLM{})
	settings := domain.Settings{ArtifactDir: t.TempDir()}

	report := checker.Run(context.Background(), settings)
	if !report.Ready {
		t.Fatalf("Ready = false, items = %+v", report.Items)
	}
	if len(report.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(report.Items))
	}
	for _, item := range report.Items {
		if item.Status != domain.CheckStatusPass {
			t.Fatalf("item %s = %s: %s", item.ID, item.Status, item.Message)
		}
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("expected generated timestamp")
	}
}

// TestCheckerInferenceUnreachable checks the failure path and hint.
func TestCheckerInferenceUnreachable(t *testing.T) {
	checker := realOSChecker(&fakeInference{err: errors.New("connection refused")}, &fakeLLM{})

	report := checker.Run(context.Background(), domain.Settings{ArtifactDir: t.TempDir()})
	if report.Ready {
		t.Fatal("Ready = true, want false")
	}

	item := report.Items[0]
	if item.ID != "inference_service" || item.Status != domain.CheckStatusFail {
		t.Fatalf("item = %+v", item)
	}
	if item.Hint == "" {
		t.Fatal("expected a remediation hint")
	}
}

// TestCheckerInferenceModelsLoading checks a reachable but unready service.
func TestCheckerInferenceModelsLoading(t *testing.T) {
	inference := &fakeInference{health: stages.ServiceHealth{
		Status:           "loading",
		PyannotePipeline: "LOADING",
		GigaamModel:      "OK",
		Details:          "downloading pipeline weights",
	}}
	checker := realOSChecker(inference, &fakeLLM{})

	report := checker.Run(context.Background(), domain.Settings{ArtifactDir: t.TempDir()})
	if report.Ready {
		t.Fatal("Ready = true, want false")
	}
	if report.Items[0].Status != domain.CheckStatusFail {
		t.Fatalf("item = %+v", report.Items[0])
	}
}

// TestCheckerLLMDown checks the LLM probe failure.
func TestCheckerLLMDown(t *testing.T) {
	checker := realOSChecker(healthyInference(), &fakeLLM{err: errors.New("model not loaded")})

	report := checker.Run(context.Background(), domain.Settings{ArtifactDir: t.TempDir()})
	if report.Ready {
		t.Fatal("Ready = true, want false")
	}
	if report.Items[1].ID != "llm_service" || report.Items[1].Status != domain.CheckStatusFail {
		t.Fatalf("item = %+v", report.Items[1])
	}
}

// TestCheckerArtifactDirNotWritable checks the write-probe failure path.
func TestCheckerArtifactDirNotWritable(t *testing.T) {
	createTemp := func(dir, pattern string) (*os.File, error) {
		return nil, errors.New("permission denied")
	}
	checker := NewCheckerForTests(healthyInference(), &fakeLLM{},
		func(string, os.FileMode) error { return nil },
		createTemp,
		os.Remove)

	report := checker.Run(context.Background(), domain.Settings{ArtifactDir: "/somewhere"})
	if report.Ready {
		t.Fatal("Ready = true, want false")
	}
	if report.Items[2].ID != "artifact_dir" || report.Items[2].Status != domain.CheckStatusFail {
		t.Fatalf("item = %+v", report.Items[2])
	}
}

// TestCheckerEmptyArtifactDir checks validation before touching the disk.
func TestCheckerEmptyArtifactDir(t *testing.T) {
	checker := realOSChecker(healthyInference(), &fakeLLM{})

	report := checker.Run(context.Background(), domain.Settings{ArtifactDir: "   "})
	if report.Items[2].Status != domain.CheckStatusFail {
		t.Fatalf("item = %+v", report.Items[2])
	}
}

// TestCheckerRemovesWriteProbe verifies no probe files are left behind.
func TestCheckerRemovesWriteProbe(t *testing.T) {
	dir := t.TempDir()
	checker := realOSChecker(healthyInference(), &fakeLLM{})

	report := checker.Run(context.Background(), domain.Settings{ArtifactDir: dir})
	if !report.Ready {
		t.Fatalf("Ready = false, items = %+v", report.Items)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("unexpected leftover file: %s", entries[0].Name())
	}
}
