package bootstrap

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/jobs"
	"meeting-summarizer/internal/pipeline"
)

func writeSettings(t *testing.T, dir string, settings map[string]any) string {
	t.Helper()

	path := filepath.Join(dir, "settings.json")
	data, err := json.Marshal(settings)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	dir := t.TempDir()
	path := writeSettings(t, dir, map[string]any{
		"artifact_dir": filepath.Join(dir, "artifacts"),
	})

	app, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return app
}

// TestNewWiresComponents checks the full dependency graph comes up from a
// minimal settings file.
func TestNewWiresComponents(t *testing.T) {
	app := newTestApp(t)

	if app.Manager == nil || app.Artifacts == nil || app.Monitor == nil ||
		app.Checker == nil || app.Server == nil || app.Events == nil {
		t.Fatal("expected all components wired")
	}
	if app.Settings.Bind == "" {
		t.Fatal("expected defaulted bind address")
	}
	if app.Manager.Status().Job.State != domain.JobStateIdle {
		t.Fatalf("initial state = %s, want idle", app.Manager.Status().Job.State)
	}
}

// TestNewCreatesArtifactDir checks the artifact directory is prepared.
func TestNewCreatesArtifactDir(t *testing.T) {
	app := newTestApp(t)

	info, err := os.Stat(app.Settings.ArtifactDir)
	if err != nil {
		t.Fatalf("artifact dir missing: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("artifact dir is not a directory")
	}
}

type passthroughStage struct {
	name pipeline.StageName
	out  pipeline.Output
}

func (s *passthroughStage) Name() pipeline.StageName { return s.name }

func (s *passthroughStage) Run(ctx context.Context, in pipeline.Input) (pipeline.Output, error) {
	return s.out, nil
}

// TestProcessFile checks the synchronous wrapper returns a terminal job.
func TestProcessFile(t *testing.T) {
	app := newTestApp(t)

	// Swap in scripted stages so no external services are needed.
	app.Manager = jobs.NewManager(pipeline.NewRunner(nil),
		&passthroughStage{name: pipeline.StageDiarize},
		&passthroughStage{name: pipeline.StageTranscribe, out: pipeline.Output{Transcript: "SPEAKER_00: hi"}},
		&passthroughStage{name: pipeline.StageSummarize, out: pipeline.Output{Summary: "done"}},
		app.Artifacts, app.Events, nil)

	audioPath := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(audioPath, []byte("riff"), 0o644); err != nil {
		t.Fatal(err)
	}

	job, err := app.ProcessFile(context.Background(), audioPath)
	if err != nil {
		t.Fatalf("ProcessFile() error = %v", err)
	}
	if job.State != domain.JobStateCompleted {
		t.Fatalf("state = %s (error %q), want completed", job.State, job.Error)
	}
	if job.Summary != "done" {
		t.Fatalf("summary = %q", job.Summary)
	}
}

// TestProcessFileMissingPath checks the read failure path.
func TestProcessFileMissingPath(t *testing.T) {
	app := newTestApp(t)

	if _, err := app.ProcessFile(context.Background(), "/no/such/file.wav"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// TestRequestShutdownIdempotent checks repeated shutdown requests are safe.
func TestRequestShutdownIdempotent(t *testing.T) {
	app := newTestApp(t)

	app.RequestShutdown()
	app.RequestShutdown()

	select {
	case <-app.stopCh:
	default:
		t.Fatal("stop channel should be closed")
	}
}

// TestNewLoggerLevels checks level parsing.
func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level   string
		debugOn bool
		warnOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"", false, true},
		{"bogus", false, true},
	}
	for _, tc := range cases {
		logger := newLogger(tc.level)
		ctx := context.Background()
		if got := logger.Handler().Enabled(ctx, slog.LevelDebug); got != tc.debugOn {
			t.Fatalf("level %q debug enabled = %v, want %v", tc.level, got, tc.debugOn)
		}
		if got := logger.Handler().Enabled(ctx, slog.LevelWarn); got != tc.warnOn {
			t.Fatalf("level %q warn enabled = %v, want %v", tc.level, got, tc.warnOn)
		}
	}
}

// TestLoadPromptTemplate checks template file handling.
func TestLoadPromptTemplate(t *testing.T) {
	if got, err := loadPromptTemplate(""); err != nil || got != "" {
		t.Fatalf("empty path = %q, %v; want default selection", got, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "summarize_template.txt")
	if err := os.WriteFile(path, []byte("Summarize this:\n%s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := loadPromptTemplate(path)
	if err != nil {
		t.Fatalf("loadPromptTemplate() error = %v", err)
	}
	if got != "Summarize this:\n%s\n" {
		t.Fatalf("template = %q", got)
	}

	if _, err := loadPromptTemplate(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatal("expected error for missing template file")
	}

	bad := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(bad, []byte("no slot here"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadPromptTemplate(bad); err == nil {
		t.Fatal("expected error for template without transcript slot")
	}
}
