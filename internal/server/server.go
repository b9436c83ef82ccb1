package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"meeting-summarizer/internal/artifacts"
	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/jobs"
)

// maxUploadBytes caps how much of a multipart upload is buffered in memory
// before spilling to disk. The audio itself is read fully regardless.
const maxUploadBytes = 32 << 20

// allowedExtensions lists the accepted upload audio formats.
var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".ogg":  true,
	".flac": true,
	".m4a":  true,
}

// ArtifactSource renders stored pipeline outputs as downloadable documents.
type ArtifactSource interface {
	RenderDocument(kind artifacts.Kind) ([]byte, error)
}

// ResourceSampler produces one fresh telemetry reading per call.
type ResourceSampler interface {
	Sample(ctx context.Context) (domain.ResourceSample, error)
}

// Server exposes the HTTP API for job submission, polling, artifact
// download, and service telemetry.
type Server struct {
	bind      string
	logger    *slog.Logger
	manager   *jobs.Manager
	artifacts ArtifactSource
	monitor   ResourceSampler
	events    *jobs.EventBus
	readiness func(ctx context.Context) domain.ReadinessReport
	shutdown  func()

	listener net.Listener
	server   *http.Server
}

// New builds the server around its collaborators. shutdown is invoked after
// a /shutdown request has been answered.
func New(
	bind string,
	manager *jobs.Manager,
	artifactSource ArtifactSource,
	monitor ResourceSampler,
	events *jobs.EventBus,
	readiness func(ctx context.Context) domain.ReadinessReport,
	shutdown func(),
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		bind:      bind,
		logger:    logger,
		manager:   manager,
		artifacts: artifactSource,
		monitor:   monitor,
		events:    events,
		readiness: readiness,
		shutdown:  shutdown,
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the route table. Exposed for httptest-based tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/summarize", s.handleSummarize)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/resources", s.handleResources)
	mux.HandleFunc("/download/", s.handleDownload)
	mux.HandleFunc("/service_status", s.handleServiceStatus)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	return mux
}

// Start begins serving on the configured bind address. The listener is
// closed when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listener address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// submitResponse acknowledges an accepted job.
type submitResponse struct {
	JobID   string          `json:"job_id"`
	State   domain.JobState `json:"state"`
	Message string          `json:"message"`
}

// statusResponse is the polling payload for the active or last job.
type statusResponse struct {
	JobID               string             `json:"job_id,omitempty"`
	State               domain.JobState    `json:"state"`
	AudioFile           string             `json:"audio_file,omitempty"`
	FailedStage         string             `json:"failed_stage,omitempty"`
	Error               string             `json:"error,omitempty"`
	Summary             string             `json:"summary,omitempty"`
	StageElapsedSeconds float64            `json:"stage_elapsed_seconds,omitempty"`
	TimingsSeconds      map[string]float64 `json:"timings_seconds,omitempty"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Unsupported file type: %s. Allowed: wav, mp3, ogg, flac, m4a", ext))
		return
	}

	audio, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read audio payload")
		return
	}

	job, err := s.manager.Submit(name, audio)
	switch {
	case errors.Is(err, jobs.ErrBusy):
		s.writeError(w, http.StatusConflict, "A job is already in progress")
		return
	case errors.Is(err, jobs.ErrEmptyAudio):
		s.writeError(w, http.StatusBadRequest, "Audio file is empty")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:   job.ID,
		State:   job.State,
		Message: "Audio accepted for processing",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := s.manager.Status()
	payload := statusResponse{
		JobID:               status.Job.ID,
		State:               status.Job.State,
		AudioFile:           status.Job.AudioName,
		FailedStage:         status.Job.FailedStage,
		Error:               status.Job.Error,
		StageElapsedSeconds: status.StageElapsed.Seconds(),
	}
	if status.Job.State == domain.JobStateCompleted {
		payload.Summary = status.Job.Summary
	}
	if len(status.Job.Timings) > 0 {
		payload.TimingsSeconds = make(map[string]float64, len(status.Job.Timings))
		for stage, elapsed := range status.Job.Timings {
			payload.TimingsSeconds[stage] = elapsed.Seconds()
		}
	}

	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sample, err := s.monitor.Sample(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	target := strings.TrimPrefix(r.URL.Path, "/download/")
	var kind artifacts.Kind
	var fileName string
	switch target {
	case "summary":
		kind = artifacts.KindSummary
		fileName = "summary.pdf"
	case "transcription", "transcript":
		kind = artifacts.KindTranscript
		fileName = "transcription.pdf"
	default:
		s.writeError(w, http.StatusNotFound, "unknown download target")
		return
	}

	document, err := s.artifacts.RenderDocument(kind)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("No %s available yet", target))
			return
		}
		var convErr *artifacts.ConversionError
		if errors.As(err, &convErr) {
			s.writeError(w, http.StatusInternalServerError, convErr.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+fileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(document)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(document)
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	report := s.readiness(r.Context())
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	events := s.events.Since(since)

	next := since
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"next":   next,
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Best effort: a missing active job is not an error for shutdown.
	if err := s.manager.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoActiveJob) {
		s.logger.Warn("cancel on shutdown failed", slog.String("error", err.Error()))
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "Server shutting down"})
	s.logger.Info("shutdown requested via api")

	if s.shutdown != nil {
		go s.shutdown()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
