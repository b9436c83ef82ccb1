package artifacts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Kind selects one of the two artifact slots.
type Kind string

const (
	KindTranscript Kind = "transcript"
	KindSummary    Kind = "summary"
)

// ErrNotFound is returned when a slot has never been written.
var ErrNotFound = errors.New("artifact not found")

// ConversionError wraps document rendering failures. It never affects job
// state; it surfaces only on the download path.
type ConversionError struct {
	Kind Kind
	Err  error
}

// Error formats the rendering failure.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("render %s document: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying error.
func (e *ConversionError) Unwrap() error { return e.Err }

// Renderer converts artifact text into downloadable document bytes.
type Renderer interface {
	Render(title, text string) ([]byte, error)
}

// Store holds the latest transcript and summary. Each kind has exactly one
// slot, overwritten by the next successful job. Slots are mirrored to plain
// text files so they survive restarts; the file write uses a temp file plus
// rename so a concurrent reader never observes a half-written artifact.
type Store struct {
	mu       sync.RWMutex
	dir      string
	renderer Renderer
	logger   *slog.Logger
	slots    map[Kind]string
}

// fileNames maps each kind to its durable on-disk form.
var fileNames = map[Kind]string{
	KindTranscript: "last_transcription.txt",
	KindSummary:    "last_summary.txt",
}

// NewStore creates the store and rehydrates slots from existing files.
func NewStore(dir string, renderer Renderer, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	s := &Store{
		dir:      dir,
		renderer: renderer,
		logger:   logger,
		slots:    make(map[Kind]string, len(fileNames)),
	}

	for kind, name := range fileNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			continue
		}
		s.slots[kind] = string(data)
		logger.Info("artifact slot rehydrated", slog.String("kind", string(kind)))
	}

	return s, nil
}

// Save overwrites the slot for kind, persisting the durable file first so
// the in-memory slot never refers to text that failed to reach disk.
func (s *Store) Save(kind Kind, text string) error {
	name, ok := fileNames[kind]
	if !ok {
		return fmt.Errorf("unknown artifact kind %q", kind)
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("swap artifact: %w", err)
	}

	s.mu.Lock()
	s.slots[kind] = text
	s.mu.Unlock()

	s.logger.Info("artifact saved", slog.String("kind", string(kind)), slog.Int("bytes", len(text)))
	return nil
}

// SaveTranscript stores the transcript slot.
func (s *Store) SaveTranscript(text string) error {
	return s.Save(KindTranscript, text)
}

// SaveSummary stores the summary slot.
func (s *Store) SaveSummary(text string) error {
	return s.Save(KindSummary, text)
}

// Load returns the latest text for kind or ErrNotFound.
func (s *Store) Load(kind Kind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	text, ok := s.slots[kind]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}

// RenderDocument converts the slot for kind into downloadable bytes.
// An empty slot reports ErrNotFound; renderer faults become a ConversionError.
func (s *Store) RenderDocument(kind Kind) ([]byte, error) {
	text, err := s.Load(kind)
	if err != nil {
		return nil, err
	}

	doc, err := s.renderer.Render(documentTitle(kind), text)
	if err != nil {
		return nil, &ConversionError{Kind: kind, Err: err}
	}
	return doc, nil
}

// documentTitle returns the heading used in rendered documents.
func documentTitle(kind Kind) string {
	switch kind {
	case KindTranscript:
		return "Meeting Transcription"
	case KindSummary:
		return "Meeting Summary"
	default:
		return string(kind)
	}
}
