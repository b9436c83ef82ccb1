package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"meeting-summarizer/internal/domain"
)

const (
	defaultInferenceTimeout = 30 * time.Minute
	defaultHealthTimeout    = 5 * time.Second
)

// ServiceHealth mirrors the model server's /health payload, including the
// load state of the diarization and transcription models.
type ServiceHealth struct {
	Status           string `json:"status"`
	PyannotePipeline string `json:"pyannote_pipeline"`
	GigaamModel      string `json:"gigaam_model"`
	Details          string `json:"details,omitempty"`
}

// Ready reports whether both models are loaded and the service is healthy.
func (h ServiceHealth) Ready() bool {
	return h.Status == "healthy" && h.PyannotePipeline == "OK" && h.GigaamModel == "OK"
}

// RequestError carries the upstream HTTP status and whether the failure is
// worth one in-process retry. Device exhaustion and model-load failures are
// never retryable; gateway hiccups and overload responses are.
type RequestError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

// Error formats the upstream failure.
func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// InferenceClient talks to the GPU model server over HTTP. The server owns
// the process-wide pyannote and GigaAM singletons; this client never assumes
// concurrent calls are safe and is driven by the single pipeline worker.
type InferenceClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// InferenceOption customizes the client.
type InferenceOption func(*InferenceClient)

// WithInferenceHTTPClient overrides the default HTTP client.
func WithInferenceHTTPClient(client *http.Client) InferenceOption {
	return func(c *InferenceClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithInferenceAuthToken sends a bearer token with every request. The model
// server forwards it to Hugging Face when gated pipeline weights need a
// re-download.
func WithInferenceAuthToken(token string) InferenceOption {
	return func(c *InferenceClient) {
		c.authToken = strings.TrimSpace(token)
	}
}

// NewInferenceClient builds a client for the model server at baseURL.
func NewInferenceClient(baseURL string, opts ...InferenceOption) *InferenceClient {
	c := &InferenceClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultInferenceTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health queries the model server's /health endpoint.
func (c *InferenceClient) Health(ctx context.Context) (ServiceHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return ServiceHealth{}, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ServiceHealth{}, fmt.Errorf("inference service unreachable: %w", err)
	}
	defer resp.Body.Close()

	var health ServiceHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return ServiceHealth{}, fmt.Errorf("decode health response: %w", err)
	}
	return health, nil
}

// Diarize uploads audio and returns ordered speaker segments.
func (c *InferenceClient) Diarize(ctx context.Context, name string, audio []byte) ([]domain.SpeakerSegment, error) {
	body, err := c.postAudio(ctx, "/diarize", name, audio, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Segments []domain.SpeakerSegment `json:"segments"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &RequestError{Message: fmt.Sprintf("decode diarization response: %v", err)}
	}
	return payload.Segments, nil
}

// Transcribe uploads audio plus diarization segments and returns transcribed
// segments in segment order.
func (c *InferenceClient) Transcribe(ctx context.Context, name string, audio []byte, segments []domain.SpeakerSegment) ([]domain.TranscriptSegment, error) {
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}

	body, err := c.postAudio(ctx, "/transcribe", name, audio, map[string]string{
		"segments": string(segmentsJSON),
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Segments []domain.TranscriptSegment `json:"segments"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &RequestError{Message: fmt.Sprintf("decode transcription response: %v", err)}
	}
	return payload.Segments, nil
}

// postAudio sends a multipart request with the audio file and extra fields,
// translating transport and upstream failures into RequestErrors.
func (c *InferenceClient) postAudio(ctx context.Context, path, name string, audio []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio_file", name)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write audio payload: %w", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// The model server restarts while models reload; a second attempt
		// may find it back up.
		return nil, &RequestError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Message: fmt.Sprintf("read response: %v", err), Retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(body),
			Retryable:  retryableStatus(resp.StatusCode, body),
		}
	}
	return body, nil
}

// upstreamMessage extracts the error field from a JSON error envelope.
func upstreamMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no error detail provided"
	}
	return msg
}

// retryableStatus classifies upstream failures. Memory exhaustion on the
// device will not clear within the same process, so it is always fatal.
func retryableStatus(status int, body []byte) bool {
	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "out of memory") || strings.Contains(lower, "cuda error") {
		return false
	}

	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
