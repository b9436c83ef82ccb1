package stages

import (
	"strings"

	"meeting-summarizer/internal/domain"
)

// errorSpeaker marks segments the transcriber could not decode.
const errorSpeaker = "ERROR"

// FormatTranscript groups consecutive segments of the same speaker into one
// utterance line. Segments with empty text or an error marker are skipped.
func FormatTranscript(segments []domain.TranscriptSegment) string {
	var b strings.Builder
	currentSpeaker := ""
	var utterance strings.Builder

	flush := func() {
		if currentSpeaker != "" && strings.TrimSpace(utterance.String()) != "" {
			b.WriteString(currentSpeaker)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(utterance.String()))
			b.WriteString("\n")
		}
		utterance.Reset()
	}

	for _, seg := range segments {
		if seg.Speaker == errorSpeaker || strings.TrimSpace(seg.Text) == "" {
			continue
		}
		if seg.Speaker != currentSpeaker {
			flush()
			currentSpeaker = seg.Speaker
		}
		utterance.WriteString(seg.Text)
		utterance.WriteString(" ")
	}
	flush()

	return strings.TrimSpace(b.String())
}
