package artifacts

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

// PDFRenderer renders artifact text into a simple PDF document. Markdown
// emphasis markers are stripped rather than typeset; headings keep their
// own line so summaries stay readable.
type PDFRenderer struct{}

// NewPDFRenderer builds the default renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render produces PDF bytes with a bold title followed by the body text.
func (r *PDFRenderer) Render(title, text string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.AddPage()

	translate := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, translate(title), "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	for _, line := range strings.Split(flattenMarkdown(text), "\n") {
		pdf.MultiCell(0, 6, translate(line), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("emit pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// flattenMarkdown strips common markdown markers from LLM output so the
// plain-text PDF body does not carry them verbatim.
func flattenMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		indent := line[:len(line)-len(trimmed)]

		for strings.HasPrefix(trimmed, "#") {
			trimmed = strings.TrimPrefix(trimmed, "#")
		}
		trimmed = strings.TrimPrefix(trimmed, " ")
		if strings.HasPrefix(trimmed, "- ") {
			trimmed = "• " + trimmed[2:]
		} else if strings.HasPrefix(trimmed, "* ") {
			trimmed = "• " + trimmed[2:]
		}
		trimmed = strings.ReplaceAll(trimmed, "**", "")
		trimmed = strings.ReplaceAll(trimmed, "__", "")

		lines[i] = indent + trimmed
	}
	return strings.Join(lines, "\n")
}
