package transcribe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format is an output format accepted by the transcription endpoint.
type Format string

const (
	FormatTXT  Format = "txt"
	FormatVTT  Format = "vtt"
	FormatSRT  Format = "srt"
	FormatTSV  Format = "tsv"
	FormatJSON Format = "json"
)

// Formats lists the supported formats in documentation order.
var Formats = []Format{FormatTXT, FormatVTT, FormatSRT, FormatTSV, FormatJSON}

// UnsupportedFormatError is returned for an output format outside Formats.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported output format %q", e.Format)
}

// ParseFormat validates s. Matching is exact; "TXT" is rejected.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == s {
			return f, nil
		}
	}
	return "", &UnsupportedFormatError{Format: s}
}

// Result is the outcome of a successful transcription.
type Result struct {
	Text   string
	Format Format
}

type jsonResult struct {
	Transcription string `json:"transcription"`
}

// Body renders the result for the wire. Subtitle formats are passed through
// as produced by the transcriber.
func (r Result) Body() []byte {
	if r.Format == FormatJSON {
		b, _ := json.Marshal(jsonResult{Transcription: r.Text})
		return b
	}
	return []byte(r.Text)
}

// ContentType is the media type matching Body.
func (r Result) ContentType() string {
	if r.Format == FormatJSON {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

func newResult(stdout []byte, f Format) Result {
	return Result{Text: strings.TrimSpace(string(stdout)), Format: f}
}
