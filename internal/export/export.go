// Package export renders saved transcriptions as documents and share payloads.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/history"
)

var ErrEmptyInput = errors.New("export: nothing to export")

type Format string

const (
	FormatPDF      Format = "pdf"
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
)

// ParseFormat accepts the format names and their common aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf":
		return FormatPDF, nil
	case "txt", "text", "":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) MIME() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Options control document layout.
type Options struct {
	PageSize    string
	MarginMM    float64
	FontSize    float64
	TitleLayout string
	FontPath    string
}

func OptionsFromConfig(cfg config.ExportConfig, titleLayout string) Options {
	return Options{
		PageSize:    cfg.PageSize,
		MarginMM:    cfg.MarginMM,
		FontSize:    cfg.FontSize,
		TitleLayout: titleLayout,
		FontPath:    cfg.FontPath,
	}
}

func (o Options) withDefaults() Options {
	if o.PageSize == "" {
		o.PageSize = "A4"
	}
	if o.MarginMM <= 0 {
		o.MarginMM = 20
	}
	if o.FontSize <= 0 {
		o.FontSize = 12
	}
	if o.TitleLayout == "" {
		o.TitleLayout = "Jan 2, 2006 at 3:04 PM"
	}
	return o
}

// Document is a rendered export.
type Document struct {
	Filename string
	MIME     string
	Data     []byte
}

// Render produces the document for format.
func Render(rec history.Record, format Format, opts Options) (Document, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatPDF:
		data, err = PDF(rec, opts)
	case FormatMarkdown:
		var s string
		s, err = Markdown(rec, opts)
		data = []byte(s)
	case FormatText:
		var s string
		s, err = Text(rec)
		data = []byte(s)
	default:
		return Document{}, fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return Document{}, err
	}
	return Document{Filename: Filename(rec, format), MIME: format.MIME(), Data: data}, nil
}

// Filename derives a filesystem-safe name from the record title.
func Filename(rec history.Record, format Format) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(rec.Title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	name := strings.TrimRight(b.String(), "-")
	if name == "" {
		name = "transcription"
		if len(rec.ID) >= 8 {
			name += "-" + rec.ID[:8]
		}
	}
	return name + "." + string(format)
}

// bodyLines returns one line per segment, or the plain text when the record
// has no segments.
func bodyLines(rec history.Record) []string {
	segments, _ := history.JoinSegments(rec.Segments)
	if len(segments) == 0 {
		if text := strings.TrimSpace(rec.Text); text != "" {
			return []string{text}
		}
		return nil
	}
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		prefix := "[" + formatOffset(seg.Offset) + "] "
		if seg.Speaker != "" {
			prefix += seg.Speaker + ": "
		}
		lines = append(lines, prefix+seg.Text)
	}
	return lines
}

func formatOffset(sec float64) string {
	d := time.Duration(sec * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func title(rec history.Record) string {
	if t := strings.TrimSpace(rec.Title); t != "" {
		return t
	}
	return "Transcription"
}
