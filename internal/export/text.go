package export

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/history"
)

// Text renders the transcript as plain text, one segment per paragraph.
func Text(rec history.Record) (string, error) {
	lines := bodyLines(rec)
	if len(lines) == 0 {
		return "", ErrEmptyInput
	}
	return strings.Join(lines, "\n\n") + "\n", nil
}

// Markdown renders a titled transcript with its metadata.
func Markdown(rec history.Record, opts Options) (string, error) {
	lines := bodyLines(rec)
	if len(lines) == 0 {
		return "", ErrEmptyInput
	}
	opts = opts.withDefaults()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title(rec))
	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- Date: %s\n", rec.CreatedAt.Format(opts.TitleLayout))
	}
	if speakers := speakersOf(rec); len(speakers) > 0 {
		fmt.Fprintf(&b, "- Speakers: %s\n", strings.Join(speakers, ", "))
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(&b, "- Tags: %s\n", strings.Join(rec.Tags, ", "))
	}
	if rec.Favorite {
		b.WriteString("- Favorite: yes\n")
	}
	b.WriteString("\n---\n\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func speakersOf(rec history.Record) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, seg := range rec.Segments {
		if seg.Speaker == "" || strings.TrimSpace(seg.Text) == "" {
			continue
		}
		if _, ok := seen[seg.Speaker]; ok {
			continue
		}
		seen[seg.Speaker] = struct{}{}
		out = append(out, seg.Speaker)
	}
	return out
}
