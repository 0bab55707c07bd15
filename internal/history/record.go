// Package history keeps the ordered list of saved transcriptions.
package history

import (
	"strings"
	"time"
)

// Segment is a span of transcript attributed to one speaker.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Offset  float64 `json:"timestamp"` // seconds since the session started
}

// Record is a saved transcription.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"date"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags,omitempty"`
	Favorite  bool      `json:"isFavorite"`
	Segments  []Segment `json:"segments,omitempty"`
}

// JoinSegments drops blank segments, trims the rest and returns them together
// with their texts joined by single spaces.
func JoinSegments(segments []Segment) ([]Segment, string) {
	kept := make([]Segment, 0, len(segments))
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		seg.Text = text
		kept = append(kept, seg)
		texts = append(texts, text)
	}
	return kept, strings.Join(texts, " ")
}

// DefaultTitle formats the save time into the title used when none is given.
func DefaultTitle(t time.Time, layout string) string {
	if layout == "" {
		layout = "Jan 2, 2006 at 3:04 PM"
	}
	return t.Format(layout)
}

func (r Record) clone() Record {
	out := r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	if r.Segments != nil {
		out.Segments = append([]Segment(nil), r.Segments...)
	}
	return out
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
