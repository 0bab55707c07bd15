package session

import (
	"strings"
	"unicode/utf8"

	"github.com/loqalabs/loqa-scribe/internal/history"
)

// transcript maps the cumulative text of successive recognition requests onto
// segments. A request's text keeps growing across speaker switches, so the
// runes already attributed to earlier segments are remembered in consumed.
type transcript struct {
	segments []history.Segment
	base     string // text of the last segment before the current request
	request  string // latest cumulative text of the current request
	consumed int    // runes of request owned by earlier segments
}

func (t *transcript) reset(speaker string) {
	t.segments = []history.Segment{{Speaker: speaker}}
	t.base, t.request, t.consumed = "", "", 0
}

func (t *transcript) clear() {
	t.segments = nil
	t.base, t.request, t.consumed = "", "", 0
}

// update applies a partial or final result of the current request.
func (t *transcript) update(text string) {
	if len(t.segments) == 0 {
		return
	}
	t.request = text
	tail := ""
	if n := utf8.RuneCountInString(text); n > t.consumed {
		tail = string([]rune(text)[t.consumed:])
	}
	t.segments[len(t.segments)-1].Text = joinText(t.base, tail)
}

// commit freezes the current request's text into the last segment so the next
// request appends to it.
func (t *transcript) commit() {
	if len(t.segments) == 0 {
		return
	}
	t.base = t.segments[len(t.segments)-1].Text
	t.request, t.consumed = "", 0
}

// speaker is the label of the open segment, if any.
func (t *transcript) speaker() string {
	if len(t.segments) == 0 {
		return ""
	}
	return t.segments[len(t.segments)-1].Speaker
}

// open starts a segment for speaker at offset seconds.
func (t *transcript) open(speaker string, offset float64) {
	if n := len(t.segments); n > 0 && offset < t.segments[n-1].Offset {
		offset = t.segments[n-1].Offset
	}
	t.consumed = utf8.RuneCountInString(t.request)
	t.base = ""
	t.segments = append(t.segments, history.Segment{Speaker: speaker, Offset: offset})
}

func joinText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
