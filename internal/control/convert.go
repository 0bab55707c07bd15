package control

import (
	"time"

	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/session"
)

func toSegments(in []history.Segment) []protocol.Segment {
	if len(in) == 0 {
		return nil
	}
	out := make([]protocol.Segment, len(in))
	for i, s := range in {
		out[i] = protocol.Segment{Speaker: s.Speaker, Text: s.Text, Offset: s.Offset}
	}
	return out
}

func toRecord(r history.Record) protocol.Record {
	return protocol.Record{
		ID:       r.ID,
		Text:     r.Text,
		Date:     r.CreatedAt,
		Title:    r.Title,
		Tags:     r.Tags,
		Favorite: r.Favorite,
		Segments: toSegments(r.Segments),
	}
}

func toRecords(in []history.Record) []protocol.Record {
	out := make([]protocol.Record, len(in))
	for i, r := range in {
		out[i] = toRecord(r)
	}
	return out
}

func toState(st session.State) *protocol.SessionState {
	return &protocol.SessionState{
		SessionID:  st.SessionID,
		Recording:  st.Recording,
		Paused:     st.Paused,
		Speaker:    st.Speaker,
		ElapsedMS:  st.Elapsed.Milliseconds(),
		Segments:   toSegments(st.Segments),
		Transcript: st.Transcript(),
		Error:      st.Error,
		Timestamp:  st.UpdatedAt.UTC().Truncate(time.Millisecond),
	}
}
