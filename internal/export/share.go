package export

import (
	"github.com/loqalabs/loqa-scribe/internal/history"
)

type ShareKind string

const (
	ShareText     ShareKind = "text"
	ShareDocument ShareKind = "document"
)

// Payload is what a share sheet receives: plain text or a generated document.
type Payload struct {
	Kind     ShareKind
	Text     string
	Document *Document
}

// Share builds the payload for kind. Documents are rendered as PDF.
func Share(rec history.Record, kind ShareKind, opts Options) (Payload, error) {
	if kind == ShareDocument {
		doc, err := Render(rec, FormatPDF, opts)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Kind: ShareDocument, Document: &doc}, nil
	}
	text, err := Text(rec)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Kind: ShareText, Text: text}, nil
}
