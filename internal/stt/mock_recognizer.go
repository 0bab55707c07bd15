package stt

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

// NewMockRecognizer returns a recognizer that describes the audio it received
// instead of transcribing it.
func NewMockRecognizer(opts BatchOptions) Recognizer {
	return NewBatchRecognizer(mockTranscriber{}, opts)
}

func (mockTranscriber) Transcribe(_ context.Context, pcm []byte, _ int, _ int, final bool) (TranscriptResult, error) {
	mode := "partial"
	if final {
		mode = "final"
	}
	return TranscriptResult{
		Text:       fmt.Sprintf("[%s transcript length=%d]", mode, len(pcm)),
		Confidence: 0,
	}, nil
}
