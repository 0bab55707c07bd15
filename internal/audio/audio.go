// Package audio provides capture sources, the exclusive capture session and
// the file recorder used while a transcription session is live.
package audio

import (
	"encoding/binary"
	"errors"
	"sync"
)

// Format describes 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Handler receives captured PCM buffers. It must not retain pcm.
type Handler func(pcm []byte)

// Source produces PCM buffers until stopped.
type Source interface {
	Format() Format
	Start(h Handler) error
	Stop() error
}

type Mode int

const (
	ModeRecord Mode = iota
	ModePlayback
)

func (m Mode) String() string {
	if m == ModePlayback {
		return "playback"
	}
	return "record"
}

var (
	ErrSessionBusy   = errors.New("audio: session already active")
	ErrSourceRunning = errors.New("audio: source already started")
)

// Session is the process-wide audio session that must be activated before capture.
type Session interface {
	Activate(mode Mode) error
	Deactivate() error
}

// ExclusiveSession allows one activation at a time.
type ExclusiveSession struct {
	mu     sync.Mutex
	active bool
	mode   Mode
}

func NewExclusiveSession() *ExclusiveSession {
	return &ExclusiveSession{}
}

func (s *ExclusiveSession) Activate(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrSessionBusy
	}
	s.active = true
	s.mode = mode
	return nil
}

func (s *ExclusiveSession) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

// Active reports the current activation.
func (s *ExclusiveSession) Active() (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.active
}

func intsToPCM(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func pcmToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}
