package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder persists captured audio. Pause drops buffers until Resume.
type Recorder interface {
	Write(pcm []byte) error
	Pause()
	Resume()
	Close() error
	Path() string
}

// RecorderFactory creates one recorder per session.
type RecorderFactory interface {
	NewRecorder(sessionID string, format Format) (Recorder, error)
}

var ErrRecorderClosed = errors.New("audio: recorder closed")

// WavRecorderFactory writes <dir>/<session>.wav files.
type WavRecorderFactory struct {
	Dir string
}

func (f WavRecorderFactory) NewRecorder(sessionID string, format Format) (Recorder, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return NewWavRecorder(filepath.Join(f.Dir, sessionID+".wav"), format)
}

// WavRecorder encodes 16-bit PCM to a WAV file.
type WavRecorder struct {
	path   string
	format Format

	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	paused  bool
	closed  bool
	written int
}

func NewWavRecorder(path string, format Format) (*WavRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &WavRecorder{
		path:   path,
		format: format,
		file:   file,
		enc:    wav.NewEncoder(file, format.SampleRate, 16, format.Channels, 1),
	}, nil
}

func (r *WavRecorder) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if r.paused || len(pcm) < 2 {
		return nil
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: r.format.Channels, SampleRate: r.format.SampleRate},
		SourceBitDepth: 16,
		Data:           pcmToInts(pcm),
	}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	r.written += len(pcm) / 2 * 2
	return nil
}

func (r *WavRecorder) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
}

func (r *WavRecorder) Resume() {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
}

func (r *WavRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	encErr := r.enc.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize recording: %w", encErr)
	}
	return fileErr
}

func (r *WavRecorder) Path() string { return r.path }

// BytesWritten counts PCM bytes accepted while not paused.
func (r *WavRecorder) BytesWritten() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}
