package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

// WavSource plays a 16-bit WAV file as if it were captured live.
type WavSource struct {
	pcm      []byte
	format   Format
	frame    time.Duration
	realtime bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewWavSource(path string, frame time.Duration, realtime bool) (*WavSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	return &WavSource{
		pcm:      intsToPCM(buf.Data),
		format:   Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)},
		frame:    frame,
		realtime: realtime,
	}, nil
}

func (s *WavSource) Format() Format { return s.format }

func (s *WavSource) Start(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return ErrSourceRunning
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(h, s.stop, s.done)
	return nil
}

func (s *WavSource) run(h Handler, stop, done chan struct{}) {
	defer close(done)
	size := int(s.frame.Seconds() * float64(s.format.BytesPerSecond()))
	size -= size % (2 * max(s.format.Channels, 1))
	if size <= 0 {
		size = 2
	}
	var tick <-chan time.Time
	if s.realtime {
		ticker := time.NewTicker(s.frame)
		defer ticker.Stop()
		tick = ticker.C
	}
	for off := 0; off < len(s.pcm); off += size {
		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				return
			default:
			}
		}
		end := min(off+size, len(s.pcm))
		h(s.pcm[off:end])
	}
}

// Stop halts playback and waits for the handler to return.
func (s *WavSource) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// Done is closed once the whole file has been delivered or playback stopped.
func (s *WavSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
