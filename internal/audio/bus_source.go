package audio

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/nats-io/nats.go"
)

// BusSource taps PCM frames a capture device publishes on audio.frame.<device>.
type BusSource struct {
	bus    *bus.Client
	device string
	format Format
	log    *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewBusSource(client *bus.Client, device string, format Format, log *slog.Logger) *BusSource {
	return &BusSource{
		bus:    client,
		device: device,
		format: format,
		log:    log.With(slog.String("component", "audio-bus"), slog.String("device", device)),
	}
}

func (s *BusSource) Format() Format { return s.format }

func (s *BusSource) Start(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return ErrSourceRunning
	}
	sub, err := s.bus.Conn().Subscribe(protocol.AudioFrameSubject(s.device), func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			s.log.Warn("invalid audio frame", slog.String("error", err.Error()))
			return
		}
		if frame.SampleRate != 0 && frame.SampleRate != s.format.SampleRate {
			s.log.Warn("dropping frame with unexpected sample rate", slog.Int("sample_rate", frame.SampleRate))
			return
		}
		if len(frame.PCM) > 0 {
			h(frame.PCM)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.log.Info("audio tap installed")
	return nil
}

func (s *BusSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	s.log.Info("audio tap removed")
	return err
}
