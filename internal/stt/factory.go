package stt

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig, client *bus.Client, log *slog.Logger) (Recognizer, error) {
	locales := cfg.Locales
	if len(locales) == 0 && cfg.Locale != "" {
		locales = []string{cfg.Locale}
	}
	opts := BatchOptions{
		Locales:      locales,
		PartialEvery: time.Duration(cfg.PartialEveryMS) * time.Millisecond,
		Timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Logger:       log,
	}

	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(opts), nil
	case "exec":
		t, err := NewExecTranscriber(ExecOptions{
			Command:   cfg.Command,
			ModelPath: cfg.ModelPath,
			Locale:    cfg.Locale,
			Interim:   cfg.PublishInterim,
		})
		if err != nil {
			return nil, err
		}
		return NewBatchRecognizer(t, opts), nil
	case "bus":
		if client == nil {
			return nil, errors.New("bus recognizer requires a bus connection")
		}
		return NewBusRecognizer(client, locales, time.Duration(cfg.TimeoutMS)*time.Millisecond, log), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
