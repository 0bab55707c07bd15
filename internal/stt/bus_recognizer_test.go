package stt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/nats-io/nats.go"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), "stt-test", config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// fakeRemote answers audio frames the way a remote STT worker does.
func fakeRemote(t *testing.T, client *bus.Client, finalText string) {
	t.Helper()
	_, err := client.Conn().Subscribe(protocol.SubjectAudioFramePrefix+".>", func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			return
		}
		if !frame.Final {
			_ = client.PublishJSON(protocol.SubjectTranscriptPartial, protocol.Transcript{
				SessionID: frame.SessionID, Text: "partial", Partial: true, Timestamp: time.Now(),
			})
			return
		}
		_ = client.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{
			SessionID: frame.SessionID, Text: finalText, Timestamp: time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestBusRecognizerRoundTrip(t *testing.T) {
	client := startBus(t)
	fakeRemote(t, client, "remote words")

	r := NewBusRecognizer(client, []string{"en-US"}, time.Second, newLogger())
	if !r.Available("en-US") {
		t.Fatal("expected recognizer available")
	}
	s, err := r.Open(context.Background(), Request{SessionID: "sess", Locale: "en-US", SampleRate: 16000, Channels: 1, Interim: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Push([]byte{1, 0, 2, 0}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	events := collect(t, s)
	last := events[len(events)-1]
	if last.Kind != EventFinal || last.Text != "remote words" {
		t.Fatalf("expected remote final, got %+v", events)
	}
}

func TestBusRecognizerFinalTimeout(t *testing.T) {
	client := startBus(t)
	r := NewBusRecognizer(client, nil, 50*time.Millisecond, newLogger())
	s, err := r.Open(context.Background(), Request{SessionID: "quiet", Locale: "en-US"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.CloseSend()
	events := collect(t, s)
	if len(events) != 1 || CodeOf(events[0].Err) != CodeNoSpeech {
		t.Fatalf("expected no-speech after timeout, got %+v", events)
	}
}

func TestBusRecognizerCancelOnContext(t *testing.T) {
	client := startBus(t)
	r := NewBusRecognizer(client, nil, time.Second, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	s, err := r.Open(ctx, Request{SessionID: "c", Locale: "en-US"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cancel()
	events := collect(t, s)
	if len(events) != 1 || CodeOf(events[0].Err) != CodeCancelled {
		t.Fatalf("expected cancelled, got %+v", events)
	}
}
