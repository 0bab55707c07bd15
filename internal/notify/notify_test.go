package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/permissions"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

type recorder struct {
	msgs []Message
	err  error
}

func (r *recorder) Notify(_ context.Context, msg Message) error {
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("offline")}
	err := Multi{bad, ok}.Notify(context.Background(), Message{Title: "Saved"})
	if err == nil || len(ok.msgs) != 1 || len(bad.msgs) != 1 {
		t.Fatalf("expected both notifiers called and error returned, got %v", err)
	}
}

func TestGatedRespectsPermission(t *testing.T) {
	cfg := config.Default().Permissions
	cfg.Notifications = "denied"
	auth := permissions.NewStatic(cfg)
	next := &recorder{}
	g := Gated{Next: next, Authorizer: auth}
	if err := g.Notify(context.Background(), Message{Title: "Saved"}); err != nil {
		t.Fatalf("gated notify: %v", err)
	}
	if len(next.msgs) != 0 {
		t.Fatal("expected message suppressed")
	}
	auth.Set(permissions.Notifications, permissions.Granted)
	_ = g.Notify(context.Background(), Message{Title: "Saved"})
	if len(next.msgs) != 1 {
		t.Fatal("expected message delivered once granted")
	}
}

func TestBusNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	defer srv.Shutdown()
	client, err := bus.Connect(context.Background(), "notify-test", config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	sub, err := client.Conn().SubscribeSync("scribe.notify")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := (Bus{Client: client, Subject: "scribe.notify"}).Notify(context.Background(), Message{Title: "Transcription saved", Body: "Meeting", RecordID: "r1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var n protocol.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Title != "Transcription saved" || n.RecordID != "r1" {
		t.Fatalf("unexpected notification %+v", n)
	}
}
