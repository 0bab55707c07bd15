// Package notify delivers best-effort user notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/permissions"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

// Message is a local user-facing notice.
type Message struct {
	Title    string
	Body     string
	RecordID string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Noop drops every message.
type Noop struct{}

func (Noop) Notify(context.Context, Message) error { return nil }

// Desktop posts a native desktop notification.
type Desktop struct {
	AppName string
	Icon    string
}

func (d Desktop) Notify(_ context.Context, msg Message) error {
	if d.AppName != "" {
		beeep.AppName = d.AppName
	}
	return beeep.Notify(msg.Title, msg.Body, d.Icon)
}

// Bus publishes notifications for remote presenters.
type Bus struct {
	Client  *bus.Client
	Subject string
}

func (b Bus) Notify(_ context.Context, msg Message) error {
	return b.Client.PublishJSON(b.Subject, protocol.Notification{
		Title:     msg.Title,
		Body:      msg.Body,
		RecordID:  msg.RecordID,
		Timestamp: time.Now().UTC(),
	})
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Gated drops messages unless notification permission is granted.
type Gated struct {
	Next       Notifier
	Authorizer permissions.Authorizer
	Log        *slog.Logger
}

func (g Gated) Notify(ctx context.Context, msg Message) error {
	status, err := g.Authorizer.Request(ctx, permissions.Notifications)
	if err != nil {
		return err
	}
	if status != permissions.Granted {
		if g.Log != nil {
			g.Log.Debug("notification suppressed", slog.String("title", msg.Title))
		}
		return nil
	}
	return g.Next.Notify(ctx, msg)
}
