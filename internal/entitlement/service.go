// Package entitlement tracks whether the user holds an active subscription.
package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Pro is the entitlement name that unlocks gated features.
const Pro = "pro"

type Service struct {
	cfg    config.EntitlementConfig
	bus    *bus.Client
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription

	mu         sync.Mutex
	subscribed bool
	watchers   []chan bool
}

func NewService(parent context.Context, cfg config.EntitlementConfig, busClient *bus.Client, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		log:        log.With(slog.String("component", "entitlement")),
		ctx:        ctx,
		cancel:     cancel,
		subscribed: cfg.Subscribed,
	}
}

// Start listens for billing updates. Without a bus the configured state is final.
func (s *Service) Start() error {
	if s.bus == nil || s.cfg.Subject == "" {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(s.cfg.Subject, s.handleUpdate)
	if err != nil {
		return fmt.Errorf("subscribe entitlement updates: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.closeWatchers()
}

func (s *Service) Healthy() bool {
	return s.bus == nil || s.sub != nil
}

func (s *Service) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// Allowed reports whether a gated feature may be used.
func (s *Service) Allowed(gated bool) bool {
	return !gated || s.IsSubscribed()
}

// Watch returns a channel receiving every change of the subscription state.
// It is closed when the service closes.
func (s *Service) Watch() <-chan bool {
	ch := make(chan bool, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		close(ch)
		return ch
	}
	s.watchers = append(s.watchers, ch)
	return ch
}

// Set overrides the subscription state, as a purchase or restore would.
func (s *Service) Set(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed == active {
		return
	}
	s.subscribed = active
	for _, ch := range s.watchers {
		select {
		case ch <- active:
		default:
			// drop the stale value so the watcher sees the latest
			select {
			case <-ch:
			default:
			}
			ch <- active
		}
	}
	s.log.Info("entitlement changed", slog.Bool("subscribed", active))
}

func (s *Service) handleUpdate(msg *nats.Msg) {
	var update protocol.EntitlementUpdate
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		s.log.Warn("invalid entitlement update", slog.String("error", err.Error()))
		return
	}
	if update.Entitlement != "" && update.Entitlement != Pro {
		return
	}
	s.Set(update.Active)
}

func (s *Service) closeWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
}
