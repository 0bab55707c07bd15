package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/control"
	"github.com/loqalabs/loqa-scribe/internal/entitlement"
	"github.com/loqalabs/loqa-scribe/internal/export"
	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/journal"
	"github.com/loqalabs/loqa-scribe/internal/kv"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/notify"
	"github.com/loqalabs/loqa-scribe/internal/permissions"
	"github.com/loqalabs/loqa-scribe/internal/prefs"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/session"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	started     chan struct{}
	wg          sync.WaitGroup

	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	kvStore     kv.Store
	journal     *journal.Store
	entitlement *entitlement.Service
	gateChanges <-chan bool
	controller  *session.Controller
	control     *control.Service
	addr        string

	closers []func()
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		started: make(chan struct{}),
	}
}

// Ready is closed once every component is up and the HTTP listener is bound.
func (r *Runtime) Ready() <-chan struct{} { return r.started }

// Addr is the bound HTTP address; valid after Ready.
func (r *Runtime) Addr() string { return r.addr }

// BusURL is the NATS URL clients should use; valid after Ready.
func (r *Runtime) BusURL() string {
	if len(r.cfg.Bus.Servers) == 0 {
		return ""
	}
	return r.cfg.Bus.Servers[0]
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.shutdown()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Handle("/v1/", r.control.Handler())

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.addr = ln.Addr().String()
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, ln)

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		mln, err := net.Listen("tcp", bind)
		if err != nil {
			r.logger.Warn("metrics listener unavailable", slog.String("addr", bind), slog.String("error", err.Error()))
		} else {
			r.metricsSrv = &http.Server{Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
			r.serve(r.metricsSrv, mln)
		}
	}

	r.wg.Add(2)
	go r.pruneJournal(ctx)
	go r.announceEntitlement(ctx)

	r.ready.Store(true)
	close(r.started)
	r.logger.Info("runtime started", slog.String("addr", r.addr), slog.String("bus", r.BusURL()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	return nil
}

// startComponents brings the services up in dependency order and registers
// their closers; shutdown runs the closers in reverse.
func (r *Runtime) startComponents(ctx context.Context) error {
	cfg := r.cfg
	log := r.logger

	srv, err := natsserver.Start(cfg.Bus, log)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	if srv != nil {
		r.natsServer = srv
		r.cfg.Bus.Servers = []string{srv.ClientURL()}
		r.closers = append(r.closers, srv.Shutdown)
	}

	r.busClient, err = bus.Connect(ctx, cfg.RuntimeName, r.cfg.Bus, log)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.closers = append(r.closers, r.busClient.Close)

	r.kvStore, err = kv.Open(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	r.closers = append(r.closers, r.closeWith("storage", r.kvStore.Close))

	hist, err := history.Open(ctx, r.kvStore, log)
	if err != nil {
		return err
	}
	speakers := prefs.New(r.kvStore)

	r.journal, err = journal.Open(ctx, cfg.Journal, log)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	r.closers = append(r.closers, r.closeWith("journal", r.journal.Close))

	recognizer, err := stt.New(cfg.STT, r.busClient, log)
	if err != nil {
		return fmt.Errorf("init recognizer: %w", err)
	}

	source, err := r.audioSource()
	if err != nil {
		return err
	}

	authorizer := permissions.NewStatic(cfg.Permissions)

	r.entitlement = entitlement.NewService(ctx, cfg.Entitlement, r.busClient, log)
	if err := r.entitlement.Start(); err != nil {
		return fmt.Errorf("start entitlement: %w", err)
	}
	r.closers = append(r.closers, r.entitlement.Close)
	r.gateChanges = r.entitlement.Watch()

	r.controller = session.NewController(ctx, session.Options{
		Config:       cfg.Session,
		Locale:       cfg.STT.Locale,
		Recognizer:   recognizer,
		Source:       source,
		AudioSession: audio.NewExclusiveSession(),
		Recorders:    r.recorders(),
		Permissions:  authorizer,
		History:      hist,
		Notifier:     r.notifier(authorizer),
		Timeline:     r.journal,
		Logger:       log,
	})
	r.closers = append(r.closers, r.controller.Close)

	r.control = control.NewService(ctx, control.Options{
		Controller: r.controller,
		History:    hist,
		Prefs:      speakers,
		Gate:       r.entitlement,
		GatePDF:    cfg.Entitlement.GatePDFExport,
		Export:     export.OptionsFromConfig(cfg.Export, cfg.Session.TitleLayout),
		ExportDir:  cfg.Export.Dir,
		Timeout:    time.Duration(cfg.Bus.RequestTimeout) * time.Millisecond,
	}, r.busClient, log)
	if err := r.control.Start(); err != nil {
		return fmt.Errorf("start control: %w", err)
	}
	r.closers = append(r.closers, r.control.Close)
	return nil
}

func (r *Runtime) audioSource() (audio.Source, error) {
	cfg := r.cfg
	switch cfg.Audio.Source {
	case "wav":
		src, err := audio.NewWavSource(cfg.Audio.WavPath, time.Duration(cfg.Audio.FrameDurationMS)*time.Millisecond, cfg.Audio.Realtime)
		if err != nil {
			return nil, fmt.Errorf("open wav source: %w", err)
		}
		return src, nil
	default:
		format := audio.Format{SampleRate: cfg.STT.SampleRate, Channels: cfg.STT.Channels}
		return audio.NewBusSource(r.busClient, cfg.Audio.Device, format, r.logger), nil
	}
}

func (r *Runtime) recorders() audio.RecorderFactory {
	if r.cfg.Audio.RecordingsDir == "" {
		return nil
	}
	return audio.WavRecorderFactory{Dir: r.cfg.Audio.RecordingsDir}
}

func (r *Runtime) notifier(authorizer permissions.Authorizer) notify.Notifier {
	var targets notify.Multi
	if r.cfg.Notify.Desktop {
		targets = append(targets, notify.Desktop{AppName: r.cfg.RuntimeName})
	}
	if r.cfg.Notify.Bus && r.cfg.Notify.Subject != "" {
		targets = append(targets, notify.Bus{Client: r.busClient, Subject: r.cfg.Notify.Subject})
	}
	if len(targets) == 0 {
		return notify.Noop{}
	}
	return notify.Gated{Next: targets, Authorizer: authorizer, Log: r.logger}
}

func (r *Runtime) closeWith(name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			r.logger.Error("close failed", slog.String("component", name), slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) serve(srv *http.Server, ln net.Listener) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("addr", ln.Addr().String()), slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) pruneJournal(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.journal.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("journal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// announceEntitlement republishes subscription changes so clients can
// refresh which exports they offer.
func (r *Runtime) announceEntitlement(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case active, ok := <-r.gateChanges:
			if !ok {
				return
			}
			update := protocol.EntitlementUpdate{Entitlement: entitlement.Pro, Active: active, Timestamp: time.Now().UTC()}
			if err := r.busClient.PublishJSON(protocol.SubjectEntitlementState, update); err != nil {
				r.logger.Warn("publish entitlement state failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) shutdown() {
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) healthy() bool {
	if r.busClient == nil || !r.busClient.Healthy() {
		return false
	}
	return r.control != nil && r.control.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
