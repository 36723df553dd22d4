package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/obadir/internal/backend"
	"github.com/KilimcininKorOglu/obadir/internal/config"
	"github.com/KilimcininKorOglu/obadir/internal/heartbeat"
	"github.com/KilimcininKorOglu/obadir/internal/replication"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open every backend and replicate changes to the configured peers",
		Long: `Open every backend, connect to the replication peers, keep each peer
session alive with heartbeats and forward every committed change to the
peers. SIGUSR1 toggles heartbeat suppression. SIGINT or SIGTERM shuts down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := loadEnv(opts, nil)
			if err != nil {
				return err
			}
			defer e.close()
			if err := backend.OpenAll(ctx, e.backends); err != nil {
				return err
			}

			s := newServer(e, opts.configPath)
			if err := s.start(ctx); err != nil {
				s.stop()
				return err
			}
			e.logger.Info("obadir started", "backends", len(e.backends), "peers", len(s.peers))

			usr1 := make(chan os.Signal, 1)
			signal.Notify(usr1, syscall.SIGUSR1)
			defer signal.Stop(usr1)
			for {
				select {
				case <-ctx.Done():
					e.logger.Info("shutting down")
					s.stop()
					return nil
				case <-usr1:
					s.toggleSuppression()
				}
			}
		},
	}
}

// peer is an outbound replication session and the probe keeping it alive.
type peer struct {
	name    string
	session *replication.Session
	probe   *heartbeat.Probe
}

// server holds the long-running parts of serve.
type server struct {
	env        *env
	configPath string
	suppress   atomic.Bool

	peers    []*peer
	searches []*backend.PersistentSearch
	listener *replication.Server
	metrics  *http.Server
	watcher  *config.ConfigWatcher
	wg       sync.WaitGroup
}

func newServer(e *env, configPath string) *server {
	return &server{env: e, configPath: configPath}
}

func (s *server) start(ctx context.Context) error {
	cfg := s.env.cfg
	if cfg.Metrics.Enabled {
		if err := s.startMetrics(); err != nil {
			return err
		}
	}
	if cfg.Replication.Listen != "" {
		s.listener = replication.NewServer(cfg.Replication.Listen, replication.SessionOptions{
			WriteTimeout: cfg.Replication.WriteTimeout,
			ReadTimeout:  3 * cfg.Replication.HeartbeatInterval,
			Logger:       s.env.logger,
		}, s.received)
		if err := s.listener.Listen(); err != nil {
			return err
		}
	}
	s.connectPeers(ctx)
	if len(s.peers) > 0 {
		if err := s.forwardChanges(); err != nil {
			return err
		}
	}
	s.watchConfig()
	return nil
}

func (s *server) startMetrics() error {
	cfg := s.env.cfg.Metrics
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return err
	}
	s.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.env.logger.Error("metrics server failed", "error", err)
		}
	}()
	s.env.logger.Info("metrics endpoint started", "address", ln.Addr().String(), "path", cfg.Path)
	return nil
}

// connectPeers dials every peer concurrently and starts a heartbeat probe
// on each session. Peers that cannot be reached are logged and skipped.
func (s *server) connectPeers(ctx context.Context) {
	rc := s.env.cfg.Replication
	peers := make([]*peer, len(rc.Peers))
	var g errgroup.Group
	for i, pc := range rc.Peers {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, rc.WriteTimeout)
			defer cancel()
			sess, err := replication.Dial(dctx, pc.Address, replication.SessionOptions{
				Name:         pc.Name,
				WriteTimeout: rc.WriteTimeout,
				Logger:       s.env.logger,
			})
			if err != nil {
				s.env.logger.Warn("replication peer unreachable", "peer", pc.Name, "error", err)
				return nil
			}
			probe, err := heartbeat.New(sess, heartbeat.Config{
				Name:     pc.Name,
				Interval: rc.HeartbeatInterval,
				Suppress: &s.suppress,
				Logger:   s.env.logger,
			})
			if err != nil {
				sess.Close()
				s.env.logger.Warn("heartbeat disabled", "peer", pc.Name, "error", err)
				return nil
			}
			peers[i] = &peer{name: pc.Name, session: sess, probe: probe}
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range peers {
		if p == nil {
			continue
		}
		s.peers = append(s.peers, p)
		p.probe.Start()
		s.wg.Add(1)
		go s.watchProbe(p)
	}
}

// watchProbe closes a peer's session once its probe fails.
// TODO: redial peers whose probe stopped on a publish error.
func (s *server) watchProbe(p *peer) {
	defer s.wg.Done()
	<-p.probe.Done()
	if err := p.probe.Err(); err != nil {
		s.env.logger.Error("replication peer lost", "peer", p.name, "error", err)
		p.session.Close()
	}
}

// forwardChanges registers a persistent search on every base DN of every
// backend and publishes the changes it sees to the peers.
func (s *server) forwardChanges() error {
	for _, b := range s.env.backends {
		for _, base := range b.BaseDNs() {
			ps := backend.NewPersistentSearch(base, storage.ScopeSubtree, nil, backend.ChangeAll, backend.DefaultEventBuffer)
			if err := b.RegisterPersistentSearch(ps); err != nil {
				return err
			}
			s.searches = append(s.searches, ps)
			s.wg.Add(1)
			go s.forward(b.ID(), ps)
		}
	}
	return nil
}

func (s *server) forward(backendID string, ps *backend.PersistentSearch) {
	defer s.wg.Done()
	for {
		select {
		case <-ps.Done():
			if err := ps.Err(); err != nil && !errors.Is(err, backend.ErrSearchCanceled) {
				s.env.logger.Warn("change forwarding stopped", "backend", backendID, "error", err)
			}
			return
		case c := <-ps.Events():
			msg := &replication.ChangeMessage{
				ChangeNumber: c.ChangeNumber,
				Time:         c.Time,
				Kind:         uint8(c.Type),
				BackendID:    backendID,
				PreviousDN:   c.PreviousDN,
			}
			if c.Entry != nil {
				msg.DN = c.Entry.DN
			}
			for _, p := range s.peers {
				if p.probe.Stopped() {
					continue
				}
				if err := p.session.Publish(msg); err != nil {
					s.env.logger.Warn("change not replicated", "peer", p.name, "change", c.ChangeNumber, "error", err)
				}
			}
		}
	}
}

// received handles messages from inbound peer sessions.
func (s *server) received(sess *replication.Session, m replication.Message) {
	switch msg := m.(type) {
	case replication.HeartbeatMessage:
		s.env.logger.Debug("heartbeat received", "peer", sess.Name())
	case *replication.ChangeMessage:
		s.env.logger.Info("change received",
			"peer", sess.Name(),
			"backend", msg.BackendID,
			"dn", msg.DN,
			"change", msg.ChangeNumber,
		)
	}
}

func (s *server) watchConfig() {
	w, err := config.NewConfigWatcher(&config.WatcherConfig{
		FilePath: s.configPath,
		OnChange: s.configChanged,
		Logger:   s.env.logger,
	})
	if err != nil {
		s.env.logger.Warn("configuration watcher disabled", "error", err)
		return
	}
	s.watcher = w
	w.Start()
}

// configChanged reports which backends a new configuration would change.
// Backends are not reconfigured while open.
func (s *server) configChanged(oldCfg, newCfg *config.Config) {
	logger := s.env.logger
	for i := range newCfg.Backends {
		nb := &newCfg.Backends[i]
		if _, ok := s.env.router.Get(nb.ID); !ok {
			logger.Info("backend added to configuration; restart to open it", "backend", nb.ID)
			continue
		}
		if errs := config.ValidateBackend(nb); len(errs) > 0 {
			logger.Warn("backend configuration rejected", "backend", nb.ID, "error", errors.Join(errs...))
			continue
		}
		if ob, ok := oldCfg.Backend(nb.ID); !ok || !reflect.DeepEqual(ob, nb) {
			logger.Info("backend configuration changed; restart required", "backend", nb.ID)
		}
	}
	for _, ob := range oldCfg.Backends {
		if _, ok := newCfg.Backend(ob.ID); !ok {
			logger.Info("backend removed from configuration; restart to close it", "backend", ob.ID)
		}
	}
	if oldCfg.Replication.HeartbeatInterval != newCfg.Replication.HeartbeatInterval {
		logger.Info("heartbeat interval changed; restart required",
			"old", oldCfg.Replication.HeartbeatInterval,
			"new", newCfg.Replication.HeartbeatInterval,
		)
	}
}

func (s *server) toggleSuppression() {
	on := !s.suppress.Load()
	s.suppress.Store(on)
	s.env.logger.Warn("heartbeat suppression toggled", "suppressed", on)
	for _, p := range s.peers {
		p.probe.Wake()
	}
}

func (s *server) stop() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	for _, p := range s.peers {
		p.probe.Stop()
	}
	for _, ps := range s.searches {
		_ = ps.Cancel(nil)
	}
	for _, p := range s.peers {
		p.session.Close()
	}
	s.wg.Wait()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.env.logger.Warn("replication listener close failed", "error", err)
		}
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metrics.Shutdown(ctx); err != nil {
			s.env.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
}
