// Package heartbeat keeps a replication session from going quiet. A Probe
// publishes a heartbeat message whenever nothing else has been published on
// its session for one interval.
package heartbeat

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/obadir/internal/logging"
	"github.com/KilimcininKorOglu/obadir/internal/replication"
)

// ErrInvalidInterval is returned by New for a non-positive interval.
var ErrInvalidInterval = errors.New("heartbeat: interval must be positive")

// Session is the transport a probe publishes on.
type Session interface {
	Publish(m replication.Message) error
	LastPublish() time.Time
}

// Config configures a Probe.
type Config struct {
	// Name identifies the session in logs and metrics.
	Name     string
	Interval time.Duration
	// Suppress, when set and true, skips publishing. The probe keeps
	// running and resumes publishing once it is cleared.
	Suppress *atomic.Bool
	Logger   logging.Logger
}

// Probe publishes heartbeats on one session from its own goroutine. It
// moves from running to stopped exactly once.
type Probe struct {
	session  Session
	name     string
	interval time.Duration
	suppress *atomic.Bool
	logger   logging.Logger

	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	start   sync.Once
	stop    sync.Once
	stopped atomic.Bool
	errMu   sync.Mutex
	err     error
}

// New creates a probe for session. Call Start to run it.
func New(session Session, cfg Config) (*Probe, error) {
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Probe{
		session:  session,
		name:     cfg.Name,
		interval: cfg.Interval,
		suppress: cfg.Suppress,
		logger:   cfg.Logger.WithFields("peer", cfg.Name),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the probe. Later calls, and calls after Stop, do nothing.
func (p *Probe) Start() {
	p.start.Do(func() {
		if p.stopped.Load() {
			close(p.done)
			return
		}
		go p.run()
	})
}

// Wake makes a sleeping probe re-evaluate immediately.
func (p *Probe) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop stops the probe and waits for its goroutine to exit. No publish
// starts after Stop returns.
func (p *Probe) Stop() {
	p.stop.Do(func() {
		p.stopped.Store(true)
		close(p.stopCh)
	})
	// Resolve a probe that was never started.
	p.start.Do(func() { close(p.done) })
	<-p.done
}

// Stopped reports whether the probe has stopped, by Stop or by a publish
// failure.
func (p *Probe) Stopped() bool {
	return p.stopped.Load()
}

// Done is closed when the probe goroutine has exited.
func (p *Probe) Done() <-chan struct{} {
	return p.done
}

// Err returns the publish error that stopped the probe, if any.
func (p *Probe) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Probe) run() {
	defer close(p.done)
	p.logger.Debug("heartbeat probe started", "interval", p.interval)
	defer p.logger.Debug("heartbeat probe exiting")

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		now := time.Now()
		if !now.Before(p.session.LastPublish().Add(p.interval)) {
			if err := p.beat(now); err != nil {
				p.fail(err)
				return
			}
		}

		sleep := p.session.LastPublish().Add(p.interval).Sub(now)
		if sleep <= 0 {
			sleep = p.interval
		}
		resetTimer(timer, sleep)

		select {
		case <-p.stopCh:
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

func (p *Probe) beat(now time.Time) error {
	if p.suppress != nil && p.suppress.Load() {
		heartbeatsTotal.WithLabelValues(p.name, "suppressed").Inc()
		p.logger.Debug("heartbeat suppressed")
		return nil
	}
	if err := p.session.Publish(replication.HeartbeatMessage{}); err != nil {
		heartbeatsTotal.WithLabelValues(p.name, "failed").Inc()
		return err
	}
	heartbeatsTotal.WithLabelValues(p.name, "sent").Inc()
	p.logger.Debug("heartbeat sent", "at", now)
	return nil
}

func (p *Probe) fail(err error) {
	p.errMu.Lock()
	p.err = fmt.Errorf("heartbeat: publish to %s: %w", p.name, err)
	p.errMu.Unlock()
	p.stopped.Store(true)
	p.logger.Warn("heartbeat probe stopped", "error", err)
}

// resetTimer stops, drains and rearms t.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
