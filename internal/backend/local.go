package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/obadir/internal/config"
	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/logging"
	"github.com/KilimcininKorOglu/obadir/internal/schema"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// LocalOptions configures a Local backend.
type LocalOptions struct {
	// Schema canonicalizes attribute names. Nil uses schema.Default().
	Schema *schema.Schema
	Logger logging.Logger
	// EngineFactory creates the storage engine. Nil uses NewEngine.
	EngineFactory EngineFactory
	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Local is a backend that keeps its entries in a storage.Engine owned by
// the process.
type Local struct {
	*Node

	schema    *schema.Schema
	evaluator *filter.Evaluator
	factory   EngineFactory
	now       func() time.Time

	// mu serializes lifecycle transitions and guards the fields below.
	mu          sync.RWMutex
	cfg         *config.BackendConfig
	engine      storage.Engine
	indexes     *storage.IndexSet
	caps        Capability
	writability WritabilityMode
	initErr     error
}

// Compile-time interface check.
var _ Backend = (*Local)(nil)

// NewLocal creates an unconfigured Local backend.
func NewLocal(id string, opts LocalOptions) *Local {
	if opts.Schema == nil {
		opts.Schema = schema.Default()
	}
	if opts.EngineFactory == nil {
		opts.EngineFactory = NewEngine
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Local{
		Node:      NewNode(id, opts.Logger),
		schema:    opts.Schema,
		evaluator: filter.NewEvaluator(opts.Schema),
		factory:   opts.EngineFactory,
		now:       opts.Now,
		indexes:   storage.NewIndexSet(nil),
	}
	b.registry.SetEvaluator(b.evaluator)
	backendState.WithLabelValues(id).Set(float64(StateUnconfigured))
	return b
}

// IsConfigurationAcceptable validates cfg for this backend.
func (b *Local) IsConfigurationAcceptable(cfg *config.BackendConfig) []error {
	errs := config.ValidateBackend(cfg)
	if cfg == nil {
		return errs
	}
	if cfg.ID != b.ID() {
		errs = append(errs, fmt.Errorf("configuration is for backend %q", cfg.ID))
	}
	if _, err := ParseWritability(cfg.Writability); err != nil {
		errs = append(errs, err)
	}
	if _, err := IndexSpecs(cfg.Indexes, b.schema); err != nil {
		errs = append(errs, err)
	}
	if st := b.State(); st == StateOpen || st == StateClosed {
		errs = append(errs, fmt.Errorf("cannot configure a backend that is %s", st))
	}
	return errs
}

// Configure applies cfg. It may be called again before Open to replace a
// configuration, for example after Open reported a *ConfigError.
func (b *Local) Configure(cfg *config.BackendConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if errs := b.IsConfigurationAcceptable(cfg); len(errs) > 0 {
		return &ConfigError{BackendID: b.ID(), Errs: errs}
	}
	cp := *cfg
	bases, err := dn.ParseAll(cp.BaseDNs)
	if err != nil {
		return &ConfigError{BackendID: b.ID(), Errs: []error{err}}
	}
	mode, _ := ParseWritability(cp.Writability)
	specs, _ := IndexSpecs(cp.Indexes, b.schema)
	engine, err := b.factory(&cp, EngineOptions{Schema: b.schema, Logger: b.logger})
	if err != nil {
		return &ConfigError{BackendID: b.ID(), Errs: []error{err}}
	}
	if _, ok := b.advance(StateConfigured, StateUnconfigured, StateConfigured); !ok {
		return &ConfigError{BackendID: b.ID(), Errs: []error{fmt.Errorf("cannot configure a backend that is %s", b.State())}}
	}

	b.cfg = &cp
	b.engine = engine
	b.indexes = storage.NewIndexSet(specs)
	b.writability = mode
	b.caps = capabilitiesOf(engine)
	b.setBaseDNs(bases)
	backendState.WithLabelValues(b.ID()).Set(float64(StateConfigured))

	b.logger.Debug("backend configured",
		"type", cp.Type,
		"baseDNs", cp.BaseDNs,
		"capabilities", b.caps.String(),
	)
	return nil
}

func capabilitiesOf(engine storage.Engine) Capability {
	caps := CapLDIFExport | CapLDIFImport
	if _, ok := engine.(storage.Indexer); ok {
		caps |= CapIndexing
	}
	if _, ok := engine.(storage.Snapshotter); ok {
		caps |= CapBackup | CapRestore
	}
	return caps
}

// Open attaches the storage engine. A *ConfigError leaves the backend
// configured; an *InitError is permanent and returned by every later Open.
func (b *Local) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch st := b.State(); st {
	case StateOpen:
		return nil
	case StateClosed:
		return ErrClosed
	case StateUnconfigured:
		return &ConfigError{BackendID: b.ID(), Errs: []error{ErrNotConfigured}}
	}
	if b.initErr != nil {
		return b.initErr
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	if b.cfg.Type == TypeBadger {
		if fi, err := os.Stat(b.cfg.Path); err == nil && !fi.IsDir() {
			return &ConfigError{BackendID: b.ID(), Errs: []error{fmt.Errorf("path %q is not a directory", b.cfg.Path)}}
		}
	}

	start := time.Now()
	if err := b.engine.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return canceled(err)
		}
		b.initErr = &InitError{BackendID: b.ID(), Err: err}
		b.logger.Error("backend failed to open", "error", err)
		return b.initErr
	}
	if _, ok := b.advance(StateOpen, StateConfigured); !ok {
		// Close ran while the engine was opening and left it to us.
		if err := b.engine.Close(); err != nil {
			b.logger.Error("failed to close storage engine", "error", err)
		}
		b.logger.Warn("backend closed while opening")
		return ErrClosed
	}
	backendState.WithLabelValues(b.ID()).Set(float64(StateOpen))

	b.logger.Info("backend opened",
		"baseDNs", dn.Strings(b.BaseDNs()),
		"entries", b.engine.Stats().EntryCount,
		"writability", b.writability.String(),
		"duration", time.Since(start),
	)
	return nil
}

// Close cancels every persistent search and closes the engine. Calling it
// more than once is harmless. An Open still attaching the engine closes it
// itself and returns ErrClosed.
func (b *Local) Close() {
	prev, ok := b.advance(StateClosed, StateUnconfigured, StateConfigured, StateOpen)
	if !ok {
		return
	}
	n := b.registry.CancelAll(ErrRegistryClosed)

	b.mu.Lock()
	engine := b.engine
	b.mu.Unlock()
	if engine != nil && prev == StateOpen {
		if err := engine.Close(); err != nil {
			b.logger.Error("failed to close storage engine", "error", err)
		}
	}
	backendState.WithLabelValues(b.ID()).Set(float64(StateClosed))
	b.logger.Info("backend closed", "persistentSearches", n)
}

// Config returns a copy of the applied configuration, or nil.
func (b *Local) Config() *config.BackendConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cfg == nil {
		return nil
	}
	cp := *b.cfg
	return &cp
}

func (b *Local) Writability() WritabilityMode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writability
}

func (b *Local) IsPrivate() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg != nil && b.cfg.Private
}

func (b *Local) Capabilities() Capability {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caps
}

func (b *Local) Supports(c Capability) bool {
	return b.Capabilities().Has(c)
}

func (b *Local) IsIndexed(attr string, kind filter.IndexType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.indexes.IsIndexed(b.schema.CanonicalName(attr), kind)
}

func (b *Local) IsFilterIndexed(f *filter.Filter) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return filter.IsIndexed(f, b.indexes, b.schema)
}

// store returns the engine of an open backend.
func (b *Local) store() (storage.Engine, error) {
	switch b.State() {
	case StateOpen:
		b.mu.RLock()
		defer b.mu.RUnlock()
		return b.engine, nil
	case StateClosed:
		return nil, ErrClosed
	default:
		return nil, ErrNotOpen
	}
}

// storeErr classifies an engine error.
func storeErr(op, d string, err error) error {
	switch {
	case errors.Is(err, storage.ErrClosed):
		return ErrClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return canceled(err)
	}
	return opError(op, d, ErrStorage, err)
}

func (b *Local) checkWritable(op, d string, oc OpContext) error {
	if mode := b.Writability(); !mode.Allows(oc.Internal) {
		return opError(op, d, ErrReadOnly, fmt.Errorf("writability is %s", mode))
	}
	return nil
}

func (b *Local) isBase(d dn.DN) bool {
	for _, base := range b.BaseDNs() {
		if d.Equal(base) {
			return true
		}
	}
	return false
}

func (b *Local) notify(c Change) {
	b.registry.Notify(c)
}

func (b *Local) opLogger(oc OpContext) logging.Logger {
	if oc.RequestID != "" {
		return b.logger.WithRequestID(oc.RequestID)
	}
	return b.logger
}
