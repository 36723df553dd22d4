package backend

import (
	"fmt"
	"time"

	"github.com/KilimcininKorOglu/obadir/internal/config"
	"github.com/KilimcininKorOglu/obadir/internal/filter"
	"github.com/KilimcininKorOglu/obadir/internal/logging"
	"github.com/KilimcininKorOglu/obadir/internal/schema"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
	"github.com/KilimcininKorOglu/obadir/internal/storage/badgerdb"
	"github.com/KilimcininKorOglu/obadir/internal/storage/memory"
)

// Backend types accepted in configuration.
const (
	TypeMemory = "memory"
	TypeBadger = "badger"
)

// badgerGCInterval is how often a Badger backend runs value log GC.
const badgerGCInterval = 10 * time.Minute

// EngineOptions carries what an engine needs besides the configuration.
type EngineOptions struct {
	Schema *schema.Schema
	Logger logging.Logger
}

// EngineFactory creates an unopened storage engine for a backend
// configuration. Each call returns a fresh engine.
type EngineFactory func(cfg *config.BackendConfig, opts EngineOptions) (storage.Engine, error)

// NewEngine is the default EngineFactory.
func NewEngine(cfg *config.BackendConfig, opts EngineOptions) (storage.Engine, error) {
	if opts.Schema == nil {
		opts.Schema = schema.Default()
	}
	specs, err := IndexSpecs(cfg.Indexes, opts.Schema)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeMemory:
		return memory.New(memory.Options{
			Indexes:  specs,
			Resolver: opts.Schema,
		}), nil
	case TypeBadger:
		return badgerdb.New(badgerdb.Options{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
			Indexes:    specs,
			Resolver:   opts.Schema,
			Logger:     opts.Logger,
			GCInterval: badgerGCInterval,
		}), nil
	}
	return nil, fmt.Errorf("backend: unknown backend type %q", cfg.Type)
}

// IndexSpecs converts index configuration into engine index specs, with
// attribute and rule names canonicalized through s. A nil s uses the
// default schema.
func IndexSpecs(cfgs []config.IndexConfig, s *schema.Schema) ([]storage.IndexSpec, error) {
	if s == nil {
		s = schema.Default()
	}
	specs := make([]storage.IndexSpec, 0, len(cfgs))
	for _, ic := range cfgs {
		spec := storage.IndexSpec{Attribute: s.CanonicalName(ic.Attribute)}
		for _, t := range ic.Types {
			kind, err := filter.ParseIndexType(t)
			if err != nil {
				return nil, fmt.Errorf("index %q: %w", ic.Attribute, err)
			}
			spec.Types = append(spec.Types, kind)
		}
		for _, rule := range ic.MatchingRules {
			spec.Rules = append(spec.Rules, s.CanonicalRule(rule))
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
