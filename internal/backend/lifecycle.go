package backend

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/obadir/internal/config"
)

// Build creates, configures and registers a Local backend for each
// configuration. On error nothing stays registered.
func Build(cfgs []config.BackendConfig, opts LocalOptions, router *Router) ([]Backend, error) {
	built := make([]Backend, 0, len(cfgs))
	rollback := func() {
		for _, b := range built {
			router.Deregister(b.ID())
		}
	}
	for i := range cfgs {
		b := NewLocal(cfgs[i].ID, opts)
		if err := b.Configure(&cfgs[i]); err != nil {
			rollback()
			return nil, err
		}
		if err := router.Register(b); err != nil {
			rollback()
			return nil, err
		}
		built = append(built, b)
	}
	return built, nil
}

// OpenAll opens the backends concurrently. It returns the errors of every
// backend that failed to open, joined; the others stay open.
func OpenAll(ctx context.Context, backends []Backend) error {
	errs := make([]error, len(backends))
	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			errs[i] = b.Open(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// CloseAll closes the backends concurrently and waits for all of them.
func CloseAll(backends []Backend) {
	var g errgroup.Group
	for _, b := range backends {
		g.Go(func() error {
			b.Close()
			return nil
		})
	}
	_ = g.Wait()
}
