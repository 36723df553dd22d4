package backend

import (
	"context"
	"errors"
	"time"

	"github.com/KilimcininKorOglu/obadir/internal/dn"
	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// sinkError marks an error returned by the caller's sink so it is passed
// back unchanged.
type sinkError struct {
	err error
}

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// Search delivers every entry within req.Base at req.Scope that matches
// req.Filter to sink. Indexed filters are narrowed through the engine's
// indexes; others scan the scope. The context is checked before each
// entry and cancellation is reported as ErrCanceled.
func (b *Local) Search(ctx context.Context, req SearchRequest, sink EntrySink) (err error) {
	defer func(start time.Time) { observe(b.ID(), "search", start, err) }(time.Now())

	engine, err := b.store()
	if err != nil {
		return err
	}
	if !dn.ContainsAny(b.BaseDNs(), req.Base) {
		return opError("search", req.Base.String(), ErrNotServed, nil)
	}
	base, err := b.lookup(ctx, engine, "search", req.Base)
	if err != nil {
		return err
	}
	if base == nil {
		return opError("search", req.Base.String(), ErrNoSuchEntry, nil)
	}

	sent := 0
	emit := func(e *storage.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.Filter != nil && !b.evaluator.Evaluate(req.Filter, e.FilterEntry()) {
			return nil
		}
		if req.SizeLimit > 0 && sent >= req.SizeLimit {
			return ErrSizeLimitExceeded
		}
		sent++
		if err := sink(e); err != nil {
			if errors.Is(err, storage.ErrStopScan) {
				return err
			}
			return &sinkError{err: err}
		}
		return nil
	}

	strategy := "scan"
	indexed := false
	if req.Filter != nil && b.IsFilterIndexed(req.Filter) {
		if ix, ok := engine.(storage.Indexer); ok {
			indexed, err = ix.Candidates(ctx, req.Base, req.Scope, req.Filter, emit)
			if indexed {
				strategy = "indexed"
			}
		}
	}
	if err == nil && !indexed {
		err = engine.Scan(ctx, req.Base, req.Scope, emit)
	}
	searchesTotal.WithLabelValues(b.ID(), strategy).Inc()

	var se *sinkError
	switch {
	case err == nil, errors.Is(err, storage.ErrStopScan):
		return nil
	case errors.As(err, &se):
		return se.err
	case errors.Is(err, ErrSizeLimitExceeded):
		return err
	}
	return storeErr("search", req.Base.String(), err)
}
