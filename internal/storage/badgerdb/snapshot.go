package badgerdb

import (
	"context"
	"fmt"
	"io"

	"github.com/KilimcininKorOglu/obadir/internal/storage"
)

// maxPendingWrites bounds the batches Load keeps in flight.
const maxPendingWrites = 256

// Snapshot writes a full Badger backup stream to w.
func (e *Engine) Snapshot(ctx context.Context, w io.Writer) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	db, release, err := e.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := e.countEntries()
	if err != nil {
		return 0, err
	}
	if _, err := db.Backup(w, 0); err != nil {
		return 0, fmt.Errorf("badgerdb: backup: %w", err)
	}
	return uint64(n), nil
}

// Restore drops every key and loads a backup stream written by Snapshot.
// The ID sequence is reacquired afterwards so new IDs continue above the
// restored ones.
func (e *Engine) Restore(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return storage.ErrClosed
	}

	if err := e.seq.Release(); err != nil {
		return fmt.Errorf("badgerdb: release sequence: %w", err)
	}
	e.seq = nil

	loadErr := e.db.DropAll()
	if loadErr == nil {
		loadErr = e.db.Load(r, maxPendingWrites)
	}

	seq, err := e.db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return fmt.Errorf("badgerdb: sequence: %w", err)
	}
	e.seq = seq

	n, err := e.countEntries()
	if err == nil {
		e.entries.Store(n)
	}
	if loadErr != nil {
		return fmt.Errorf("badgerdb: restore: %w", loadErr)
	}
	return err
}
