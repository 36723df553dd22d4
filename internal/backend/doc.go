// Package backend implements the backend layer of the directory server:
// the units of storage that each serve one or more base DNs, the router
// that maps a DN to its backend, and the persistent searches a backend
// notifies of its writes.
//
// # Hierarchy
//
// Backends form a tree by base DN. A backend whose base DN lies below
// another backend's base DN is that backend's subordinate and owns its
// branch:
//
//	dc=example,dc=com            userRoot
//	  ou=archive,dc=example,...  archiveRoot (subordinate of userRoot)
//
// Router.Route returns the deepest backend whose base DNs contain a DN.
// HandlesEntry answers the same question for a single backend, and the
// package-level HandlesEntry does it for explicit base and exclude sets,
// as used by LDIF import and export.
//
// # Lifecycle
//
// A backend moves through Unconfigured, Configured, Open and Closed, never
// backwards:
//
//	b := backend.NewLocal("userRoot", backend.LocalOptions{Logger: logger})
//	if err := b.Configure(cfg); err != nil { ... }   // *ConfigError
//	if err := b.Open(ctx); err != nil { ... }        // *ConfigError or *InitError
//	defer b.Close()
//
// Entry operations need an open backend. Administrative operations
// (ExportLDIF, ImportLDIF, Verify, RebuildIndexes and the backup
// operations) also run on a configured backend, against a store opened
// for the duration of the call.
//
// # Locking
//
// The backend does not lock DNs. Callers hold a write lock on every DN a
// write names: the entry DN for Add, Delete and Replace, and the old and
// new DN for Rename. Reads take no DN lock.
//
// # Persistent searches
//
// Each backend owns a Registry. Every successful write is published as a
// Change to the registered searches whose base, scope, filter and change
// types match. Close cancels every registered search; a search whose
// event buffer is full is canceled with ErrSubscriberTooSlow.
package backend
