// Package backup manages backend backup archives in a backup directory.
//
// # Layout
//
//	<dir>/<backendID>/<backupID>.bak.zst   zstd-compressed backup stream
//	<dir>/<backendID>/<backupID>.yaml      descriptor
//
// The archive content is whatever the backend writes: a storage engine
// snapshot for engines that support one. The package only compresses,
// checksums and catalogues it.
//
// # Atomicity
//
// Archives and descriptors are written to a temporary file, synced and
// renamed into place. A backup without a descriptor is incomplete and is
// not listed.
//
// # Usage
//
//	m := backup.NewManager(dir, backup.WithCompressionLevel(3))
//	desc, err := m.Create(ctx, "userRoot", "", func(w io.Writer) (uint64, error) {
//		return engine.Snapshot(ctx, w)
//	})
//
//	rc, desc, err := m.Open("userRoot", desc.ID)
//	defer rc.Close()
//	err = engine.Restore(ctx, rc)
package backup
