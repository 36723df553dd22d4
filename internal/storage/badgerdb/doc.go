// Package badgerdb provides a storage engine on top of BadgerDB.
//
// # Key Layout
//
//	e/<hierarchy key>               -> [id:4][encoded entry]
//	n/<id:4>                        -> <hierarchy key>
//	x/<attr>\x00k<kind>\x00<key>    -> roaring bitmap of entry IDs
//	x/<attr>\x00r<rule>\x00<key>    -> roaring bitmap of entry IDs
//	s/id                            -> entry ID sequence
//
// The hierarchy key is the normalized DN written root first with RDNs
// separated by a zero byte, so a subtree is a contiguous key range and
// parents sort before their children. Entry IDs are big-endian so the
// n/ keys sort numerically.
//
// Writes run in a single Badger transaction per entry and are retried on
// conflict. The engine implements storage.Indexer and storage.Snapshotter;
// snapshots use Badger's backup stream format.
package badgerdb
