// Package replication carries messages between directory servers over a
// framed TCP connection.
//
// Each frame is a one-byte message type, a four-byte little-endian payload
// length and the payload:
//
//	[type:1][length:4][data:N]
//
// A Session wraps one connection. Publish writes a frame under a write
// deadline and records the time of the last successful publish, which the
// heartbeat probe reads to decide whether the session has been quiet for
// too long. A Server accepts peer connections and hands every received
// message to a handler.
package replication
