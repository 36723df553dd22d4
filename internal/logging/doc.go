// Package logging provides structured logging for the directory server.
//
// Loggers take a message plus alternating key/value pairs and are backed by
// log/slog:
//
//	log := logging.New(logging.Config{Level: "info", Format: "json"})
//	log.WithFields("backend", "userRoot").Info("backend opened", "entries", 42)
//
// Use NewNop in tests and wherever output is not wanted.
package logging
