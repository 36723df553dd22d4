package replication

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

// Handler receives every message read from a peer session.
type Handler func(s *Session, m Message)

// Server accepts peer connections and reads messages from them.
type Server struct {
	addr     string
	opts     SessionOptions
	handler  Handler
	logger   logging.Logger
	listener net.Listener
	sessions map[*Session]struct{}
	closed   bool
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewServer creates a server for addr. opts applies to every accepted
// session; its Name is replaced by the remote address.
func NewServer(addr string, opts SessionOptions, handler Handler) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		addr:     addr,
		opts:     opts,
		handler:  handler,
		logger:   logger.WithFields("listen", addr),
		sessions: make(map[*Session]struct{}),
	}
}

// Listen starts accepting connections.
func (srv *Server) Listen() error {
	ln, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return err
	}
	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()

	srv.wg.Add(1)
	go srv.acceptLoop(ln)
	srv.logger.Info("replication listener started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (srv *Server) Addr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener != nil {
		return srv.listener.Addr().String()
	}
	return srv.addr
}

func (srv *Server) acceptLoop(ln net.Listener) {
	defer srv.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			srv.mu.Lock()
			closed := srv.closed
			srv.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			srv.logger.Warn("accept failed", "error", err)
			continue
		}

		opts := srv.opts
		opts.Name = conn.RemoteAddr().String()
		opts.Logger = srv.logger.WithRequestID(logging.GenerateRequestID())
		s := NewSession(conn, opts)

		srv.mu.Lock()
		if srv.closed {
			srv.mu.Unlock()
			s.Close()
			return
		}
		srv.sessions[s] = struct{}{}
		srv.wg.Add(1)
		srv.mu.Unlock()
		go srv.serve(s)
	}
}

func (srv *Server) serve(s *Session) {
	defer srv.wg.Done()
	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, s)
		srv.mu.Unlock()
		s.Close()
	}()

	s.logger.Debug("peer connected")
	for {
		m, err := s.Receive()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, ErrSessionClosed):
				s.logger.Debug("peer disconnected")
			default:
				s.logger.Warn("closing peer session", "error", err)
			}
			return
		}
		if srv.handler != nil {
			srv.handler(s, m)
		}
	}
}

// Close stops accepting, closes every session and waits for their readers
// to exit.
func (srv *Server) Close() error {
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		return nil
	}
	srv.closed = true
	ln := srv.listener
	for s := range srv.sessions {
		s.Close()
	}
	srv.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	srv.wg.Wait()
	return err
}
