package replication

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/obadir/internal/logging"
)

const (
	headerSize = 5

	// MaxFrameSize bounds the payload of a received frame.
	MaxFrameSize = 16 << 20

	// DefaultWriteTimeout applies when SessionOptions.WriteTimeout is zero.
	DefaultWriteTimeout = 30 * time.Second
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// Name identifies the peer in logs. Defaults to the remote address.
	Name string
	// WriteTimeout bounds each Publish.
	WriteTimeout time.Duration
	// ReadTimeout bounds each Receive. Zero waits forever.
	ReadTimeout time.Duration
	Logger      logging.Logger
}

// Session is one framed connection to a peer. Publish and Receive may be
// called concurrently with each other; concurrent Publish calls are
// serialized.
type Session struct {
	conn         net.Conn
	name         string
	logger       logging.Logger
	writeTimeout time.Duration
	readTimeout  time.Duration

	wmu sync.Mutex
	rmu sync.Mutex

	// lastPublish is the time of the last successful Publish. It keeps
	// the monotonic clock reading.
	lastPublish atomic.Pointer[time.Time]
	closed      atomic.Bool
}

// NewSession wraps conn.
func NewSession(conn net.Conn, opts SessionOptions) *Session {
	if opts.Name == "" && conn.RemoteAddr() != nil {
		opts.Name = conn.RemoteAddr().String()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Session{
		conn:         conn,
		name:         opts.Name,
		logger:       opts.Logger.WithFields("peer", opts.Name),
		writeTimeout: opts.WriteTimeout,
		readTimeout:  opts.ReadTimeout,
	}
}

// Dial connects to addr and returns a session on the connection.
func Dial(ctx context.Context, addr string, opts SessionOptions) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("replication: dial %s: %w", addr, err)
	}
	if opts.Name == "" {
		opts.Name = addr
	}
	return NewSession(conn, opts), nil
}

// Name returns the peer name.
func (s *Session) Name() string {
	return s.name
}

// Publish writes m as one frame. On success the publish time is recorded
// for LastPublish.
func (s *Session) Publish(m Message) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	data, err := m.Marshal()
	if err != nil {
		messagesTotal.WithLabelValues("out", m.Type().String(), "error").Inc()
		return err
	}
	if len(data) > MaxFrameSize {
		messagesTotal.WithLabelValues("out", m.Type().String(), "error").Inc()
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	frame := make([]byte, headerSize, headerSize+len(data))
	frame[0] = byte(m.Type())
	binary.LittleEndian.PutUint32(frame[1:headerSize], uint32(len(data)))
	frame = append(frame, data...)

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return s.ioError("publish", err)
	}
	if _, err := s.conn.Write(frame); err != nil {
		messagesTotal.WithLabelValues("out", m.Type().String(), "error").Inc()
		return s.ioError("publish", err)
	}
	now := time.Now()
	s.lastPublish.Store(&now)
	messagesTotal.WithLabelValues("out", m.Type().String(), "ok").Inc()
	return nil
}

// LastPublish returns the time of the last successful Publish, or the zero
// time if nothing has been published.
func (s *Session) LastPublish() time.Time {
	if t := s.lastPublish.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Receive reads and decodes the next frame. It returns io.EOF when the peer
// closes the connection cleanly.
func (s *Session) Receive() (Message, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return nil, s.ioError("receive", err)
		}
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		if errors.Is(err, io.EOF) && !s.closed.Load() {
			return nil, io.EOF
		}
		return nil, s.ioError("receive", err)
	}
	t := MessageType(header[0])
	n := binary.LittleEndian.Uint32(header[1:headerSize])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(s.conn, data); err != nil {
			return nil, s.ioError("receive", err)
		}
	}
	m, err := Decode(t, data)
	if err != nil {
		messagesTotal.WithLabelValues("in", t.String(), "error").Inc()
		return nil, err
	}
	messagesTotal.WithLabelValues("in", t.String(), "ok").Inc()
	return m, nil
}

// Close closes the connection. Calling it more than once is harmless.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func (s *Session) ioError(op string, err error) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return fmt.Errorf("replication: %s to %s: %w", op, s.name, err)
}
