package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// Server accepts one-shot connections on a Unix socket and forwards the
// text of each connection to its Sink.
type Server struct {
	path       string
	channel    Channel
	sink       Sink
	bufferSize int
	logger     common.Logger

	mu       sync.Mutex
	listener *net.UnixListener
	closed   bool
	active   map[*net.UnixConn]struct{}
	conns    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithBufferSize sets the size of the single read done per connection.
func WithBufferSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithLogger routes server logs somewhere other than the default logger.
func WithLogger(l common.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server for the socket at path. Call Listen, then
// Serve.
func NewServer(path string, channel Channel, sink Sink, opts ...Option) *Server {
	s := &Server{
		path:       path,
		channel:    channel,
		sink:       sink,
		bufferSize: common.DefaultReceiveBuffer,
		logger:     common.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen removes whatever file sits at the socket path and binds a fresh
// listener there. A stale socket from a previous run is simply replaced.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return common.ErrRelayClosed
	}
	if s.listener != nil {
		return nil
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.path, err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("failed to bind relay socket %s: %w", s.path, err)
	}
	// Close removes the file itself.
	ln.SetUnlinkOnClose(false)

	s.listener = ln
	s.logger.Debug("Relay %s listening on %s", s.channel, s.path)
	return nil
}

// Serve runs the accept loop until ctx is done or Close is called.
// It returns nil on an orderly shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("relay %s: Serve called before Listen", s.channel)
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	// Each handler reads on its own but pushes only after the handler of
	// the previous connection has finished, so messages reach the sink in
	// accept order.
	prev := make(chan struct{})
	close(prev)

	var delay time.Duration
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosed() {
				return nil
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > common.AcceptBackoffMax {
				delay = common.AcceptBackoffMax
			}
			s.logger.Error("Relay %s: accept failed: %v; retrying in %v", s.channel, err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns.Add(1)
		if s.active == nil {
			s.active = make(map[*net.UnixConn]struct{})
		}
		s.active[conn] = struct{}{}
		s.mu.Unlock()

		done := make(chan struct{})
		go func(prev <-chan struct{}) {
			defer s.conns.Done()
			defer close(done)
			msg, ok := s.read(conn)
			s.forget(conn)
			<-prev
			if ok {
				s.deliver(msg)
			}
		}(prev)
		prev = done
	}
}

// read does exactly one read and never writes back. It reports false
// when the connection carried no message.
func (s *Server) read(conn *net.UnixConn) (Message, bool) {
	defer conn.Close()

	buf := make([]byte, s.bufferSize)
	n, err := conn.Read(buf)
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		if errors.Is(err, io.EOF) {
			s.logger.Debug("Relay %s: sender closed without data", s.channel)
			return Message{}, false
		}
		s.logger.Error("Relay %s: read failed: %v", s.channel, err)
		return Message{}, false
	}
	if n == 0 {
		return Message{}, false
	}

	msg := Message{
		Channel:  s.channel,
		Text:     strings.ToValidUTF8(string(buf[:n]), "\uFFFD"),
		PeerPID:  peerPID(conn),
		Received: time.Now(),
	}
	s.logger.Debug("Relay %s: %q from pid %d", s.channel, msg.Text, msg.PeerPID)
	return msg, true
}

func (s *Server) deliver(msg Message) {
	if !s.sink.Push(msg) {
		s.logger.Warn("Relay %s: consumer gone, dropped %q", s.channel, msg.Text)
	}
}

func (s *Server) forget(conn *net.UnixConn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, waits for in-flight connections to be delivered
// and removes the socket file. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	// A sender that connected but never wrote must not hold Close forever.
	for conn := range s.active {
		conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	s.conns.Wait()
	return err
}
