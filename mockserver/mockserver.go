// Package mockserver provides an in-process IRC server for testing the
// protocol session over real loopback TCP.
//
// Usage:
//
//	s := mockserver.New(mockserver.WithWelcome(":srv 001 me :hi"))
//	defer s.Close()
//	sess := irc.NewSession(irc.Options{Settings: irc.Settings{Host: s.Host, Port: s.Port, Nick: "me"}})
package mockserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrTimeout is returned by the Wait helpers.
var ErrTimeout = errors.New("mockserver: timeout")

// Server is a minimal line-oriented IRC peer. It records every line a
// client sends and lets the test push lines or drop the connection.
type Server struct {
	ln   net.Listener
	Host string
	Port int

	addr        string
	welcome     []string
	lineHandler func(s *Server, line string)

	mu       sync.Mutex
	conns    []net.Conn
	accepted int
	closed   bool

	lines chan string
	wg    sync.WaitGroup
}

// Option configures a mock server.
type Option func(*Server)

// WithWelcome sets lines written to every new connection right after accept.
func WithWelcome(lines ...string) Option {
	return func(s *Server) {
		s.welcome = lines
	}
}

// WithLineHandler sets a callback invoked for every line received,
// after it has been recorded.
func WithLineHandler(h func(s *Server, line string)) Option {
	return func(s *Server) {
		s.lineHandler = h
	}
}

// WithListenAddr listens on addr instead of an ephemeral loopback port.
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// New starts a server, by default on an ephemeral loopback port. It
// panics if it cannot listen; use Start to get the error instead.
func New(opts ...Option) *Server {
	s, err := Start(opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Start is New with an error return.
func Start(opts ...Option) (*Server, error) {
	s := &Server{
		addr:  "127.0.0.1:0",
		lines: make(chan string, 1024),
	}
	for _, opt := range opts {
		opt(s)
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("mockserver: listen: %w", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s.ln = ln
	s.Host = addr.IP.String()
	s.Port = addr.Port

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.accepted++
		for _, line := range s.welcome {
			io.WriteString(conn, line+"\r\n")
		}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.readLoop(conn)
	}
}

func (s *Server) readLoop(conn net.Conn) {
	defer s.wg.Done()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		select {
		case s.lines <- line:
		default:
		}
		if s.lineHandler != nil {
			s.lineHandler(s, line)
		}
	}
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// WaitAccepted blocks until at least n connections were accepted.
func (s *Server) WaitAccepted(n int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Accepted() >= n {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("%w: %d connections, want %d", ErrTimeout, s.Accepted(), n)
}

// NextLine returns the next line received from any client.
func (s *Server) NextLine(timeout time.Duration) (string, error) {
	select {
	case line := <-s.lines:
		return line, nil
	case <-time.After(timeout):
		return "", ErrTimeout
	}
}

// WaitLine skips received lines until one starts with prefix.
func (s *Server) WaitLine(prefix string, timeout time.Duration) (string, error) {
	deadline := time.After(timeout)
	for {
		select {
		case line := <-s.lines:
			if strings.HasPrefix(line, prefix) {
				return line, nil
			}
		case <-deadline:
			return "", fmt.Errorf("%w waiting for %q", ErrTimeout, prefix)
		}
	}
}

// Send writes raw bytes to the most recent connection, unframed, so
// tests can split lines across chunks.
func (s *Server) Send(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return errors.New("mockserver: no connection")
	}
	_, err := io.WriteString(s.conns[len(s.conns)-1], data)
	return err
}

// SendLine writes one terminated line to the most recent connection.
func (s *Server) SendLine(line string) error {
	return s.Send(line + "\r\n")
}

// Drop closes every open client connection.
func (s *Server) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close stops the listener and drops all clients.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ln.Close()
	s.Drop()
	s.wg.Wait()
}
