// Package irc implements the client side of the chat protocol: line
// framing, message parsing and a self-reconnecting session that feeds
// parsed events into a Sink.
package irc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"ircfs/metrics"
)

// DefaultPort is the standard plaintext IRC port.
const DefaultPort = 6667

// Defaults applied by NewSession for zero-valued Options.
const (
	DefaultReconnectInterval = time.Second
	DefaultReconnectBurst    = 3
	DefaultOutboxSize        = 1024
	readChunkSize            = 4096
)

// ErrSessionClosed is returned by Run once its context is done.
var ErrSessionClosed = errors.New("irc: session closed")

// Settings is the immutable session configuration.
type Settings struct {
	Host string
	Port int
	Nick string
}

// Addr returns host:port for dialing.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Sink consumes the event stream. Apply is called from the session
// goroutine only.
type Sink interface {
	Apply(ev Event)
	// ChannelNames lists the channels to rejoin after a reconnect.
	ChannelNames() []string
}

// Dialer opens the transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// State is the connection state of a Session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Options configures a Session.
type Options struct {
	Settings Settings
	Sink     Sink
	Dialer   Dialer
	Logger   *slog.Logger

	// ReconnectInterval and ReconnectBurst shape the token bucket that
	// throttles dial attempts: the first ReconnectBurst attempts are
	// immediate, later ones wait ReconnectInterval each.
	ReconnectInterval time.Duration
	ReconnectBurst    int

	// OutboxSize bounds the number of queued outbound lines. Lines sent
	// while the outbox is full are dropped.
	OutboxSize int

	// Now stamps inbound events. Defaults to time.Now.
	Now func() time.Time
}

// Session owns the transport, the framer and the parser. All of them,
// and every call into the Sink, live on the goroutine running Run.
// Say, Join and Part may be called from any goroutine.
type Session struct {
	settings Settings
	sink     Sink
	dialer   Dialer
	log      *slog.Logger
	limiter  *rate.Limiter
	now      func() time.Time

	outbox chan string
	// framer is only touched by serve.
	framer Framer
	state  atomic.Int32
	// connects counts successful transport opens.
	connects atomic.Int64
}

// NewSession creates a session. It does not connect until Run is called.
func NewSession(opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.ReconnectBurst <= 0 {
		opts.ReconnectBurst = DefaultReconnectBurst
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOutboxSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Settings.Port == 0 {
		opts.Settings.Port = DefaultPort
	}
	return &Session{
		settings: opts.Settings,
		sink:     opts.Sink,
		dialer:   opts.Dialer,
		log:      opts.Logger,
		limiter:  rate.NewLimiter(rate.Every(opts.ReconnectInterval), opts.ReconnectBurst),
		now:      opts.Now,
		outbox:   make(chan string, opts.OutboxSize),
	}
}

// Settings returns the session configuration.
func (s *Session) Settings() Settings {
	return s.settings
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if st == Connected {
		metrics.Connected.Set(1)
	} else {
		metrics.Connected.Set(0)
	}
}

// Run connects and keeps the session connected until ctx is done,
// reopening the transport every time it closes. It always returns a
// non-nil error wrapping ErrSessionClosed.
func (s *Session) Run(ctx context.Context) error {
	addr := s.settings.Addr()
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		s.setState(Connecting)
		s.log.Info("connecting", "addr", addr, "nick", s.settings.Nick)
		conn, err := s.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			s.setState(Disconnected)
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrSessionClosed, context.Cause(ctx))
			}
			metrics.Connects.WithLabelValues("error").Inc()
			s.log.Warn("connect failed", "addr", addr, "error", err)
			continue
		}
		metrics.Connects.WithLabelValues("ok").Inc()

		err = s.serve(ctx, conn)
		s.setState(Disconnected)
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrSessionClosed, context.Cause(ctx))
		}
		s.log.Warn("transport closed, reconnecting", "addr", addr, "error", err)
	}
}

// serve runs one transport lifetime. It returns when the transport
// closes or ctx is done.
func (s *Session) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, readChunkSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-done:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	reconnect := s.connects.Add(1) > 1
	s.identify(conn)
	if reconnect && s.sink != nil {
		for _, ch := range s.sink.ChannelNames() {
			s.writeLine(conn, "JOIN "+ch)
		}
	}
	s.setState(Connected)
	s.log.Info("connected", "addr", conn.RemoteAddr().String())

	s.framer.Reset()
	for {
		select {
		case <-ctx.Done():
			s.writeLine(conn, "QUIT :unmounted")
			return ctx.Err()
		case err := <-readErr:
			if err == nil {
				err = io.EOF
			}
			return err
		case chunk := <-chunks:
			s.framer.Feed(chunk)
			for line := range s.framer.Drain() {
				s.handleLine(conn, line)
			}
		case line := <-s.outbox:
			s.writeLine(conn, line)
		}
	}
}

// identify sends the registration sequence. It is not gated on any
// server reply.
func (s *Session) identify(w io.Writer) {
	nick := s.settings.Nick
	s.writeLine(w, "USER "+nick+" 0 * :"+nick)
	s.writeLine(w, "NICK "+nick)
}

func (s *Session) handleLine(w io.Writer, line string) {
	ev, ok := Parse(line, s.now())
	if !ok {
		metrics.LinesReceived.WithLabelValues("dropped").Inc()
		s.log.Debug("dropping unparseable line", "line", line)
		return
	}
	metrics.LinesReceived.WithLabelValues("parsed").Inc()
	s.log.Debug("event",
		"command", ev.Token,
		"sender", ev.Sender,
		"target", ev.Target,
		"payload", ev.Payload)

	if ev.Command() == CommandPing {
		s.writeLine(w, "PONG :"+ev.Payload)
		return
	}
	if s.sink != nil {
		s.sink.Apply(ev)
	}
}

// writeLine writes one terminated line. Write failures are logged
// only; a dead transport shows up on the read side.
func (s *Session) writeLine(w io.Writer, line string) {
	cmd, _, _ := strings.Cut(line, " ")
	metrics.CommandsSent.WithLabelValues(cmd).Inc()
	if _, err := io.WriteString(w, line+"\r\n"); err != nil {
		s.log.Debug("write failed", "command", cmd, "error", err)
	}
}

// enqueue hands line to the connection goroutine without blocking.
// When the outbox is full, typically because the server has been
// unreachable for a while, the line is dropped and counted.
func (s *Session) enqueue(line string) {
	select {
	case s.outbox <- line:
	default:
		cmd, _, _ := strings.Cut(line, " ")
		metrics.CommandsDropped.WithLabelValues(cmd).Inc()
		s.log.Warn("outbox full, dropping command", "command", cmd, "state", s.State().String())
	}
}

// Say sends text to target, one PRIVMSG per non-empty line.
func (s *Session) Say(target, text string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		s.enqueue("PRIVMSG " + target + " :" + line)
	}
}

// Join asks the server to join channel.
func (s *Session) Join(channel string) {
	s.enqueue("JOIN " + channel)
}

// Part asks the server to leave channel.
func (s *Session) Part(channel string) {
	s.enqueue("PART " + channel)
}
