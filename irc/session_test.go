package irc_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"ircfs/irc"
	"ircfs/metrics"
	"ircfs/mockserver"
)

const waitFor = 2 * time.Second

type recordingSink struct {
	mu       sync.Mutex
	events   []irc.Event
	channels []string
}

func (r *recordingSink) Apply(ev irc.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) ChannelNames() []string {
	return r.channels
}

func (r *recordingSink) Events() []irc.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]irc.Event(nil), r.events...)
}

func startSession(t *testing.T, srv *mockserver.Server, sink irc.Sink) (*irc.Session, <-chan error) {
	t.Helper()
	sess := irc.NewSession(irc.Options{
		Settings:          irc.Settings{Host: srv.Host, Port: srv.Port, Nick: "me"},
		Sink:              sink,
		ReconnectInterval: 10 * time.Millisecond,
		Now:               func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) },
	})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errc:
		case <-time.After(waitFor):
			t.Error("session did not stop")
		}
	})
	return sess, errc
}

func TestSession_IdentifiesOnConnect(t *testing.T) {
	srv := mockserver.New()
	defer srv.Close()
	sess, _ := startSession(t, srv, &recordingSink{})

	line, err := srv.NextLine(waitFor)
	require.NoError(t, err)
	require.Equal(t, "USER me 0 * :me", line)
	line, err = srv.NextLine(waitFor)
	require.NoError(t, err)
	require.Equal(t, "NICK me", line)

	require.Eventually(t, func() bool { return sess.State() == irc.Connected }, waitFor, 5*time.Millisecond)
}

func TestSession_AnswersPingWithoutPublishing(t *testing.T) {
	srv := mockserver.New(mockserver.WithWelcome("PING :token123"))
	defer srv.Close()
	sink := &recordingSink{}
	startSession(t, srv, sink)

	line, err := srv.WaitLine("PONG", waitFor)
	require.NoError(t, err)
	require.Equal(t, "PONG :token123", line)
	require.Empty(t, sink.Events())
}

func TestSession_PublishesEventsAcrossChunks(t *testing.T) {
	srv := mockserver.New()
	defer srv.Close()
	sink := &recordingSink{}
	startSession(t, srv, sink)
	_, err := srv.WaitLine("NICK", waitFor)
	require.NoError(t, err)

	require.NoError(t, srv.Send(":alice!a@h PRIVMSG #go :hel"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, srv.Send("lo\r\n\x01garbage without terminator"))
	require.NoError(t, srv.Send("\r\n:bob!b@h JOIN :#go\r\n"))

	require.Eventually(t, func() bool { return len(sink.Events()) == 3 }, waitFor, 5*time.Millisecond)
	evs := sink.Events()
	require.Equal(t, "alice!a@h", evs[0].Sender)
	require.Equal(t, "hello", evs[0].Payload)
	require.Equal(t, "#go", evs[0].Target)
	require.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), evs[0].When)
	require.Equal(t, "\x01garbage", evs[1].Token)
	require.Equal(t, irc.CommandJoin, evs[2].Command())
}

func TestSession_OutboundCommands(t *testing.T) {
	srv := mockserver.New()
	defer srv.Close()
	sess, _ := startSession(t, srv, &recordingSink{})
	_, err := srv.WaitLine("NICK", waitFor)
	require.NoError(t, err)

	sess.Join("#go")
	sess.Say("#go", "first\n\nsecond\r\n")
	sess.Say("bob", "")
	sess.Part("#go")

	for _, want := range []string{
		"JOIN #go",
		"PRIVMSG #go :first",
		"PRIVMSG #go :second",
		"PART #go",
	} {
		line, err := srv.NextLine(waitFor)
		require.NoError(t, err)
		require.Equal(t, want, line)
	}
}

func TestSession_CommandsQueuedBeforeConnectFollowIdentify(t *testing.T) {
	srv := mockserver.New()
	defer srv.Close()
	sess := irc.NewSession(irc.Options{
		Settings: irc.Settings{Host: srv.Host, Port: srv.Port, Nick: "me"},
	})
	sess.Join("#early")
	require.Equal(t, irc.Disconnected, sess.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	for _, want := range []string{"USER me 0 * :me", "NICK me", "JOIN #early"} {
		line, err := srv.NextLine(waitFor)
		require.NoError(t, err)
		require.Equal(t, want, line)
	}
}

func TestSession_ReconnectsAndRejoins(t *testing.T) {
	srv := mockserver.New()
	defer srv.Close()
	sink := &recordingSink{channels: []string{"#a", "#b"}}
	startSession(t, srv, sink)

	require.NoError(t, srv.WaitAccepted(1, waitFor))
	_, err := srv.WaitLine("NICK", waitFor)
	require.NoError(t, err)

	srv.Drop()
	require.NoError(t, srv.WaitAccepted(2, waitFor))

	for _, want := range []string{"USER me 0 * :me", "NICK me", "JOIN #a", "JOIN #b"} {
		line, err := srv.NextLine(waitFor)
		require.NoError(t, err)
		require.Equal(t, want, line)
	}
}

type failingDialer struct {
	mu    sync.Mutex
	calls int
}

func (d *failingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return nil, errors.New("connection refused")
}

func (d *failingDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestSession_ReconnectIsThrottled(t *testing.T) {
	d := &failingDialer{}
	sess := irc.NewSession(irc.Options{
		Settings:          irc.Settings{Host: "irc.invalid", Nick: "me"},
		Dialer:            d,
		ReconnectInterval: time.Hour,
		ReconnectBurst:    3,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := sess.Run(ctx)
	require.ErrorIs(t, err, irc.ErrSessionClosed)
	require.Equal(t, 3, d.Calls())
	require.Equal(t, irc.Disconnected, sess.State())
}

func TestSession_DefaultPort(t *testing.T) {
	sess := irc.NewSession(irc.Options{Settings: irc.Settings{Host: "irc.example.net", Nick: "me"}})
	require.Equal(t, 6667, sess.Settings().Port)
	require.Equal(t, "irc.example.net:6667", sess.Settings().Addr())
}

func TestSession_SendsQuitOnShutdown(t *testing.T) {
	srv := mockserver.New()
	defer srv.Close()
	sess := irc.NewSession(irc.Options{Settings: irc.Settings{Host: srv.Host, Port: srv.Port, Nick: "me"}})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()

	_, err := srv.WaitLine("NICK", waitFor)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sess.State() == irc.Connected }, waitFor, 5*time.Millisecond)
	cancel()

	_, err = srv.WaitLine("QUIT", waitFor)
	require.NoError(t, err)
	require.ErrorIs(t, <-errc, irc.ErrSessionClosed)
}

func TestSession_CommandsDoNotBlockWhileDisconnected(t *testing.T) {
	d := &failingDialer{}
	sess := irc.NewSession(irc.Options{
		Settings:          irc.Settings{Host: "irc.invalid", Nick: "me"},
		Dialer:            d,
		ReconnectInterval: time.Hour,
		ReconnectBurst:    1,
		OutboxSize:        4,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)
	require.Eventually(t, func() bool {
		return d.Calls() == 1 && sess.State() == irc.Disconnected
	}, waitFor, 5*time.Millisecond)

	dropped := metrics.CommandsDropped.WithLabelValues("PRIVMSG")
	before := promtestutil.ToFloat64(dropped)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Say("#go", "1\n2\n3\n4\n5\n6")
		sess.Join("#dev")
		sess.Part("#dev")
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatalf("commands blocked while disconnected; state=%s", sess.State())
	}
	require.Equal(t, irc.Disconnected, sess.State())
	require.Equal(t, before+2, promtestutil.ToFloat64(dropped))
}
