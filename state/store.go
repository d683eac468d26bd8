// Package state holds the in-memory conversation store: channels and
// private conversations, folded from the protocol event stream and
// from local optimistic updates.
package state

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"ircfs/irc"
	"ircfs/metrics"
)

// ErrNotFound is returned when a channel or conversation does not exist.
var ErrNotFound = errors.New("not found")

// Kind distinguishes channels from private conversations.
type Kind int

const (
	KindChannel Kind = iota + 1
	KindConversation
)

// channel is a joined channel. Only reachable under Store.mu.
type channel struct {
	members map[string]struct{}
	topic   string
	log     []irc.Event
	// transcript is the concatenation of FormatLine over log. It only
	// ever grows.
	transcript []byte
}

// conversation is a private exchange with one remote nick.
type conversation struct {
	log        []irc.Event
	transcript []byte
}

// Entry is a point-in-time copy of a channel or conversation.
type Entry struct {
	Kind Kind
	Name string
	// Members is sorted. Always nil for conversations.
	Members []string
	Topic   string
	// TranscriptSize is the transcript length in bytes.
	TranscriptSize int
	// Modified is the arrival time of the last logged event, zero if
	// nothing was logged yet.
	Modified time.Time
}

// Store is the conversation store. Every method takes the single
// store mutex for its own duration only, and never calls out while
// holding it.
type Store struct {
	mu       sync.Mutex
	nick     string
	channels map[string]*channel
	queries  map[string]*conversation

	log *slog.Logger
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock sets the clock used to stamp local messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store. nick is the local identity used
// as sender for locally echoed messages.
func NewStore(nick string, opts ...Option) *Store {
	s := &Store{
		nick:     nick,
		channels: make(map[string]*channel),
		queries:  make(map[string]*conversation),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Nick returns the local identity.
func (s *Store) Nick() string {
	return s.nick
}

// FormatLine renders one logged event as a transcript line:
//
//	[HH:MM:SS] <nick>: text
func FormatLine(ev irc.Event) string {
	return fmt.Sprintf("[%s] <%s>: %s\n", ev.When.Format("15:04:05"), ev.Nick(), ev.Payload)
}

// channelLocked returns the named channel, creating it if needed.
func (s *Store) channelLocked(name string) *channel {
	ch, ok := s.channels[name]
	if !ok {
		ch = &channel{members: make(map[string]struct{})}
		s.channels[name] = ch
		metrics.Channels.Set(float64(len(s.channels)))
	}
	return ch
}

func (s *Store) queryLocked(nick string) *conversation {
	q, ok := s.queries[nick]
	if !ok {
		q = &conversation{}
		s.queries[nick] = q
		metrics.Conversations.Set(float64(len(s.queries)))
	}
	return q
}

func (ch *channel) append(ev irc.Event) {
	ch.log = append(ch.log, ev)
	ch.transcript = append(ch.transcript, FormatLine(ev)...)
}

func (q *conversation) append(ev irc.Event) {
	q.log = append(q.log, ev)
	q.transcript = append(q.transcript, FormatLine(ev)...)
}

// channelFromTarget recovers a channel name from a reply target such
// as "mynick = #chan" by taking the text after the last marker.
func channelFromTarget(target string) (string, bool) {
	i := strings.LastIndexByte(target, irc.ChannelMarker)
	if i < 0 {
		return "", false
	}
	return target[i:], true
}

// memberPrefixes are the channel-status sigils a names reply puts in
// front of a nick.
const memberPrefixes = "~&@%+"

// Apply folds one protocol event into the store.
func (s *Store) Apply(ev irc.Event) {
	cmd := ev.Command()
	metrics.EventsApplied.WithLabelValues(cmd.String()).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case irc.CommandPrivmsg:
		if irc.IsChannel(ev.Target) {
			s.channelLocked(ev.Target).append(ev)
		} else {
			s.queryLocked(ev.Nick()).append(ev)
		}

	case irc.CommandTopicReply:
		name, ok := channelFromTarget(ev.Target)
		if !ok {
			return
		}
		s.channelLocked(name).topic = ev.Payload
		s.log.Debug("topic set", "channel", name, "topic", ev.Payload)

	case irc.CommandNamesReply:
		name, ok := channelFromTarget(ev.Target)
		if !ok {
			return
		}
		ch := s.channelLocked(name)
		for _, nick := range strings.Split(ev.Payload, " ") {
			nick = strings.TrimLeft(nick, memberPrefixes)
			if nick == "" {
				continue
			}
			ch.members[nick] = struct{}{}
			s.log.Debug("member added", "channel", name, "nick", nick)
		}

	case irc.CommandJoin:
		name := ev.Payload
		if name == "" {
			name = ev.Target
		}
		if name == "" {
			return
		}
		nick := ev.Nick()
		s.channelLocked(name).members[nick] = struct{}{}
		s.log.Debug("member added", "channel", name, "nick", nick)

	case irc.CommandPart:
		ch, ok := s.channels[ev.Target]
		if !ok {
			return
		}
		nick := ev.Nick()
		delete(ch.members, nick)
		s.log.Debug("member removed", "channel", ev.Target, "nick", nick)

	case irc.CommandQuit:
		nick := ev.Nick()
		for _, ch := range s.channels {
			delete(ch.members, nick)
		}
		s.log.Debug("member removed from all channels", "nick", nick)
	}
}

// Append records text sent by the local user to target, one logged
// event per non-empty line, exactly as Session.Say splits it.
func (s *Store) Append(target, text string) {
	when := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		ev := irc.Event{
			Sender:  s.nick,
			Token:   "PRIVMSG",
			Target:  target,
			Payload: line,
			When:    when,
		}
		if irc.IsChannel(target) {
			s.channelLocked(target).append(ev)
		} else {
			s.queryLocked(target).append(ev)
		}
	}
	s.log.Debug("local message", "target", target, "bytes", len(text))
}

// AddChannel creates an empty channel entry if none exists.
func (s *Store) AddChannel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelLocked(name)
}

// RemoveChannel drops a channel with its log and members.
func (s *Store) RemoveChannel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[name]; !ok {
		return fmt.Errorf("channel %s: %w", name, ErrNotFound)
	}
	delete(s.channels, name)
	metrics.Channels.Set(float64(len(s.channels)))
	return nil
}

// ChannelNames returns all channel names, sorted.
func (s *Store) ChannelNames() []string {
	s.mu.Lock()
	names := lo.Keys(s.channels)
	s.mu.Unlock()

	sort.Strings(names)
	return names
}

// ConversationNames returns the nicks of all private conversations, sorted.
func (s *Store) ConversationNames() []string {
	s.mu.Lock()
	names := lo.Keys(s.queries)
	s.mu.Unlock()

	sort.Strings(names)
	return names
}

// Channel returns a snapshot of the named channel.
func (s *Store) Channel(name string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[name]
	if !ok {
		return Entry{}, false
	}
	members := lo.Keys(ch.members)
	sort.Strings(members)
	return Entry{
		Kind:           KindChannel,
		Name:           name,
		Members:        members,
		Topic:          ch.topic,
		TranscriptSize: len(ch.transcript),
		Modified:       lastWhen(ch.log),
	}, true
}

// Conversation returns a snapshot of the conversation with nick.
func (s *Store) Conversation(nick string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queries[nick]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Kind:           KindConversation,
		Name:           nick,
		TranscriptSize: len(q.transcript),
		Modified:       lastWhen(q.log),
	}, true
}

// Transcript copies up to n bytes of the transcript of the named channel
// or conversation starting at off. The result is empty when off is at
// or past the end.
func (s *Store) Transcript(name string, off int64, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t []byte
	if irc.IsChannel(name) {
		ch, ok := s.channels[name]
		if !ok {
			return nil, fmt.Errorf("channel %s: %w", name, ErrNotFound)
		}
		t = ch.transcript
	} else {
		q, ok := s.queries[name]
		if !ok {
			return nil, fmt.Errorf("conversation %s: %w", name, ErrNotFound)
		}
		t = q.transcript
	}
	if off < 0 || off >= int64(len(t)) || n <= 0 {
		return []byte{}, nil
	}
	end := off + int64(n)
	if end > int64(len(t)) {
		end = int64(len(t))
	}
	out := make([]byte, end-off)
	copy(out, t[off:end])
	return out, nil
}

func lastWhen(log []irc.Event) time.Time {
	if len(log) == 0 {
		return time.Time{}
	}
	return log[len(log)-1].When
}
