package state

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ircfs/irc"
)

var t0 = time.Date(2024, 3, 1, 12, 34, 56, 0, time.UTC)

func ev(line string) irc.Event {
	e, ok := irc.Parse(line, t0)
	if !ok {
		panic("unparseable test line: " + line)
	}
	return e
}

func fixedClock() func() time.Time {
	return func() time.Time { return t0 }
}

func transcript(t *testing.T, s *Store, name string) string {
	t.Helper()
	data, err := s.Transcript(name, 0, 1<<20)
	require.NoError(t, err)
	return string(data)
}

func TestFormatLine(t *testing.T) {
	got := FormatLine(irc.Event{Sender: "alice!a@host", Payload: "hi there", When: t0})
	require.Equal(t, "[12:34:56] <alice>: hi there\n", got)
}

func TestApply_ChannelMessage(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":alice!a@h PRIVMSG #go :hello"))

	e, ok := s.Channel("#go")
	require.True(t, ok)
	require.Equal(t, KindChannel, e.Kind)
	require.Equal(t, 1, strings.Count(transcript(t, s, "#go"), "\n"))
	require.Equal(t, t0, e.Modified)
	require.Equal(t, "[12:34:56] <alice>: hello\n", transcript(t, s, "#go"))
	require.Equal(t, len(transcript(t, s, "#go")), e.TranscriptSize)
}

func TestApply_PrivateMessageKeyedBySender(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":bob!b@h PRIVMSG me :psst"))

	_, ok := s.Conversation("me")
	require.False(t, ok)
	e, ok := s.Conversation("bob")
	require.True(t, ok)
	require.Equal(t, KindConversation, e.Kind)
	require.Nil(t, e.Members)
	require.Equal(t, "[12:34:56] <bob>: psst\n", transcript(t, s, "bob"))
	require.Equal(t, []string{"bob"}, s.ConversationNames())
	require.Empty(t, s.ChannelNames())
}

func TestApply_TopicReply(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":srv 332 me #go :The Go channel"))

	e, ok := s.Channel("#go")
	require.True(t, ok)
	require.Equal(t, "The Go channel", e.Topic)
	require.Zero(t, e.TranscriptSize)
	require.True(t, e.Modified.IsZero())
}

func TestApply_ReplyWithoutChannelIsIgnored(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":srv 332 me :no channel here"))
	s.Apply(ev(":srv 353 me :a b"))
	require.Empty(t, s.ChannelNames())
}

func TestApply_NamesReply(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":srv 353 me = #go :@alice +bob  carol "))
	s.Apply(ev(":srv 353 me = #go :dave"))

	e, _ := s.Channel("#go")
	require.Equal(t, []string{"alice", "bob", "carol", "dave"}, e.Members)
}

func TestApply_JoinPart(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":bob!b@h JOIN :#go"))
	s.Apply(ev(":carol!c@h JOIN #go"))

	e, _ := s.Channel("#go")
	require.Equal(t, []string{"bob", "carol"}, e.Members)

	s.Apply(ev(":bob!b@h PART #go :bye"))
	e, _ = s.Channel("#go")
	require.Equal(t, []string{"carol"}, e.Members)
}

func TestApply_PartOfNonMemberIsNoop(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":srv 353 me = #go :alice"))
	before, _ := s.Channel("#go")

	s.Apply(ev(":zed!z@h PART #go"))
	after, _ := s.Channel("#go")
	require.Equal(t, before, after)

	s.Apply(ev(":zed!z@h PART #unknown"))
	require.Equal(t, []string{"#go"}, s.ChannelNames())
}

func TestApply_QuitScrubsEveryChannel(t *testing.T) {
	s := NewStore("me")
	for i := 0; i < 5; i++ {
		s.Apply(ev(fmt.Sprintf(":srv 353 me = #c%d :bob alice", i)))
	}
	s.Apply(ev(":bob!b@h QUIT :gone"))

	for _, name := range s.ChannelNames() {
		e, _ := s.Channel(name)
		require.Equal(t, []string{"alice"}, e.Members, name)
	}
}

func TestApply_OtherCommandsAreNoops(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":srv 001 me :Welcome"))
	s.Apply(ev(":srv NOTICE me :hello"))
	require.Empty(t, s.ChannelNames())
	require.Empty(t, s.ConversationNames())
}

func TestTranscriptMonotonicity(t *testing.T) {
	s := NewStore("me", WithClock(fixedClock()))
	lines := []string{
		":a!a@h PRIVMSG #go :one",
		":b!b@h PRIVMSG #go :two",
		":srv 332 me #go :topic does not touch the transcript",
		":c!c@h PRIVMSG #go :three",
	}
	prev := ""
	for _, line := range lines {
		e := ev(line)
		s.Apply(e)
		cur := transcript(t, s, "#go")
		require.True(t, strings.HasPrefix(cur, prev))
		if e.Command() == irc.CommandPrivmsg {
			require.Greater(t, len(cur), len(prev))
		} else {
			require.Equal(t, prev, cur)
		}
		prev = cur
	}
	s.Append("#go", "four")
	require.True(t, strings.HasPrefix(transcript(t, s, "#go"), prev))
}

func TestAppend_LocalEcho(t *testing.T) {
	s := NewStore("me", WithClock(fixedClock()))
	s.Append("#go", "hi\n")
	s.Append("bob", "line one\r\n\nline two")

	require.Equal(t, "[12:34:56] <me>: hi\n", transcript(t, s, "#go"))
	require.Equal(t, "[12:34:56] <me>: line one\n[12:34:56] <me>: line two\n", transcript(t, s, "bob"))

	e, _ := s.Conversation("bob")
	require.Equal(t, len(transcript(t, s, "bob")), e.TranscriptSize)
}

func TestAppend_RenderingMatchesInbound(t *testing.T) {
	local := NewStore("me", WithClock(fixedClock()))
	local.Append("#go", "same text")

	remote := NewStore("other")
	remote.Apply(ev(":me!u@h PRIVMSG #go :same text"))

	require.Equal(t, transcript(t, remote, "#go"), transcript(t, local, "#go"))
}

func TestAddRemoveChannel(t *testing.T) {
	s := NewStore("me")
	s.AddChannel("#dev")
	s.AddChannel("#dev")
	require.Equal(t, []string{"#dev"}, s.ChannelNames())

	require.NoError(t, s.RemoveChannel("#dev"))
	require.Empty(t, s.ChannelNames())
	require.ErrorIs(t, s.RemoveChannel("#dev"), ErrNotFound)
}

func TestTranscriptWindow(t *testing.T) {
	s := NewStore("me", WithClock(fixedClock()))
	s.Append("#go", "abc")
	full := transcript(t, s, "#go")

	data, err := s.Transcript("#go", 3, 5)
	require.NoError(t, err)
	require.Equal(t, full[3:8], string(data))

	data, err = s.Transcript("#go", int64(len(full)-2), 100)
	require.NoError(t, err)
	require.Equal(t, full[len(full)-2:], string(data))

	data, err = s.Transcript("#go", int64(len(full)), 10)
	require.NoError(t, err)
	require.Empty(t, data)

	_, err = s.Transcript("#nope", 0, 10)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Transcript("nobody", 0, 10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(":srv 353 me = #go :alice bob"))
	e, _ := s.Channel("#go")
	e.Members[0] = "mallory"

	again, _ := s.Channel("#go")
	require.Equal(t, []string{"alice", "bob"}, again.Members)
}

func TestConcurrentApplyAndRead(t *testing.T) {
	s := NewStore("me")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Apply(ev(fmt.Sprintf(":u%d!u@h PRIVMSG #go :%d", i, j)))
				s.Append("#go", "local")
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				e, ok := s.Channel("#go")
				if ok {
					data, err := s.Transcript("#go", 0, e.TranscriptSize)
					assert.NoError(t, err)
					assert.Len(t, data, e.TranscriptSize)
				}
				s.ChannelNames()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 4*200*2, strings.Count(transcript(t, s, "#go"), "\n"))
}
