package irc

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func drainAll(f *Framer) []string {
	return slices.Collect(f.Drain())
}

func TestFramer_SplitsAndRetainsFragment(t *testing.T) {
	var f Framer
	f.Feed([]byte("PING :a\r\n:n PRIVMSG #c :hi\r\npartial"))
	require.Equal(t, []string{"PING :a", ":n PRIVMSG #c :hi"}, drainAll(&f))
	require.Equal(t, len("partial"), f.Buffered())

	f.Feed([]byte(" line\r"))
	require.Empty(t, drainAll(&f))
	f.Feed([]byte("\n"))
	require.Equal(t, []string{"partial line"}, drainAll(&f))
	require.Zero(t, f.Buffered())
}

func TestFramer_EmptyLines(t *testing.T) {
	var f Framer
	f.Feed([]byte("\r\n\r\nX\r\n"))
	require.Equal(t, []string{"", "", "X"}, drainAll(&f))
}

func TestFramer_EarlyStopKeepsRemainingLines(t *testing.T) {
	var f Framer
	f.Feed([]byte("a\r\nb\r\nc\r\n"))
	for line := range f.Drain() {
		require.Equal(t, "a", line)
		break
	}
	require.Equal(t, []string{"b", "c"}, drainAll(&f))
}

func TestFramer_ChunkBoundaryIndependence(t *testing.T) {
	input := []byte("PING :x\r\n:a!b@c PRIVMSG #go :hello there\r\n\r\n:srv 353 me = #go :a b c\r\ntrailing")

	var whole Framer
	whole.Feed(input)
	want := drainAll(&whole)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		var f Framer
		var got []string
		rest := input
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			f.Feed(rest[:n])
			rest = rest[n:]
			got = append(got, drainAll(&f)...)
		}
		require.Equal(t, want, got, "trial %d", trial)
		require.Equal(t, whole.Buffered(), f.Buffered())
	}
}

func TestFramer_Reset(t *testing.T) {
	var f Framer
	f.Feed([]byte("half"))
	f.Reset()
	f.Feed([]byte("whole\r\n"))
	require.Equal(t, []string{"whole"}, drainAll(&f))
}
