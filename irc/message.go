package irc

import (
	"regexp"
	"strings"
	"time"
)

// ChannelMarker is the leading character of a channel name.
const ChannelMarker = '#'

// Command identifies the protocol commands ircfs reacts to. Anything
// else parses as CommandOther and is ignored by the store.
type Command int

const (
	CommandOther Command = iota
	CommandPrivmsg
	CommandTopicReply
	CommandNamesReply
	CommandJoin
	CommandPart
	CommandQuit
	CommandPing
)

var commandTokens = map[string]Command{
	"PRIVMSG": CommandPrivmsg,
	"332":     CommandTopicReply,
	"353":     CommandNamesReply,
	"JOIN":    CommandJoin,
	"PART":    CommandPart,
	"QUIT":    CommandQuit,
	"PING":    CommandPing,
}

func (c Command) String() string {
	for tok, cmd := range commandTokens {
		if cmd == c {
			return tok
		}
	}
	return "other"
}

// Event is one parsed protocol line.
type Event struct {
	// Sender is nick[!user][@host], empty for server-originated lines
	// without a prefix.
	Sender string
	// Token is the raw command token, e.g. "PRIVMSG" or "353".
	Token string
	// Target is the run of middle parameters, trimmed.
	Target string
	// Payload is the trailing parameter.
	Payload string
	When    time.Time
}

// Command classifies the event's token.
func (e Event) Command() Command {
	return commandTokens[strings.ToUpper(e.Token)]
}

// Nick returns the sender with any !user@host suffix removed.
func (e Event) Nick() string {
	return BareNick(e.Sender)
}

// BareNick strips everything from the first '!' of a sender identity.
func BareNick(sender string) string {
	nick, _, _ := strings.Cut(sender, "!")
	return nick
}

// IsChannel reports whether name starts with the channel marker.
func IsChannel(name string) bool {
	return len(name) > 0 && name[0] == ChannelMarker
}

// lineRe matches
//
//	[:nick[!user][@host] ]command[ middle]{0,14}[ [:]trailing]
var lineRe = regexp.MustCompile(
	`^(?::([^@! ]*(?:(?:![^@]*)?@[^ ]*)?) )?` +
		`([^ ]+)` +
		`((?:[^: ][^ ]*)?(?: [^: ][^ ]*){0,14})` +
		`(?: :?(.*))?$`)

// Parse tokenizes one protocol line. Lines that do not match the
// grammar report ok == false.
func Parse(line string, when time.Time) (ev Event, ok bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	return Event{
		Sender:  m[1],
		Token:   m[2],
		Target:  strings.TrimSpace(m[3]),
		Payload: m[4],
		When:    when,
	}, true
}
