package mockserver

import (
	"sync"
	"time"

	"ircfs/irc"
)

// ServerName is the prefix Echo puts on its replies.
const ServerName = "mock.irc"

// Echo returns a line handler that behaves like a small real server
// with a single client: it welcomes the client after NICK, answers
// PING, and confirms JOIN and PART the way a server does, with the
// topic and names replies a join triggers. Messages are only recorded.
func Echo() func(*Server, string) {
	var mu sync.Mutex
	nick := "*"

	return func(s *Server, line string) {
		ev, ok := irc.Parse(line, time.Now())
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		self := nick + "!" + nick + "@" + ServerName
		switch ev.Token {
		case "NICK":
			if ev.Target == "" {
				return
			}
			nick = ev.Target
			s.SendLine(":" + ServerName + " 001 " + nick + " :Welcome to the mock network " + nick)
		case "PING":
			s.SendLine(":" + ServerName + " PONG " + ServerName + " :" + ev.Payload)
		case "JOIN":
			channel := ev.Target
			if channel == "" {
				channel = ev.Payload
			}
			s.SendLine(":" + self + " JOIN :" + channel)
			s.SendLine(":" + ServerName + " 332 " + nick + " " + channel + " :Welcome to " + channel)
			s.SendLine(":" + ServerName + " 353 " + nick + " = " + channel + " :@" + nick)
			s.SendLine(":" + ServerName + " 366 " + nick + " " + channel + " :End of /NAMES list.")
		case "PART":
			s.SendLine(":" + self + " PART " + ev.Target)
		case "QUIT":
			s.SendLine("ERROR :Closing link")
		}
	}
}
