//go:generate go run go.uber.org/mock/mockgen -source=projection.go -destination=../mocks/mock_commander.go -package=mocks

package fuse

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/samber/lo"

	"ircfs/fuse/diag"
	"ircfs/irc"
	"ircfs/state"
)

// Names of the files inside a channel directory.
const (
	fileMessages = "messages"
	fileTopic    = "topic"
	fileUsers    = "users"
)

// Commander issues protocol commands. Calls must not block on the
// network; *irc.Session queues them for its own goroutine.
type Commander interface {
	Say(target, text string)
	Join(channel string)
	Part(channel string)
}

var _ Commander = (*irc.Session)(nil)

// entryKind classifies a parsed path.
type entryKind int

const (
	entryRoot entryKind = iota
	entryChannel
	entryMessages
	entryTopic
	entryUsers
	entryQuery
)

// entryRef is a parsed filesystem path.
type entryRef struct {
	kind entryKind
	// name is the channel name or the remote nick.
	name string
}

func (r entryRef) isDir() bool {
	return r.kind == entryRoot || r.kind == entryChannel
}

func (r entryRef) writable() bool {
	return r.kind == entryMessages || r.kind == entryQuery
}

// parsePath maps an absolute path onto an entry. It only checks shape;
// existence is checked against the store by the caller.
//
//	/                    root
//	/#chan               channel directory
//	/#chan/messages      transcript, writable
//	/#chan/topic         topic
//	/#chan/users         members, one per line
//	/nick                private conversation, writable
func parsePath(path string) (entryRef, syscall.Errno) {
	p := strings.Trim(path, "/")
	if p == "" {
		return entryRef{kind: entryRoot}, 0
	}
	segs := strings.Split(p, "/")
	switch len(segs) {
	case 1:
		if irc.IsChannel(segs[0]) {
			return entryRef{kind: entryChannel, name: segs[0]}, 0
		}
		return entryRef{kind: entryQuery, name: segs[0]}, 0
	case 2:
		if !irc.IsChannel(segs[0]) {
			return entryRef{}, syscall.EINVAL
		}
		switch segs[1] {
		case fileMessages:
			return entryRef{kind: entryMessages, name: segs[0]}, 0
		case fileTopic:
			return entryRef{kind: entryTopic, name: segs[0]}, 0
		case fileUsers:
			return entryRef{kind: entryUsers, name: segs[0]}, 0
		}
		return entryRef{}, syscall.ENOENT
	}
	return entryRef{}, syscall.EINVAL
}

// Projection answers filesystem requests against the conversation
// store. It is safe for concurrent use; all shared state lives in the
// store.
type Projection struct {
	store *state.Store
	cmd   Commander
	log   *slog.Logger
	diag  *diag.Tracker
	uid   uint32
	gid   uint32
}

// NewProjection creates a projection over store that sends protocol
// commands through cmd.
func NewProjection(store *state.Store, cmd Commander, log *slog.Logger, tracker *diag.Tracker) *Projection {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Projection{
		store: store,
		cmd:   cmd,
		log:   log,
		diag:  tracker,
		uid:   uint32(os.Getuid()),
		gid:   uint32(os.Getgid()),
	}
}

// resolve parses path and loads the store entry it refers to.
func (p *Projection) resolve(path string) (entryRef, state.Entry, syscall.Errno) {
	ref, errno := parsePath(path)
	if errno != 0 {
		return ref, state.Entry{}, errno
	}
	var (
		e    state.Entry
		ok   bool
		want = state.KindChannel
	)
	switch ref.kind {
	case entryRoot:
		return ref, state.Entry{}, 0
	case entryQuery:
		e, ok = p.store.Conversation(ref.name)
		want = state.KindConversation
	default:
		e, ok = p.store.Channel(ref.name)
	}
	if !ok || e.Kind != want {
		return ref, state.Entry{}, syscall.ENOENT
	}
	return ref, e, 0
}

// content renders the full bytes of a small file. Transcripts are
// read through the store window instead.
func content(ref entryRef, e state.Entry) []byte {
	switch ref.kind {
	case entryTopic:
		if e.Topic == "" {
			return nil
		}
		return []byte(e.Topic + "\n")
	case entryUsers:
		var b strings.Builder
		for _, m := range e.Members {
			b.WriteString(m)
			b.WriteByte('\n')
		}
		return []byte(b.String())
	}
	return nil
}

// size returns the content length of a file entry without rendering it.
func size(ref entryRef, e state.Entry) uint64 {
	switch ref.kind {
	case entryMessages, entryQuery:
		return uint64(e.TranscriptSize)
	case entryTopic:
		if e.Topic == "" {
			return 0
		}
		return uint64(len(e.Topic) + 1)
	case entryUsers:
		n := len(e.Members)
		for _, m := range e.Members {
			n += len(m)
		}
		return uint64(n)
	}
	return 0
}

// epoch is the modification time of entries with nothing logged yet.
var epoch = time.Unix(0, 0)

// Getattr fills out with the attributes of path.
func (p *Projection) Getattr(path string, out *fuse.Attr) (errno syscall.Errno) {
	op := diag.Track(p.diag, "Getattr", path)
	defer func() { op.Finish(errno) }()

	ref, e, errno := p.resolve(path)
	if errno != 0 {
		return errno
	}
	out.Uid = p.uid
	out.Gid = p.gid

	switch {
	case ref.isDir():
		out.Mode = fuse.S_IFDIR | 0755
		out.Nlink = 2
	case ref.writable():
		out.Mode = fuse.S_IFREG | 0644
		out.Nlink = 1
	default:
		out.Mode = fuse.S_IFREG | 0444
		out.Nlink = 1
	}
	out.Size = size(ref, e)

	mtime := e.Modified
	if mtime.IsZero() {
		mtime = epoch
	}
	setTimestamps(out, mtime)
	return 0
}

// List returns the entries of a directory path.
func (p *Projection) List(path string) (_ []fuse.DirEntry, errno syscall.Errno) {
	op := diag.Track(p.diag, "List", path)
	defer func() { op.Finish(errno) }()

	ref, _, errno := p.resolve(path)
	if errno != 0 {
		return nil, errno
	}
	switch ref.kind {
	case entryRoot:
		channels := p.store.ChannelNames()
		queries := p.store.ConversationNames()
		entries := lo.Map(channels, func(name string, _ int) fuse.DirEntry {
			return fuse.DirEntry{Name: name, Mode: fuse.S_IFDIR}
		})
		entries = append(entries, lo.Map(queries, func(name string, _ int) fuse.DirEntry {
			return fuse.DirEntry{Name: name, Mode: fuse.S_IFREG}
		})...)
		return entries, 0
	case entryChannel:
		return []fuse.DirEntry{
			{Name: fileUsers, Mode: fuse.S_IFREG},
			{Name: fileTopic, Mode: fuse.S_IFREG},
			{Name: fileMessages, Mode: fuse.S_IFREG},
		}, 0
	}
	return nil, syscall.ENOTDIR
}

// Read returns up to len(dest) bytes of path's content starting at off.
func (p *Projection) Read(path string, dest []byte, off int64) (_ []byte, errno syscall.Errno) {
	op := diag.Track(p.diag, "Read", path)
	defer func() { op.Finish(errno) }()

	ref, e, errno := p.resolve(path)
	if errno != 0 {
		return nil, errno
	}
	switch ref.kind {
	case entryMessages, entryQuery:
		data, err := p.store.Transcript(ref.name, off, len(dest))
		if err != nil {
			// Removed between resolve and read.
			return nil, syscall.ENOENT
		}
		return data, 0
	case entryTopic, entryUsers:
		return readAt(content(ref, e), dest, off), 0
	}
	return nil, syscall.EISDIR
}

// Write sends data to the channel or nick behind path. The text is
// echoed into the local transcript before the command is queued, so a
// read right after the write already shows it.
func (p *Projection) Write(path string, data []byte) (_ uint32, errno syscall.Errno) {
	op := diag.Track(p.diag, "Write", path)
	defer func() { op.Finish(errno) }()

	ref, _, errno := p.resolve(path)
	if errno != 0 {
		return 0, errno
	}
	if !ref.writable() {
		return 0, syscall.EINVAL
	}

	text := strings.ToValidUTF8(string(data), "\uFFFD")
	p.store.Append(ref.name, text)
	p.cmd.Say(ref.name, text)
	p.log.Debug("write", "target", ref.name, "bytes", len(data))
	return uint32(len(data)), 0
}

// Truncate accepts a size change on writable files and ignores it:
// transcripts only grow.
func (p *Projection) Truncate(path string) (errno syscall.Errno) {
	op := diag.Track(p.diag, "Truncate", path)
	defer func() { op.Finish(errno) }()

	ref, _, errno := p.resolve(path)
	if errno != 0 {
		return errno
	}
	if !ref.writable() {
		return syscall.EINVAL
	}
	return 0
}

// Mkdir joins the channel named by a single-segment path.
func (p *Projection) Mkdir(path string) (errno syscall.Errno) {
	op := diag.Track(p.diag, "Mkdir", path)
	defer func() { op.Finish(errno) }()

	ref, errno := parsePath(path)
	if errno != 0 || ref.kind != entryChannel {
		return syscall.EINVAL
	}

	p.store.AddChannel(ref.name)
	p.cmd.Join(ref.name)
	p.log.Info("joining channel", "channel", ref.name)
	return 0
}

// Rmdir leaves the channel named by a single-segment path.
func (p *Projection) Rmdir(path string) (errno syscall.Errno) {
	op := diag.Track(p.diag, "Rmdir", path)
	defer func() { op.Finish(errno) }()

	ref, errno := parsePath(path)
	if errno != 0 || ref.kind != entryChannel {
		return syscall.EINVAL
	}
	if err := p.store.RemoveChannel(ref.name); err != nil {
		return syscall.ENOENT
	}

	p.cmd.Part(ref.name)
	p.log.Info("leaving channel", "channel", ref.name)
	return 0
}
