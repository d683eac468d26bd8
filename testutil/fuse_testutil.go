// Package testutil mounts an ircfs tree inside the test process, backed
// by a real store and a command recorder instead of a server
// connection.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	ircfuse "ircfs/fuse"
	"ircfs/fuse/diag"
	"ircfs/logger"
	"ircfs/state"
)

// RequireFUSE skips the test when the host cannot mount FUSE filesystems.
func RequireFUSE(t testing.TB) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse not available, skipping FUSE test")
	}
	for _, bin := range []string{"fusermount3", "fusermount"} {
		if _, err := exec.LookPath(bin); err == nil {
			return
		}
	}
	t.Skip("fusermount not found, skipping FUSE test")
}

// Recorder is a Commander that keeps the protocol lines it would have
// sent, in order.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) record(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *Recorder) Say(target, text string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			r.record("PRIVMSG " + target + " :" + line)
		}
	}
}

func (r *Recorder) Join(channel string) { r.record("JOIN " + channel) }

func (r *Recorder) Part(channel string) { r.record("PART " + channel) }

// Lines returns a copy of everything recorded so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// InProcessFUSEServer is an ircfs tree mounted from the test process.
type InProcessFUSEServer struct {
	Server     *fuse.Server
	MountPoint string
	Store      *state.Store
	Commands   *Recorder
	Diag       *diag.Tracker
}

// InProcessFUSEConfig holds configuration for StartInProcessFUSE.
type InProcessFUSEConfig struct {
	MountPoint string
	// Nick is the local identity, "me" if empty.
	Nick    string
	Debug   bool
	Timeout time.Duration
	// Clock stamps locally echoed messages; time.Now if nil.
	Clock func() time.Time
}

// StartInProcessFUSE mounts a fresh ircfs tree at config.MountPoint and
// waits until the kernel answers requests for it.
func StartInProcessFUSE(config *InProcessFUSEConfig) (*InProcessFUSEServer, error) {
	if config.MountPoint == "" {
		return nil, fmt.Errorf("mount point is required")
	}
	if config.Nick == "" {
		config.Nick = "me"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	store := state.NewStore(config.Nick, state.WithClock(config.Clock))
	rec := &Recorder{}
	tracker := diag.NewTracker()
	root := ircfuse.NewFS(ircfuse.NewProjection(store, rec, logger.Discard(), tracker))

	srv, err := ircfuse.Mount(config.MountPoint, root, ircfuse.MountOptions{Debug: config.Debug})
	if err != nil {
		return nil, err
	}
	server := &InProcessFUSEServer{
		Server:     srv,
		MountPoint: config.MountPoint,
		Store:      store,
		Commands:   rec,
		Diag:       tracker,
	}

	done := make(chan error, 1)
	go func() { done <- srv.WaitMount() }()
	select {
	case err := <-done:
		if err != nil {
			server.Stop()
			return nil, fmt.Errorf("FUSE mount failed to become ready: %w", err)
		}
	case <-time.After(config.Timeout):
		server.Stop()
		return nil, fmt.Errorf("timeout waiting for FUSE mount at %s", config.MountPoint)
	}
	return server, nil
}

// Stop unmounts the filesystem.
func (s *InProcessFUSEServer) Stop() error {
	if s.Server == nil {
		return nil
	}
	if err := s.Server.Unmount(); err != nil {
		return fmt.Errorf("failed to unmount FUSE filesystem: %w", err)
	}
	return nil
}

// Mount is StartInProcessFUSE for tests: it skips without FUSE, mounts
// under t.TempDir and unmounts on cleanup.
func Mount(t testing.TB) *InProcessFUSEServer {
	t.Helper()
	RequireFUSE(t)
	server, err := StartInProcessFUSE(&InProcessFUSEConfig{
		MountPoint: t.TempDir() + "/mount",
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("starting FUSE server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Logf("unmount: %v", err)
		}
	})
	return server
}
