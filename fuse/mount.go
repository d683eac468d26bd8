package fuse

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountOptions configures Mount.
type MountOptions struct {
	// Debug enables go-fuse request tracing on stderr.
	Debug bool
	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool
	Logger     *slog.Logger
}

// Mount mounts root at mountpoint. Kernel entry and attribute caching
// is disabled: directory contents and file sizes change with every
// protocol event. The caller must Unmount the returned server.
func Mount(mountpoint string, root *FS, opts MountOptions) (*fuse.Server, error) {
	if mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", mountpoint, err)
	}

	entryTimeout := time.Duration(0)
	attrTimeout := time.Duration(0)
	negativeTimeout := time.Duration(0)
	fsOpts := &fs.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "ircfs",
			Name:       "ircfs",
			Debug:      opts.Debug,
			AllowOther: opts.AllowOther,
		},
	}

	server, err := fs.Mount(mountpoint, root, fsOpts)
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", mountpoint, err)
	}
	if opts.Logger != nil {
		opts.Logger.Info("filesystem mounted", "mountpoint", mountpoint)
	}
	return server, nil
}
