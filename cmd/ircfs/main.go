// Command ircfs mounts an IRC connection as a filesystem. Channels are
// directories, private conversations are files, and writing to them
// sends messages.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	ircfuse "ircfs/fuse"
	"ircfs/fuse/diag"
	"ircfs/irc"
	"ircfs/logger"
	"ircfs/state"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run(os.Args[1:], os.Environ())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ircfs: %v\n", err)
	}
	os.Exit(code)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ircfs mounts an IRC server connection as a filesystem.

Usage:
  ircfs [flags] NICK HOST MOUNTPOINT

Every flag and argument can also be set through the environment, e.g.
IRCFS_NICK, IRCFS_HOST, IRCFS_MOUNTPOINT, IRCFS_PORT.

Layout:
  MOUNTPOINT/#chan/messages   channel transcript; write to send
  MOUNTPOINT/#chan/topic      channel topic
  MOUNTPOINT/#chan/users      members, one per line
  MOUNTPOINT/nick             private conversation; write to send

  mkdir MOUNTPOINT/#chan joins a channel, rmdir leaves it.

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func run(args, environ []string) (int, error) {
	cfg, err := loadConfig(args, environ)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK, nil
	}
	if err != nil {
		return exitConfig, err
	}

	log, closer := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := state.NewStore(cfg.Nick, state.WithLogger(log.With("component", "store")))
	session := irc.NewSession(irc.Options{
		Settings:          irc.Settings{Host: cfg.Host, Port: cfg.Port, Nick: cfg.Nick},
		Sink:              store,
		Logger:            log.With("component", "irc"),
		ReconnectInterval: cfg.ReconnectInterval,
		ReconnectBurst:    cfg.ReconnectBurst,
		OutboxSize:        cfg.OutboxSize,
	})
	tracker := diag.NewTracker()
	root := ircfuse.NewFS(ircfuse.NewProjection(store, session, log.With("component", "fuse"), tracker))

	server, err := ircfuse.Mount(cfg.MountPoint, root, ircfuse.MountOptions{
		Debug:      cfg.Debug,
		AllowOther: cfg.AllowOther,
		Logger:     log,
	})
	if err != nil {
		return exitRuntime, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := session.Run(gctx)
		if errors.Is(err, irc.ErrSessionClosed) && gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		server.Wait()
		log.Info("filesystem unmounted", "mountpoint", cfg.MountPoint)
		cancel()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := server.Unmount(); err != nil {
			log.Debug("unmount", "error", err)
		}
		return nil
	})
	if cfg.DebugAddr != "" {
		serveDebug(gctx, g, cfg.DebugAddr, tracker, log)
	}

	log.Info("ircfs started", "nick", cfg.Nick, "server", session.Settings().Addr(), "mountpoint", cfg.MountPoint)
	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}

// serveDebug runs the diagnostics listener until ctx is done.
func serveDebug(ctx context.Context, g *errgroup.Group, addr string, tracker *diag.Tracker, log *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           diag.NewMux(tracker),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("debug listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
