// Command ircfs-testhelper runs the pieces used for manual testing: a
// scripted fake IRC server, and an ircfs tree mounted without any
// server behind it.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"ircfs/irc"
	"ircfs/mockserver"
	"ircfs/testutil"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "server":
		err = serverCommand(args)
	case "fuse":
		err = fuseCommand(args)
	default:
		usage()
		err = fmt.Errorf("unknown command: %s", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s COMMAND [flags]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  server    Start a fake IRC server that confirms joins and parts\n")
	fmt.Fprintf(os.Stderr, "  fuse      Mount an ircfs tree with seeded channels and no server\n")
}

func waitForSignal(what string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	fmt.Printf("\nPress Ctrl+C to stop %s...\n", what)
	<-c
	fmt.Printf("\nShutting down %s...\n", what)
}

func serverCommand(args []string) error {
	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	listen := flags.String("listen", "127.0.0.1:6667", "listen address")
	if err := flags.Parse(args); err != nil {
		return err
	}

	server, err := mockserver.Start(
		mockserver.WithListenAddr(*listen),
		mockserver.WithLineHandler(mockserver.Echo()),
	)
	if err != nil {
		return err
	}
	defer server.Close()

	fmt.Printf("✓ fake IRC server started\n")
	fmt.Printf("  Address: %s\n", server.Addr())
	fmt.Printf("  Try: ircfs me %s /tmp/ircfs-test --port %d\n", server.Host, server.Port)

	go func() {
		for {
			line, err := server.NextLine(time.Hour)
			if err == nil {
				fmt.Printf("<- %s\n", line)
			}
		}
	}()

	waitForSignal("server")
	return nil
}

func fuseCommand(args []string) error {
	flags := pflag.NewFlagSet("fuse", pflag.ContinueOnError)
	mount := flags.String("mount", "/tmp/ircfs-test", "mount point")
	nick := flags.String("nick", "me", "local nick")
	debug := flags.Bool("debug", false, "enable FUSE debug output")
	if err := flags.Parse(args); err != nil {
		return err
	}

	server, err := testutil.StartInProcessFUSE(&testutil.InProcessFUSEConfig{
		MountPoint: *mount,
		Nick:       *nick,
		Debug:      *debug,
	})
	if err != nil {
		return fmt.Errorf("starting FUSE mount: %w", err)
	}

	now := time.Now()
	for _, line := range []string{
		":" + mockserver.ServerName + " 332 " + *nick + " #test :A seeded channel",
		":" + mockserver.ServerName + " 353 " + *nick + " = #test :@" + *nick + " alice bob",
		":alice!a@" + mockserver.ServerName + " PRIVMSG #test :hello from alice",
		":bob!b@" + mockserver.ServerName + " PRIVMSG " + *nick + " :a private hello",
	} {
		if ev, ok := irc.Parse(line, now); ok {
			server.Store.Apply(ev)
		}
	}

	fmt.Printf("✓ FUSE mount started\n")
	fmt.Printf("  Mount point: %s\n", server.MountPoint)

	waitForSignal("mount")
	for _, line := range server.Commands.Lines() {
		fmt.Printf("-> %s\n", line)
	}
	if err := server.Stop(); err != nil {
		return err
	}
	fmt.Printf("FUSE mount stopped\n")
	return nil
}
