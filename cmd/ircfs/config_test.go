package main

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Positional(t *testing.T) {
	cfg, err := loadConfig([]string{"me", "irc.example.org", "/mnt/irc"}, nil)
	require.NoError(t, err)
	require.Equal(t, Config{
		Nick:              "me",
		Host:              "irc.example.org",
		Port:              6667,
		MountPoint:        "/mnt/irc",
		LogLevel:          "info",
		ReconnectInterval: time.Second,
		ReconnectBurst:    3,
		OutboxSize:        1024,
	}, cfg)
}

func TestLoadConfig_Environment(t *testing.T) {
	environ := []string{
		"IRCFS_NICK=envnick",
		"IRCFS_HOST=localhost",
		"IRCFS_MOUNTPOINT=/tmp/irc",
		"IRCFS_PORT=6697",
		"IRCFS_LOG_LEVEL=debug",
		"IRCFS_RECONNECT_INTERVAL=5s",
		"IRCFS_ALLOW_OTHER=true",
	}
	cfg, err := loadConfig(nil, environ)
	require.NoError(t, err)
	require.Equal(t, "envnick", cfg.Nick)
	require.Equal(t, 6697, cfg.Port)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 5*time.Second, cfg.ReconnectInterval)
	require.True(t, cfg.AllowOther)
}

func TestLoadConfig_Precedence(t *testing.T) {
	environ := []string{
		"IRCFS_NICK=envnick",
		"IRCFS_HOST=envhost",
		"IRCFS_MOUNTPOINT=/env",
		"IRCFS_PORT=7000",
		"IRCFS_LOG_LEVEL=warn",
	}
	cfg, err := loadConfig([]string{"--port", "7001", "--debug-addr", "127.0.0.1:6060", "me", "argshost", "/args"}, environ)
	require.NoError(t, err)
	require.Equal(t, "me", cfg.Nick)
	require.Equal(t, "argshost", cfg.Host)
	require.Equal(t, "/args", cfg.MountPoint)
	require.Equal(t, 7001, cfg.Port)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "127.0.0.1:6060", cfg.DebugAddr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		environ []string
	}{
		{name: "missing everything"},
		{name: "wrong argument count", args: []string{"me", "host"}},
		{name: "port out of range", args: []string{"--port", "70000", "me", "host", "/mnt"}},
		{name: "nick with channel marker", args: []string{"#me", "host", "/mnt"}},
		{name: "unknown log level", args: []string{"--log-level", "loud", "me", "host", "/mnt"}},
		{name: "zero burst", args: []string{"--reconnect-burst", "0", "me", "host", "/mnt"}},
		{name: "unknown flag", args: []string{"--nope", "me", "host", "/mnt"}},
		{name: "bad env port", environ: []string{"IRCFS_PORT=abc"}, args: []string{"me", "host", "/mnt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.args, tt.environ)
			require.Error(t, err)
		})
	}
}

func TestLoadConfig_Help(t *testing.T) {
	_, err := loadConfig([]string{"--help"}, nil)
	require.ErrorIs(t, err, pflag.ErrHelp)

	code, err := run([]string{"-h"}, nil)
	require.NoError(t, err)
	require.Equal(t, exitOK, code)
}

func TestRun_ConfigErrorExitCode(t *testing.T) {
	code, err := run([]string{"only-one-arg"}, nil)
	require.Error(t, err)
	require.Equal(t, exitConfig, code)
}
