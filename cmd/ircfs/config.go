package main

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
)

// Config is the full runtime configuration. Environment variables are
// read first, flags override them, and the positional NICK HOST
// MOUNTPOINT arguments override both.
type Config struct {
	Nick       string `env:"IRCFS_NICK" validate:"required,excludesall=#!@"`
	Host       string `env:"IRCFS_HOST" validate:"required"`
	Port       int    `env:"IRCFS_PORT,default=6667" validate:"min=1,max=65535"`
	MountPoint string `env:"IRCFS_MOUNTPOINT" validate:"required"`

	Debug    bool   `env:"IRCFS_DEBUG"`
	LogLevel string `env:"IRCFS_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFile  string `env:"IRCFS_LOG_FILE"`
	// DebugAddr serves /debug/fuse, /debug/stacks and /metrics. Empty
	// disables the listener.
	DebugAddr string `env:"IRCFS_DEBUG_ADDR" validate:"omitempty,hostname_port"`

	ReconnectInterval time.Duration `env:"IRCFS_RECONNECT_INTERVAL,default=1s" validate:"gt=0"`
	ReconnectBurst    int           `env:"IRCFS_RECONNECT_BURST,default=3" validate:"min=1"`
	OutboxSize        int           `env:"IRCFS_OUTBOX_SIZE,default=1024" validate:"min=1"`
	AllowOther        bool          `env:"IRCFS_ALLOW_OTHER"`
}

var validate = validator.New()

func (c *Config) addFlags(flagSet *pflag.FlagSet) {
	flagSet.IntVarP(&c.Port, "port", "p", c.Port, "server port")
	flagSet.BoolVar(&c.Debug, "debug", c.Debug, "enable FUSE debug output")
	flagSet.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	flagSet.StringVar(&c.LogFile, "log-file", c.LogFile, "also write JSON log records to this rotated file")
	flagSet.StringVar(&c.DebugAddr, "debug-addr", c.DebugAddr, "listen address for /debug/fuse, /debug/stacks and /metrics")
	flagSet.DurationVar(&c.ReconnectInterval, "reconnect-interval", c.ReconnectInterval, "minimum time between reconnect attempts after the burst")
	flagSet.IntVar(&c.ReconnectBurst, "reconnect-burst", c.ReconnectBurst, "reconnect attempts allowed without waiting")
	flagSet.IntVar(&c.OutboxSize, "outbox-size", c.OutboxSize, "outbound lines queued before writers block")
	flagSet.BoolVar(&c.AllowOther, "allow-other", c.AllowOther, "allow other users to access the mount")
}

// loadConfig builds a validated Config from environ and the command
// line. It returns pflag.ErrHelp when help was requested.
func loadConfig(args, environ []string) (Config, error) {
	var cfg Config
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}
	if err := env.Unmarshal(es, &cfg); err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}

	flagSet := pflag.NewFlagSet("ircfs", pflag.ContinueOnError)
	flagSet.Usage = func() { printHelp(flagSet) }
	cfg.addFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return cfg, err
	}

	switch pos := flagSet.Args(); len(pos) {
	case 0:
	case 3:
		cfg.Nick, cfg.Host, cfg.MountPoint = pos[0], pos[1], pos[2]
	default:
		printHelp(flagSet)
		return cfg, fmt.Errorf("expected NICK HOST MOUNTPOINT, got %d arguments", len(pos))
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
