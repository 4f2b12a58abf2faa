/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/partyrelay/relay"
)

const envPrefix = "PARTYRELAY"

type Config struct {
	bind           string
	defaultRoom    string
	maxFrameRate   int
	maxMessageSize int64
	port           int
	prefix         string
	profile        bool
	sendQueue      int
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if strings.TrimSpace(c.defaultRoom) == "" {
		return errors.New("--default-room must not be empty")
	}
	if c.maxMessageSize < 1 {
		return fmt.Errorf("invalid max message size (must be positive): %d", c.maxMessageSize)
	}
	if c.sendQueue < 1 {
		return fmt.Errorf("invalid send queue depth (must be positive): %d", c.sendQueue)
	}
	if c.maxFrameRate < 0 {
		return fmt.Errorf("invalid max frame rate (must not be negative): %d", c.maxFrameRate)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) relayOptions() relay.Options {
	return relay.Options{
		DefaultRoom:    c.defaultRoom,
		MaxMessageSize: c.maxMessageSize,
		SendQueue:      c.sendQueue,
		MaxFrameRate:   c.maxFrameRate,
		RemoteAddr:     realIP,
		Logf: func(format string, args ...any) {
			logf(c, format, args...)
		},
	}
}

// bindEnv copies PARTYRELAY_* values into every flag of fs the user did
// not set on the command line.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		if f.Name == "port" {
			_ = v.BindEnv(f.Name, envPrefix+"_PORT", "PORT")
		} else {
			_ = v.BindEnv(f.Name)
		}
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func normalizeFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "partyrelay",
		Short:         "A roomed websocket relay for cross-device party games.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()
	pfs := cmd.PersistentFlags()

	normalizeFlags(fs)
	normalizeFlags(pfs)

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PARTYRELAY_BIND)")
	fs.StringVar(&cfg.defaultRoom, "default-room", relay.DefaultRoom, "room for connections that do not name one (env: PARTYRELAY_DEFAULT_ROOM)")
	fs.IntVar(&cfg.maxFrameRate, "max-frame-rate", 0, "frames per second accepted from each connection, 0 for unlimited (env: PARTYRELAY_MAX_FRAME_RATE)")
	fs.Int64Var(&cfg.maxMessageSize, "max-message-size", relay.DefaultMaxMessageSize, "largest accepted frame, in bytes (env: PARTYRELAY_MAX_MESSAGE_SIZE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PARTYRELAY_PORT or PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: PARTYRELAY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: PARTYRELAY_PROFILE)")
	fs.IntVar(&cfg.sendQueue, "send-queue", relay.DefaultSendQueue, "frames buffered per connection before it is skipped (env: PARTYRELAY_SEND_QUEUE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: PARTYRELAY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: PARTYRELAY_TLS_KEY)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PARTYRELAY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: PARTYRELAY_VERSION)")

	bindEnv(v, fs)
	bindEnv(v, pfs)

	cmd.AddCommand(newListenCmd(cfg, v), newSendCmd(cfg, v))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("partyrelay v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
