/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Seednode/partyrelay/bus"
)

var (
	ErrMissingLobby = errors.New("--lobby must be provided")
	ErrNotConnected = errors.New("transport did not connect")
	ErrInvalidEvent = errors.New("event is not valid JSON")
)

// clientConfig holds the flags shared by the listen and send subcommands.
type clientConfig struct {
	*Config

	relay      string
	lobby      string
	storageDir string
	timeout    time.Duration
}

func (c *clientConfig) validate() error {
	if strings.TrimSpace(c.lobby) == "" {
		return ErrMissingLobby
	}
	if c.timeout < 0 {
		return fmt.Errorf("invalid timeout (must not be negative): %s", c.timeout)
	}
	return nil
}

func (c *clientConfig) open() (bus.Transport, error) {
	logger := func(format string, args ...any) {
		logf(c.Config, format, args...)
	}

	cfg := bus.Config{
		RelayURL: c.relay,
		Lobby:    c.lobby,
		Logf:     logger,
	}

	if !bus.IsRelayURL(c.relay) {
		cfg.Hub = bus.NewLocalHub(c.storageDir, logger)
	}

	return bus.New(cfg)
}

func newClientCmd(cfg *Config, cmd *cobra.Command, defaultTimeout time.Duration) *clientConfig {
	cc := &clientConfig{Config: cfg}

	fs := cmd.Flags()
	normalizeFlags(fs)

	fs.StringVar(&cc.relay, "relay", "", "relay address (ws:// or wss://); local delivery when empty (env: PARTYRELAY_RELAY)")
	fs.StringVarP(&cc.lobby, "lobby", "l", "", "lobby code to join (env: PARTYRELAY_LOBBY)")
	fs.StringVar(&cc.storageDir, "storage-dir", bus.DefaultStorageDir(), "directory shared by local transports on this machine (env: PARTYRELAY_STORAGE_DIR)")
	fs.DurationVarP(&cc.timeout, "timeout", "t", defaultTimeout, "give up after this long, 0 to wait forever (env: PARTYRELAY_TIMEOUT)")

	return cc
}

func newListenCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every event published to a lobby.",
		Args:  cobra.ExactArgs(0),
	}

	cc := newClientCmd(cfg, cmd, 0)
	bindEnv(v, cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cc.validate(); err != nil {
			return err
		}

		return listen(cmd.Context(), cc, cmd.OutOrStdout())
	}

	return cmd
}

func newSendCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "send [event]",
		Short: "Publish one event to a lobby, or a HELLO when no event is given.",
		Args:  cobra.MaximumNArgs(1),
	}

	cc := newClientCmd(cfg, cmd, 10*time.Second)

	cmd.Flags().StringVarP(&name, "name", "n", "partyrelay", "display name announced by HELLO (env: PARTYRELAY_NAME)")
	bindEnv(v, cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cc.validate(); err != nil {
			return err
		}

		var event any = bus.Hello{From: uuid.NewString(), Name: name}
		if len(args) == 1 {
			if !json.Valid([]byte(args[0])) {
				return fmt.Errorf("%w: %s", ErrInvalidEvent, args[0])
			}
			event = json.RawMessage(args[0])
		}

		return send(cmd.Context(), cc, event)
	}

	return cmd
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}

	return context.WithCancel(ctx)
}

// listen writes one line per delivered event until ctx ends or the
// timeout elapses.
func listen(ctx context.Context, cc *clientConfig, out io.Writer) error {
	t, err := cc.open()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := withTimeout(ctx, cc.timeout)
	defer cancel()

	var mu sync.Mutex

	unsubscribe := t.Subscribe(func(payload json.RawMessage) {
		ev, err := bus.DecodeEvent(payload)
		if err == nil {
			if s, ok := ev.(bus.Status); ok {
				logf(cc.Config, "BUS: %s is %s", t.Room(), s.State)
				return
			}
		}

		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintf(out, "%s %s\n", time.Now().Format(logDate), payload)
	})
	defer unsubscribe()

	logf(cc.Config, "BUS: Listening on %s", t.Room())

	<-ctx.Done()

	return nil
}

// send publishes event once the transport is ready. Events published
// before then would be dropped.
func send(ctx context.Context, cc *clientConfig, event any) error {
	t, err := cc.open()
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := withTimeout(ctx, cc.timeout)
	defer cancel()

	ready := make(chan struct{})
	var once sync.Once

	unsubscribe := t.Subscribe(func(payload json.RawMessage) {
		ev, err := bus.DecodeEvent(payload)
		if err != nil {
			return
		}
		if s, ok := ev.(bus.Status); ok && (s.State == bus.StateOpen || s.State == bus.StateLocal) {
			once.Do(func() { close(ready) })
		}
	})
	defer unsubscribe()

	select {
	case <-ready:
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrNotConnected, t.Room())
	}

	t.Publish(event)

	logf(cc.Config, "BUS: Sent event to %s", t.Room())

	return nil
}
