/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/partyrelay/relay"
)

func testConfig() *Config {
	return &Config{
		bind:           "127.0.0.1",
		defaultRoom:    relay.DefaultRoom,
		maxMessageSize: relay.DefaultMaxMessageSize,
		port:           8080,
		sendQueue:      relay.DefaultSendQueue,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port too low", func(c *Config) { c.port = 0 }, true},
		{"port too high", func(c *Config) { c.port = 65536 }, true},
		{"cert without key", func(c *Config) { c.tlsCert = "cert.pem" }, true},
		{"key without cert", func(c *Config) { c.tlsKey = "key.pem" }, true},
		{"cert and key", func(c *Config) { c.tlsCert, c.tlsKey = "cert.pem", "key.pem" }, false},
		{"blank default room", func(c *Config) { c.defaultRoom = "  " }, true},
		{"zero message size", func(c *Config) { c.maxMessageSize = 0 }, true},
		{"zero send queue", func(c *Config) { c.sendQueue = 0 }, true},
		{"negative frame rate", func(c *Config) { c.maxFrameRate = -1 }, true},
		{"frame rate", func(c *Config) { c.maxFrameRate = 20 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(cfg)

			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert, cfg.tlsKey = "cert.pem", "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}

func TestFlagDefaults(t *testing.T) {
	cfg := &Config{}
	newCmd(cfg)

	assert.Equal(t, 8080, cfg.port)
	assert.Equal(t, "0.0.0.0", cfg.bind)
	assert.Equal(t, relay.DefaultRoom, cfg.defaultRoom)
	assert.Equal(t, int64(relay.DefaultMaxMessageSize), cfg.maxMessageSize)
	assert.Equal(t, relay.DefaultSendQueue, cfg.sendQueue)
	assert.NoError(t, cfg.validate())
}

func TestPortFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")

	cfg := &Config{}
	newCmd(cfg)
	assert.Equal(t, 9090, cfg.port)

	t.Setenv("PARTYRELAY_PORT", "9191")

	cfg = &Config{}
	newCmd(cfg)
	assert.Equal(t, 9191, cfg.port, "PARTYRELAY_PORT wins over PORT")
}

func TestFlagsFromEnvironment(t *testing.T) {
	t.Setenv("PARTYRELAY_DEFAULT_ROOM", "lobby")
	t.Setenv("PARTYRELAY_MAX_FRAME_RATE", "15")
	t.Setenv("PARTYRELAY_VERBOSE", "true")

	cfg := &Config{}
	newCmd(cfg)

	assert.Equal(t, "lobby", cfg.defaultRoom)
	assert.Equal(t, 15, cfg.maxFrameRate)
	assert.True(t, cfg.verbose)
}

func TestCommandLineBeatsEnvironment(t *testing.T) {
	t.Setenv("PARTYRELAY_PORT", "9191")

	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "7000", "--send_queue", "4"}))

	assert.Equal(t, 7000, cfg.port)
	assert.Equal(t, 4, cfg.sendQueue)
}

func TestRelayOptions(t *testing.T) {
	cfg := testConfig()
	cfg.maxFrameRate = 5

	opts := cfg.relayOptions()
	assert.Equal(t, cfg.defaultRoom, opts.DefaultRoom)
	assert.Equal(t, cfg.maxMessageSize, opts.MaxMessageSize)
	assert.Equal(t, cfg.sendQueue, opts.SendQueue)
	assert.Equal(t, 5, opts.MaxFrameRate)
	assert.NotNil(t, opts.Logf)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r.Header.Set("CF-Connecting-IP", "192.0.2.9")
	require.NotNil(t, opts.RemoteAddr)
	assert.Equal(t, realIP(r), opts.RemoteAddr(r))
	assert.Equal(t, "192.0.2.9:5000", opts.RemoteAddr(r))
}
