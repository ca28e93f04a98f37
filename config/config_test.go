package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/pax-pos-agent/dal/escpos"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 18080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Reader.DetectAttempts)
	assert.Equal(t, time.Second, cfg.Reader.DetectRetryDelay)
	assert.Equal(t, escpos.NoCutter, cfg.Printer.CutMode)
	assert.Equal(t, 384, cfg.Printer.DotWidth)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	data := `
server:
  port: 19000
  apiSecret: s3cret
  sessionTimeout: 2m
reader:
  backend: mock
  detectAttempts: 3
  detectRetryDelay: 250ms
printer:
  backend: escpos
  port: /dev/ttyUSB0
  baudRate: 115200
  cutMode: 0
  statusQuery: true
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 19000, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.APISecret)
	assert.Equal(t, 2*time.Minute, cfg.Server.SessionTimeout)
	assert.Equal(t, BackendMock, cfg.Reader.Backend)
	assert.Equal(t, 3, cfg.Reader.DetectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Reader.DetectRetryDelay)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Printer.Port)
	assert.Equal(t, 0, cfg.Printer.CutMode)
	assert.True(t, cfg.Printer.StatusQuery)
	assert.Equal(t, "debug", cfg.Log.Level)

	// untouched fields keep their defaults
	assert.Equal(t, 50*time.Millisecond, cfg.Reader.PollInterval)
	assert.Equal(t, 32, cfg.Printer.LineWidth)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "18181")
	t.Setenv(EnvReaderBackend, "mock")
	t.Setenv(EnvDetectRetryDelay, "20")
	t.Setenv(EnvSkipPlatformCheck, "true")
	t.Setenv(EnvPlatformKeywords, "paxdroid, neptune ,")
	t.Setenv(EnvCutMode, "1")
	t.Setenv(EnvSettleDelay, "1s")
	t.Setenv(EnvDotWidth, "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 18181, cfg.Server.Port)
	assert.Equal(t, BackendMock, cfg.Reader.Backend)
	assert.Equal(t, 20*time.Millisecond, cfg.Reader.DetectRetryDelay)
	assert.True(t, cfg.Reader.SkipPlatformCheck)
	assert.Equal(t, []string{"paxdroid", "neptune"}, cfg.Reader.PlatformKeywords)
	assert.Equal(t, 1, cfg.Printer.CutMode)
	assert.Equal(t, time.Second, cfg.Printer.SettleDelay)
	assert.Equal(t, 384, cfg.Printer.DotWidth, "malformed values keep the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"tls mode", func(c *Config) { c.Server.TLS.Mode = "maybe" }, "server.tls.mode"},
		{"tls files", func(c *Config) { c.Server.TLS.Mode = TLSFile }, "server.tls"},
		{"bootstrap port clash", func(c *Config) { c.Server.TLS.BootstrapPort = c.Server.Port }, "server.tls.bootstrapPort"},
		{"reader backend", func(c *Config) { c.Reader.Backend = "pcsc" }, "reader.backend"},
		{"attempts", func(c *Config) { c.Reader.DetectAttempts = 0 }, "reader.detectAttempts"},
		{"poll", func(c *Config) { c.Reader.PollInterval = 0 }, "reader.pollInterval"},
		{"printer backend", func(c *Config) { c.Printer.Backend = "cups" }, "printer.backend"},
		{"dot width", func(c *Config) { c.Printer.DotWidth = 380 }, "printer.dotWidth"},
		{"cut mode", func(c *Config) { c.Printer.CutMode = 5 }, "printer.cutMode"},
		{"code page", func(c *Config) { c.Printer.CodePage = 300 }, "printer.codePage"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid "+tt.want)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Reader.DetectAttempts = 2
	cfg.Reader.SkipPlatformCheck = true
	cfg.Printer.Port = "/dev/ttyS1"
	cfg.Printer.CodePage = 16
	cfg.Printer.FontPath = "/usr/share/fonts/arabic.ttf"

	term := cfg.Terminal()
	assert.Equal(t, 2, term.DetectAttempts)
	assert.True(t, term.SkipPlatformCheck)
	assert.Equal(t, "/usr/share/fonts/arabic.ttf", term.FontPath)
	assert.Equal(t, 384, term.DotWidth)

	p := cfg.Escpos()
	assert.Equal(t, "/dev/ttyS1", p.Port)
	assert.Equal(t, byte(16), p.CodePage)
	assert.Equal(t, 9600, p.BaudRate)
	assert.Equal(t, escpos.NoCutter, p.CutMode)
	assert.Equal(t, 500*time.Millisecond, p.ReadTimeout)
}
