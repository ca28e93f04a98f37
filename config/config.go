// Package config loads the agent configuration from defaults, an optional
// YAML file and PAXPOS_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/dotside-studios/pax-pos-agent/dal/escpos"
	"github.com/dotside-studios/pax-pos-agent/pos"
)

// Environment variable names.
const (
	EnvPort              = "PAXPOS_PORT"
	EnvAPISecret         = "PAXPOS_API_SECRET"
	EnvSessionTimeout    = "PAXPOS_SESSION_TIMEOUT"
	EnvMDNS              = "PAXPOS_MDNS"
	EnvTLSMode           = "PAXPOS_TLS"
	EnvTLSCert           = "PAXPOS_TLS_CERT"
	EnvTLSKey            = "PAXPOS_TLS_KEY"
	EnvTLSBootstrapPort  = "PAXPOS_TLS_BOOTSTRAP_PORT"
	EnvReaderBackend     = "PAXPOS_READER_BACKEND"
	EnvReaderDevice      = "PAXPOS_READER_DEVICE"
	EnvDetectAttempts    = "PAXPOS_DETECT_ATTEMPTS"
	EnvDetectRetryDelay  = "PAXPOS_DETECT_RETRY_DELAY"
	EnvPollInterval      = "PAXPOS_POLL_INTERVAL"
	EnvSkipPlatformCheck = "PAXPOS_SKIP_PLATFORM_CHECK"
	EnvPlatformKeywords  = "PAXPOS_PLATFORM_KEYWORDS"
	EnvPrinterBackend    = "PAXPOS_PRINTER_BACKEND"
	EnvPrinterPort       = "PAXPOS_PRINTER_PORT"
	EnvBaudRate          = "PAXPOS_PRINTER_BAUD"
	EnvDotWidth          = "PAXPOS_PRINTER_DOT_WIDTH"
	EnvCutMode           = "PAXPOS_PRINTER_CUT_MODE"
	EnvStatusQuery       = "PAXPOS_PRINTER_STATUS_QUERY"
	EnvSettleDelay       = "PAXPOS_PRINTER_SETTLE_DELAY"
	EnvFontPath          = "PAXPOS_PRINTER_FONT"
	EnvLineWidth         = "PAXPOS_PRINTER_LINE_WIDTH"
	EnvCodePage          = "PAXPOS_PRINTER_CODE_PAGE"
	EnvLogLevel          = "PAXPOS_LOG_LEVEL"
	EnvLogPretty         = "PAXPOS_LOG_PRETTY"
)

// Backend names.
const (
	BackendLibnfc = "libnfc"
	BackendEscpos = "escpos"
	BackendMock   = "mock"
	BackendNone   = "none"
)

// TLS modes.
const (
	TLSOff  = "off"
	TLSAuto = "auto"
	TLSFile = "file"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Reader  ReaderConfig  `yaml:"reader"`
	Printer PrinterConfig `yaml:"printer"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	APISecret      string        `yaml:"apiSecret"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	MDNS           bool          `yaml:"mdns"`
	TLS            TLSConfig     `yaml:"tls"`
}

type TLSConfig struct {
	// Mode is off, auto (local CA) or file (CertFile/KeyFile).
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
	// BootstrapPort serves the local CA over plain HTTP in auto mode so
	// other devices can trust it. Zero disables it.
	BootstrapPort int `yaml:"bootstrapPort"`
}

type ReaderConfig struct {
	Backend           string        `yaml:"backend"`
	Device            string        `yaml:"device"`
	DetectAttempts    int           `yaml:"detectAttempts"`
	DetectRetryDelay  time.Duration `yaml:"detectRetryDelay"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	SkipPlatformCheck bool          `yaml:"skipPlatformCheck"`
	PlatformKeywords  []string      `yaml:"platformKeywords"`
}

type PrinterConfig struct {
	Backend     string        `yaml:"backend"`
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baudRate"`
	DotWidth    int           `yaml:"dotWidth"`
	CutMode     int           `yaml:"cutMode"`
	StatusQuery bool          `yaml:"statusQuery"`
	SettleDelay time.Duration `yaml:"settleDelay"`
	FontPath    string        `yaml:"fontPath"`
	LineWidth   int           `yaml:"lineWidth"`
	CodePage    int           `yaml:"codePage"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	term := pos.DefaultConfig()
	printer := escpos.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Port:           18080,
			SessionTimeout: 60 * time.Second,
			MDNS:           true,
			TLS:            TLSConfig{Mode: TLSOff},
		},
		Reader: ReaderConfig{
			Backend:          BackendLibnfc,
			DetectAttempts:   term.DetectAttempts,
			DetectRetryDelay: term.DetectRetryDelay,
			PollInterval:     term.PollInterval,
			PlatformKeywords: term.PlatformKeywords,
		},
		Printer: PrinterConfig{
			Backend:     BackendEscpos,
			BaudRate:    printer.BaudRate,
			DotWidth:    printer.DotWidth,
			CutMode:     printer.CutMode,
			SettleDelay: term.SettleDelay,
			LineWidth:   term.LineWidth,
		},
		Log: LogConfig{Level: "info", Pretty: true},
	}
}

// Load reads path over the defaults (skipped when path is empty) and then
// applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from PAXPOS_* variables. Malformed numbers and
// booleans keep the current value.
func (c *Config) ApplyEnv() {
	c.Server.Port = intEnvOrDefault(EnvPort, c.Server.Port)
	c.Server.APISecret = envOrDefault(EnvAPISecret, c.Server.APISecret)
	c.Server.SessionTimeout = durationEnvOrDefault(EnvSessionTimeout, c.Server.SessionTimeout)
	c.Server.MDNS = boolEnvOrDefault(EnvMDNS, c.Server.MDNS)
	c.Server.TLS.Mode = envOrDefault(EnvTLSMode, c.Server.TLS.Mode)
	c.Server.TLS.CertFile = envOrDefault(EnvTLSCert, c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = envOrDefault(EnvTLSKey, c.Server.TLS.KeyFile)
	c.Server.TLS.BootstrapPort = intEnvOrDefault(EnvTLSBootstrapPort, c.Server.TLS.BootstrapPort)

	c.Reader.Backend = envOrDefault(EnvReaderBackend, c.Reader.Backend)
	c.Reader.Device = envOrDefault(EnvReaderDevice, c.Reader.Device)
	c.Reader.DetectAttempts = intEnvOrDefault(EnvDetectAttempts, c.Reader.DetectAttempts)
	c.Reader.DetectRetryDelay = durationEnvOrDefault(EnvDetectRetryDelay, c.Reader.DetectRetryDelay)
	c.Reader.PollInterval = durationEnvOrDefault(EnvPollInterval, c.Reader.PollInterval)
	c.Reader.SkipPlatformCheck = boolEnvOrDefault(EnvSkipPlatformCheck, c.Reader.SkipPlatformCheck)
	if v := strings.TrimSpace(os.Getenv(EnvPlatformKeywords)); v != "" {
		c.Reader.PlatformKeywords = splitList(v)
	}

	c.Printer.Backend = envOrDefault(EnvPrinterBackend, c.Printer.Backend)
	c.Printer.Port = envOrDefault(EnvPrinterPort, c.Printer.Port)
	c.Printer.BaudRate = intEnvOrDefault(EnvBaudRate, c.Printer.BaudRate)
	c.Printer.DotWidth = intEnvOrDefault(EnvDotWidth, c.Printer.DotWidth)
	c.Printer.CutMode = intEnvOrDefault(EnvCutMode, c.Printer.CutMode)
	c.Printer.StatusQuery = boolEnvOrDefault(EnvStatusQuery, c.Printer.StatusQuery)
	c.Printer.SettleDelay = durationEnvOrDefault(EnvSettleDelay, c.Printer.SettleDelay)
	c.Printer.FontPath = envOrDefault(EnvFontPath, c.Printer.FontPath)
	c.Printer.LineWidth = intEnvOrDefault(EnvLineWidth, c.Printer.LineWidth)
	c.Printer.CodePage = intEnvOrDefault(EnvCodePage, c.Printer.CodePage)

	c.Log.Level = envOrDefault(EnvLogLevel, c.Log.Level)
	c.Log.Pretty = boolEnvOrDefault(EnvLogPretty, c.Log.Pretty)
}

// Validate checks the configuration for values the agent cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.SessionTimeout < 0 {
		return fmt.Errorf("invalid server.sessionTimeout: %s", c.Server.SessionTimeout)
	}
	switch c.Server.TLS.Mode {
	case "", TLSOff, TLSAuto:
	case TLSFile:
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("invalid server.tls: mode %q needs cert and key", TLSFile)
		}
	default:
		return fmt.Errorf("invalid server.tls.mode: %q", c.Server.TLS.Mode)
	}
	if bp := c.Server.TLS.BootstrapPort; bp < 0 || bp > 65535 || bp == c.Server.Port {
		return fmt.Errorf("invalid server.tls.bootstrapPort: %d", bp)
	}

	switch c.Reader.Backend {
	case BackendLibnfc, BackendMock:
	default:
		return fmt.Errorf("invalid reader.backend: %q", c.Reader.Backend)
	}
	if c.Reader.DetectAttempts < 1 {
		return fmt.Errorf("invalid reader.detectAttempts: %d", c.Reader.DetectAttempts)
	}
	if c.Reader.DetectRetryDelay < 0 {
		return fmt.Errorf("invalid reader.detectRetryDelay: %s", c.Reader.DetectRetryDelay)
	}
	if c.Reader.PollInterval <= 0 {
		return fmt.Errorf("invalid reader.pollInterval: %s", c.Reader.PollInterval)
	}

	switch c.Printer.Backend {
	case BackendEscpos, BackendMock, BackendNone:
	default:
		return fmt.Errorf("invalid printer.backend: %q", c.Printer.Backend)
	}
	if c.Printer.BaudRate <= 0 {
		return fmt.Errorf("invalid printer.baudRate: %d", c.Printer.BaudRate)
	}
	if c.Printer.DotWidth <= 0 || c.Printer.DotWidth%8 != 0 {
		return fmt.Errorf("invalid printer.dotWidth: %d (must be a positive multiple of 8)", c.Printer.DotWidth)
	}
	if c.Printer.CutMode < escpos.NoCutter || c.Printer.CutMode > 2 {
		return fmt.Errorf("invalid printer.cutMode: %d", c.Printer.CutMode)
	}
	if c.Printer.SettleDelay < 0 {
		return fmt.Errorf("invalid printer.settleDelay: %s", c.Printer.SettleDelay)
	}
	if c.Printer.LineWidth <= 0 {
		return fmt.Errorf("invalid printer.lineWidth: %d", c.Printer.LineWidth)
	}
	if c.Printer.CodePage < 0 || c.Printer.CodePage > 255 {
		return fmt.Errorf("invalid printer.codePage: %d", c.Printer.CodePage)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	return nil
}

// Terminal returns the workflow configuration.
func (c Config) Terminal() pos.Config {
	return pos.Config{
		DetectAttempts:    c.Reader.DetectAttempts,
		DetectRetryDelay:  c.Reader.DetectRetryDelay,
		PollInterval:      c.Reader.PollInterval,
		SettleDelay:       c.Printer.SettleDelay,
		SkipPlatformCheck: c.Reader.SkipPlatformCheck,
		PlatformKeywords:  c.Reader.PlatformKeywords,
		LineWidth:         c.Printer.LineWidth,
		DotWidth:          c.Printer.DotWidth,
		FontPath:          c.Printer.FontPath,
	}
}

// Escpos returns the serial printer configuration.
func (c Config) Escpos() escpos.Config {
	cfg := escpos.DefaultConfig()
	cfg.Port = c.Printer.Port
	cfg.BaudRate = c.Printer.BaudRate
	cfg.DotWidth = c.Printer.DotWidth
	cfg.CutMode = c.Printer.CutMode
	cfg.StatusQuery = c.Printer.StatusQuery
	cfg.CodePage = byte(c.Printer.CodePage)
	return cfg
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnvOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolEnvOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// durationEnvOrDefault accepts Go durations ("500ms") or plain milliseconds.
func durationEnvOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
