package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/buildinfo"
	"github.com/dotside-studios/pax-pos-agent/config"
	"github.com/dotside-studios/pax-pos-agent/pos"
	"github.com/dotside-studios/pax-pos-agent/server"
	"github.com/dotside-studios/pax-pos-agent/tls"
)

// Agent owns the terminal and runs the WebSocket server in front of it.
type Agent struct {
	Config   config.Config
	Terminal *pos.Terminal

	devices *devices
	logger  zerolog.Logger

	mu        sync.Mutex
	server    *server.Server
	bootstrap *tls.BootstrapServer
	certFile  string
	keyFile   string
	lastErr   error
}

func NewAgent(cfg config.Config) *Agent {
	logger := log.With().Str("component", "agent").Logger()
	d := newDevices(cfg, logger)
	return &Agent{
		Config:   cfg,
		Terminal: pos.NewTerminal(d, pos.WithConfig(cfg.Terminal())),
		devices:  d,
		logger:   logger,
	}
}

// Start resolves the TLS material and starts serving. It returns nil when
// the agent is already running.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.logger.Debug().Msg("agent already running")
		return nil
	}

	tlsCfg := a.Config.Server.TLS
	configDir := ""
	if tlsCfg.Mode == config.TLSAuto {
		dir, err := tls.DefaultConfigDir()
		if err != nil {
			return err
		}
		configDir = dir
	}
	cert, key, mgr, err := tls.Resolve(tlsCfg.Mode, configDir, tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		a.lastErr = err
		return fmt.Errorf("tls: %w", err)
	}
	a.certFile, a.keyFile = cert, key

	srv := server.New(server.Config{
		Terminal: a.Terminal,
		Port:     a.Config.Server.Port,
		Sessions: server.NewSessionManager(a.Config.Server.APISecret, a.Config.Server.SessionTimeout),
		MDNS:     a.Config.Server.MDNS,
		CertFile: cert,
		KeyFile:  key,
		Versions: a.devices.Versions(),
	})
	a.server = srv
	a.lastErr = nil

	if mgr != nil && tlsCfg.BootstrapPort > 0 {
		a.bootstrap = tls.NewBootstrapServer(mgr, tlsCfg.BootstrapPort)
		if err := a.bootstrap.Start(); err != nil {
			a.logger.Warn().Err(err).Msg("CA bootstrap server unavailable")
			a.bootstrap = nil
		}
	}

	go func() {
		if err := srv.Start(); err != nil {
			a.logger.Error().Err(err).Msg("server stopped")
			a.mu.Lock()
			a.lastErr = err
			if a.server == srv {
				a.server = nil
			}
			a.mu.Unlock()
		}
	}()

	a.logger.Info().
		Str("version", buildinfo.FullVersion()).
		Str("url", a.webSocketURL("localhost")).
		Str("reader", a.Config.Reader.Backend).
		Str("printer", a.Config.Printer.Backend).
		Msg("agent started")
	return nil
}

// Stop shuts the server down and releases the devices.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil && a.bootstrap == nil {
		a.logger.Debug().Msg("agent is not running")
		return
	}

	if a.server != nil {
		a.server.Stop()
		a.server = nil
	}
	if a.bootstrap != nil {
		a.bootstrap.Stop()
		a.bootstrap = nil
	}

	a.Terminal.Reset()
	if err := a.devices.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close printer")
	}
	a.logger.Info().Msg("agent stopped")
}

// Running reports whether the server is up.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Err returns the error that stopped the agent, if any.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func (a *Agent) webSocketURL(host string) string {
	scheme := "ws"
	if a.certFile != "" && a.keyFile != "" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, a.Config.Server.Port, server.RouteWebSocket)
}

// WebSocketURL returns the endpoint clients on host should connect to.
func (a *Agent) WebSocketURL(host string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.webSocketURL(host)
}

// BootstrapURL returns the CA download page on host, or "" when the
// bootstrap server is not running.
func (a *Agent) BootstrapURL(host string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bootstrap == nil {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", host, a.Config.Server.TLS.BootstrapPort)
}

// DetectCard runs one identification on behalf of the tray menu.
func (a *Agent) DetectCard(ctx context.Context) (*pos.CardResult, error) {
	return a.Terminal.IdentifyCard(ctx)
}

// PrintTestPage prints a short receipt with the agent and device details.
// Printers without a cutter only feed.
func (a *Agent) PrintTestPage(ctx context.Context) error {
	lines := []string{
		buildinfo.DisplayName,
		"Version: " + buildinfo.FullVersion(),
		"Printed: " + time.Now().Format("2006-01-02 15:04:05"),
	}
	if card := a.Terminal.LastCard(); card != nil {
		lines = append(lines, "Last card: "+card.Identity.UIDHex())
	}

	if _, err := a.Terminal.PrintText(ctx, lines[0], pos.PrintOptions{FontSize: pos.FontSizeLarge, Alignment: pos.AlignCenter}); err != nil {
		return err
	}
	for _, line := range lines[1:] {
		if _, err := a.Terminal.PrintText(ctx, line, pos.PrintOptions{FontSize: pos.FontSizeMedium}); err != nil {
			return err
		}
	}
	if err := a.Terminal.FeedPaper(ctx, pos.DefaultFeedPixels); err != nil {
		return err
	}
	if err := a.Terminal.CutPaper(ctx, 0); err != nil && !errors.Is(err, pos.ErrCutUnsupported) {
		return err
	}
	return nil
}

// PrinterStatus describes the printer for the tray menu.
func (a *Agent) PrinterStatus(ctx context.Context) string {
	if a.Config.Printer.Backend == config.BackendNone {
		return "Not configured"
	}
	_, message, err := a.Terminal.PrinterStatus(ctx)
	if err != nil {
		return pos.Fail(err).Error
	}
	return message
}
