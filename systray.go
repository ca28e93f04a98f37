package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"fyne.io/systray"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/buildinfo"
	"github.com/dotside-studios/pax-pos-agent/pos"
	"github.com/dotside-studios/pax-pos-agent/tls"
)

const (
	statusStarting = "Starting..."
	statusRunning  = "Running"
	statusFailed   = "Failed to Start"
	statusStopped  = "Stopped"
)

// SystrayApp manages the system tray interface of the agent.
type SystrayApp struct {
	agent  *Agent
	logger zerolog.Logger

	mStatus        *systray.MenuItem
	mURL           *systray.MenuItem
	mCopyURL       *systray.MenuItem
	mBootstrapURL  *systray.MenuItem
	mCopyBootstrap *systray.MenuItem
	mCardUID       *systray.MenuItem
	mCardType      *systray.MenuItem
	mPrinter       *systray.MenuItem
	mDetect        *systray.MenuItem
	mTestPage      *systray.MenuItem
	mStart         *systray.MenuItem
	mStop          *systray.MenuItem
	mQuit          *systray.MenuItem
}

func NewSystrayApp(agent *Agent) *SystrayApp {
	return &SystrayApp{
		agent:  agent,
		logger: log.With().Str("component", "systray").Logger(),
	}
}

// Run blocks until the tray is quit.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	s.setupUI()
	s.autoStartAgent()
	s.startInfoUpdater()
	go s.handleMenuEvents()
}

func (s *SystrayApp) onExit() {
	s.agent.Stop()
}

func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconData)
	systray.SetTooltip(buildinfo.DisplayName + " " + buildinfo.Version)

	s.mStatus = systray.AddMenuItem(statusStarting, "Agent status")
	s.mStatus.Disable()

	urls := systray.AddMenuItem("Server URLs", "Server addresses")
	s.mURL = urls.AddSubMenuItem("WebSocket: Not running", "WebSocket URL")
	s.mURL.Disable()
	s.mCopyURL = urls.AddSubMenuItem("  Copy WebSocket URL", "Copy the WebSocket URL to the clipboard")
	s.mBootstrapURL = urls.AddSubMenuItem("CA Cert: Not running", "CA certificate download page")
	s.mBootstrapURL.Disable()
	s.mCopyBootstrap = urls.AddSubMenuItem("  Copy CA URL", "Copy the CA download URL to the clipboard")

	systray.AddSeparator()

	s.mCardUID = systray.AddMenuItem("Card UID: None", "Last identified card")
	s.mCardUID.Disable()
	s.mCardType = systray.AddMenuItem("Card Type: None", "Type of the last identified card")
	s.mCardType.Disable()
	s.mPrinter = systray.AddMenuItem("Printer: Unknown", "Printer status")
	s.mPrinter.Disable()

	systray.AddSeparator()

	s.mDetect = systray.AddMenuItem("Detect Card", "Identify the card on the reader")
	s.mTestPage = systray.AddMenuItem("Print Test Page", "Print a test receipt")

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Agent", "Start the agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the agent")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

func (s *SystrayApp) autoStartAgent() {
	go s.handleStartAgent()
}

// startInfoUpdater refreshes the card and printer entries.
func (s *SystrayApp) startInfoUpdater() {
	go func() {
		cardTicker := time.NewTicker(500 * time.Millisecond)
		defer cardTicker.Stop()
		printerTicker := time.NewTicker(10 * time.Second)
		defer printerTicker.Stop()

		var lastCard *pos.CardResult
		s.updatePrinter()
		for {
			select {
			case <-cardTicker.C:
				card := s.agent.Terminal.LastCard()
				if card != lastCard {
					s.updateCard(card)
					lastCard = card
				}
			case <-printerTicker.C:
				if s.agent.Running() {
					s.updatePrinter()
				}
			}
		}
	}()
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.handleStartAgent()
		case <-s.mStop.ClickedCh:
			s.handleStopAgent()
		case <-s.mCopyURL.ClickedCh:
			s.copy("WebSocket URL", s.agent.WebSocketURL(tls.PrimaryHost()))
		case <-s.mCopyBootstrap.ClickedCh:
			s.copy("CA URL", s.agent.BootstrapURL(tls.PrimaryHost()))
		case <-s.mDetect.ClickedCh:
			go s.handleDetect()
		case <-s.mTestPage.ClickedCh:
			go s.handleTestPage()
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (s *SystrayApp) handleStartAgent() {
	s.updateStatus(statusStarting)
	if err := s.agent.Start(); err != nil {
		s.logger.Error().Err(err).Msg("failed to start agent")
		s.updateStatus(statusFailed)
		s.mStart.Enable()
		return
	}
	s.updateStatus(statusRunning)
	s.updateURLs()
	s.mStart.Disable()
	s.mStop.Enable()
}

func (s *SystrayApp) handleStopAgent() {
	s.agent.Stop()
	s.updateStatus(statusStopped)
	s.clearURLs()
	s.mStop.Disable()
	s.mStart.Enable()
}

func (s *SystrayApp) handleDetect() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.mDetect.Disable()
	defer s.mDetect.Enable()

	if _, err := s.agent.DetectCard(ctx); err != nil {
		s.mCardUID.SetTitle("Card UID: " + pos.Fail(err).Error)
	}
}

func (s *SystrayApp) handleTestPage() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.mTestPage.Disable()
	defer s.mTestPage.Enable()

	if err := s.agent.PrintTestPage(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("test page failed")
	}
	s.updatePrinter()
}

func (s *SystrayApp) updateStatus(status string) {
	s.mStatus.SetTitle(status)

	switch status {
	case statusRunning:
		systray.SetIcon(iconDataConnected)
	case statusFailed:
		systray.SetIcon(iconDataError)
	case statusStopped:
		systray.SetIcon(iconDataStopped)
	default:
		systray.SetIcon(iconData)
	}
}

func (s *SystrayApp) updateCard(card *pos.CardResult) {
	if card == nil {
		s.mCardUID.SetTitle("Card UID: None")
		s.mCardType.SetTitle("Card Type: None")
		return
	}
	s.mCardUID.SetTitle("Card UID: " + card.Identity.UIDHex())
	s.mCardType.SetTitle("Card Type: " + card.Identity.TypeLabel)
}

func (s *SystrayApp) updatePrinter() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.mPrinter.SetTitle("Printer: " + s.agent.PrinterStatus(ctx))
}

func (s *SystrayApp) updateURLs() {
	host := tls.PrimaryHost()
	s.mURL.SetTitle("WebSocket: " + s.agent.WebSocketURL(host))
	if url := s.agent.BootstrapURL(host); url != "" {
		s.mBootstrapURL.SetTitle("CA Cert: " + url)
	} else {
		s.mBootstrapURL.SetTitle("CA Cert: Disabled")
	}
}

func (s *SystrayApp) clearURLs() {
	s.mURL.SetTitle("WebSocket: Not running")
	s.mBootstrapURL.SetTitle("CA Cert: Not running")
}

func (s *SystrayApp) copy(what, text string) {
	if text == "" {
		return
	}
	if err := copyToClipboard(text); err != nil {
		s.logger.Warn().Err(err).Msg("failed to copy to clipboard")
		return
	}
	s.logger.Info().Str("what", what).Msg("copied to clipboard")
}

func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
