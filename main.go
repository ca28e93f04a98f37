// Package main runs the POS agent: it identifies contactless cards and
// drives a thermal receipt printer on behalf of clients connected over a
// WebSocket channel. By default it runs in the system tray.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/systray"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/buildinfo"
	"github.com/dotside-studios/pax-pos-agent/config"
	"github.com/dotside-studios/pax-pos-agent/dal/escpos"
	"github.com/dotside-studios/pax-pos-agent/dal/libnfc"
)

var (
	configFlag      string
	devicePathFlag  string
	portFlag        int
	cliFlag         bool
	apiSecretFlag   string
	printerPortFlag string
	tlsFlag         string
	mockFlag        bool
	listFlag        bool
	versionFlag     bool
)

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// applyFlags overrides the loaded configuration with flags that were set
// explicitly on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = portFlag
		case "api-secret":
			cfg.Server.APISecret = apiSecretFlag
		case "tls":
			cfg.Server.TLS.Mode = tlsFlag
		case "device":
			cfg.Reader.Device = devicePathFlag
		case "printer-port":
			cfg.Printer.Port = printerPortFlag
		}
	})
	if mockFlag {
		cfg.Reader.Backend = config.BackendMock
		cfg.Printer.Backend = config.BackendMock
		cfg.Reader.SkipPlatformCheck = true
	}
}

func listDevices() {
	readers, err := libnfc.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "card readers: %v\n", err)
	} else {
		fmt.Println("Card readers:")
		for _, r := range readers {
			fmt.Println("  " + r)
		}
	}

	ports, err := escpos.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "serial ports: %v\n", err)
		return
	}
	fmt.Println("Serial ports:")
	for _, p := range ports {
		fmt.Println("  " + p)
	}
}

func main() {
	flag.StringVar(&configFlag, "config", "", "Path to a YAML config file (optional)")
	flag.StringVar(&devicePathFlag, "device", "", "libnfc connection string of the card reader (optional)")
	flag.IntVar(&portFlag, "port", 18080, "Port to listen on for WebSocket clients")
	flag.BoolVar(&cliFlag, "cli", false, "Run in CLI mode (default: system tray mode)")
	flag.StringVar(&apiSecretFlag, "api-secret", "", "API secret for session handshake (optional)")
	flag.StringVar(&printerPortFlag, "printer-port", "", "Serial port of the receipt printer (default: auto-detect)")
	flag.StringVar(&tlsFlag, "tls", "", "TLS mode: off, auto or file")
	flag.BoolVar(&mockFlag, "mock", false, "Use the simulated card reader and printer")
	flag.BoolVar(&listFlag, "list-devices", false, "List card readers and serial ports, then exit")
	flag.BoolVar(&versionFlag, "version", false, "Print version information and exit")
	flag.Parse()

	if versionFlag {
		fmt.Println(buildinfo.BuildInfo())
		return
	}
	if listFlag {
		listDevices()
		return
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyFlags(&cfg)
	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	agent := NewAgent(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cliFlag {
		if err := agent.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start agent")
		}
		defer agent.Stop()

		<-sigChan
		log.Info().Msg("shutdown signal received, stopping agent")
		return
	}

	go func() {
		<-sigChan
		systray.Quit()
	}()
	NewSystrayApp(agent).Run()
}
