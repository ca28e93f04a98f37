package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dotside-studios/pax-pos-agent/buildinfo"
	"github.com/dotside-studios/pax-pos-agent/config"
	"github.com/dotside-studios/pax-pos-agent/dal"
	"github.com/dotside-studios/pax-pos-agent/dal/escpos"
	"github.com/dotside-studios/pax-pos-agent/dal/libnfc"
)

// devices builds the device layer for the configured backends.
type devices struct {
	cfg     config.Config
	logger  zerolog.Logger
	demo    *dal.MockDAL
	printer *escpos.Printer
	reader  func(dal.PiccType) (dal.Picc, error)
}

func newDevices(cfg config.Config, logger zerolog.Logger) *devices {
	d := &devices{cfg: cfg, logger: logger}

	if cfg.Reader.Backend == config.BackendMock || cfg.Printer.Backend == config.BackendMock {
		d.demo = dal.NewDemoDAL()
	}
	if cfg.Reader.Backend == config.BackendLibnfc {
		d.reader = libnfc.Factory(cfg.Reader.Device, logger.With().Str("component", "libnfc").Logger())
	}
	if cfg.Printer.Backend == config.BackendEscpos {
		pcfg := cfg.Escpos()
		d.printer = escpos.NewWithOpener(pcfg, autoPortOpener(pcfg, readerPort(cfg.Reader.Device), logger),
			logger.With().Str("component", "escpos").Logger())
	}
	return d
}

// Versions lists the backend versions reported to clients.
func (d *devices) Versions() map[string]string {
	v := map[string]string{"agent": buildinfo.Version}
	if d.cfg.Reader.Backend == config.BackendLibnfc {
		v["libnfc"] = libnfc.Version()
	}
	if d.demo != nil {
		v["mock"] = d.demo.Version()
	}
	if d.printer != nil {
		v["printer"] = d.printer.Version()
	}
	return v
}

// Load implements dal.Loader. The libnfc backend is checked on every load
// so a reader stack that failed to initialise is retried on the next
// operation.
func (d *devices) Load(ctx context.Context) (dal.DAL, error) {
	composite := &dal.Composite{Versions: d.Versions()}

	switch d.cfg.Reader.Backend {
	case config.BackendLibnfc:
		if _, err := libnfc.ListDevices(); err != nil {
			return nil, err
		}
		composite.PiccFactory = d.reader
	case config.BackendMock:
		composite.PiccFactory = d.demo.Picc
	}

	switch d.cfg.Printer.Backend {
	case config.BackendEscpos:
		composite.PrinterFactory = escpos.Factory(d.printer)
	case config.BackendMock:
		composite.PrinterFactory = d.demo.Printer
	}

	return composite, nil
}

// Close releases the printer port.
func (d *devices) Close() error {
	if d.printer == nil {
		return nil
	}
	return d.printer.Close()
}

// readerPort extracts the serial device from a libnfc connection string
// such as "pn532_uart:/dev/ttyUSB0".
func readerPort(conn string) string {
	if _, port, ok := strings.Cut(conn, ":"); ok {
		if rest, _, ok := strings.Cut(port, ":"); ok {
			return rest
		}
		return port
	}
	return ""
}

// pickPort returns the first port that is not exclude.
func pickPort(ports []string, exclude string) (string, bool) {
	for _, p := range ports {
		if p != exclude {
			return p, true
		}
	}
	return "", false
}

// autoPortOpener opens cfg.Port, or the first serial port not used by the
// card reader when no port is configured. The port is chosen on every open
// so a printer plugged in after start-up is found.
func autoPortOpener(cfg escpos.Config, exclude string, logger zerolog.Logger) escpos.Opener {
	if cfg.Port != "" {
		return escpos.SerialOpener(cfg)
	}
	return func() (io.ReadWriteCloser, error) {
		ports, err := escpos.ListPorts()
		if err != nil {
			return nil, fmt.Errorf("list serial ports: %w", err)
		}
		port, ok := pickPort(ports, exclude)
		if !ok {
			return nil, errors.New("no serial printer port found")
		}
		logger.Info().Str("port", port).Msg("using serial port for printer")

		c := cfg
		c.Port = port
		return escpos.SerialOpener(c)()
	}
}
