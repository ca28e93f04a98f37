// Package escpos implements the dal printer on an ESC/POS thermal receipt
// printer attached to a serial port (USB-serial adapters included).
//
// Content calls are buffered and sent when Start submits the job, the way
// POS vendor SDKs behave. Paper feed and cut are mechanical actions and are
// written immediately.
package escpos

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/dotside-studios/pax-pos-agent/dal"
	"github.com/dotside-studios/pax-pos-agent/raster"
)

// NoCutter is the cut mode of a printer without a cutter.
const NoCutter = -1

// Config describes the attached printer.
type Config struct {
	// Port is the serial device, e.g. /dev/ttyUSB0 or COM3.
	Port     string
	BaudRate int
	// DotWidth is the printable width in dots (384 for 58mm, 576 for 80mm).
	DotWidth int
	// CutMode is 0 for a full cut, 1 for a partial cut, NoCutter for none.
	CutMode int
	// StatusQuery enables DLE EOT status requests. Many cheap printers do
	// not answer them, in which case the status is always normal.
	StatusQuery bool
	// CodePage is sent with ESC t on init when non zero.
	CodePage    byte
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings of a common 58mm printer.
func DefaultConfig() Config {
	return Config{
		BaudRate:    9600,
		DotWidth:    384,
		CutMode:     NoCutter,
		ReadTimeout: 500 * time.Millisecond,
	}
}

// Opener opens the printer transport.
type Opener func() (io.ReadWriteCloser, error)

// Printer implements dal.Printer.
type Printer struct {
	cfg    Config
	open   Opener
	logger zerolog.Logger

	mu   sync.Mutex
	port io.ReadWriteCloser
	job  bytes.Buffer

	fontB     bool
	fontMul   uint8
	doubleW   bool
	doubleH   bool
	presetCut int
	// openLine is set while the job ends in text without a line feed.
	openLine bool
}

// New creates a printer reached over the serial port in cfg.
func New(cfg Config, logger zerolog.Logger) *Printer {
	return NewWithOpener(cfg, SerialOpener(cfg), logger)
}

// NewWithOpener creates a printer using a custom transport.
func NewWithOpener(cfg Config, open Opener, logger zerolog.Logger) *Printer {
	def := DefaultConfig()
	if cfg.DotWidth <= 0 {
		cfg.DotWidth = def.DotWidth
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = def.BaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	return &Printer{
		cfg:       cfg,
		open:      open,
		logger:    logger,
		fontMul:   1,
		presetCut: NoCutter,
	}
}

// SerialOpener opens cfg.Port with 8N1 framing.
func SerialOpener(cfg Config) Opener {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(cfg.Port, &serial.Mode{
			BaudRate: cfg.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
		}
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
		return port, nil
	}
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Factory returns a dal.Composite printer factory handing out p.
func Factory(p *Printer) func() (dal.Printer, error) {
	return func() (dal.Printer, error) {
		return p, nil
	}
}

// Close releases the transport. The next call reopens it.
func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closePort()
}

func (p *Printer) closePort() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

func (p *Printer) ensurePort(op string) error {
	if p.port != nil {
		return nil
	}
	port, err := p.open()
	if err != nil {
		return dal.NewTransportError(op, err)
	}
	p.port = port
	p.logger.Debug().Str("port", p.cfg.Port).Msg("printer port opened")
	return nil
}

// write sends data immediately. A disconnected port is dropped so the next
// call reopens it.
func (p *Printer) write(op string, data []byte) error {
	if err := p.ensurePort(op); err != nil {
		return err
	}
	if _, err := p.port.Write(data); err != nil {
		if isDisconnectionError(err) {
			p.logger.Warn().Err(err).Str("port", p.cfg.Port).Msg("printer disconnected")
			_ = p.closePort()
		}
		return dal.NewTransportError(op, err)
	}
	return nil
}

// Init resets the printer and discards any buffered job.
func (p *Printer) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.job.Reset()
	p.openLine = false
	p.fontB, p.fontMul = false, 1
	p.doubleW, p.doubleH = false, false

	cmd := cmdInitialize()
	if p.cfg.CodePage != 0 {
		cmd = append(cmd, cmdCodePage(p.cfg.CodePage)...)
	}
	return p.write("Init", cmd)
}

func (p *Printer) Status() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status("Status")
}

func (p *Printer) status(op string) (int, error) {
	if !p.cfg.StatusQuery {
		return codeNormal, nil
	}

	var answers [3]byte
	for i, n := range []byte{statusOffline, statusError, statusPaper} {
		if err := p.write(op, cmdStatus(n)); err != nil {
			return 0, err
		}
		b, err := p.readByte(op)
		if err != nil {
			return 0, err
		}
		answers[i] = b
	}
	code := statusFromBytes(answers[0], answers[1], answers[2])
	p.logger.Debug().Hex("raw", answers[:]).Int("status", code).Msg("printer status")
	return code, nil
}

func (p *Printer) readByte(op string) (byte, error) {
	var buf [1]byte
	n, err := p.port.Read(buf[:])
	if err != nil {
		return 0, dal.NewTransportError(op, err)
	}
	if n == 0 {
		return 0, dal.NewTransportError(op, errors.New("no status response"))
	}
	return buf[0], nil
}

func (p *Printer) buffer(data ...[]byte) {
	for _, d := range data {
		p.job.Write(d)
	}
}

func (p *Printer) charSize() []byte {
	w, h := p.fontMul, p.fontMul
	if p.doubleW {
		w *= 2
	}
	if p.doubleH {
		h *= 2
	}
	return cmdCharSize(w, h)
}

// FontSet selects the closest ESC/POS font for ascii. The local font has
// no ESC/POS equivalent and only affects double-byte code pages.
func (p *Printer) FontSet(ascii dal.ASCIIFont, _ dal.ExtFont) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fontB, p.fontMul = fontMetrics(ascii)
	p.buffer(cmdSelectFont(p.fontB), p.charSize())
	return nil
}

// SetFontPath is not available: ESC/POS printers only use resident fonts.
func (p *Printer) SetFontPath(string) error {
	return dal.NewNotSupportedError("SetFontPath")
}

func (p *Printer) DoubleHeight(ascii, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.doubleH = ascii
	p.buffer(p.charSize())
	return nil
}

func (p *Printer) DoubleWidth(ascii, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.doubleW = ascii
	p.buffer(p.charSize())
	return nil
}

func (p *Printer) LeftIndent(indent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer(cmdLeftMargin(indent))
	return nil
}

func (p *Printer) Invert(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer(cmdReverse(enabled))
	return nil
}

func (p *Printer) SpaceSet(wordSpace, lineSpace byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer(cmdCharSpacing(wordSpace), cmdLineSpacing(lineSpace))
	return nil
}

func (p *Printer) SetGray(level int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer(cmdPrintDensity(level))
	return nil
}

// PrintStr buffers text encoded in charset. Runes the charset cannot
// represent are replaced.
func (p *Printer) PrintStr(text, charset string) error {
	data, err := encodeText(text, charset)
	if err != nil {
		return &dal.DeviceError{Code: dal.ErrCodeNotSupported, Op: "PrintStr", Message: "charset not supported", Cause: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer(data)
	if len(data) > 0 {
		p.openLine = data[len(data)-1] != '\n'
	}
	return nil
}

// endLine terminates pending text. The printer only prints a line once it
// receives LF, and ESC @ discards an unterminated line.
func (p *Printer) endLine() {
	if p.openLine {
		p.buffer([]byte{'\n'})
		p.openLine = false
	}
}

func encodeText(text, charset string) ([]byte, error) {
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8":
		return []byte(text), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(text))
}

func (p *Printer) PrintBitmap(img image.Image) error {
	return p.PrintBitmapWithMonoThreshold(img, raster.DefaultThreshold)
}

// PrintBitmapWithMonoThreshold scales img down to the head width, converts
// it to black and white at threshold and buffers it as a raster image.
func (p *Printer) PrintBitmapWithMonoThreshold(img image.Image, threshold int) error {
	if img == nil || img.Bounds().Empty() {
		return &dal.DeviceError{Code: dal.ErrCodeReadFailed, Op: "PrintBitmap", Message: "empty bitmap"}
	}
	mono := raster.PackMonochrome(raster.FitWidth(img, p.cfg.DotWidth), threshold)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	p.buffer(cmdRasterImage(mono))
	return nil
}

// Start sends the buffered job, followed by the preset cut, and returns the
// printer status.
func (p *Printer) Start() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.endLine()
	if p.presetCut != NoCutter && p.cfg.CutMode != NoCutter {
		p.buffer(cmdCut(p.presetCut))
	}
	job := append([]byte(nil), p.job.Bytes()...)
	p.job.Reset()

	if len(job) > 0 {
		if err := p.write("Start", job); err != nil {
			return 0, err
		}
	}
	p.logger.Debug().Int("bytes", len(job)).Msg("print job sent")
	return p.status("Start")
}

func (p *Printer) Step(pixels int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pixels <= 0 {
		return nil
	}
	return p.write("Step", cmdFeed(pixels))
}

func (p *Printer) CutMode() (int, error) {
	return p.cfg.CutMode, nil
}

func (p *Printer) CutPaper(mode int) error {
	if p.cfg.CutMode == NoCutter {
		return dal.NewNotSupportedError("CutPaper")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write("CutPaper", cmdCut(mode))
}

// PresetCutPaper makes every following job end with a cut of mode.
func (p *Printer) PresetCutPaper(mode int) error {
	if p.cfg.CutMode == NoCutter {
		return dal.NewNotSupportedError("PresetCutPaper")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.presetCut = mode
	return nil
}

func (p *Printer) DotLine() (int, error) {
	return p.cfg.DotWidth, nil
}

// Version describes the transport.
func (p *Printer) Version() string {
	return fmt.Sprintf("escpos %s@%d", p.cfg.Port, p.cfg.BaudRate)
}

// isDisconnectionError checks if an error indicates the printer went away.
func isDisconnectionError(err error) bool {
	if err == nil {
		return false
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "broken pipe")
}
