package dal

import (
	"fmt"
	"image"
	"sync"
)

// MockPicc is a test implementation of Picc that simulates a card reader.
//
// Detect walks through DetectResults, one entry per call, and keeps
// returning the last entry once the list is exhausted. DetectFunc overrides
// that behaviour entirely.
//
// Example:
//
//	picc := NewMockPicc()
//	picc.DetectResults = []*CardInfo{nil, {Serial: []byte{0x04, 0xA1, 0xB2, 0xC3}}}
type MockPicc struct {
	IsOpen bool

	OpenError  error
	CloseError error

	DetectFunc    func(mode DetectMode) (*CardInfo, error)
	DetectResults []*CardInfo
	DetectError   error

	// Blocks holds block contents returned by M1Read.
	Blocks map[byte][]byte
	// RequireAuth makes M1Read fail until M1Auth succeeded with one of ValidKeys.
	RequireAuth bool
	ValidKeys   [][]byte
	ReadFunc    func(block byte) ([]byte, error)

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	detectCalls int
	authed      bool
	mu          sync.Mutex
}

// NewMockPicc creates a MockPicc with no card in the field.
func NewMockPicc() *MockPicc {
	return &MockPicc{
		Blocks:  make(map[byte][]byte),
		CallLog: make([]string, 0),
	}
}

func (m *MockPicc) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Open")
	if m.OpenError != nil {
		return m.OpenError
	}
	m.IsOpen = true
	return nil
}

func (m *MockPicc) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Close")
	m.IsOpen = false
	m.authed = false
	return m.CloseError
}

func (m *MockPicc) Detect(mode DetectMode) (*CardInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "Detect:"+mode.String())
	m.authed = false
	if !m.IsOpen {
		return nil, NewNotOpenError("Detect")
	}
	if m.DetectFunc != nil {
		return m.DetectFunc(mode)
	}
	if m.DetectError != nil {
		return nil, m.DetectError
	}
	if len(m.DetectResults) == 0 {
		return nil, nil
	}

	idx := m.detectCalls
	if idx >= len(m.DetectResults) {
		idx = len(m.DetectResults) - 1
	}
	m.detectCalls++
	return m.DetectResults[idx], nil
}

func (m *MockPicc) M1Auth(keyType KeyType, block byte, key []byte, serial []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("M1Auth:%d:%X", block, key))
	for _, valid := range m.ValidKeys {
		if string(valid) == string(key) {
			m.authed = true
			return nil
		}
	}
	return NewAuthError("M1Auth", fmt.Errorf("key %X rejected", key))
}

func (m *MockPicc) M1Read(block byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("M1Read:%d", block))
	if m.ReadFunc != nil {
		return m.ReadFunc(block)
	}
	if m.RequireAuth && !m.authed {
		return nil, NewReadError("M1Read", fmt.Errorf("block %d requires authentication", block))
	}
	return m.Blocks[block], nil
}

// DetectCalls returns how many times Detect was called.
func (m *MockPicc) DetectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, call := range m.CallLog {
		if len(call) > 7 && call[:7] == "Detect:" {
			n++
		}
	}
	return n
}

// Calls returns a copy of the call log.
func (m *MockPicc) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// MockPrinter is a test implementation of Printer that records every call.
type MockPrinter struct {
	// StatusCodes is consumed one entry per Status call; the last entry
	// repeats. Empty means always 0.
	StatusCodes []int
	StatusError error
	InitError   error

	StartCode  int
	StartError error

	CutModeValue int
	CutModeError error
	CutError     error

	FontPathError error

	// Recorded output.
	Texts    []string
	Charsets []string
	Bitmaps  []image.Image
	Steps    []int
	Cuts     []int
	Preset   int
	Gray     int
	Fonts    [][2]int
	Spacing  [2]byte

	DotLineValue int

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	statusCalls int
	mu          sync.Mutex
}

// NewMockPrinter creates a ready MockPrinter with a cutter and a 384 dot head.
func NewMockPrinter() *MockPrinter {
	return &MockPrinter{
		DotLineValue: 384,
		CallLog:      make([]string, 0),
	}
}

func (m *MockPrinter) log(call string) {
	m.CallLog = append(m.CallLog, call)
}

func (m *MockPrinter) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("Init")
	return m.InitError
}

func (m *MockPrinter) Status() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("Status")
	if m.StatusError != nil {
		return 0, m.StatusError
	}
	if len(m.StatusCodes) == 0 {
		return 0, nil
	}
	idx := m.statusCalls
	if idx >= len(m.StatusCodes) {
		idx = len(m.StatusCodes) - 1
	}
	m.statusCalls++
	return m.StatusCodes[idx], nil
}

func (m *MockPrinter) FontSet(ascii ASCIIFont, ext ExtFont) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("FontSet:" + ascii.String() + ":" + ext.String())
	m.Fonts = append(m.Fonts, [2]int{int(ascii), int(ext)})
	return nil
}

func (m *MockPrinter) SetFontPath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("SetFontPath:" + path)
	return m.FontPathError
}

func (m *MockPrinter) DoubleHeight(ascii, local bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("DoubleHeight:%t:%t", ascii, local))
	return nil
}

func (m *MockPrinter) DoubleWidth(ascii, local bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("DoubleWidth:%t:%t", ascii, local))
	return nil
}

func (m *MockPrinter) LeftIndent(indent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("LeftIndent:%d", indent))
	return nil
}

func (m *MockPrinter) Invert(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("Invert:%t", enabled))
	return nil
}

func (m *MockPrinter) SpaceSet(wordSpace, lineSpace byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("SpaceSet:%d:%d", wordSpace, lineSpace))
	m.Spacing = [2]byte{wordSpace, lineSpace}
	return nil
}

func (m *MockPrinter) SetGray(level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("SetGray:%d", level))
	m.Gray = level
	return nil
}

func (m *MockPrinter) PrintStr(text, charset string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("PrintStr")
	m.Texts = append(m.Texts, text)
	m.Charsets = append(m.Charsets, charset)
	return nil
}

func (m *MockPrinter) PrintBitmap(img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("PrintBitmap")
	m.Bitmaps = append(m.Bitmaps, img)
	return nil
}

func (m *MockPrinter) PrintBitmapWithMonoThreshold(img image.Image, threshold int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("PrintBitmapWithMonoThreshold:%d", threshold))
	m.Bitmaps = append(m.Bitmaps, img)
	return nil
}

func (m *MockPrinter) Start() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("Start")
	return m.StartCode, m.StartError
}

func (m *MockPrinter) Step(pixels int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("Step:%d", pixels))
	m.Steps = append(m.Steps, pixels)
	return nil
}

func (m *MockPrinter) CutMode() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("CutMode")
	return m.CutModeValue, m.CutModeError
}

func (m *MockPrinter) CutPaper(mode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("CutPaper:%d", mode))
	if m.CutError != nil {
		return m.CutError
	}
	m.Cuts = append(m.Cuts, mode)
	return nil
}

func (m *MockPrinter) PresetCutPaper(mode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log(fmt.Sprintf("PresetCutPaper:%d", mode))
	m.Preset = mode
	return nil
}

func (m *MockPrinter) DotLine() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("DotLine")
	return m.DotLineValue, nil
}

// Called reports whether a call with the given prefix was logged.
func (m *MockPrinter) Called(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.CallLog {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// MockDAL hands out a fixed MockPicc and MockPrinter.
type MockDAL struct {
	PiccDevice    *MockPicc
	PrinterDevice *MockPrinter
	PiccError     error
	PrinterError  error
	// NilPicc makes Picc return (nil, nil), as broken vendor stacks do.
	NilPicc bool
}

// NewMockDAL creates a MockDAL with an empty reader field and a ready printer.
func NewMockDAL() *MockDAL {
	return &MockDAL{
		PiccDevice:    NewMockPicc(),
		PrinterDevice: NewMockPrinter(),
	}
}

func (m *MockDAL) Picc(t PiccType) (Picc, error) {
	if m.PiccError != nil {
		return nil, m.PiccError
	}
	if m.NilPicc {
		return nil, nil
	}
	return m.PiccDevice, nil
}

func (m *MockDAL) Printer() (Printer, error) {
	if m.PrinterError != nil {
		return nil, m.PrinterError
	}
	return m.PrinterDevice, nil
}

func (m *MockDAL) Version() string {
	return "mock"
}

// NewDemoDAL returns a MockDAL with a MIFARE Classic card permanently in the
// field whose block 0 is readable with the transport key. It backs the
// agent's "mock" backend.
func NewDemoDAL() *MockDAL {
	d := NewMockDAL()
	d.PiccDevice.DetectResults = []*CardInfo{{
		Serial:     []byte{0x04, 0xA1, 0xB2, 0xC3},
		Technology: "MIFARE Classic 1k",
		SAK:        0x08,
		ATQA:       []byte{0x00, 0x04},
	}}
	d.PiccDevice.RequireAuth = true
	d.PiccDevice.ValidKeys = [][]byte{{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}}
	d.PiccDevice.Blocks[0] = []byte{
		0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0x08, 0x04, 0x00,
		0x62, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
	}
	return d
}
