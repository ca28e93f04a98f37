// Package dal defines the device abstraction layer the agent drives: a
// contactless card reader (PICC) and a thermal printer.
//
// The interfaces mirror the vendor SDK surface found on POS terminals so the
// card and print workflows can run against real hardware backends
// (dal/libnfc, dal/escpos) or the mocks in this package.
package dal

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrNativeLibraryMissing is wrapped by loaders when the backend's native
// library cannot be found or linked.
var ErrNativeLibraryMissing = errors.New("native library missing")

// PiccType selects which contactless reader to open.
type PiccType int

const (
	PiccInternal PiccType = iota
	PiccExternal
)

func (t PiccType) String() string {
	if t == PiccExternal {
		return "external"
	}
	return "internal"
}

// DetectMode selects the card technologies a detect call looks for.
type DetectMode int

const (
	// DetectOnlyM detects MIFARE cards only.
	DetectOnlyM DetectMode = iota
	// DetectOnlyA detects ISO14443 type A cards.
	DetectOnlyA
	// DetectISO14443AB detects type A and type B cards.
	DetectISO14443AB
	// DetectEMVAB detects EMV capable (ISO-DEP) type A and B cards.
	DetectEMVAB
)

// AllDetectModes lists every mode in probing order.
var AllDetectModes = []DetectMode{DetectOnlyM, DetectOnlyA, DetectISO14443AB, DetectEMVAB}

func (m DetectMode) String() string {
	switch m {
	case DetectOnlyM:
		return "ONLY_M"
	case DetectOnlyA:
		return "ONLY_A"
	case DetectISO14443AB:
		return "ISO14443_AB"
	case DetectEMVAB:
		return "EMV_AB"
	default:
		return fmt.Sprintf("MODE(%d)", int(m))
	}
}

// KeyType selects the MIFARE Classic key slot used for authentication.
type KeyType int

const (
	KeyTypeA KeyType = iota
	KeyTypeB
)

// CardInfo is what a successful detect call reports.
type CardInfo struct {
	// Serial is the card UID.
	Serial []byte
	// Technology is a backend specific description ("MIFARE Classic 1k", "ISO14443B").
	Technology string
	SAK        byte
	ATQA       []byte
}

func (c *CardInfo) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("CardInfo{serial=% X, tech=%s, sak=%02X, atqa=% X}", c.Serial, c.Technology, c.SAK, c.ATQA)
}

// Picc is a contactless card reader.
type Picc interface {
	Open() error
	Close() error
	// Detect looks for a card once. A nil CardInfo with a nil error means
	// no card was in the field.
	Detect(mode DetectMode) (*CardInfo, error)
	// M1Auth authenticates the sector holding block against a MIFARE
	// Classic card identified by serial.
	M1Auth(keyType KeyType, block byte, key []byte, serial []byte) error
	M1Read(block byte) ([]byte, error)
}

// Printer is a thermal receipt printer. Content calls are buffered until
// Start submits the job.
type Printer interface {
	Init() error
	// Status returns the vendor status code. 0 means ready.
	Status() (int, error)
	FontSet(ascii ASCIIFont, ext ExtFont) error
	SetFontPath(path string) error
	DoubleHeight(ascii, local bool) error
	DoubleWidth(ascii, local bool) error
	LeftIndent(indent int) error
	Invert(enabled bool) error
	SpaceSet(wordSpace, lineSpace byte) error
	SetGray(level int) error
	PrintStr(text, charset string) error
	PrintBitmap(img image.Image) error
	PrintBitmapWithMonoThreshold(img image.Image, threshold int) error
	// Start submits the buffered job and returns the resulting status code.
	Start() (int, error)
	Step(pixels int) error
	// CutMode returns the supported cut mode, -1 when the printer has no cutter.
	CutMode() (int, error)
	CutPaper(mode int) error
	PresetCutPaper(mode int) error
	DotLine() (int, error)
}

// DAL is the device handle from which reader and printer handles are obtained.
type DAL interface {
	Picc(t PiccType) (Picc, error)
	Printer() (Printer, error)
}

// Loader acquires a DAL.
type Loader interface {
	Load(ctx context.Context) (DAL, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (DAL, error)

func (f LoaderFunc) Load(ctx context.Context) (DAL, error) {
	return f(ctx)
}

// VersionReporter is implemented by backends that can report the version of
// their native library.
type VersionReporter interface {
	Version() string
}
