package pos

import (
	"errors"
	"strings"

	"github.com/dotside-studios/pax-pos-agent/dal"
)

// ErrorKind classifies workflow failures. Its string form is the error code
// sent to clients.
type ErrorKind int

const (
	KindContextMissing ErrorKind = iota + 1
	KindPlatformUnsupported
	KindHandleUnavailable
	KindNoCardDetected
	KindDetectionFailed
	KindAuthenticationExhausted
	KindInvalidLength
	KindPrinterUnavailable
	KindPrinterError
	KindPrintNotReady
	KindPrintFailed
	KindImageDecodeFailed
	KindRenderFailed
	KindCutUnsupported
	KindInvalidArgument
)

var kindNames = map[ErrorKind]string{
	KindContextMissing:          "CONTEXT_MISSING",
	KindPlatformUnsupported:     "PLATFORM_UNSUPPORTED",
	KindHandleUnavailable:       "HANDLE_UNAVAILABLE",
	KindNoCardDetected:          "NO_CARD_DETECTED",
	KindDetectionFailed:         "DETECTION_FAILED",
	KindAuthenticationExhausted: "AUTHENTICATION_EXHAUSTED",
	KindInvalidLength:           "INVALID_LENGTH",
	KindPrinterUnavailable:      "PRINTER_UNAVAILABLE",
	KindPrinterError:            "PRINTER_ERROR",
	KindPrintNotReady:           "PRINT_NOT_READY",
	KindPrintFailed:             "PRINT_FAILED",
	KindImageDecodeFailed:       "IMAGE_DECODE_FAILED",
	KindRenderFailed:            "RENDER_FAILED",
	KindCutUnsupported:          "CUT_UNSUPPORTED",
	KindInvalidArgument:         "INVALID_ARGUMENT",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error is the structured failure returned by every terminal operation.
// Message is the human readable text sent to clients.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	// Status is the raw printer status for print and cut failures.
	Status    int
	HasStatus bool
	Cause     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil && !strings.Contains(e.Message, e.Cause.Error()) {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrContextMissing          = &Error{Kind: KindContextMissing}
	ErrPlatformUnsupported     = &Error{Kind: KindPlatformUnsupported}
	ErrHandleUnavailable       = &Error{Kind: KindHandleUnavailable}
	ErrNoCardDetected          = &Error{Kind: KindNoCardDetected}
	ErrAuthenticationExhausted = &Error{Kind: KindAuthenticationExhausted}
	ErrInvalidLength           = &Error{Kind: KindInvalidLength}
	ErrPrintNotReady           = &Error{Kind: KindPrintNotReady}
	ErrPrintFailed             = &Error{Kind: KindPrintFailed}
	ErrImageDecodeFailed       = &Error{Kind: KindImageDecodeFailed}
	ErrCutUnsupported          = &Error{Kind: KindCutUnsupported}
)

func newError(kind ErrorKind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

func newStatusError(kind ErrorKind, op, message string, status int) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Status: status, HasStatus: true}
}

func printerError(op string, err error) *Error {
	return newError(KindPrinterError, op, "Printer error: "+err.Error(), err)
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// StatusOf returns the printer status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.HasStatus {
		return e.Status, true
	}
	return 0, false
}

// isCutNotSupported classifies vendor errors raised by cut calls on printers
// without a cutter. Vendor stacks only signal this through the message text.
func isCutNotSupported(err error) bool {
	return dal.IsNotSupportedError(err)
}
