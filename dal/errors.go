package dal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies device errors for programmatic handling.
type ErrorCode int

const (
	ErrCodeNotSupported ErrorCode = iota + 100
	ErrCodeNotOpen
	ErrCodeAuthFailed
	ErrCodeReadFailed
	ErrCodeTransport
	ErrCodeNoCard
	ErrCodeEnumeration
)

// DeviceError is returned by backends for failed device operations.
type DeviceError struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *DeviceError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DeviceError) Unwrap() error {
	return e.Cause
}

func (e *DeviceError) Is(target error) bool {
	if t, ok := target.(*DeviceError); ok {
		return e.Code == t.Code
	}
	return false
}

// ErrNotSupported matches any DeviceError with ErrCodeNotSupported.
var ErrNotSupported = &DeviceError{Code: ErrCodeNotSupported}

// NewNotSupportedError reports an action the hardware does not support. The
// message keeps the "not support" wording vendor SDKs use.
func NewNotSupportedError(op string) *DeviceError {
	return &DeviceError{
		Code:    ErrCodeNotSupported,
		Op:      op,
		Message: "operation not supported by this device",
	}
}

// NewNotOpenError reports an operation on a device that was not opened.
func NewNotOpenError(op string) *DeviceError {
	return &DeviceError{Code: ErrCodeNotOpen, Op: op, Message: "device not open"}
}

// NewAuthError reports a rejected sector key.
func NewAuthError(op string, cause error) *DeviceError {
	return &DeviceError{Code: ErrCodeAuthFailed, Op: op, Message: "authentication failed", Cause: cause}
}

// NewReadError reports a failed block or card read.
func NewReadError(op string, cause error) *DeviceError {
	return &DeviceError{Code: ErrCodeReadFailed, Op: op, Message: "read failed", Cause: cause}
}

// NewTransportError reports a failure on the link to the device, such as a
// closed serial port or a USB write error.
func NewTransportError(op string, cause error) *DeviceError {
	return &DeviceError{Code: ErrCodeTransport, Op: op, Message: "transport error", Cause: cause}
}

// NewEnumerationError reports that attached devices could not be listed.
// The native library is loaded at this point, so this is a device fault.
func NewEnumerationError(op string, cause error) *DeviceError {
	return &DeviceError{Code: ErrCodeEnumeration, Op: op, Message: "device enumeration failed", Cause: cause}
}

// NewNoCardError reports an operation that needs a detected card.
func NewNoCardError(op string) *DeviceError {
	return &DeviceError{Code: ErrCodeNoCard, Op: op, Message: "no card selected"}
}

// IsNotSupportedError checks if an error indicates an unsupported operation.
func IsNotSupportedError(err error) bool {
	if err == nil {
		return false
	}
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code == ErrCodeNotSupported
	}
	// Vendor errors carry no code, only text.
	return strings.Contains(strings.ToLower(err.Error()), "not support")
}

// IsNativeLibraryMissing reports whether a loader error means the native
// backend library is missing.
func IsNativeLibraryMissing(err error) bool {
	return errors.Is(err, ErrNativeLibraryMissing)
}

// MissingLibraryError wraps ErrNativeLibraryMissing with the library name.
func MissingLibraryError(lib string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %v", ErrNativeLibraryMissing, lib, cause)
	}
	return fmt.Errorf("%w: %s", ErrNativeLibraryMissing, lib)
}
