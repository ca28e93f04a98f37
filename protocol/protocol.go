// Package protocol defines the messages exchanged with POS clients over the
// agent's WebSocket channel. It is importable without pulling in the server
// or any device dependency.
package protocol

// Card operations.
const (
	OpDetectCard        = "detectCard"
	OpCheckCardPresence = "checkCardPresence"
	OpWaitForCard       = "waitForCard"
	OpCancelWaitForCard = "cancelWaitForCard"
	OpTryAllModes       = "tryAllModes"
	// OpStartNfcDetection is the legacy name of waitForCard.
	OpStartNfcDetection = "startNfcDetectionThreads"
)

// Printer operations.
const (
	OpInitializePrinter            = "initializePrinter"
	OpPrintText                    = "printText"
	OpPrintImage                   = "printImage"
	OpPrintBitmapWithMonoThreshold = "printBitmapWithMonoThreshold"
	OpCutPaper                     = "cutPaper"
	OpFeedPaper                    = "feedPaper"
	OpGetPrinterStatus             = "getPrinterStatus"
	OpIsCutSupported               = "isCutSupported"
	OpSetFontSize                  = "setFontSize"
	OpSetFontPath                  = "setFontPath"
	OpSetDoubleHeight              = "setDoubleHeight"
	OpSetDoubleWidth               = "setDoubleWidth"
	OpSetLeftIndent                = "setLeftIndent"
	OpSetInvert                    = "setInvert"
	OpSetSpacing                   = "setSpacing"
	OpPresetCutPaper               = "presetCutPaper"
	OpGetCutMode                   = "getCutMode"
	OpGetDotLine                   = "getDotLine"
)

// System operations.
const (
	OpGetPlatformVersion       = "getPlatformVersion"
	OpTestNativeLibraryLoading = "testNativeLibraryLoading"
)

// Messages pushed by the agent without a request.
const (
	PushCardDetected  = "cardDetected"
	PushWaitCancelled = "waitCancelled"
	PushDeviceStatus  = "deviceStatus"
)

// TypeError is the type of error envelopes that do not belong to a known
// operation.
const TypeError = "error"

// Error codes carried in the payload of error envelopes.
const (
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeInternal       = "INTERNAL_ERROR"
)
