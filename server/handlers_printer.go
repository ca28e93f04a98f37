package server

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/pos"
	"github.com/dotside-studios/pax-pos-agent/protocol"
)

// PrinterHandler serves the print job and printer setting operations.
type PrinterHandler struct {
	term   *pos.Terminal
	logger zerolog.Logger
}

func NewPrinterHandler(term *pos.Terminal) *PrinterHandler {
	return &PrinterHandler{
		term:   term,
		logger: log.With().Str("component", "printer").Logger(),
	}
}

// Register implements ServerHandler.
func (h *PrinterHandler) Register(server HandlerServer) {
	server.Handle(protocol.OpInitializePrinter, h.handleInitialize)
	server.Handle(protocol.OpPrintText, h.handlePrintText)
	server.Handle(protocol.OpPrintImage, h.handlePrintImage)
	server.Handle(protocol.OpPrintBitmapWithMonoThreshold, h.handlePrintMono)
	server.Handle(protocol.OpCutPaper, h.handleCut)
	server.Handle(protocol.OpFeedPaper, h.handleFeed)
	server.Handle(protocol.OpGetPrinterStatus, h.handleStatus)
	server.Handle(protocol.OpIsCutSupported, h.handleIsCutSupported)
	server.Handle(protocol.OpGetCutMode, h.handleGetCutMode)
	server.Handle(protocol.OpGetDotLine, h.handleGetDotLine)

	server.Handle(protocol.OpSetFontSize, h.handleSetFontSize)
	server.Handle(protocol.OpSetFontPath, h.handleSetFontPath)
	server.Handle(protocol.OpSetDoubleHeight, h.handleSetDoubleHeight)
	server.Handle(protocol.OpSetDoubleWidth, h.handleSetDoubleWidth)
	server.Handle(protocol.OpSetLeftIndent, h.handleSetLeftIndent)
	server.Handle(protocol.OpSetInvert, h.handleSetInvert)
	server.Handle(protocol.OpSetSpacing, h.handleSetSpacing)
	server.Handle(protocol.OpPresetCutPaper, h.handlePresetCut)
}

// decode reads the payload into v, answering with INVALID_PAYLOAD when it
// is malformed.
func decode(client *Client, req protocol.WebSocketRequest, v any) bool {
	if err := req.Decode(v); err != nil {
		client.RespondError(req.ID, req.Type, protocol.ErrCodeInvalidPayload, err.Error())
		return false
	}
	return true
}

// result converts an operation outcome into the response record.
func result(err error, message string, data map[string]any) pos.Result {
	if err != nil {
		return pos.Fail(err)
	}
	return pos.OK(message, data)
}

func invalidArgument(message string) pos.Result {
	return pos.Result{Success: false, Error: message, Code: pos.KindInvalidArgument.String()}
}

func textOptions(o protocol.TextOptions) pos.PrintOptions {
	return pos.PrintOptions{
		FontSize:    o.FontSize,
		GrayLevel:   o.GrayLevel,
		LineSpacing: o.LineSpacing,
		CharSpacing: o.CharSpacing,
		Alignment:   o.Alignment,
		Charset:     o.Charset,
	}
}

func (h *PrinterHandler) handleInitialize(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	err := h.term.InitializePrinter(ctx)
	r := result(err, "Printer initialized", nil)
	r.Data = map[string]any{"initialized": err == nil}
	return respondResult(client, req, r)
}

func (h *PrinterHandler) handlePrintText(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.PrintTextRequest
	if !decode(client, req, &body) {
		return nil
	}
	if body.Text == "" {
		return respondResult(client, req, invalidArgument("No text provided"))
	}

	message, err := h.term.PrintText(ctx, body.Text, textOptions(body.Options))
	return respondResult(client, req, result(err, message, nil))
}

func (h *PrinterHandler) handlePrintImage(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.PrintImageRequest
	if !decode(client, req, &body) {
		return nil
	}
	data := body.Image()
	if len(data) == 0 {
		return respondResult(client, req, invalidArgument("No image data provided"))
	}

	var err error
	if threshold := body.Threshold(); threshold > 0 {
		err = h.term.PrintImageWithThreshold(ctx, data, threshold)
	} else {
		err = h.term.PrintImage(ctx, data)
	}
	return respondResult(client, req, result(err, "Image printed successfully", nil))
}

func (h *PrinterHandler) handlePrintMono(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.PrintImageRequest
	if !decode(client, req, &body) {
		return nil
	}
	data := body.Image()
	if len(data) == 0 {
		return respondResult(client, req, invalidArgument("imageData must be a byte array or base64 string"))
	}

	err := h.term.PrintImageWithThreshold(ctx, data, body.Threshold())
	return respondResult(client, req, result(err, "Bitmap printed successfully", nil))
}

func (h *PrinterHandler) handleCut(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.ModeRequest
	if !decode(client, req, &body) {
		return nil
	}
	mode := 0
	if body.Mode != nil {
		mode = *body.Mode
	}

	err := h.term.CutPaper(ctx, mode)
	return respondResult(client, req, result(err, "Paper cut successfully", nil))
}

func (h *PrinterHandler) handleFeed(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.FeedRequest
	if !decode(client, req, &body) {
		return nil
	}
	pixels := pos.DefaultFeedPixels
	if body.Pixels != nil {
		pixels = *body.Pixels
	}

	err := h.term.FeedPaper(ctx, pixels)
	return respondResult(client, req, result(err, "Paper fed successfully", nil))
}

func (h *PrinterHandler) handleStatus(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	code, message, err := h.term.PrinterStatus(ctx)
	return respondResult(client, req, result(err, "", map[string]any{
		"status":        code,
		"statusMessage": message,
	}))
}

func (h *PrinterHandler) handleIsCutSupported(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	supported, err := h.term.IsCutSupported(ctx)
	return respondResult(client, req, result(err, "", map[string]any{"supported": supported}))
}

func (h *PrinterHandler) handleGetCutMode(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	mode, err := h.term.CutMode(ctx)
	return respondResult(client, req, result(err, "", map[string]any{"cutMode": mode}))
}

func (h *PrinterHandler) handleGetDotLine(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	dots, err := h.term.DotLine(ctx)
	return respondResult(client, req, result(err, "", map[string]any{"dotLine": dots}))
}

func (h *PrinterHandler) handleSetFontSize(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.FontSizeRequest
	if !decode(client, req, &body) {
		return nil
	}
	err := h.term.SetFontSize(ctx, body.FontSize)
	return respondResult(client, req, result(err, "Font size set to "+body.FontSize, nil))
}

func (h *PrinterHandler) handleSetFontPath(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.FontPathRequest
	if !decode(client, req, &body) {
		return nil
	}
	if body.FontPath == "" {
		return respondResult(client, req, invalidArgument("No font path provided"))
	}
	err := h.term.SetFontPath(ctx, body.FontPath)
	return respondResult(client, req, result(err, "Font path set", nil))
}

func (h *PrinterHandler) handleSetDoubleHeight(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.DoubleRequest
	if !decode(client, req, &body) {
		return nil
	}
	err := h.term.SetDoubleHeight(ctx, body.IsAscDouble, body.IsLocalDouble)
	return respondResult(client, req, result(err, "Double height updated", nil))
}

func (h *PrinterHandler) handleSetDoubleWidth(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.DoubleRequest
	if !decode(client, req, &body) {
		return nil
	}
	err := h.term.SetDoubleWidth(ctx, body.IsAscDouble, body.IsLocalDouble)
	return respondResult(client, req, result(err, "Double width updated", nil))
}

func (h *PrinterHandler) handleSetLeftIndent(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.LeftIndentRequest
	if !decode(client, req, &body) {
		return nil
	}
	err := h.term.SetLeftIndent(ctx, body.Indent)
	return respondResult(client, req, result(err, "Left indent set", nil))
}

func (h *PrinterHandler) handleSetInvert(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.InvertRequest
	if !decode(client, req, &body) {
		return nil
	}
	err := h.term.SetInvert(ctx, body.IsInvert)
	return respondResult(client, req, result(err, "Invert updated", nil))
}

func (h *PrinterHandler) handleSetSpacing(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.SpacingRequest
	if !decode(client, req, &body) {
		return nil
	}
	err := h.term.SetSpacing(ctx, body.WordSpace, body.LineSpace)
	return respondResult(client, req, result(err, "Spacing set", nil))
}

func (h *PrinterHandler) handlePresetCut(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.ModeRequest
	if !decode(client, req, &body) {
		return nil
	}
	mode := 0
	if body.Mode != nil {
		mode = *body.Mode
	}
	err := h.term.PresetCutPaper(ctx, mode)
	return respondResult(client, req, result(err, "Preset cut set", nil))
}
