package server

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/pos"
	"github.com/dotside-studios/pax-pos-agent/protocol"
)

// SystemHandler reports on the host and the device layer.
type SystemHandler struct {
	term     *pos.Terminal
	versions map[string]string
	logger   zerolog.Logger
}

func NewSystemHandler(term *pos.Terminal, versions map[string]string) *SystemHandler {
	return &SystemHandler{
		term:     term,
		versions: versions,
		logger:   log.With().Str("component", "system").Logger(),
	}
}

// Register implements ServerHandler.
func (h *SystemHandler) Register(server HandlerServer) {
	server.Handle(protocol.OpGetPlatformVersion, h.handlePlatformVersion)
	server.Handle(protocol.OpTestNativeLibraryLoading, h.handleLibraryLoading)
}

func (h *SystemHandler) handlePlatformVersion(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	return respondResult(client, req, pos.OK("", map[string]any{
		"version": pos.PlatformVersion(),
	}))
}

// handleLibraryLoading loads the device layer without touching any device and
// reports what happened.
func (h *SystemHandler) handleLibraryLoading(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	diag := h.term.Diagnose(ctx)
	data := diag.Map()
	if len(h.versions) > 0 {
		data["versions"] = h.versions
	}

	if diag.Err != nil {
		h.logger.Warn().Err(diag.Err).Msg("device layer failed to load")
		r := pos.Fail(diag.Err)
		r.Data = data
		return respondResult(client, req, r)
	}
	return respondResult(client, req, pos.OK("Device layer loaded", data))
}
