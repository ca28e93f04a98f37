package server

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/pos"
	"github.com/dotside-studios/pax-pos-agent/protocol"
)

// CardHandler serves the card identification operations.
type CardHandler struct {
	term   *pos.Terminal
	logger zerolog.Logger

	mu   sync.Mutex
	jobs map[string]context.CancelFunc
}

func NewCardHandler(term *pos.Terminal) *CardHandler {
	return &CardHandler{
		term:   term,
		logger: log.With().Str("component", "card").Logger(),
		jobs:   make(map[string]context.CancelFunc),
	}
}

// Register implements ServerHandler.
func (h *CardHandler) Register(server HandlerServer) {
	server.Handle(protocol.OpDetectCard, h.handleDetect)
	server.Handle(protocol.OpCheckCardPresence, h.handlePresence)
	server.Handle(protocol.OpWaitForCard, h.handleWait)
	server.Handle(protocol.OpStartNfcDetection, h.handleWait)
	server.Handle(protocol.OpCancelWaitForCard, h.handleCancelWait)
	server.Handle(protocol.OpTryAllModes, h.handleTryAllModes)

	server.StartLifecycle(func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			h.cancelJobs("")
		}()
	})
}

func cardResultMap(result *pos.CardResult, err error) pos.Result {
	if err != nil {
		return pos.Fail(err)
	}
	return pos.OK("", result.Map())
}

func respondResult(client *Client, req protocol.WebSocketRequest, r pos.Result) error {
	return client.Respond(req, r.Success, r.Map(), r.Error)
}

func (h *CardHandler) handleDetect(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	result, err := h.term.IdentifyCard(ctx)
	if err != nil {
		h.logger.Info().Err(err).Msg("card detection failed")
	}
	return respondResult(client, req, cardResultMap(result, err))
}

func (h *CardHandler) handlePresence(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	present, err := h.term.CheckPresence(ctx)
	if err != nil {
		h.logger.Debug().Err(err).Msg("presence check failed")
	}
	return client.Respond(req, true, map[string]any{"present": present}, "")
}

// handleWait starts a background wait and answers at once with its job id.
// The identified card arrives later as a cardDetected push.
func (h *CardHandler) handleWait(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	jobID := uuid.NewString()
	jobCtx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.jobs[jobID] = cancel
	h.mu.Unlock()

	go h.runWait(jobCtx, client, jobID)

	h.logger.Info().Str("job", jobID).Msg("waiting for card")
	return client.Respond(req, true, protocol.WaitStartedPayload{
		JobID:   jobID,
		Message: "Waiting for card...",
	}, "")
}

func (h *CardHandler) runWait(ctx context.Context, client *Client, jobID string) {
	defer h.finishJob(jobID)

	result, err := h.term.WaitForCard(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.logger.Info().Str("job", jobID).Msg("card wait cancelled")
		client.Push(protocol.PushWaitCancelled, protocol.WaitCancelledPayload{JobID: jobID, Reason: "cancelled"})
		return
	}

	payload := cardResultMap(result, err).Map()
	payload["jobId"] = jobID
	client.Push(protocol.PushCardDetected, payload)
}

func (h *CardHandler) finishJob(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.jobs[jobID]; ok {
		cancel()
		delete(h.jobs, jobID)
	}
}

// cancelJobs cancels jobID, or every job when jobID is empty, and returns
// the number of jobs cancelled.
func (h *CardHandler) cancelJobs(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for id, cancel := range h.jobs {
		if jobID == "" || id == jobID {
			cancel()
			delete(h.jobs, id)
			n++
		}
	}
	return n
}

// ActiveJobs returns the number of running waits.
func (h *CardHandler) ActiveJobs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}

func (h *CardHandler) handleCancelWait(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	var body protocol.CancelWaitRequest
	if err := req.Decode(&body); err != nil {
		return client.RespondError(req.ID, req.Type, protocol.ErrCodeInvalidPayload, err.Error())
	}
	n := h.cancelJobs(body.JobID)
	return client.Respond(req, true, map[string]any{"cancelled": n}, "")
}

func (h *CardHandler) handleTryAllModes(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
	scan, err := h.term.TryAllModes(ctx)
	if err != nil {
		return respondResult(client, req, pos.Fail(err))
	}
	return respondResult(client, req, pos.OK("Testing all detection modes", scan.Map()))
}
