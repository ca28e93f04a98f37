package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dotside-studios/pax-pos-agent/protocol"
)

const writeWait = 10 * time.Second

// Client is a connected WebSocket peer. Responses and pushes may come from
// different goroutines, so writes are serialised.
type Client struct {
	ID         string
	RemoteAddr string

	conn   *websocket.Conn
	logger zerolog.Logger
	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, remoteAddr string, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:         id,
		RemoteAddr: remoteAddr,
		conn:       conn,
		logger:     logger.With().Str("client", id[:8]).Logger(),
	}
}

// Send writes v as a JSON text frame.
func (c *Client) Send(v any) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Warn().Err(err).Msg("websocket write failed")
		return err
	}
	return nil
}

// Respond answers req with a result.
func (c *Client) Respond(req protocol.WebSocketRequest, success bool, payload any, errMsg string) error {
	return c.Send(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: success,
		Payload: payload,
		Error:   errMsg,
	})
}

// RespondError answers req with an error code. An empty messageType uses the
// generic error type.
func (c *Client) RespondError(requestID, messageType, code, message string) error {
	if messageType == "" {
		messageType = protocol.TypeError
	}
	return c.Send(protocol.WebSocketResponse{
		ID:      requestID,
		Type:    messageType,
		Success: false,
		Error:   message,
		Payload: protocol.ErrorPayload{Code: code},
	})
}

// Push sends an unsolicited message.
func (c *Client) Push(messageType string, payload any) error {
	return c.Send(protocol.WebSocketMessage{Type: messageType, Payload: payload})
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
