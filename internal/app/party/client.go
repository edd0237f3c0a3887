/*
Package party contains the core logic for live party presence.

This file defines Client, one active websocket connection into a party. It
runs the read and write pumps and feeds inbound presence into the party's
Run loop.
*/
package party

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"slopelink/internal/pkg/logx"
)

var errSendQueueFull = errors.New("client send queue full")

const (
	// writeWait is the timeout for writes on the websocket connection.
	writeWait = 10 * time.Second

	// pongWait is the maximum wait for a client Pong.
	pongWait = 60 * time.Second

	// pingPeriod is the server Ping frequency.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound message size in bytes.
	// Presence messages are tiny; anything bigger is malformed.
	maxMessageSize = 1024

	// WsCloseCodeSessionReplaced is a custom close code (4000-4999 range)
	// signaling that another connection took over the user's session.
	WsCloseCodeSessionReplaced = 4001
)

// Client represents an active websocket connection for one party member.
type Client struct {
	// party is the hub this connection belongs to.
	party *Party

	// conn is the underlying websocket connection.
	conn *websocket.Conn

	// userID identifies the member on this connection.
	userID string

	// avatarURL is the avatar reported at connect time, stamped onto
	// outbound presence when the wire message carries none.
	avatarURL string

	// send queues outbound frames for the write pump.
	send chan []byte

	// closeOnce guards send against a double close; the channel may be
	// closed from registration rejection, unregistration, or Kick.
	closeOnce sync.Once

	logger zerolog.Logger
}

// closeSend closes the send channel exactly once. Queued frames are still
// drained by the write pump before it observes the close.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// NewClient constructs a Client for the given party and connection.
func NewClient(party *Party, wsConn *websocket.Conn, userID, avatarURL string) *Client {
	clientLogger := logx.Logger().With().
		Str("member_id", userID).
		Str("party_code", party.Code).
		Logger()

	return &Client{
		party:     party,
		conn:      wsConn,
		userID:    userID,
		avatarURL: avatarURL,
		send:      make(chan []byte, 256),
		logger:    clientLogger,
	}
}

// ReadPump reads frames from the websocket, handles heartbeats, and feeds
// presence updates into the party. It cleans up the connection on exit.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundMessage(messageBytes)
	}
}

// cleanupOnDisconnect unregisters the client and closes the connection when
// the read pump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	select {
	case c.party.unregister <- c:
	default:
		c.logger.Warn().Msg("Party unregister channel blocked. Connection cleanup still proceeding.")
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Client connection close error")
	}
}

// processInboundMessage parses one raw frame from the client.
func (c *Client) processInboundMessage(messageBytes []byte) {
	var inboundMsg struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	if err := json.Unmarshal(messageBytes, &inboundMsg); err != nil {
		c.logger.Warn().Err(err).
			Bytes("message_bytes", messageBytes).
			Msg("Client sent invalid JSON")
		return
	}

	switch inboundMsg.Type {
	case TypePresence:
		c.handlePresence(inboundMsg.Payload)

	default:
		c.logger.Warn().Str("msg_type", string(inboundMsg.Type)).Msg("Client sent unsupported message type")
	}
}

// handlePresence validates an inbound presence payload and submits it to the
// party loop. The sender id always comes from the connection identity, so a
// client cannot report positions for another user.
func (c *Client) handlePresence(payloadBytes json.RawMessage) {
	var msg PresenceMessage
	if err := json.Unmarshal(payloadBytes, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid PRESENCE payload")
		return
	}

	msg.UserID = c.userID
	if msg.AvatarURL == "" {
		msg.AvatarURL = c.avatarURL
	}

	c.party.SubmitPresence(c, msg)
}

// WritePump drains the send channel onto the websocket and keeps the
// connection alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage writes one queued frame. It returns false when the
// write pump should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Error().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a heartbeat Ping. It returns false on write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// sendMessage marshals data and queues it for the write pump, dropping the
// frame when the queue is full.
func (c *Client) sendMessage(data any) error {
	messageBytes, err := json.Marshal(data)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling data for client")
		return err
	}

	select {
	case c.send <- messageBytes:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping message")
		return errSendQueueFull
	}
}

// SendInitData sends the party snapshot to a freshly registered client.
func (c *Client) SendInitData(payload InitDataPayload) error {
	initMsg, err := NewMessage(TypeInitData, c.party.Code, payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build INIT_DATA message.")
		return err
	}

	if err := c.sendMessage(initMsg); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send INIT_DATA message.")
		return err
	}

	return nil
}

// SendErrorPayload sends a TypeError envelope to the client.
func (c *Client) SendErrorPayload(payload ErrorPayload) {
	errorMsg, err := NewMessage(TypeError, c.party.Code, payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build ERROR message.")
		return
	}

	if err := c.sendMessage(errorMsg); err != nil {
		c.logger.Error().Err(err).Msg("Failed to queue ERROR message")
	}
}

// Kick closes the connection with a custom close frame indicating the
// session was replaced by a newer connection.
func (c *Client) Kick(reason string) {
	c.logger.Warn().
		Int("close_code", WsCloseCodeSessionReplaced).
		Str("reason", reason).
		Msg("Sending WS Kick message and closing connection.")

	closeMessage := websocket.FormatCloseMessage(
		WsCloseCodeSessionReplaced,
		reason,
	)

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(websocket.CloseMessage, closeMessage); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send WS 4001 Close Message.")
	}

	c.closeSend()
}
