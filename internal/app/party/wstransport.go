/*
Package party contains the core logic for live party presence.

This file implements Transport over a websocket connection to a SlopeLink
server, used by tracker clients driving a Session.
*/
package party

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"slopelink/internal/pkg/logx"
)

// ErrNoInitData is returned when the server closes the connection before
// delivering the party snapshot.
var ErrNoInitData = errors.New("party: connection closed before init data")

// WSTransport is a websocket-backed Transport. Bind must be called before
// Join so inbound presence has somewhere to go. A transport carries at most
// one active party connection, matching the Idle/Joined session lifecycle.
type WSTransport struct {
	baseURL   string
	userID    string
	avatarURL string

	onPresence   func(PresenceMessage)
	onMemberLeft func(userID string)

	// writeMu serializes frame writes; gorilla connections allow one
	// concurrent writer.
	writeMu sync.Mutex

	mu   sync.Mutex
	conn *websocket.Conn

	logger zerolog.Logger
}

// NewWSTransport constructs a transport for the server at baseURL
// (http(s)://host[:port]) identifying as userID.
func NewWSTransport(baseURL, userID, avatarURL string) *WSTransport {
	return &WSTransport{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userID:    userID,
		avatarURL: avatarURL,
		logger: logx.Logger().With().
			Str("component", "WSTransport").
			Str("user_id", userID).
			Logger(),
	}
}

// Bind registers the inbound delivery callbacks.
func (t *WSTransport) Bind(onPresence func(PresenceMessage), onMemberLeft func(userID string)) {
	t.onPresence = onPresence
	t.onMemberLeft = onMemberLeft
}

// Join dials the party websocket and waits for the INIT_DATA snapshot. The
// snapshot's members are returned in JoinInfo so the session can seed its
// member set once it has committed the join, then a read loop delivers live
// traffic until Leave or a connection error.
func (t *WSTransport) Join(ctx context.Context, code string) (JoinInfo, error) {
	wsURL, err := t.wsEndpoint(code)
	if err != nil {
		return JoinInfo{}, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return JoinInfo{}, fmt.Errorf("dial party server: %w", err)
	}

	initData, err := t.awaitInitData(ctx, conn)
	if err != nil {
		conn.Close()
		return JoinInfo{}, err
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()

	snapshot := make([]PresenceMessage, 0, len(initData.Members))
	for _, m := range initData.Members {
		snapshot = append(snapshot, PresenceMessage{
			UserID:    m.UserID,
			Lat:       m.Lat,
			Lon:       m.Lon,
			AvatarURL: m.AvatarURL,
		})
	}

	go t.readLoop(conn)

	return JoinInfo{IsHost: initData.IsHost, Members: snapshot}, nil
}

// Leave closes the party connection. The read loop exits on the closed
// connection.
func (t *WSTransport) Leave(code string) {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return
	}

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	conn.Close()
}

// Publish sends one presence envelope. Errors surface to the session, which
// treats them as fire-and-forget losses.
func (t *WSTransport) Publish(ctx context.Context, code string, msg PresenceMessage) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return errors.New("party: transport not connected")
	}

	envelope, err := NewMessage(TypePresence, code, msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}

	return conn.WriteJSON(envelope)
}

func (t *WSTransport) wsEndpoint(code string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", t.baseURL, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}

	u.Path = "/ws/" + code
	q := u.Query()
	q.Set("uid", t.userID)
	q.Set("av", t.avatarURL)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// awaitInitData reads frames until the INIT_DATA envelope arrives. The join
// is bounded by ctx; other frame types received first are ignored.
func (t *WSTransport) awaitInitData(ctx context.Context, conn *websocket.Conn) (InitDataPayload, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		var envelope Message
		if err := conn.ReadJSON(&envelope); err != nil {
			return InitDataPayload{}, fmt.Errorf("%w: %v", ErrNoInitData, err)
		}

		switch envelope.Type {
		case TypeInitData:
			var initData InitDataPayload
			if err := json.Unmarshal(envelope.Payload, &initData); err != nil {
				return InitDataPayload{}, fmt.Errorf("malformed init data: %w", err)
			}
			return initData, nil

		case TypeError:
			var errPayload ErrorPayload
			if err := json.Unmarshal(envelope.Payload, &errPayload); err == nil {
				return InitDataPayload{}, fmt.Errorf("party: server rejected join: %s", errPayload.Message)
			}
			return InitDataPayload{}, errors.New("party: server rejected join")

		default:
			continue
		}
	}
}

// readLoop delivers inbound envelopes until the connection dies.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var envelope Message
		if err := conn.ReadJSON(&envelope); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Info().Err(err).Msg("Party connection closed.")
			}
			return
		}

		switch envelope.Type {
		case TypePresence:
			var msg PresenceMessage
			if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
				t.logger.Warn().Err(err).Msg("Server sent invalid PRESENCE payload.")
				continue
			}
			if t.onPresence != nil {
				t.onPresence(msg)
			}

		case TypeMemberLeft:
			var payload MemberLeftPayload
			if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
				t.logger.Warn().Err(err).Msg("Server sent invalid MEMBER_LEFT payload.")
				continue
			}
			if t.onMemberLeft != nil {
				t.onMemberLeft(payload.UserID)
			}

		case TypeError:
			t.logger.Warn().RawJSON("payload", envelope.Payload).Msg("Server reported error.")

		default:
			t.logger.Debug().Str("msg_type", string(envelope.Type)).Msg("Ignoring unsupported envelope type.")
		}
	}
}
