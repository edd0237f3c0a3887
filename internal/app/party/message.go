package party

import (
	"encoding/json"
	"time"

	"slopelink/internal/pkg/randx"
)

// MessageType identifies the kind of envelope exchanged over the websocket.
type MessageType string

const (
	// TypePresence carries one participant's current position.
	TypePresence MessageType = "PRESENCE"

	// TypeInitData carries the member-set snapshot sent to a client on join.
	TypeInitData MessageType = "INIT_DATA"

	// TypeMemberLeft announces that a participant left the party.
	TypeMemberLeft MessageType = "MEMBER_LEFT"

	// TypeError carries an error report to a single client.
	TypeError MessageType = "ERROR"
)

// PresenceMessage is the minimal wire record broadcasting one user's
// position. It deliberately carries no display name and no timestamp: the
// name is resolved locally through the shared profile cache, and freshness
// is decided by arrival order.
type PresenceMessage struct {
	UserID    string  `json:"user_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AvatarURL string  `json:"avatar_url,omitempty"`
}

// Message is the envelope framing every websocket payload.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Code      string          `json:"code"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// InitDataPayload is the party snapshot delivered to a freshly registered
// client.
type InitDataPayload struct {
	Members    []Member `json:"members"`
	MaxMembers int      `json:"maxMembers"`
	IsHost     bool     `json:"isHost"`
}

// MemberLeftPayload identifies the member removed from the party.
type MemberLeftPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload carries a business error code and message to a client.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewMessage builds an envelope of the given type with a fresh message id
// and a millisecond timestamp, marshaling payload into place.
func NewMessage(msgType MessageType, code string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:        randx.MessageID(),
		Type:      msgType,
		Code:      code,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}, nil
}
