package party

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"slopelink/internal/app/profile"
	"slopelink/internal/pkg/errs"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newPartyServer starts a websocket endpoint that greets every connection
// with the given envelope and forwards inbound frames to the returned channel.
func newPartyServer(t *testing.T, greeting Message) (*httptest.Server, <-chan Message) {
	t.Helper()

	inbound := make(chan Message, 16)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(greeting); err != nil {
			return
		}

		for {
			var envelope Message
			if err := conn.ReadJSON(&envelope); err != nil {
				return
			}
			inbound <- envelope
		}
	}))
	t.Cleanup(server.Close)

	return server, inbound
}

func initDataGreeting(t *testing.T, payload InitDataPayload) Message {
	t.Helper()

	msg, err := NewMessage(TypeInitData, "AB12CD", payload)
	require.NoError(t, err)
	return msg
}

func TestWSTransportJoinReturnsSnapshot(t *testing.T) {
	greeting := initDataGreeting(t, InitDataPayload{
		Members: []Member{
			{UserID: "u2", Lat: 46.5, Lon: 7.9, AvatarURL: "https://cdn.example/u2.jpg"},
		},
		MaxMembers: 10,
		IsHost:     true,
	})
	server, _ := newPartyServer(t, greeting)

	transport := NewWSTransport(server.URL, "u1", "")
	defer transport.Leave("AB12CD")

	info, err := transport.Join(context.Background(), "AB12CD")
	require.NoError(t, err)
	require.True(t, info.IsHost)

	require.Len(t, info.Members, 1)
	require.Equal(t, PresenceMessage{
		UserID:    "u2",
		Lat:       46.5,
		Lon:       7.9,
		AvatarURL: "https://cdn.example/u2.jpg",
	}, info.Members[0])
}

func TestSessionOverWebSocketSeedsSnapshot(t *testing.T) {
	greeting := initDataGreeting(t, InitDataPayload{
		Members: []Member{
			{UserID: "u2", Lat: 46.5, Lon: 7.9},
		},
		MaxMembers: 10,
	})
	server, _ := newPartyServer(t, greeting)

	store := &mapStore{users: map[string]profile.User{
		"u2": {ID: "u2", DisplayName: "Lena"},
	}}
	cache := profile.NewCache(store)

	// Wired exactly the way the tracker client wires a session.
	transport := NewWSTransport(server.URL, "u1", "")
	session := NewSession(transport, cache, "u1", "", SessionConfig{})
	transport.Bind(
		func(msg PresenceMessage) { session.HandlePresence(context.Background(), msg) },
		session.HandleMemberLeft,
	)
	defer session.Leave()

	require.NoError(t, session.Join(context.Background(), "AB12CD"))

	members := session.Members()
	require.Len(t, members, 1, "the join must seed the member set from the server snapshot")
	require.Equal(t, "u2", members[0].UserID)
	require.Equal(t, 46.5, members[0].Lat)
	require.Equal(t, "Lena", members[0].UserName)

	state := session.State().(Joined)
	require.Len(t, state.Members, 1)
}

func TestWSTransportDeliversLiveTraffic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		greeting, _ := NewMessage(TypeInitData, "AB12CD", InitDataPayload{MaxMembers: 10})
		if err := conn.WriteJSON(greeting); err != nil {
			return
		}

		presence, _ := NewMessage(TypePresence, "AB12CD", PresenceMessage{UserID: "u2", Lat: 46.6, Lon: 8.0})
		if err := conn.WriteJSON(presence); err != nil {
			return
		}

		left, _ := NewMessage(TypeMemberLeft, "AB12CD", MemberLeftPayload{UserID: "u2"})
		if err := conn.WriteJSON(left); err != nil {
			return
		}

		for {
			var envelope Message
			if err := conn.ReadJSON(&envelope); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	presences := make(chan PresenceMessage, 16)
	departures := make(chan string, 16)

	transport := NewWSTransport(server.URL, "u1", "")
	transport.Bind(
		func(msg PresenceMessage) { presences <- msg },
		func(userID string) { departures <- userID },
	)
	defer transport.Leave("AB12CD")

	_, err := transport.Join(context.Background(), "AB12CD")
	require.NoError(t, err)

	select {
	case msg := <-presences:
		require.Equal(t, "u2", msg.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("live presence was not delivered")
	}

	select {
	case userID := <-departures:
		require.Equal(t, "u2", userID)
	case <-time.After(2 * time.Second):
		t.Fatal("member departure was not delivered")
	}
}

func TestWSTransportJoinRejectedByServer(t *testing.T) {
	greeting, err := NewMessage(TypeError, "AB12CD", ErrorPayload{
		Code:    errs.ErrPartyIsFull,
		Message: "This party is full.",
	})
	require.NoError(t, err)

	server, _ := newPartyServer(t, greeting)

	transport := NewWSTransport(server.URL, "u1", "")

	_, err = transport.Join(context.Background(), "AB12CD")
	require.Error(t, err)
	require.Contains(t, err.Error(), "This party is full.")
}

func TestWSTransportPublish(t *testing.T) {
	server, inbound := newPartyServer(t, initDataGreeting(t, InitDataPayload{MaxMembers: 10}))

	transport := NewWSTransport(server.URL, "u1", "https://cdn.example/u1.jpg")
	defer transport.Leave("AB12CD")

	_, err := transport.Join(context.Background(), "AB12CD")
	require.NoError(t, err)

	msg := PresenceMessage{UserID: "u1", Lat: 46.5, Lon: 7.9, AvatarURL: "https://cdn.example/u1.jpg"}
	require.NoError(t, transport.Publish(context.Background(), "AB12CD", msg))

	select {
	case envelope := <-inbound:
		require.Equal(t, TypePresence, envelope.Type)
		require.Equal(t, "AB12CD", envelope.Code)
		require.NotEmpty(t, envelope.ID)

		var relayed PresenceMessage
		require.NoError(t, json.Unmarshal(envelope.Payload, &relayed))
		require.Equal(t, msg, relayed)

	case <-time.After(2 * time.Second):
		t.Fatal("published presence never reached the server")
	}
}

func TestWSTransportPublishWithoutConnection(t *testing.T) {
	transport := NewWSTransport("http://localhost:1", "u1", "")

	err := transport.Publish(context.Background(), "AB12CD", PresenceMessage{UserID: "u1"})
	require.Error(t, err)
}

func TestWSTransportEndpointURL(t *testing.T) {
	transport := NewWSTransport("https://slopelink.example.com/", "u 1", "https://cdn.example/u1.jpg")

	endpoint, err := transport.wsEndpoint("AB12CD")
	require.NoError(t, err)
	require.Equal(t, "wss://slopelink.example.com/ws/AB12CD?av=https%3A%2F%2Fcdn.example%2Fu1.jpg&uid=u+1", endpoint)

	transport = NewWSTransport("ftp://example.com", "u1", "")
	_, err = transport.wsEndpoint("AB12CD")
	require.Error(t, err)
}
