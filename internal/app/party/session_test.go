package party

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"slopelink/internal/app/profile"
	"slopelink/internal/configs"
)

// fakeTransport records session calls and lets tests script join results.
type fakeTransport struct {
	mu sync.Mutex

	joinErr  error
	joinInfo JoinInfo

	joinCalls []string
	leaveCalls []string
	published  []PresenceMessage
	publishErr error
}

func (t *fakeTransport) Join(_ context.Context, code string) (JoinInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.joinCalls = append(t.joinCalls, code)
	if t.joinErr != nil {
		return JoinInfo{}, t.joinErr
	}

	return t.joinInfo, nil
}

func (t *fakeTransport) Leave(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.leaveCalls = append(t.leaveCalls, code)
}

func (t *fakeTransport) Publish(_ context.Context, _ string, msg PresenceMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.published = append(t.published, msg)
	return t.publishErr
}

func (t *fakeTransport) leaveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.leaveCalls)
}

func (t *fakeTransport) publishedMessages() []PresenceMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]PresenceMessage(nil), t.published...)
}

// mapStore is a trivial in-memory profile.Store.
type mapStore struct {
	users map[string]profile.User
}

func (s *mapStore) GetUser(_ context.Context, userID string) (profile.User, error) {
	if u, ok := s.users[userID]; ok {
		return u, nil
	}

	return profile.User{}, profile.ErrNotFound
}

// gatedStore blocks every GetUser until released, signalling entry.
type gatedStore struct {
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) GetUser(_ context.Context, userID string) (profile.User, error) {
	s.entered <- struct{}{}
	<-s.release

	return profile.User{ID: userID, DisplayName: "Late"}, nil
}

func newTestSession(t Transport, store profile.Store, cfg SessionConfig) *Session {
	return NewSession(t, profile.NewCache(store), "local-user", "https://cdn.example/local.jpg", cfg)
}

func TestJoinTransitionsIdleToJoined(t *testing.T) {
	transport := &fakeTransport{joinInfo: JoinInfo{IsHost: true}}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	require.IsType(t, Idle{}, session.State())

	require.NoError(t, session.Join(context.Background(), "AB12CD"))

	state := session.State()
	require.IsType(t, Joined{}, state)

	joined := state.(Joined)
	require.Equal(t, "AB12CD", joined.Code)
	require.True(t, joined.IsHost)
	require.Empty(t, joined.Members, "a fresh join starts with an empty member set")
}

func TestJoinFailureStaysIdleAndSurfacesError(t *testing.T) {
	joinErr := errors.New("party not found")
	transport := &fakeTransport{joinErr: joinErr}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	err := session.Join(context.Background(), "AB12CD")
	require.ErrorIs(t, err, joinErr)
	require.IsType(t, Idle{}, session.State())

	// The session is reusable after a failed join.
	transport.joinErr = nil
	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	require.IsType(t, Joined{}, session.State())
}

func TestJoinSeedsMembersFromSnapshot(t *testing.T) {
	transport := &fakeTransport{joinInfo: JoinInfo{
		Members: []PresenceMessage{
			{UserID: "u2", Lat: 46.5, Lon: 7.9},
			{UserID: "u3", Lat: 46.6, Lon: 8.0},
			{UserID: "u2", Lat: 46.7, Lon: 8.1},
		},
	}}
	store := &mapStore{users: map[string]profile.User{
		"u2": {ID: "u2", DisplayName: "Lena"},
	}}
	session := newTestSession(transport, store, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))

	members := session.Members()
	require.Len(t, members, 2, "snapshot entries upsert by user id like live traffic")

	byID := make(map[string]Member, len(members))
	for _, m := range members {
		byID[m.UserID] = m
	}

	require.Equal(t, 46.7, byID["u2"].Lat)
	require.Equal(t, "Lena", byID["u2"].UserName, "snapshot members are enriched through the cache")
	require.Equal(t, 46.6, byID["u3"].Lat)
}

// gatedTransport blocks Join until released, signalling entry.
type gatedTransport struct {
	fakeTransport

	entered chan struct{}
	release chan struct{}
}

func (t *gatedTransport) Join(ctx context.Context, code string) (JoinInfo, error) {
	t.entered <- struct{}{}
	<-t.release

	return t.fakeTransport.Join(ctx, code)
}

func TestLeaveDuringJoinCancelsJoin(t *testing.T) {
	transport := &gatedTransport{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Join(context.Background(), "AB12CD")
	}()

	// Wait until the join round trip is in flight, then ask to leave.
	<-transport.entered
	session.Leave()
	close(transport.release)

	require.ErrorIs(t, <-errCh, ErrJoinCancelled)
	require.IsType(t, Idle{}, session.State(), "a leave issued mid-join must not end Joined")
	require.Equal(t, 1, transport.leaveCount(), "the cancelled join still unsubscribes the channel")

	// The session is reusable afterwards.
	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	require.IsType(t, Joined{}, session.State())
}

func TestJoinWhileJoinedIsRejected(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	require.ErrorIs(t, session.Join(context.Background(), "ZZ99XX"), ErrAlreadyJoined)

	joined := session.State().(Joined)
	require.Equal(t, "AB12CD", joined.Code, "rejected join must not replace the current party")
}

func TestLeaveIsIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))

	session.Leave()
	session.Leave()

	require.IsType(t, Idle{}, session.State())
	require.Equal(t, 1, transport.leaveCount(), "leaving twice must unsubscribe once")
	require.Nil(t, session.Members())
}

func TestPresenceWhileIdleIsDropped(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1", Lat: 46.5, Lon: 7.9})

	require.Nil(t, session.Members())
	require.IsType(t, Idle{}, session.State())
}

func TestPresenceUpsertsByUserID(t *testing.T) {
	transport := &fakeTransport{}
	store := &mapStore{users: map[string]profile.User{
		"u1": {ID: "u1", DisplayName: "Mika", AvatarURL: "https://cdn.example/u1.jpg"},
	}}
	session := newTestSession(transport, store, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))

	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1", Lat: 46.5, Lon: 7.9})
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u2", Lat: 46.6, Lon: 8.0})
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1", Lat: 46.7, Lon: 8.1})

	members := session.Members()
	require.Len(t, members, 2, "updates for the same user must collapse to one member")

	byID := make(map[string]Member, len(members))
	for _, m := range members {
		byID[m.UserID] = m
	}

	require.Equal(t, 46.7, byID["u1"].Lat, "the latest update wins")
	require.Equal(t, 8.1, byID["u1"].Lon)
	require.Equal(t, "Mika", byID["u1"].UserName)
	require.Equal(t, "https://cdn.example/u1.jpg", byID["u1"].AvatarURL)

	require.Equal(t, "", byID["u2"].UserName, "unknown profiles degrade to an unnamed member")
}

func TestPresenceAvatarFromMessageWinsOverProfile(t *testing.T) {
	transport := &fakeTransport{}
	store := &mapStore{users: map[string]profile.User{
		"u1": {ID: "u1", DisplayName: "Mika", AvatarURL: "https://cdn.example/old.jpg"},
	}}
	session := newTestSession(transport, store, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	session.HandlePresence(context.Background(), PresenceMessage{
		UserID:    "u1",
		AvatarURL: "https://cdn.example/new.jpg",
	})

	members := session.Members()
	require.Len(t, members, 1)
	require.Equal(t, "https://cdn.example/new.jpg", members[0].AvatarURL)
}

func TestPresenceResolvedAfterLeaveIsDiscarded(t *testing.T) {
	transport := &fakeTransport{}
	store := &gatedStore{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	session := newTestSession(transport, store, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1", Lat: 46.5, Lon: 7.9})
	}()

	// Wait until the enrichment is blocked inside the profile fetch, then
	// leave and rejoin before letting it complete.
	<-store.entered
	session.Leave()
	require.NoError(t, session.Join(context.Background(), "ZZ99XX"))

	close(store.release)
	<-done

	require.Empty(t, session.Members(), "presence resolved after leave must not leak into the next party")
}

func TestMemberLeftRemovesMember(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1"})
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u2"})

	session.HandleMemberLeft("u1")

	members := session.Members()
	require.Len(t, members, 1)
	require.Equal(t, "u2", members[0].UserID)

	// Unknown ids and idle sessions are no-ops.
	session.HandleMemberLeft("ghost")
	session.Leave()
	session.HandleMemberLeft("u2")
}

func TestPublishPositionCarriesLocalIdentity(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	session.PublishPosition(context.Background(), 46.5, 7.9)
	require.Empty(t, transport.publishedMessages(), "idle sessions must not publish")

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	session.PublishPosition(context.Background(), 46.5, 7.9)

	published := transport.publishedMessages()
	require.Len(t, published, 1)
	require.Equal(t, "local-user", published[0].UserID)
	require.Equal(t, "https://cdn.example/local.jpg", published[0].AvatarURL)
	require.Equal(t, 46.5, published[0].Lat)
	require.Equal(t, 7.9, published[0].Lon)
}

func TestPublishFailureDoesNotChangeState(t *testing.T) {
	transport := &fakeTransport{publishErr: errors.New("connection reset")}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	session.PublishPosition(context.Background(), 46.5, 7.9)

	require.IsType(t, Joined{}, session.State(), "a failed publish is dropped, not fatal")
}

func TestMarkPolicyFlagsStaleMembers(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{
		StaleAfter:  20 * time.Millisecond,
		StalePolicy: configs.StalePolicyMark,
	})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1"})

	members := session.Members()
	require.Len(t, members, 1)
	require.False(t, members[0].Stale)

	time.Sleep(40 * time.Millisecond)

	members = session.Members()
	require.Len(t, members, 1, "mark policy keeps stale members in the set")
	require.True(t, members[0].Stale)

	// A fresh update clears the flag.
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1"})
	members = session.Members()
	require.False(t, members[0].Stale)
}

func TestRemovePolicyReapsStaleMembers(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{
		StaleAfter:  20 * time.Millisecond,
		StalePolicy: configs.StalePolicyRemove,
	})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1"})
	require.Equal(t, 0, session.ReapStale())

	time.Sleep(40 * time.Millisecond)
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u2"})

	require.Equal(t, 1, session.ReapStale())

	members := session.Members()
	require.Len(t, members, 1)
	require.Equal(t, "u2", members[0].UserID)
}

func TestReapStaleIsNoOpUnderMarkPolicy(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{
		StaleAfter:  time.Millisecond,
		StalePolicy: configs.StalePolicyMark,
	})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1"})
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, 0, session.ReapStale())
	require.Len(t, session.Members(), 1)
}

func TestStateSnapshotIsConsistent(t *testing.T) {
	transport := &fakeTransport{}
	session := newTestSession(transport, &mapStore{}, SessionConfig{})

	require.NoError(t, session.Join(context.Background(), "AB12CD"))
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u1", Lat: 46.5})

	state := session.State().(Joined)
	require.Equal(t, "AB12CD", state.Code)
	require.Len(t, state.Members, 1)

	// Mutations after the snapshot must not show through it.
	session.HandlePresence(context.Background(), PresenceMessage{UserID: "u2"})
	require.Len(t, state.Members, 1)
}
