package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"slopelink/internal/app/profile"
	"slopelink/internal/configs"
	"slopelink/internal/pkg/logx"
)

var (
	// ErrAlreadyJoined is returned by Join while the session is Joined.
	ErrAlreadyJoined = errors.New("party: session already joined")

	// ErrJoinInProgress is returned by Join while another Join is pending.
	ErrJoinInProgress = errors.New("party: join already in progress")

	// ErrJoinCancelled is returned by Join when Leave was called while the
	// join round trip was in flight.
	ErrJoinCancelled = errors.New("party: join cancelled by leave")
)

// JoinInfo is the server-reported result of a successful join: the host flag
// and the party's current member snapshot, delivered as presence messages so
// the session seeds its member set through the same path as live traffic.
type JoinInfo struct {
	IsHost  bool
	Members []PresenceMessage
}

// Transport is the opaque pub/sub channel a session communicates through.
// Join and Publish may take as long as the transport's own timeout policy
// allows; the session adds no timeouts of its own. Inbound presence is
// delivered by the transport calling Session.HandlePresence.
type Transport interface {
	// Join subscribes to the presence channel for code.
	Join(ctx context.Context, code string) (JoinInfo, error)

	// Leave unsubscribes from the presence channel for code.
	Leave(code string)

	// Publish sends one presence message on the channel for code.
	Publish(ctx context.Context, code string, msg PresenceMessage) error
}

// SessionConfig carries the presence tuning knobs for a session.
type SessionConfig struct {
	// StaleAfter is the age past which a member counts as possibly offline.
	StaleAfter time.Duration

	// StalePolicy is one of the configs.StalePolicy* values.
	StalePolicy string
}

// Session is the local view of "who is in the party and where". It owns the
// member set exclusively and moves between exactly two states, Idle and
// Joined. All member-set mutation is serialized behind one mutex; readers
// always observe a complete upsert, never a partial one.
type Session struct {
	mu sync.Mutex

	transport Transport
	cache     *profile.Cache

	localUserID    string
	localAvatarURL string

	cfg SessionConfig

	// joined is nil while Idle.
	joined *joinedParty

	// joining guards against concurrent Join calls without holding mu
	// across the transport round trip.
	joining bool

	// leaveDuringJoin records a Leave that arrived while the join round
	// trip was in flight; the Join aborts instead of committing.
	leaveDuringJoin bool

	// epoch increments on every Leave. An in-flight presence enrichment
	// captured under an older epoch is discarded instead of being applied
	// to a session that has since left or rejoined.
	epoch uint64

	logger zerolog.Logger
}

type joinedParty struct {
	code    string
	isHost  bool
	members map[string]Member
}

// NewSession constructs an Idle session for the local user. The profile
// cache is shared; the session does not own it.
func NewSession(transport Transport, cache *profile.Cache, localUserID, localAvatarURL string, cfg SessionConfig) *Session {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.StalePolicy == "" {
		cfg.StalePolicy = configs.StalePolicyMark
	}

	return &Session{
		transport:      transport,
		cache:          cache,
		localUserID:    localUserID,
		localAvatarURL: localAvatarURL,
		cfg:            cfg,
		logger: logx.Logger().With().
			Str("component", "PartySession").
			Str("user_id", localUserID).
			Logger(),
	}
}

// Join requests the party identified by code and, on success, transitions
// Idle -> Joined seeded with the server's member snapshot. On failure the
// error is surfaced to the caller and the session remains Idle: join
// failures are user-actionable, unlike profile lookups. A Leave issued while
// the round trip is in flight aborts the join with ErrJoinCancelled.
func (s *Session) Join(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.joined != nil {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	if s.joining {
		s.mu.Unlock()
		return ErrJoinInProgress
	}
	s.joining = true
	s.mu.Unlock()

	info, err := s.transport.Join(ctx, code)

	s.mu.Lock()
	s.joining = false

	if err != nil {
		s.leaveDuringJoin = false
		s.mu.Unlock()
		return fmt.Errorf("join party %s: %w", code, err)
	}

	if s.leaveDuringJoin {
		s.leaveDuringJoin = false
		s.mu.Unlock()

		s.transport.Leave(code)

		s.logger.Info().Str("party_code", code).Msg("Join cancelled by leave.")
		return ErrJoinCancelled
	}

	s.joined = &joinedParty{
		code:    code,
		isHost:  info.IsHost,
		members: make(map[string]Member),
	}
	s.mu.Unlock()

	// Seed the member set from the snapshot. Each entry runs through the
	// same enrichment and epoch checks as live traffic, so a Leave racing
	// the seeding discards the remainder.
	for _, msg := range info.Members {
		s.HandlePresence(ctx, msg)
	}

	s.logger.Info().
		Str("party_code", code).
		Bool("is_host", info.IsHost).
		Int("snapshot_members", len(info.Members)).
		Msg("Joined party.")
	return nil
}

// Leave unsubscribes and transitions Joined -> Idle, discarding the member
// set. Leaving an Idle session is a no-op, except that a join currently in
// flight is flagged for cancellation.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.joined == nil {
		if s.joining {
			s.leaveDuringJoin = true
		}
		s.mu.Unlock()
		return
	}

	code := s.joined.code
	s.joined = nil
	s.epoch++
	s.mu.Unlock()

	s.transport.Leave(code)

	s.logger.Info().Str("party_code", code).Msg("Left party.")
}

// HandlePresence folds one inbound presence message into the member set.
// The sender's profile is resolved through the shared cache, which may block
// on a miss; if the session leaves while the lookup is in flight, the update
// is discarded rather than applied to a closed session. While Idle the
// message is dropped.
func (s *Session) HandlePresence(ctx context.Context, msg PresenceMessage) {
	s.mu.Lock()
	if s.joined == nil {
		s.mu.Unlock()
		return
	}
	epoch := s.epoch
	s.mu.Unlock()

	user, ok := s.cache.Lookup(ctx, msg.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.joined == nil || s.epoch != epoch {
		s.logger.Debug().
			Str("member_id", msg.UserID).
			Msg("Discarding presence resolved after leave.")
		return
	}

	member := Member{
		UserID:     msg.UserID,
		Lat:        msg.Lat,
		Lon:        msg.Lon,
		AvatarURL:  msg.AvatarURL,
		LastUpdate: time.Now(),
	}
	if ok {
		member.UserName = user.DisplayName
		if member.AvatarURL == "" {
			member.AvatarURL = user.AvatarURL
		}
	}

	// Last write wins by arrival order, keyed by user id.
	s.joined.members[msg.UserID] = member
}

// PublishPosition broadcasts the local user's position. Delivery is
// fire-and-forget, at most once: a failed send is logged and superseded by
// the next periodic publication.
func (s *Session) PublishPosition(ctx context.Context, lat, lon float64) {
	s.mu.Lock()
	if s.joined == nil {
		s.mu.Unlock()
		return
	}
	code := s.joined.code
	s.mu.Unlock()

	msg := PresenceMessage{
		UserID:    s.localUserID,
		Lat:       lat,
		Lon:       lon,
		AvatarURL: s.localAvatarURL,
	}

	if err := s.transport.Publish(ctx, code, msg); err != nil {
		s.logger.Warn().Err(err).Str("party_code", code).Msg("Failed to publish position.")
	}
}

// Members returns a consistent snapshot of the member set. Under the "mark"
// policy, members older than StaleAfter carry the Stale flag. Idle sessions
// return nil.
func (s *Session) Members() []Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.membersLocked()
}

func (s *Session) membersLocked() []Member {
	if s.joined == nil {
		return nil
	}

	now := time.Now()
	members := make([]Member, 0, len(s.joined.members))
	for _, m := range s.joined.members {
		if s.cfg.StalePolicy == configs.StalePolicyMark && now.Sub(m.LastUpdate) > s.cfg.StaleAfter {
			m.Stale = true
		}
		members = append(members, m)
	}

	return members
}

// ReapStale applies the "remove" staleness policy, dropping members whose
// LastUpdate exceeds the threshold. It is a no-op under the other policies
// and while Idle. Callers run it on a tick of their choosing.
func (s *Session) ReapStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.joined == nil || s.cfg.StalePolicy != configs.StalePolicyRemove {
		return 0
	}

	now := time.Now()
	removed := 0
	for id, m := range s.joined.members {
		if now.Sub(m.LastUpdate) > s.cfg.StaleAfter {
			delete(s.joined.members, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Reaped stale party members.")
	}

	return removed
}

// HandleMemberLeft removes the member from the set when the transport
// reports an explicit departure. Idle sessions drop the event.
func (s *Session) HandleMemberLeft(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.joined == nil {
		return
	}

	delete(s.joined.members, userID)
}

// State returns the current sealed state variant. The Joined variant carries
// a member-set snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.joined == nil {
		return Idle{}
	}

	return Joined{
		Code:    s.joined.code,
		IsHost:  s.joined.isHost,
		Members: s.membersLocked(),
	}
}
