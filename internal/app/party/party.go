/*
Package party contains the core logic for live party presence.

This file defines Party, the server-side hub for a single party. The Run
loop is the single writer of the authoritative member set: client
registration, departures, inbound presence, and stale reaping are all
processed sequentially, so no reader ever observes a partial upsert.
*/
package party

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"slopelink/internal/app/profile"
	"slopelink/internal/configs"
	"slopelink/internal/pkg/errs"
	"slopelink/internal/pkg/logx"
)

const presenceChannelBuffer = 1024

// PartyInactivityTimeout is the duration after which an empty party shuts
// itself down.
const PartyInactivityTimeout = 5 * time.Minute

// reapInterval is how often the staleness policy is applied.
const reapInterval = 5 * time.Second

// PartyCleanupMsg notifies the Manager that a party finished and should be
// removed from the registry.
type PartyCleanupMsg struct {
	Code string
}

type inboundPresence struct {
	sender *Client
	msg    PresenceMessage
}

// Party is one active presence session, identified by its join code.
type Party struct {
	// Code is the party join code.
	Code string

	// MaxMembers caps concurrent participants.
	MaxMembers int

	// hostID is the user that opened the party (first registered client).
	hostID string

	// clients maps user id to the active connection.
	clients map[string]*Client

	// members is the authoritative member set, keyed by user id.
	members map[string]Member

	// presence queues inbound position updates for the Run loop.
	presence chan inboundPresence

	// register and unregister queue client arrivals and departures.
	register   chan *Client
	unregister chan *Client

	// cleanupChan notifies the Manager when the Run loop finishes.
	cleanupChan chan<- PartyCleanupMsg

	// stopChan terminates the Run loop immediately.
	stopChan chan struct{}

	// shutdownTimer tracks party inactivity.
	shutdownTimer *time.Timer

	// cache resolves member display names; shared across parties.
	cache *profile.Cache

	staleAfter  time.Duration
	stalePolicy string

	// mu protects clients and members for snapshot readers; all
	// mutation happens on the Run goroutine.
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewParty creates and initializes a Party.
func NewParty(code string, maxMembers int, staleAfter time.Duration, stalePolicy string, cache *profile.Cache, cleanupChan chan<- PartyCleanupMsg) *Party {
	partyLogger := logx.Logger().With().
		Str("party_code", code).
		Logger()

	return &Party{
		Code:          code,
		MaxMembers:    maxMembers,
		clients:       make(map[string]*Client),
		members:       make(map[string]Member),
		presence:      make(chan inboundPresence, presenceChannelBuffer),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		cleanupChan:   cleanupChan,
		stopChan:      make(chan struct{}),
		shutdownTimer: time.NewTimer(PartyInactivityTimeout),
		cache:         cache,
		staleAfter:    staleAfter,
		stalePolicy:   stalePolicy,
		logger:        partyLogger,
	}
}

// Stop signals the Run loop to terminate immediately.
func (p *Party) Stop() {
	p.logger.Info().Msg("Received stop signal. Stopping party immediately.")

	select {
	case <-p.stopChan:
	default:
		close(p.stopChan)
	}
}

// Run starts the main event loop for the Party. It owns all member-set
// mutation and exits on inactivity or an explicit stop.
func (p *Party) Run() {
	reapTicker := time.NewTicker(reapInterval)

	defer func() {
		p.logger.Info().Msg("Party Run loop finished. Notifying Manager for cleanup.")

		reapTicker.Stop()
		if p.shutdownTimer != nil {
			p.shutdownTimer.Stop()
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logx.Warn("Recovered from panic during Manager cleanup notification (channel likely closed).")
				}
			}()

			select {
			case p.cleanupChan <- PartyCleanupMsg{Code: p.Code}:
				p.logger.Info().Msg("Sent cleanup notification to Manager.")
			default:
				p.logger.Warn().Msg("Manager cleanup channel blocked/full. Skipping cleanup notification.")
			}
		}()

		p.mu.Lock()
		for _, client := range p.clients {
			client.closeSend()
		}
		p.mu.Unlock()
	}()

	timerChan := p.shutdownTimer.C

	for {
		select {
		case client := <-p.register:
			p.handleRegister(client)

		case client := <-p.unregister:
			p.handleUnregister(client)

		case update := <-p.presence:
			p.handlePresence(update)

		case <-reapTicker.C:
			p.applyStalePolicy()

		case <-timerChan:
			p.logger.Info().Msgf("Party inactivity timeout (%s) reached. Shutting down Run loop.", PartyInactivityTimeout)
			return

		case <-p.stopChan:
			p.logger.Info().Msg("Party forced stop initiated.")
			return
		}
	}
}

func (p *Party) handleRegister(client *Client) {
	p.mu.Lock()

	if existingClient, ok := p.clients[client.userID]; ok {
		p.logger.Warn().
			Str("member_id", client.userID).
			Msg("User already connected. Closing old connection for replacement.")

		existingClient.Kick("Session replaced by new connection.")
	}

	if p.shutdownTimer.Stop() {
		select {
		case <-p.shutdownTimer.C:
		default:
		}
	}

	if _, exists := p.clients[client.userID]; !exists && p.MaxMembers > 0 && len(p.clients) >= p.MaxMembers {
		p.logger.Warn().
			Int("max_members", p.MaxMembers).
			Str("member_id", client.userID).
			Msg("Party is full. New unique member rejected.")

		client.SendErrorPayload(ErrorPayload{Code: errs.ErrPartyIsFull, Message: "This party is full."})
		client.closeSend()
		p.mu.Unlock()
		return
	}

	if p.hostID == "" {
		p.hostID = client.userID
	}

	p.clients[client.userID] = client

	p.logger.Info().
		Str("member_id", client.userID).
		Int("total_members", len(p.clients)).
		Msg("Client joined party.")

	initPayload := InitDataPayload{
		Members:    p.memberSnapshotLocked(),
		MaxMembers: p.MaxMembers,
		IsHost:     p.hostID == client.userID,
	}

	p.mu.Unlock()

	if err := client.SendInitData(initPayload); err != nil {
		p.handleUnregister(client)
	}
}

func (p *Party) handleUnregister(client *Client) {
	p.mu.Lock()

	currentClient, ok := p.clients[client.userID]
	switch {
	case ok && currentClient == client:
		delete(p.clients, client.userID)
		delete(p.members, client.userID)

		client.closeSend()

		p.logger.Info().
			Str("member_id", client.userID).
			Int("total_members", len(p.clients)).
			Msg("Client left party.")

		if len(p.clients) == 0 {
			if p.shutdownTimer.Stop() {
				select {
				case <-p.shutdownTimer.C:
				default:
				}
			}
			p.shutdownTimer.Reset(PartyInactivityTimeout)
		}

		p.mu.Unlock()

		p.broadcast(TypeMemberLeft, MemberLeftPayload{UserID: client.userID}, client.userID)
		return

	case ok && currentClient != client:
		p.logger.Info().
			Str("stale_member_id", client.userID).
			Msg("Ignoring unregister for stale connection.")

	default:
		p.logger.Warn().
			Str("member_id", client.userID).
			Msg("Unregister failed for unknown/already deleted client.")
	}

	p.mu.Unlock()
}

// handlePresence enriches the update through the shared profile cache and
// upserts the member set, then fans the message out to every other client.
// The lookup runs on the loop goroutine, serializing it against other
// member-set mutation; the cache bounds it only by the store's own timeout
// policy.
func (p *Party) handlePresence(update inboundPresence) {
	msg := update.msg

	user, resolved := p.cache.Lookup(context.Background(), msg.UserID)

	member := Member{
		UserID:     msg.UserID,
		Lat:        msg.Lat,
		Lon:        msg.Lon,
		AvatarURL:  msg.AvatarURL,
		LastUpdate: time.Now(),
	}
	if resolved {
		member.UserName = user.DisplayName
		if member.AvatarURL == "" {
			member.AvatarURL = user.AvatarURL
		}
	}

	p.mu.Lock()
	// The connection may have unregistered while the lookup was in
	// flight; a position for a departed member must not reappear.
	if _, connected := p.clients[msg.UserID]; !connected {
		p.mu.Unlock()
		p.logger.Debug().
			Str("member_id", msg.UserID).
			Msg("Discarding presence for disconnected member.")
		return
	}
	p.members[msg.UserID] = member
	p.mu.Unlock()

	p.broadcast(TypePresence, msg, msg.UserID)
}

// applyStalePolicy runs on the reap tick. "remove" drops members past the
// threshold and announces their departure; "mark" flags them in place;
// "ignore" leaves the set untouched.
func (p *Party) applyStalePolicy() {
	if p.stalePolicy == configs.StalePolicyIgnore {
		return
	}

	now := time.Now()
	var removed []string

	p.mu.Lock()
	for id, m := range p.members {
		if now.Sub(m.LastUpdate) <= p.staleAfter {
			continue
		}

		switch p.stalePolicy {
		case configs.StalePolicyRemove:
			delete(p.members, id)
			removed = append(removed, id)
		case configs.StalePolicyMark:
			if !m.Stale {
				m.Stale = true
				p.members[id] = m
			}
		}
	}
	p.mu.Unlock()

	for _, id := range removed {
		p.logger.Info().Str("member_id", id).Msg("Removed stale party member.")
		p.broadcast(TypeMemberLeft, MemberLeftPayload{UserID: id}, id)
	}
}

// broadcast marshals one envelope and queues it to every client except
// excludeID. Clients with a full send queue are scheduled for unregister.
func (p *Party) broadcast(msgType MessageType, payload any, excludeID string) {
	message, err := NewMessage(msgType, p.Code, payload)
	if err != nil {
		p.logger.Error().Err(err).Str("msg_type", string(msgType)).Msg("Failed to build broadcast message.")
		return
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		p.logger.Error().Str("message_id", message.ID).Err(err).Msg("Error marshaling message for broadcast.")
		return
	}

	p.mu.RLock()
	for _, client := range p.clients {
		if client.userID == excludeID {
			continue
		}

		select {
		case client.send <- messageBytes:
		default:
			p.logger.Warn().
				Str("member_id", client.userID).
				Msg("Client send channel full or closed, unregistering.")

			select {
			case p.unregister <- client:
			default:
				p.logger.Warn().Msg("Unregister channel full, skipping client cleanup.")
			}
		}
	}
	p.mu.RUnlock()
}

func (p *Party) memberSnapshotLocked() []Member {
	members := make([]Member, 0, len(p.members))
	for _, m := range p.members {
		members = append(members, m)
	}
	return members
}

// Members returns a consistent snapshot of the authoritative member set.
func (p *Party) Members() []Member {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.memberSnapshotLocked()
}

// RegisterClient queues a client for registration.
func (p *Party) RegisterClient(client *Client) {
	select {
	case p.register <- client:
	default:
		p.logger.Warn().Msg("Party register channel blocked.")
		client.SendErrorPayload(ErrorPayload{Code: errs.ErrUnknown, Message: "Party is busy. Please try again."})
	}
}

// SubmitPresence queues one inbound presence update for the Run loop. A full
// queue drops the update; the sender's next tick supersedes it.
func (p *Party) SubmitPresence(sender *Client, msg PresenceMessage) {
	select {
	case p.presence <- inboundPresence{sender: sender, msg: msg}:
	default:
		p.logger.Warn().
			Str("member_id", msg.UserID).
			Msg("Presence channel full, dropping update.")
	}
}

// IsFull reports whether the party reached its member capacity. A user that
// is already connected can always rejoin to replace their session.
func (p *Party) IsFull(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, connected := p.clients[userID]; connected {
		return false
	}

	return p.MaxMembers > 0 && len(p.clients) >= p.MaxMembers
}
