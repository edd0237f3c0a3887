/*
Package party contains the core logic for live party presence.

This file defines the Manager, the registry of all active parties. It
creates, tracks, retrieves, and cleans up Party instances.
*/
package party

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"slopelink/internal/app/profile"
	"slopelink/internal/pkg/errs"
	"slopelink/internal/pkg/logx"
)

// ManagerConfig carries the per-party settings applied to every party the
// Manager creates.
type ManagerConfig struct {
	MaxMembers  int
	StaleAfter  time.Duration
	StalePolicy string
}

// Manager coordinates all active parties.
type Manager struct {
	// parties maps join code to the active Party.
	parties map[string]*Party

	// cache is the shared profile cache handed to every party.
	cache *profile.Cache

	cfg ManagerConfig

	// mu protects concurrent access to the parties map.
	mu sync.RWMutex

	// cleanup receives notifications from finished parties.
	cleanup chan PartyCleanupMsg

	// wg waits for the cleanup goroutine during shutdown.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewManager constructs a Manager and starts its cleanup loop.
func NewManager(cache *profile.Cache, cfg ManagerConfig) *Manager {
	managerLogger := logx.Logger().With().Str("component", "PartyManager").Logger()

	m := &Manager{
		parties: make(map[string]*Party),
		cache:   cache,
		cfg:     cfg,
		cleanup: make(chan PartyCleanupMsg, 10),
		logger:  managerLogger,
	}

	m.wg.Add(1)

	go m.runCleanupLoop()

	return m
}

// runCleanupLoop removes parties as their Run loops finish.
func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for msg := range m.cleanup {
		m.deleteParty(msg.Code)
	}

	m.logger.Info().Msg("Cleanup loop stopped.")
}

// deleteParty removes the party from the registry.
func (m *Manager) deleteParty(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.parties[code]; ok {
		delete(m.parties, code)
		m.logger.Info().Str("party_code", code).Msg("Party successfully removed.")
	}
}

// CreateParty creates a new Party, registers it, and starts its Run loop.
func (m *Manager) CreateParty(code string) (*Party, *errs.CustomError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.parties[code]; ok {
		m.logger.Warn().Str("party_code", code).Msg("Attempted to create existing party.")
		return nil, errs.NewError(errs.ErrPartyCodeExists)
	}

	newParty := NewParty(code, m.cfg.MaxMembers, m.cfg.StaleAfter, m.cfg.StalePolicy, m.cache, m.cleanup)
	m.parties[code] = newParty

	go newParty.Run()

	m.logger.Info().Str("party_code", code).Int("max_members", m.cfg.MaxMembers).Msg("New party created and started.")
	return newParty, nil
}

// GetParty retrieves a Party by its join code, or nil when none is active.
func (m *Manager) GetParty(code string) *Party {
	m.mu.RLock()
	defer m.mu.RUnlock()

	party, ok := m.parties[code]
	if !ok {
		return nil
	}
	return party
}

// Shutdown stops every party, closes the cleanup channel, and waits for the
// cleanup goroutine to exit.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down Manager cleanup loop...")

	m.mu.Lock()

	for _, party := range m.parties {
		party.Stop()
	}
	m.parties = nil

	m.mu.Unlock()

	close(m.cleanup)
	m.wg.Wait()

	m.logger.Info().Msg("Manager shutdown complete.")
}
