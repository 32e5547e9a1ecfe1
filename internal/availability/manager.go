package availability

import (
	"context"
	"fmt"
	"sync"

	"homebooking/internal/events"

	"github.com/rs/zerolog"
)

// ConfigFunc builds the session configuration of an organization.
type ConfigFunc func(organizationID string) Config

type managed struct {
	session    *Session
	controller *Controller
}

// Manager owns one Session and Controller per organization, created on
// first use and torn down by Close.
type Manager struct {
	ctx    context.Context
	build  ConfigFunc
	feed   events.Feed
	logger *zerolog.Logger

	mu      sync.Mutex
	entries map[string]*managed
	closed  bool
}

// NewManager creates a manager. ctx bounds every controller.
func NewManager(ctx context.Context, build ConfigFunc, feed events.Feed, logger *zerolog.Logger) *Manager {
	return &Manager{
		ctx:     ctx,
		build:   build,
		feed:    feed,
		logger:  logger,
		entries: make(map[string]*managed),
	}
}

// Session returns the organization's session, starting its controller
// on first use.
func (m *Manager) Session(organizationID string) (*Session, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("organization id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("session manager closed")
	}
	if e, ok := m.entries[organizationID]; ok {
		return e.session, nil
	}

	cfg := m.build(organizationID)
	cfg.OrganizationID = organizationID
	session := NewSession(cfg, m.logger)

	var controller *Controller
	if m.feed != nil {
		controller = NewController(session, m.feed, m.logger)
		if err := controller.Start(m.ctx); err != nil {
			return nil, err
		}
		go m.drain(controller)
	}

	m.entries[organizationID] = &managed{session: session, controller: controller}
	m.logger.Info().Str("organization_id", organizationID).Msg("availability session opened")
	return session, nil
}

// Invalidate drops the cached availability of an open session so the
// next read recomputes it. Unknown organizations are ignored.
func (m *Manager) Invalidate(organizationID string) {
	m.mu.Lock()
	e, ok := m.entries[organizationID]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.session.InvalidateAll(m.ctx)
	m.logger.Info().Str("organization_id", organizationID).Msg("availability session reset after config change")
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops every controller.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*managed)
	m.closed = true
	m.mu.Unlock()

	for _, e := range entries {
		if e.controller != nil {
			e.controller.Stop()
		}
		e.session.Wait()
	}
}

// drain logs invalidations; server sessions have no view to re-render.
func (m *Manager) drain(c *Controller) {
	for inv := range c.Invalidations() {
		m.logger.Debug().Str("table", inv.Table).Str("record_id", inv.RecordID).Msg("availability invalidated")
	}
}
