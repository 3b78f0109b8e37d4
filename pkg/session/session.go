package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spawnpoint/spawnpoint/pkg/events"
	"github.com/spawnpoint/spawnpoint/pkg/log"
	"github.com/spawnpoint/spawnpoint/pkg/store"
	"github.com/spawnpoint/spawnpoint/pkg/types"
)

// Manager issues and validates bearer tokens backed by the sessions
// table, so both gateway replicas and the reaper agree on who is
// authenticated.
type Manager struct {
	store  *store.Store
	ttl    time.Duration
	broker *events.Broker
	logger zerolog.Logger
}

// NewManager creates a session manager. ttl is the lifetime of newly
// minted tokens.
func NewManager(st *store.Store, ttl time.Duration, broker *events.Broker) *Manager {
	return &Manager{
		store:  st,
		ttl:    ttl,
		broker: broker,
		logger: log.WithComponent("session"),
	}
}

// Issue returns a valid token for the username, creating the user on
// first sight. If the user already holds an unexpired session its
// token and original expiry are returned unchanged, so repeated
// /token calls are idempotent until the session lapses.
func (m *Manager) Issue(ctx context.Context, username string) (*types.Session, error) {
	user, err := m.store.FindOrCreateUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	now := time.Now().UTC()

	existing, err := m.store.FindValidSessionForUser(ctx, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("look up existing session: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	sess := &types.Session{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: types.ComputeExpiry(now, m.ttl),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.logger.Info().
		Str("username", username).
		Uint("user_id", user.ID).
		Time("expires_at", sess.ExpiresAt).
		Msg("session issued")

	if m.broker != nil {
		m.broker.Publish(&events.Event{
			Type:    events.EventSessionIssued,
			UserID:  user.ID,
			Message: "session issued",
		})
	}

	return sess, nil
}

// Validate resolves a bearer token to its user. Unknown and expired
// tokens both return nil without error; the caller decides the HTTP
// shape of the rejection.
func (m *Manager) Validate(ctx context.Context, token string) (*types.User, error) {
	if token == "" {
		return nil, nil
	}
	user, err := m.store.ValidateSession(ctx, token, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	return user, nil
}
