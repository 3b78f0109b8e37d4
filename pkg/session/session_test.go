package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spawnpoint/spawnpoint/pkg/store"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	st, err := store.NewTestStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewManager(st, ttl, nil)
}

func TestIssueMintsToken(t *testing.T) {
	m := newTestManager(t, 12*time.Hour)
	ctx := context.Background()

	sess, err := m.Issue(ctx, "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, sess.Token)
	assert.NotZero(t, sess.UserID)
	assert.True(t, sess.ExpiresAt.After(time.Now()))
}

func TestIssueReusesValidSession(t *testing.T) {
	m := newTestManager(t, 12*time.Hour)
	ctx := context.Background()

	first, err := m.Issue(ctx, "alice")
	require.NoError(t, err)

	second, err := m.Issue(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.Token, second.Token)
	assert.True(t, first.ExpiresAt.Equal(second.ExpiresAt),
		"reissued session must keep the original expiry")
}

func TestIssueMintsFreshTokenAfterExpiry(t *testing.T) {
	m := newTestManager(t, -time.Hour) // sessions are born expired
	ctx := context.Background()

	first, err := m.Issue(ctx, "alice")
	require.NoError(t, err)

	second, err := m.Issue(ctx, "alice")
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
}

func TestIssueIsPerUser(t *testing.T) {
	m := newTestManager(t, 12*time.Hour)
	ctx := context.Background()

	alice, err := m.Issue(ctx, "alice")
	require.NoError(t, err)
	bob, err := m.Issue(ctx, "bob")
	require.NoError(t, err)

	assert.NotEqual(t, alice.Token, bob.Token)
	assert.NotEqual(t, alice.UserID, bob.UserID)
}

func TestValidate(t *testing.T) {
	m := newTestManager(t, 12*time.Hour)
	ctx := context.Background()

	sess, err := m.Issue(ctx, "alice")
	require.NoError(t, err)

	user, err := m.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)

	user, err = m.Validate(ctx, "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = m.Validate(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestValidateRejectsExpiredSession(t *testing.T) {
	m := newTestManager(t, -time.Hour)
	ctx := context.Background()

	sess, err := m.Issue(ctx, "alice")
	require.NoError(t, err)

	user, err := m.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Nil(t, user, "expired session must not authenticate")
}
