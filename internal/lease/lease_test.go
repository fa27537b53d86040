package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_UpdateAcceptance(t *testing.T) {
	m := NewManager()
	now := time.Unix(0, 0)

	assert.True(t, m.Update("alice", now.Add(time.Minute).UnixMilli(), now), "no active lease accepts any owner")
	assert.Equal(t, "alice", m.Current().Owner)

	assert.False(t, m.Update("bob", now.Add(time.Minute).UnixMilli(), now.Add(time.Second)), "different owner rejected while active")
	assert.Equal(t, "alice", m.Current().Owner, "rejected update leaves the record untouched")

	assert.True(t, m.Update("alice", now.Add(2*time.Minute).UnixMilli(), now.Add(2*time.Second)), "same owner renews")

	assert.True(t, m.Update("bob", now.Add(3*time.Minute).UnixMilli(), now.Add(5*time.Minute)), "expired lease accepts a new owner")
	assert.Equal(t, "bob", m.Current().Owner)
}

func TestManager_IsActive(t *testing.T) {
	// I5: isActive() <=> owner != "" && expiresTs > now
	m := NewManager()
	now := time.Unix(0, 0)
	assert.False(t, m.IsActive(now), "empty owner is never active")

	m.Update("alice", now.Add(time.Second).UnixMilli(), now)
	assert.True(t, m.IsActive(now))
	assert.False(t, m.IsActive(now.Add(2*time.Second)), "expired lease is not active")
}

func TestManager_Authorize(t *testing.T) {
	now := time.Unix(0, 0)

	m := NewManager()
	d := m.Authorize("anyone", false, CommandPolicy{RequiresLease: false}, now)
	assert.True(t, d.Allowed, "commands not requiring a lease always pass")
	assert.False(t, d.LocalOverride)

	d = m.Authorize("local-api", true, CommandPolicy{RequiresLease: true, LocalBypass: true}, now)
	assert.True(t, d.Allowed)
	assert.True(t, d.LocalOverride, "local bypass flags LOCAL_OVERRIDE_USED")

	d = m.Authorize("remote-client", false, CommandPolicy{RequiresLease: true}, now)
	assert.False(t, d.Allowed)
	assert.Equal(t, "no active lease", d.Reason)

	m.Update("alice", now.Add(time.Minute).UnixMilli(), now)

	d = m.Authorize("alice", false, CommandPolicy{RequiresLease: true}, now)
	assert.True(t, d.Allowed)
	assert.False(t, d.LocalOverride)

	d = m.Authorize("mallory", false, CommandPolicy{RequiresLease: true}, now)
	assert.False(t, d.Allowed)
	assert.Equal(t, "owned by alice", d.Reason)

	d = m.Authorize("mallory", true, CommandPolicy{RequiresLease: true, LocalBypass: false}, now)
	assert.False(t, d.Allowed, "local without bypass still enforces the lease owner")
}
