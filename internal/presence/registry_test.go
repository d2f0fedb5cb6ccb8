package presence

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinAndLookup(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	r := NewRegistry(true, clk)
	id := uuid.New()

	s := r.Join(id, "Steve", "192.0.2.10")
	assert.True(t, s.JoinedAt.Equal(clk.Now()))

	found, name, ok := r.LookupLocalByName("steve")
	require.True(t, ok)
	assert.Equal(t, id, found)
	assert.Equal(t, "Steve", name)

	name, ok = r.LookupLocalByID(id)
	require.True(t, ok)
	assert.Equal(t, "Steve", name)

	_, _, ok = r.LookupLocalByName("Alex")
	assert.False(t, ok)
}

func TestLeave(t *testing.T) {
	r := NewRegistry(true, nil)
	id := uuid.New()
	r.Join(id, "Steve", "")

	assert.True(t, r.Leave(id))
	assert.False(t, r.Leave(id))
	_, ok := r.LookupLocalByID(id)
	assert.False(t, ok)
	assert.Empty(t, r.Online())
}

func TestOnlineIsSortedByName(t *testing.T) {
	r := NewRegistry(true, nil)
	r.Join(uuid.New(), "zed", "")
	r.Join(uuid.New(), "Alex", "")
	r.Join(uuid.New(), "bob", "")

	var names []string
	for _, s := range r.Online() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Alex", "bob", "zed"}, names)
}

func TestNetworkVerificationFollowsOnlineMode(t *testing.T) {
	r := NewRegistry(false, nil)
	assert.False(t, r.NetworkVerification())
	r.SetOnlineMode(true)
	assert.True(t, r.NetworkVerification())
}
