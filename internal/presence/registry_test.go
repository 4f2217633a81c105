// ABOUTME: Tests for the presence registry
// ABOUTME: Covers multi-device handle sets, primary promotion, and concurrency

package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_FirstHandleBringsUserOnline(t *testing.T) {
	r := NewRegistry(nil)

	cameOnline := r.Register("user-b", "Blessing", "conn-1")
	assert.True(t, cameOnline)
	assert.True(t, r.IsOnline("user-b"))
	assert.Equal(t, "conn-1", r.PrimaryHandle("user-b"))

	// A second tab does not re-announce online
	cameOnline = r.Register("user-b", "Blessing", "conn-2")
	assert.False(t, cameOnline)
	assert.Equal(t, "conn-1", r.PrimaryHandle("user-b"))
}

func TestDeregister_TwoTabsScenario(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("user-b", "Blessing", "conn-1")
	r.Register("user-b", "Blessing", "conn-2")

	// Closing the first tab keeps the user online with the primary reassigned
	wentOffline, _ := r.Deregister("user-b", "conn-1")
	assert.False(t, wentOffline)
	assert.True(t, r.IsOnline("user-b"))
	assert.Equal(t, "conn-2", r.PrimaryHandle("user-b"))

	// Closing the last tab flips the user offline with a last-seen timestamp
	wentOffline, lastSeen := r.Deregister("user-b", "conn-2")
	assert.True(t, wentOffline)
	assert.False(t, r.IsOnline("user-b"))
	assert.False(t, lastSeen.IsZero())
	assert.Equal(t, "", r.PrimaryHandle("user-b"))
}

func TestDeregister_UnknownUserIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	wentOffline, lastSeen := r.Deregister("ghost", "conn-1")
	assert.False(t, wentOffline)
	assert.True(t, lastSeen.IsZero())
}

func TestPresenceInvariant_OnlineIffHandleSetNonEmpty(t *testing.T) {
	r := NewRegistry(nil)

	assert.False(t, r.IsOnline("user-a"))

	r.Register("user-a", "Ada", "conn-1")
	entry, ok := r.Get("user-a")
	require.True(t, ok)
	assert.Len(t, entry.Handles, 1)

	r.Deregister("user-a", "conn-1")
	_, ok = r.Get("user-a")
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot())
}

func TestSnapshot_ReturnsCopies(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("user-a", "Ada", "conn-1")
	r.Register("user-b", "Blessing", "conn-2")

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	for _, e := range snap {
		assert.NotEmpty(t, e.DisplayName)
		assert.NotEmpty(t, e.PrimaryHandle)
		assert.False(t, e.LastSeen.IsZero())
	}

	// Mutating the snapshot must not affect the registry
	snap[0].Handles = nil
	assert.True(t, r.IsOnline("user-a"))
	assert.True(t, r.IsOnline("user-b"))
}

func TestRegistry_ConcurrentRegisterDeregister(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			handle := fmt.Sprintf("conn-%d", n)
			r.Register("user-x", "Xavier", handle)
			r.Touch("user-x")
			r.Deregister("user-x", handle)
		}(i)
	}
	wg.Wait()

	// Every goroutine removed what it added
	assert.False(t, r.IsOnline("user-x"))
}
