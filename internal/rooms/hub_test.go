// ABOUTME: Tests for the room fan-out hub
// ABOUTME: Covers join, publish, exclusion, leave-all, isolation, concurrency

package rooms

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOrFail(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublish_SingleSubscriberReceivesEvent(t *testing.T) {
	h := NewHub(nil)
	sink := make(chan Event, 4)

	h.Join("conv-1", "handle-a", sink)
	h.Publish("conv-1", Event{Name: "message:new", Payload: "hi"}, "")

	ev := recvOrFail(t, sink)
	assert.Equal(t, "message:new", ev.Name)
}

func TestPublish_AllRoomMembersReceive(t *testing.T) {
	h := NewHub(nil)
	a := make(chan Event, 4)
	b := make(chan Event, 4)

	h.Join("conv-1", "handle-a", a)
	h.Join("conv-1", "handle-b", b)
	h.Publish("conv-1", Event{Name: "messages:read"}, "")

	assert.Equal(t, "messages:read", recvOrFail(t, a).Name)
	assert.Equal(t, "messages:read", recvOrFail(t, b).Name)
}

func TestPublish_ExcludesOriginator(t *testing.T) {
	h := NewHub(nil)
	typer := make(chan Event, 4)
	other := make(chan Event, 4)

	h.Join("conv-1", "handle-typer", typer)
	h.Join("conv-1", "handle-other", other)
	h.Publish("conv-1", Event{Name: "typing:start"}, "handle-typer")

	assert.Equal(t, "typing:start", recvOrFail(t, other).Name)
	select {
	case ev := <-typer:
		t.Fatalf("originator received its own event %q", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_RoomsAreIsolated(t *testing.T) {
	h := NewHub(nil)
	a := make(chan Event, 4)
	b := make(chan Event, 4)

	h.Join("conv-1", "handle-a", a)
	h.Join("conv-2", "handle-b", b)
	h.Publish("conv-1", Event{Name: "message:new"}, "")

	assert.Equal(t, "message:new", recvOrFail(t, a).Name)
	select {
	case ev := <-b:
		t.Fatalf("wrong room received %q", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_FullSinkDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	full := make(chan Event, 1)
	full <- Event{Name: "stale"}

	h.Join("conv-1", "handle-a", full)

	done := make(chan struct{})
	go func() {
		h.Publish("conv-1", Event{Name: "message:new"}, "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full sink")
	}
}

func TestLeave_StopsDelivery(t *testing.T) {
	h := NewHub(nil)
	sink := make(chan Event, 4)

	h.Join("conv-1", "handle-a", sink)
	require.True(t, h.Contains("conv-1", "handle-a"))

	h.Leave("conv-1", "handle-a")
	assert.False(t, h.Contains("conv-1", "handle-a"))
	assert.Empty(t, h.Members("conv-1"))

	h.Publish("conv-1", Event{Name: "message:new"}, "")
	select {
	case ev := <-sink:
		t.Fatalf("left subscriber received %q", ev.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeaveAll_RemovesHandleFromEveryRoom(t *testing.T) {
	h := NewHub(nil)
	sink := make(chan Event, 4)

	h.Join("conv-1", "handle-a", sink)
	h.Join("conv-2", "handle-a", sink)
	h.Join("conv-3", "handle-a", sink)

	h.LeaveAll("handle-a")

	for _, room := range []string{"conv-1", "conv-2", "conv-3"} {
		assert.False(t, h.Contains(room, "handle-a"), "still in %s", room)
	}
}

func TestHub_ConcurrentJoinPublishLeave(t *testing.T) {
	h := NewHub(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			handle := fmt.Sprintf("handle-%d", n)
			sink := make(chan Event, 8)
			h.Join("conv-1", handle, sink)
			h.Publish("conv-1", Event{Name: "message:new"}, handle)
			h.LeaveAll(handle)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, h.Members("conv-1"))
}
