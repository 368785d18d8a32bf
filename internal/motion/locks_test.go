package motion

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTable(t *testing.T) {
	t.Parallel()

	locks := NewLockTable()
	a, b := NewToken(), NewToken()

	require.True(t, locks.Lock("gap", a))
	assert.True(t, locks.Lock("gap", a), "re-locking by the holder succeeds")
	assert.False(t, locks.Lock("gap", b), "second token must be rejected")
	assert.False(t, locks.Unlock("gap", b), "only the holder may unlock")
	assert.Equal(t, a, locks.Holder("gap"))
	assert.Equal(t, []string{"gap"}, locks.Locked())

	require.True(t, locks.Unlock("gap", a))
	assert.False(t, locks.IsLocked("gap"))
	assert.False(t, locks.Unlock("gap", a), "unlocking a free axis fails")
	assert.True(t, locks.Lock("gap", b))
	assert.False(t, locks.Lock("phase", ""), "empty token never locks")
}

func TestLockTable_ConcurrentClaims(t *testing.T) {
	t.Parallel()

	locks := NewLockTable()
	const claimants = 64

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.Lock("gap", NewToken()) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one claimant may hold the lock")
}

func TestNextCommandID_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[CommandID]bool)
	for i := 0; i < 1000; i++ {
		id := NextCommandID()
		require.NotZero(t, id)
		require.False(t, seen[id], "duplicate command id %d", id)
		seen[id] = true
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []StatusEvent
	onRecv func()
}

func (r *recordingObserver) Update(ev StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.onRecv != nil {
		r.onRecv()
	}
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBroadcaster_RemoveDuringNotify(t *testing.T) {
	t.Parallel()

	var b Broadcaster
	first := &recordingObserver{}
	second := &recordingObserver{}
	first.onRecv = func() { b.RemoveObserver(first) }

	b.AddObserver(first)
	b.AddObserver(first)
	b.AddObserver(second)
	require.Equal(t, 2, b.Len())

	b.Notify(StatusEvent{Axis: "gap", Status: StatusReady})
	b.Notify(StatusEvent{Axis: "gap", Status: StatusReady})

	assert.Equal(t, 1, first.count(), "observer removed itself after the first event")
	assert.Equal(t, 2, second.count())
	assert.Equal(t, 1, b.Len())
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	err := validationError("gap", StatusSoftLimitUpper)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrExecution)
	assert.Equal(t, StatusSoftLimitUpper, StatusOf(err))
	assert.Contains(t, err.Error(), "upper soft limit")

	cfg := Configuration("zones", assert.AnError)
	assert.ErrorIs(t, cfg, ErrConfiguration)
	assert.ErrorIs(t, cfg, assert.AnError)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for s, name := range statusNames {
		got, err := ParseStatus(name)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("SIDEWAYS")
	assert.Error(t, err)
}
