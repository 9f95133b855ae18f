package status

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultsToNotIndexed(t *testing.T) {
	s := NewStore()
	assert.Equal(t, NotIndexed, s.Get("unknown"))
}

func TestBeginIncludeSkipsIndexedAndPending(t *testing.T) {
	s := NewStore()
	s.Set(Indexed, "a")
	s.SetPending(DirectionExcluding, "b")

	accepted := s.BeginInclude("a", "b", "c", "c", "d")
	assert.Equal(t, []string{"c", "d"}, accepted)
	assert.Equal(t, Indexed, s.Get("a"))
	assert.Equal(t, Entry{Status: Pending, Direction: DirectionExcluding}, s.Entry("b"))
	assert.Equal(t, Entry{Status: Pending, Direction: DirectionIncluding}, s.Entry("c"))
}

func TestBeginIncludeIsExclusive(t *testing.T) {
	s := NewStore()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(s.BeginInclude("x", "y"))
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, total)
}

func TestBeginExclude(t *testing.T) {
	s := NewStore()
	assert.False(t, s.BeginExclude("a"), "not-indexed cannot be excluded")

	s.Set(Indexed, "a")
	require.True(t, s.BeginExclude("a"))
	assert.Equal(t, Entry{Status: Pending, Direction: DirectionExcluding}, s.Entry("a"))
	assert.False(t, s.BeginExclude("a"), "pending cannot be excluded twice")
}

func TestSettleOnlyTouchesMatchingDirection(t *testing.T) {
	s := NewStore()
	s.SetPending(DirectionIncluding, "a")
	s.SetPending(DirectionExcluding, "b")
	s.Set(Indexed, "c")

	s.Settle(DirectionIncluding, Indexed, "a", "b", "c")
	assert.Equal(t, Indexed, s.Get("a"))
	assert.Equal(t, Pending, s.Get("b"))
	assert.Equal(t, Indexed, s.Get("c"))

	s.Settle(DirectionExcluding, NotIndexed, "b")
	assert.Equal(t, NotIndexed, s.Get("b"))
	assert.Empty(t, s.PendingIDs())
}

func TestReconcileIgnoresPending(t *testing.T) {
	s := NewStore()
	s.SetPending(DirectionExcluding, "leaving")
	s.SetPending(DirectionIncluding, "joining")

	s.ReconcileFromRemoteMembership([]string{"leaving", "joining", "fresh"})

	assert.Equal(t, Entry{Status: Pending, Direction: DirectionExcluding}, s.Entry("leaving"))
	assert.Equal(t, Entry{Status: Pending, Direction: DirectionIncluding}, s.Entry("joining"))
	assert.Equal(t, Indexed, s.Get("fresh"))
}

func TestReconcileListing(t *testing.T) {
	s := NewStore()
	s.Set(Indexed, "gone", "kept")
	s.SetPending(DirectionIncluding, "busy")

	s.ReconcileListing([]string{"kept", "new"}, []string{"gone", "kept", "busy"})

	assert.Equal(t, NotIndexed, s.Get("gone"))
	assert.Equal(t, Indexed, s.Get("kept"))
	assert.Equal(t, Indexed, s.Get("new"))
	assert.Equal(t, Pending, s.Get("busy"))
}

func TestListenersReceiveChanges(t *testing.T) {
	s := NewStore()
	var got []Change
	s.OnChange(func(changes []Change) {
		// reading from inside a listener must not deadlock
		_ = s.Get("a")
		got = append(got, changes...)
	})

	s.SetPending(DirectionIncluding, "a")
	s.Set(Indexed, "a")
	s.Set(Indexed, "a")

	require.Len(t, got, 2)
	assert.Equal(t, NotIndexed, got[0].From.Status)
	assert.Equal(t, Pending, got[0].To.Status)
	assert.Equal(t, Indexed, got[1].To.Status)
}

func TestResetNotifies(t *testing.T) {
	s := NewStore()
	s.Set(Indexed, "a")
	var got []Change
	s.OnChange(func(changes []Change) { got = append(got, changes...) })

	s.Reset()
	assert.Empty(t, s.Snapshot())
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ResourceID)
}

func TestResetKeepsPending(t *testing.T) {
	s := NewStore()
	s.Set(Indexed, "a")
	s.BeginInclude("b")
	require.True(t, s.BeginExclude("a"))
	s.Set(Indexed, "c")

	s.Reset()
	assert.Equal(t, Pending, s.Get("a"))
	assert.Equal(t, Pending, s.Get("b"))
	assert.Equal(t, NotIndexed, s.Get("c"))

	// the owning operations can still settle their entries
	s.Settle(DirectionIncluding, Indexed, "b")
	s.Settle(DirectionExcluding, NotIndexed, "a")
	assert.Equal(t, Indexed, s.Get("b"))
	assert.Equal(t, NotIndexed, s.Get("a"))
}
