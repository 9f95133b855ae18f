// Package status holds the locally known indexing status of each resource.
//
// The store is the single source of truth for display between
// reconciliations. Only the engine mutates it; everything else reads.
package status

import (
	"sort"
	"sync"
)

// Status is the local indexing state of one resource
type Status string

const (
	NotIndexed Status = "not-indexed"
	Pending    Status = "pending"
	Indexed    Status = "indexed"
)

// Direction tags a pending entry with the operation that produced it
type Direction string

const (
	DirectionNone      Direction = ""
	DirectionIncluding Direction = "including"
	DirectionExcluding Direction = "excluding"
)

// Entry is the stored view of one resource
type Entry struct {
	Status    Status
	Direction Direction
}

// Change describes one status transition
type Change struct {
	ResourceID string
	From       Entry
	To         Entry
}

// Listener is called after transitions are applied, outside the store lock
type Listener func(changes []Change)

// Store is safe for concurrent use
type Store struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	listeners []Listener
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the status of id, not-indexed when unknown
func (s *Store) Get(id string) Status {
	return s.Entry(id).Status
}

// Entry returns the full entry of id
func (s *Store) Entry(id string) Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	return Entry{Status: NotIndexed}
}

// Set stores a settled status for ids
func (s *Store) Set(status Status, ids ...string) {
	s.apply(func(id string, _ Entry) (Entry, bool) {
		return Entry{Status: status}, true
	}, ids)
}

// SetPending marks ids pending in the given direction
func (s *Store) SetPending(direction Direction, ids ...string) {
	s.apply(func(id string, _ Entry) (Entry, bool) {
		return Entry{Status: Pending, Direction: direction}, true
	}, ids)
}

// BeginInclude marks every id that is neither indexed nor pending as
// pending(including) and returns the ids it accepted, in input order.
// Checking and marking happen under one lock so two callers can never both
// accept the same id.
func (s *Store) BeginInclude(ids ...string) []string {
	accepted := make([]string, 0, len(ids))
	s.apply(func(id string, cur Entry) (Entry, bool) {
		if cur.Status != NotIndexed {
			return cur, false
		}
		accepted = append(accepted, id)
		return Entry{Status: Pending, Direction: DirectionIncluding}, true
	}, dedupe(ids))
	return accepted
}

// BeginExclude marks id pending(excluding) if it is indexed. It reports
// whether the exclude may proceed.
func (s *Store) BeginExclude(id string) bool {
	ok := false
	s.apply(func(_ string, cur Entry) (Entry, bool) {
		if cur.Status != Indexed {
			return cur, false
		}
		ok = true
		return Entry{Status: Pending, Direction: DirectionExcluding}, true
	}, []string{id})
	return ok
}

// Settle moves each id that is still pending in direction to status. Ids no
// longer pending in that direction are left alone.
func (s *Store) Settle(direction Direction, status Status, ids ...string) {
	s.apply(func(_ string, cur Entry) (Entry, bool) {
		if cur.Status != Pending || cur.Direction != direction {
			return cur, false
		}
		return Entry{Status: status}, true
	}, ids)
}

// ReconcileFromRemoteMembership marks every member indexed unless its entry
// is pending. A pending entry belongs to an in-flight operation and a stale
// confirm read must not overwrite it.
func (s *Store) ReconcileFromRemoteMembership(memberIDs []string) {
	s.apply(func(_ string, cur Entry) (Entry, bool) {
		if cur.Status == Pending || cur.Status == Indexed {
			return cur, false
		}
		return Entry{Status: Indexed}, true
	}, memberIDs)
}

// ReconcileListing applies a confirmed listing of one knowledge-base folder:
// listed ids become indexed and known ids that were expected under the folder
// but are absent become not-indexed. Pending entries are never touched.
func (s *Store) ReconcileListing(listed, expected []string) {
	present := make(map[string]struct{}, len(listed))
	for _, id := range listed {
		present[id] = struct{}{}
	}
	s.ReconcileFromRemoteMembership(listed)

	var missing []string
	for _, id := range expected {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	s.apply(func(_ string, cur Entry) (Entry, bool) {
		if cur.Status != Indexed {
			return cur, false
		}
		return Entry{Status: NotIndexed}, true
	}, missing)
}

// PendingIDs returns every id currently pending, sorted
func (s *Store) PendingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, e := range s.entries {
		if e.Status == Pending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of every known entry
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// Reset forgets every settled entry. Pending entries are kept: the
// operation that owns them settles them.
func (s *Store) Reset() {
	s.mu.Lock()
	var changes []Change
	for id, e := range s.entries {
		if e.Status == Pending {
			continue
		}
		delete(s.entries, id)
		if e.Status != NotIndexed {
			changes = append(changes, Change{ResourceID: id, From: e, To: Entry{Status: NotIndexed}})
		}
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	notify(listeners, changes)
}

// OnChange registers a listener
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Store) apply(fn func(id string, cur Entry) (Entry, bool), ids []string) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	var changes []Change
	for _, id := range ids {
		if id == "" {
			continue
		}
		cur, ok := s.entries[id]
		if !ok {
			cur = Entry{Status: NotIndexed}
		}
		next, write := fn(id, cur)
		if !write || next == cur {
			continue
		}
		if next.Status == NotIndexed {
			delete(s.entries, id)
		} else {
			s.entries[id] = next
		}
		changes = append(changes, Change{ResourceID: id, From: cur, To: next})
	}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	notify(listeners, changes)
}

func notify(listeners []Listener, changes []Change) {
	if len(changes) == 0 {
		return
	}
	for _, l := range listeners {
		l(changes)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
