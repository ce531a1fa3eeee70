package ratchet

import "sort"

// skippedKeys holds message keys derived for indices that have not arrived
// yet. Entries are single use; when the cache is full the lowest (oldest)
// index is evicted. Indices never repeat within a session, so entries from
// before a receiving ratchet stay valid for old-chain stragglers.
type skippedKeys struct {
	limit   int
	entries map[uint64]*MessageKey
}

func newSkippedKeys(limit int) *skippedKeys {
	return &skippedKeys{limit: limit, entries: make(map[uint64]*MessageKey)}
}

// put stores mk, evicting the lowest index when full.
func (s *skippedKeys) put(mk *MessageKey) {
	if len(s.entries) >= s.limit {
		lowest, found := uint64(0), false
		for idx := range s.entries {
			if !found || idx < lowest {
				lowest, found = idx, true
			}
		}
		if found {
			s.entries[lowest].Destroy()
			delete(s.entries, lowest)
		}
	}
	s.entries[mk.index] = mk
}

// take removes and returns the key for index, if cached.
func (s *skippedKeys) take(index uint64) (*MessageKey, bool) {
	mk, ok := s.entries[index]
	if !ok {
		return nil, false
	}
	delete(s.entries, index)
	return mk, true
}

// peek returns the key for index without consuming it.
func (s *skippedKeys) peek(index uint64) (*MessageKey, bool) {
	mk, ok := s.entries[index]
	return mk, ok
}

// indices lists the cached indices in ascending order.
func (s *skippedKeys) indices() []uint64 {
	out := make([]uint64, 0, len(s.entries))
	for idx := range s.entries {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *skippedKeys) len() int { return len(s.entries) }

// destroy wipes every cached key.
func (s *skippedKeys) destroy() {
	for idx, mk := range s.entries {
		mk.Destroy()
		delete(s.entries, idx)
	}
}
