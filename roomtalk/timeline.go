package roomtalk

import "sync"

// Timeline is the ordered, de-duplicated, append-only sequence of chat
// events for one room. History replay, live frames and image resolution
// callbacks all serialize through its mutex, so appends never race and
// readers never observe a torn entry.
type Timeline struct {
	mu      sync.RWMutex
	entries []*ChatEvent
	byKey   map[SequenceKey]*ChatEvent

	nextLocal   uint64
	nextArrival uint64
	frozen      bool
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{byKey: make(map[SequenceKey]*ChatEvent)}
}

// Append inserts ev in timeline order and returns its sequence key.
//
// Events with a server timestamp are keyed by (createdAt, sender, content
// hash); appending an event whose key is already present is a no-op, which
// makes history replay and live delivery commutative when the two streams
// overlap. Events without a timestamp are keyed by a local counter and
// placed at their arrival position. Append never fails; after Freeze it is
// a no-op with inserted == false.
func (t *Timeline) Append(ev ChatEvent) (key SequenceKey, inserted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return SequenceKey{}, false
	}

	if ev.CreatedAt.IsZero() {
		t.nextLocal++
		ev.Key = SequenceKey{Local: t.nextLocal}
	} else {
		ev.Key = deriveKey(ev)
		if _, ok := t.byKey[ev.Key]; ok {
			return ev.Key, false
		}
	}

	t.nextArrival++
	ev.arrival = t.nextArrival

	e := &ChatEvent{}
	*e = ev
	t.byKey[e.Key] = e
	t.entries = insertOrdered(t.entries, e)
	return e.Key, true
}

// insertOrdered places e at its timeline position. Timestamped events walk
// left past later-timestamped entries; equal timestamps keep arrival order.
// Untimestamped entries sit at their arrival position and anchor the walk,
// so a late history record never jumps across a local notice that the user
// already saw in place.
func insertOrdered(entries []*ChatEvent, e *ChatEvent) []*ChatEvent {
	i := len(entries)
	if !e.CreatedAt.IsZero() {
		for i > 0 {
			prev := entries[i-1]
			if prev.CreatedAt.IsZero() || !prev.CreatedAt.After(e.CreatedAt) {
				break
			}
			i--
		}
	}
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

// ResolveImage sets the decoded asset on the entry with the given key.
// It is a no-op when the entry is absent, already resolved, or the timeline
// is frozen.
func (t *Timeline) ResolveImage(key SequenceKey, asset []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return
	}
	e, ok := t.byKey[key]
	if !ok || e.Asset != nil {
		return
	}
	e.Asset = asset
}

// Snapshot returns a copy of the current entries in timeline order. The
// copy is isolated from concurrent appends and resolutions.
func (t *Timeline) Snapshot() []ChatEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ChatEvent, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}

// Len reports the number of entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Freeze stops all further mutation. Called when the owning session reaches
// a terminal state so late history records or image callbacks cannot append
// after close.
func (t *Timeline) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}
