package roomtalk

import (
	"hash/fnv"
	"time"
)

// EventKind classifies a timeline entry.
type EventKind int

const (
	// KindText is a plain chat message with a sender.
	KindText EventKind = iota

	// KindImage is a message carrying an image reference plus a caption.
	KindImage

	// KindSystemNotice is any payload that is not a recognizable chat
	// message: connection notices, server strings, malformed frames.
	KindSystemNotice
)

// String returns the string representation of an EventKind.
func (k EventKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindSystemNotice:
		return "system_notice"
	default:
		return "unknown"
	}
}

// SequenceKey orders and de-duplicates timeline entries.
//
// Server-timestamped events derive their key from the creation time, the
// sender and a hash of the content, so the same message seen through history
// replay and through the live socket collapses to one entry. Events without
// a server timestamp (system notices) are keyed by a timeline-local counter
// assigned on append and never collide.
type SequenceKey struct {
	TS     int64 // creation time in unix nanoseconds; 0 when absent
	Sender string
	Hash   uint64
	Local  uint64 // >0 only for events without a server timestamp
}

// ChatEvent is one unit of the timeline.
//
// Entries are immutable after append except for Asset, which transitions
// from nil to a decoded payload exactly once when image resolution succeeds.
type ChatEvent struct {
	Key       SequenceKey
	Kind      EventKind
	Sender    string    // empty for system notices
	Content   string    // text body; caption for images
	ImageRef  string    // opaque server-side path, set only for image events
	Asset     []byte    // decoded image bytes once resolved; nil while pending or failed
	CreatedAt time.Time // zero when the server supplied no timestamp

	arrival uint64 // order of arrival at the timeline
}

// Resolved reports whether an image event already carries its asset.
func (e ChatEvent) Resolved() bool { return e.Asset != nil }

func deriveKey(ev ChatEvent) SequenceKey {
	h := fnv.New64a()
	h.Write([]byte(ev.Content))
	if ev.ImageRef != "" {
		h.Write([]byte{0})
		h.Write([]byte(ev.ImageRef))
	}
	return SequenceKey{
		TS:     ev.CreatedAt.UnixNano(),
		Sender: ev.Sender,
		Hash:   h.Sum64(),
	}
}
