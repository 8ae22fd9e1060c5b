package roomtalk

import (
	"testing"
	"time"
)

func at(sec int) time.Time {
	return time.Date(2024, 5, 1, 12, 0, sec, 0, time.UTC)
}

func textEvent(sender, content string, ts time.Time) ChatEvent {
	return ChatEvent{Kind: KindText, Sender: sender, Content: content, CreatedAt: ts}
}

func TestAppendDeduplicatesEqualKeys(t *testing.T) {
	tl := NewTimeline()
	ev := textEvent("Al", "hi", at(1))

	key1, inserted := tl.Append(ev)
	if !inserted {
		t.Fatalf("first append not inserted")
	}
	key2, inserted := tl.Append(ev)
	if inserted {
		t.Fatalf("duplicate append inserted")
	}
	if key1 != key2 {
		t.Fatalf("duplicate got a different key: %+v vs %+v", key1, key2)
	}
	if tl.Len() != 1 {
		t.Fatalf("want 1 entry, got %d", tl.Len())
	}
}

func TestAppendLengthEqualsDistinctKeys(t *testing.T) {
	tl := NewTimeline()
	events := []ChatEvent{
		textEvent("Al", "hi", at(1)),
		textEvent("Al", "hi", at(1)), // dup
		textEvent("Bea", "hi", at(1)),
		textEvent("Al", "hi", at(2)),
		textEvent("Al", "bye", at(1)),
		textEvent("Bea", "hi", at(1)), // dup
	}
	for _, ev := range events {
		tl.Append(ev)
	}
	if tl.Len() != 4 {
		t.Fatalf("want 4 distinct entries, got %d", tl.Len())
	}
}

func TestReplayAndLiveInterleavingsCommute(t *testing.T) {
	history := []ChatEvent{
		textEvent("Al", "one", at(1)),
		textEvent("Bea", "two", at(2)),
		textEvent("Al", "three", at(3)),
	}
	live := []ChatEvent{
		textEvent("Bea", "two", at(2)), // overlaps the replay window
		textEvent("Cy", "four", at(4)),
	}

	replayFirst := NewTimeline()
	for _, ev := range history {
		replayFirst.Append(ev)
	}
	for _, ev := range live {
		replayFirst.Append(ev)
	}

	liveFirst := NewTimeline()
	for _, ev := range live {
		liveFirst.Append(ev)
	}
	for _, ev := range history {
		liveFirst.Append(ev)
	}

	a, b := replayFirst.Snapshot(), liveFirst.Snapshot()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Sender != b[i].Sender || a[i].Content != b[i].Content {
			t.Fatalf("entry %d differs: %s/%s vs %s/%s", i,
				a[i].Sender, a[i].Content, b[i].Sender, b[i].Content)
		}
	}
	if got := len(a); got != 4 {
		t.Fatalf("want 4 entries, got %d", got)
	}
}

func TestLateHistoryRecordOrdersBeforeLiveEntry(t *testing.T) {
	tl := NewTimeline()
	tl.Append(textEvent("Cy", "live", at(5)))
	tl.Append(textEvent("Al", "old", at(1)))

	snap := tl.Snapshot()
	if snap[0].Content != "old" || snap[1].Content != "live" {
		t.Fatalf("wrong order: %q then %q", snap[0].Content, snap[1].Content)
	}
}

func TestEqualTimestampsKeepArrivalOrder(t *testing.T) {
	tl := NewTimeline()
	tl.Append(textEvent("Al", "first", at(1)))
	tl.Append(textEvent("Bea", "second", at(1)))

	snap := tl.Snapshot()
	if snap[0].Content != "first" || snap[1].Content != "second" {
		t.Fatalf("wrong order: %q then %q", snap[0].Content, snap[1].Content)
	}
}

func TestSystemNoticesNeverCollide(t *testing.T) {
	tl := NewTimeline()
	notice := ChatEvent{Kind: KindSystemNotice, Content: "connection established"}
	k1, _ := tl.Append(notice)
	k2, _ := tl.Append(notice)

	if k1 == k2 {
		t.Fatalf("identical notices share a key: %+v", k1)
	}
	if tl.Len() != 2 {
		t.Fatalf("want 2 entries, got %d", tl.Len())
	}
}

func TestNoticeAnchorsLaterTimestampedInsert(t *testing.T) {
	tl := NewTimeline()
	tl.Append(ChatEvent{Kind: KindSystemNotice, Content: "joined"})
	tl.Append(textEvent("Al", "old", at(1)))

	snap := tl.Snapshot()
	if snap[0].Kind != KindSystemNotice {
		t.Fatalf("notice displaced from its arrival position")
	}
}

func TestResolveImageExactlyOnce(t *testing.T) {
	tl := NewTimeline()
	key, _ := tl.Append(ChatEvent{
		Kind: KindImage, Sender: "Al", Content: "cat", ImageRef: "cat.png", CreatedAt: at(1),
	})

	tl.ResolveImage(key, []byte("bytes-1"))
	tl.ResolveImage(key, []byte("bytes-2"))

	snap := tl.Snapshot()
	if string(snap[0].Asset) != "bytes-1" {
		t.Fatalf("asset overwritten: %q", snap[0].Asset)
	}
}

func TestResolveImageMissingKeyIsNoOp(t *testing.T) {
	tl := NewTimeline()
	tl.ResolveImage(SequenceKey{Local: 99}, []byte("bytes"))
	if tl.Len() != 0 {
		t.Fatalf("resolve created an entry")
	}
}

func TestSnapshotIsolatedFromLaterAppends(t *testing.T) {
	tl := NewTimeline()
	tl.Append(textEvent("Al", "one", at(1)))

	snap := tl.Snapshot()
	tl.Append(textEvent("Bea", "two", at(2)))

	if len(snap) != 1 {
		t.Fatalf("snapshot grew after append: %d", len(snap))
	}
}

func TestFreezeStopsAppendsAndResolves(t *testing.T) {
	tl := NewTimeline()
	key, _ := tl.Append(ChatEvent{
		Kind: KindImage, Sender: "Al", Content: "cat", ImageRef: "cat.png", CreatedAt: at(1),
	})
	tl.Freeze()

	if _, inserted := tl.Append(textEvent("Bea", "late", at(2))); inserted {
		t.Fatalf("append after freeze inserted")
	}
	tl.ResolveImage(key, []byte("bytes"))

	snap := tl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("want 1 entry, got %d", len(snap))
	}
	if snap[0].Resolved() {
		t.Fatalf("resolve after freeze mutated the entry")
	}
}
