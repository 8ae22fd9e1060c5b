package roomtalk

import (
	"testing"
	"time"
)

func TestNormalizeImagePayload(t *testing.T) {
	raw := []byte(`{"messageType":"image","imagePath":"cat.png","content":"my cat","username":"Al","createdAt":"2024-05-01T12:00:00Z"}`)
	ev := Normalize(raw)

	if ev.Kind != KindImage {
		t.Fatalf("want image, got %s", ev.Kind)
	}
	if ev.ImageRef != "cat.png" || ev.Content != "my cat" || ev.Sender != "Al" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.CreatedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected createdAt: %v", ev.CreatedAt)
	}
}

func TestNormalizeTextPayload(t *testing.T) {
	ev := Normalize([]byte(`{"username":"Bea","content":"hello"}`))
	if ev.Kind != KindText || ev.Sender != "Bea" || ev.Content != "hello" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.CreatedAt.IsZero() {
		t.Fatalf("expected no timestamp, got %v", ev.CreatedAt)
	}
}

func TestNormalizeEmptyContentIsStillText(t *testing.T) {
	// A present-but-empty content field still identifies a chat message.
	ev := Normalize([]byte(`{"username":"Bea","content":""}`))
	if ev.Kind != KindText {
		t.Fatalf("want text, got %s", ev.Kind)
	}
}

func TestNormalizeMissingFieldsFallsBackToNotice(t *testing.T) {
	raw := `{"username":"Bea"}`
	ev := Normalize([]byte(raw))
	if ev.Kind != KindSystemNotice {
		t.Fatalf("want system notice, got %s", ev.Kind)
	}
	if ev.Content != raw {
		t.Fatalf("notice does not carry raw payload verbatim: %q", ev.Content)
	}
}

func TestNormalizeNonObjectPayloadsAreNotices(t *testing.T) {
	for _, raw := range []string{
		"user Al joined the room",
		`"quoted string frame"`,
		"42",
		"",
		"{truncated",
		`[1,2,3]`,
		"\x00\xff binary-ish",
	} {
		ev := Normalize([]byte(raw))
		if ev.Kind != KindSystemNotice {
			t.Fatalf("payload %q: want system notice, got %s", raw, ev.Kind)
		}
		if ev.Content != raw {
			t.Fatalf("payload %q: content altered to %q", raw, ev.Content)
		}
	}
}

func TestNormalizeIsTotal(t *testing.T) {
	payloads := []string{
		`{"messageType":"image"}`, // image without path
		`{"messageType":"image","imagePath":"x.png"}`,
		`{"username":null,"content":"x"}`,
		`{"username":"a","content":null}`,
		`{"createdAt":"not-a-time","username":"a","content":"b"}`,
		`{"createdAt":12345,"username":"a","content":"b"}`,
		`{"createdAt":{"nested":true},"username":"a","content":"b"}`,
		`null`, `true`, `3.14`,
	}
	for _, raw := range payloads {
		ev := Normalize([]byte(raw))
		switch ev.Kind {
		case KindText, KindImage, KindSystemNotice:
		default:
			t.Fatalf("payload %q mapped to unknown kind %d", raw, ev.Kind)
		}
	}
}

func TestNormalizeNumericTimestamps(t *testing.T) {
	evSec := Normalize([]byte(`{"username":"a","content":"b","createdAt":1714564800}`))
	if evSec.CreatedAt.IsZero() {
		t.Fatalf("unix seconds not parsed")
	}
	evMilli := Normalize([]byte(`{"username":"a","content":"b","createdAt":1714564800000}`))
	if !evSec.CreatedAt.Equal(evMilli.CreatedAt) {
		t.Fatalf("seconds and millis disagree: %v vs %v", evSec.CreatedAt, evMilli.CreatedAt)
	}
}

func TestNormalizedEventRoundTripsThroughTimeline(t *testing.T) {
	raw := []byte(`{"username":"Al","content":"hi there","createdAt":"2024-05-01T12:00:01Z"}`)
	ev := Normalize(raw)

	tl := NewTimeline()
	tl.Append(ev)

	snap := tl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("want 1 entry, got %d", len(snap))
	}
	got := snap[0]
	if got.Content != "hi there" || got.Sender != "Al" || !got.CreatedAt.Equal(ev.CreatedAt) {
		t.Fatalf("round trip mutated fields: %+v", got)
	}
}
