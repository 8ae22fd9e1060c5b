package roomtalk

import (
	"time"

	json "github.com/goccy/go-json"
)

// wireMessage mirrors both live socket frames and history records.
// Sender and body use pointers so a missing field can be told apart from an
// empty one.
type wireMessage struct {
	Username    *string         `json:"username"`
	Content     *string         `json:"content"`
	CreatedAt   json.RawMessage `json:"createdAt"`
	MessageType string          `json:"messageType"`
	ImagePath   string          `json:"imagePath"`
}

// Normalize maps one raw inbound payload to a ChatEvent draft without a
// sequence key; the timeline assigns keys on append.
//
// The mapping is total: a payload with messageType "image" becomes an image
// event, a payload with both username and content becomes a text event, and
// everything else (including frames that are not JSON objects) becomes a
// system notice carrying the raw payload verbatim. Normalize never fails.
func Normalize(raw []byte) ChatEvent {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err == nil {
		if w.MessageType == "image" {
			return ChatEvent{
				Kind:      KindImage,
				Sender:    stringOrEmpty(w.Username),
				Content:   stringOrEmpty(w.Content),
				ImageRef:  w.ImagePath,
				CreatedAt: parseWireTime(w.CreatedAt),
			}
		}
		if w.Username != nil && w.Content != nil {
			return ChatEvent{
				Kind:      KindText,
				Sender:    *w.Username,
				Content:   *w.Content,
				CreatedAt: parseWireTime(w.CreatedAt),
			}
		}
	}
	return ChatEvent{Kind: KindSystemNotice, Content: string(raw)}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseWireTime accepts the timestamp shapes observed on the wire: an
// RFC3339 string or a unix epoch number (seconds or milliseconds). Anything
// else yields the zero time, which the timeline treats as "no timestamp".
func parseWireTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
		return time.Time{}
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		if n > 1_000_000_000_000 { // past the year 33658 in seconds: millis
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	return time.Time{}
}
