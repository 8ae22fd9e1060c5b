package main

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type devServer struct {
	*httptest.Server
	hub *roomHub
}

func newDevServer(t *testing.T) *devServer {
	t.Helper()
	users := newUserStore([]byte("test-secret"))
	hub := newRoomHub(nil)
	h := newHandler(users, hub, t.TempDir())
	ts := httptest.NewServer(h.routes())
	t.Cleanup(func() {
		ts.Close()
		hub.closeAll()
	})
	return &devServer{Server: ts, hub: hub}
}

func (s *devServer) signup(t *testing.T, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": "pw"})
	resp, err := http.Post(s.URL+"/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("signup request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return out.Token
}

func (s *devServer) authedJSON(t *testing.T, token, method, path string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	if out != nil {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	} else {
		resp.Body.Close()
	}
	return resp
}

func (s *devServer) dial(t *testing.T, roomID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/rooms/" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(token)); err != nil {
		t.Fatalf("send token frame: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForConns polls until the room has n registered connections, so tests
// can send a broadcast-triggering message without racing the server-side
// token verification and registration that happen after dial returns.
func (s *devServer) waitForConns(t *testing.T, roomID string, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		s.hub.mu.RLock()
		r, ok := s.hub.rooms[roomID]
		got := 0
		if ok {
			got = len(r.conns)
		}
		s.hub.mu.RUnlock()
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("room %s has %d conns, want %d", roomID, got, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readRecord(t *testing.T, conn *websocket.Conn) wireRecord {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var rec wireRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		t.Fatalf("frame %q not a record: %v", payload, err)
	}
	return rec
}

func TestRoomFlowBroadcastAndHistory(t *testing.T) {
	s := newDevServer(t)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	var created struct {
		ID string `json:"id"`
	}
	s.authedJSON(t, alice, http.MethodPost, "/rooms/create", map[string]string{"name": "general"}, &created)
	if created.ID == "" {
		t.Fatal("create returned empty room id")
	}

	aliceConn := s.dial(t, created.ID, alice)
	bobConn := s.dial(t, created.ID, bob)
	s.waitForConns(t, created.ID, 2)

	if err := aliceConn.WriteMessage(websocket.TextMessage, []byte("hello bob")); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		rec := readRecord(t, conn)
		if rec.Username != "alice" || rec.Content != "hello bob" {
			t.Fatalf("broadcast record = %+v", rec)
		}
		if rec.CreatedAt == "" {
			t.Fatal("broadcast record missing timestamp")
		}
	}

	var history []wireRecord
	s.authedJSON(t, bob, http.MethodGet, "/rooms/"+created.ID+"/messages", nil, &history)
	if len(history) != 1 || history[0].Content != "hello bob" {
		t.Fatalf("history = %+v", history)
	}
}

func TestSocketRejectsInvalidToken(t *testing.T) {
	s := newDevServer(t)
	alice := s.signup(t, "alice")

	var created struct {
		ID string `json:"id"`
	}
	s.authedJSON(t, alice, http.MethodPost, "/rooms/create", map[string]string{"name": "general"}, &created)

	conn := s.dial(t, created.ID, "bogus-token")
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected close after invalid token frame")
	}
}

func TestHistoryRequiresBearerToken(t *testing.T) {
	s := newDevServer(t)
	alice := s.signup(t, "alice")

	var created struct {
		ID string `json:"id"`
	}
	s.authedJSON(t, alice, http.MethodPost, "/rooms/create", map[string]string{"name": "general"}, &created)

	resp, err := http.Get(s.URL + "/rooms/" + created.ID + "/messages")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestImageUploadBroadcastsAndServesBytes(t *testing.T) {
	s := newDevServer(t)
	alice := s.signup(t, "alice")

	var created struct {
		ID string `json:"id"`
	}
	s.authedJSON(t, alice, http.MethodPost, "/rooms/create", map[string]string{"name": "pics"}, &created)
	conn := s.dial(t, created.ID, alice)
	s.waitForConns(t, created.ID, 1)

	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("chatImage", "cat.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(payload)
	mw.WriteField("content", "look at this")
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, s.URL+"/rooms/"+created.ID+"/image", &buf)
	req.Header.Set("Authorization", "Bearer "+alice)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d", resp.StatusCode)
	}

	rec := readRecord(t, conn)
	if rec.MessageType != "image" || rec.ImagePath == "" || rec.Content != "look at this" {
		t.Fatalf("image broadcast = %+v", rec)
	}

	req, _ = http.NewRequest(http.MethodGet, s.URL+"/images/"+rec.ImagePath, nil)
	req.Header.Set("Authorization", "Bearer "+alice)
	imgResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("fetch image: %v", err)
	}
	served, _ := io.ReadAll(imgResp.Body)
	imgResp.Body.Close()
	if !bytes.Equal(served, payload) {
		t.Fatalf("served image bytes differ: %v", served)
	}
}

func TestDeleteRoomClosesConnections(t *testing.T) {
	s := newDevServer(t)
	alice := s.signup(t, "alice")

	var created struct {
		ID string `json:"id"`
	}
	s.authedJSON(t, alice, http.MethodPost, "/rooms/create", map[string]string{"name": "doomed"}, &created)
	conn := s.dial(t, created.ID, alice)

	resp := s.authedJSON(t, alice, http.MethodDelete, "/rooms/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection closed after room delete")
	}

	var rooms map[string]map[string]string
	s.authedJSON(t, alice, http.MethodGet, "/rooms", nil, &rooms)
	if _, ok := rooms[created.ID]; ok {
		t.Fatal("deleted room still listed")
	}
}
