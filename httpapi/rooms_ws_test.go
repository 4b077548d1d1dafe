package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

func dialRoom(t *testing.T, ts *httptest.Server, roomID, token, deviceID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/rooms/" + roomID + "/ws?token=" + token
	if deviceID != "" {
		url += "&deviceId=" + deviceID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame := map[string]any{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func createRoom(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, room := doJSON(t, ts, http.MethodPost, "/api/rooms", "tok-alice", map[string]string{"name": "WS"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: %d", resp.StatusCode)
	}
	return room["id"].(string)
}

func TestRoomSocketRejectsMissingDevice(t *testing.T) {
	ts := newTestServer(t)
	roomID := createRoom(t, ts)
	conn := dialRoom(t, ts, roomID, "tok-alice", "")
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["message"] != "missing_device_id" {
		t.Fatalf("expected missing_device_id, got %v", frame)
	}
}

func TestRoomSocketRejectsUnknownRoom(t *testing.T) {
	ts := newTestServer(t)
	conn := dialRoom(t, ts, "no-such-room", "tok-alice", "dev-1")
	frame := readFrame(t, conn)
	if frame["message"] != "unknown_room" {
		t.Fatalf("expected unknown_room, got %v", frame)
	}
}

func TestRoomSocketJoinsOnConnect(t *testing.T) {
	ts := newTestServer(t)
	roomID := createRoom(t, ts)

	// A non-member connecting becomes a member.
	conn := dialRoom(t, ts, roomID, "tok-bob", "dev-b")
	frame := readFrame(t, conn)
	if frame["type"] != "presence.snapshot" {
		t.Fatalf("expected presence.snapshot, got %v", frame)
	}
	resp, members := doJSON(t, ts, http.MethodGet, "/api/rooms/"+roomID+"/members", "tok-alice", nil)
	if resp.StatusCode != http.StatusOK || len(members["members"].([]any)) != 2 {
		t.Fatalf("expected bob admitted as member, got %d %v", resp.StatusCode, members)
	}
}

func TestRoomSocketRejectsBanned(t *testing.T) {
	ts := newTestServer(t)
	roomID := createRoom(t, ts)
	doJSON(t, ts, http.MethodPost, "/api/rooms/"+roomID+"/join", "tok-bob", nil)
	if resp, _ := doJSON(t, ts, http.MethodPost, "/api/rooms/"+roomID+"/ban", "tok-alice", map[string]string{"userId": "bob"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("ban failed: %d", resp.StatusCode)
	}
	conn := dialRoom(t, ts, roomID, "tok-bob", "dev-b")
	frame := readFrame(t, conn)
	if frame["message"] != "banned" {
		t.Fatalf("expected banned, got %v", frame)
	}
}

func TestRoomSocketRejectsBadToken(t *testing.T) {
	ts := newTestServer(t)
	roomID := createRoom(t, ts)
	conn := dialRoom(t, ts, roomID, "tok-nobody", "dev-1")
	frame := readFrame(t, conn)
	if frame["message"] != "unauthorized" {
		t.Fatalf("expected unauthorized, got %v", frame)
	}
}

func TestRoomSocketPresenceAndChat(t *testing.T) {
	ts := newTestServer(t)
	roomID := createRoom(t, ts)
	if resp, _ := doJSON(t, ts, http.MethodPost, "/api/rooms/"+roomID+"/join", "tok-bob", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("bob join failed")
	}

	alice := dialRoom(t, ts, roomID, "tok-alice", "dev-a")
	snapshot := readFrame(t, alice)
	if snapshot["type"] != "presence.snapshot" {
		t.Fatalf("expected presence.snapshot first, got %v", snapshot)
	}

	bob := dialRoom(t, ts, roomID, "tok-bob", "dev-b")
	bobSnapshot := readFrame(t, bob)
	peers := bobSnapshot["peers"].([]any)
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers in snapshot, got %v", bobSnapshot)
	}

	join := readFrame(t, alice)
	if join["type"] != "presence.join" || join["deviceId"] != "dev-b" {
		t.Fatalf("expected presence.join for dev-b, got %v", join)
	}

	if err := alice.WriteJSON(map[string]string{"type": "chat.send", "text": "hello", "clientId": "m-1"}); err != nil {
		t.Fatalf("chat send: %v", err)
	}
	// Broadcast includes the sender.
	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readFrame(t, conn)
		if msg["type"] != "chat.message" || msg["text"] != "hello" || msg["id"] != "m-1" || msg["fromDeviceId"] != "dev-a" {
			t.Fatalf("unexpected chat frame: %v", msg)
		}
	}

	// History was persisted.
	resp, history := doJSON(t, ts, http.MethodGet, "/api/rooms/"+roomID+"/messages", "tok-bob", nil)
	if resp.StatusCode != http.StatusOK || len(history["messages"].([]any)) != 1 {
		t.Fatalf("expected one persisted message, got %d %v", resp.StatusCode, history)
	}

	_ = bob.Close()
	leave := readFrame(t, alice)
	if leave["type"] != "presence.leave" || leave["deviceId"] != "dev-b" {
		t.Fatalf("expected presence.leave for dev-b, got %v", leave)
	}
}

func TestRoomSocketSignalRouting(t *testing.T) {
	ts := newTestServer(t)
	roomID := createRoom(t, ts)
	doJSON(t, ts, http.MethodPost, "/api/rooms/"+roomID+"/join", "tok-bob", nil)

	alice := dialRoom(t, ts, roomID, "tok-alice", "dev-a")
	readFrame(t, alice)
	bob := dialRoom(t, ts, roomID, "tok-bob", "dev-b")
	readFrame(t, bob)
	readFrame(t, alice) // bob's join

	payload := map[string]any{"type": "signal", "toDeviceId": "dev-b", "payload": map[string]string{"sdp": "offer"}}
	if err := alice.WriteJSON(payload); err != nil {
		t.Fatalf("signal send: %v", err)
	}
	signal := readFrame(t, bob)
	if signal["type"] != "signal" || signal["fromDeviceId"] != "dev-a" {
		t.Fatalf("unexpected signal frame: %v", signal)
	}
	inner := signal["payload"].(map[string]any)
	if inner["sdp"] != "offer" {
		t.Fatalf("payload not relayed: %v", signal)
	}
}

func TestRoomSocketChatLimits(t *testing.T) {
	ts := newTestServer(t)
	roomID := createRoom(t, ts)
	alice := dialRoom(t, ts, roomID, "tok-alice", "dev-a")
	readFrame(t, alice)

	// Oversized multibyte text is capped on a rune boundary.
	long := strings.Repeat("é", 4001)
	if err := alice.WriteJSON(map[string]string{"type": "chat.send", "text": long, "clientId": "m-long"}); err != nil {
		t.Fatalf("chat send: %v", err)
	}
	msg := readFrame(t, alice)
	text := msg["text"].(string)
	if !utf8.ValidString(text) {
		t.Fatalf("capped text is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(text); got != 4000 {
		t.Fatalf("expected 4000 runes, got %d", got)
	}

	// An overlong client message id is replaced with a generated one.
	bigID := strings.Repeat("x", 121)
	if err := alice.WriteJSON(map[string]string{"type": "chat.send", "text": "hi", "clientId": bigID}); err != nil {
		t.Fatalf("chat send: %v", err)
	}
	msg = readFrame(t, alice)
	if msg["id"] == bigID || len(msg["id"].(string)) > 120 {
		t.Fatalf("client id cap not applied: %v", msg["id"])
	}
}

func TestRoomSocketUnknownTypeAndInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	roomID := createRoom(t, ts)
	alice := dialRoom(t, ts, roomID, "tok-alice", "dev-a")
	readFrame(t, alice)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, alice)
	if frame["message"] != "invalid_json" {
		t.Fatalf("expected invalid_json, got %v", frame)
	}

	if err := alice.WriteJSON(map[string]string{"type": "nonsense"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame = readFrame(t, alice)
	if frame["message"] != "unknown_type" {
		t.Fatalf("expected unknown_type, got %v", frame)
	}
}
