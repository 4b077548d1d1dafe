package schema

import "encoding/json"

// Client-to-server frame types on the room socket.
const (
	// FrameChatSend asks the server to persist and broadcast a chat message.
	FrameChatSend = "chat.send"
	// FrameSignal relays an opaque signaling payload to one or all peers.
	FrameSignal = "signal"
)

// Server-to-client frame types on the room socket.
const (
	// FramePresenceSnapshot seeds the peer list on connect.
	FramePresenceSnapshot = "presence.snapshot"
	// FramePresenceJoin announces a device joining the room.
	FramePresenceJoin = "presence.join"
	// FramePresenceLeave announces a device leaving the room.
	FramePresenceLeave = "presence.leave"
	// FrameChatMessage carries a broadcast chat message.
	FrameChatMessage = "chat.message"
	// FrameError reports a rejection or protocol error.
	FrameError = "error"
)

// ClientFrame is the union of frames a room client may send.
type ClientFrame struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ClientID   string          `json:"clientId,omitempty"`
	ToDeviceID DeviceID        `json:"toDeviceId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ErrorFrame is sent once before closing a rejected connection and for
// per-message protocol errors.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PresenceSnapshotFrame lists the devices currently in the room.
type PresenceSnapshotFrame struct {
	Type   string     `json:"type"`
	RoomID RoomID     `json:"roomId"`
	Peers  []DeviceID `json:"peers"`
}

// PresenceFrame announces a join or leave.
type PresenceFrame struct {
	Type     string   `json:"type"`
	RoomID   RoomID   `json:"roomId"`
	DeviceID DeviceID `json:"deviceId"`
}

// SignalFrame relays a signaling payload between devices.
type SignalFrame struct {
	Type         string          `json:"type"`
	RoomID       RoomID          `json:"roomId"`
	FromDeviceID DeviceID        `json:"fromDeviceId"`
	ToDeviceID   DeviceID        `json:"toDeviceId,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}
