package httpapi

import (
	"context"
	"sort"
	"sync"

	"pkt.systems/agenthub/internal/logx"
	"pkt.systems/agenthub/schema"
)

// peerConn is the write side of one connected device. Implementations must
// be safe for concurrent writers.
type peerConn interface {
	WriteJSON(v any) error
	Close() error
}

// ConnectionHub tracks the live connection per device in each room and
// fans frames out to them.
type ConnectionHub struct {
	mu    sync.Mutex
	rooms map[schema.RoomID]map[schema.DeviceID]peerConn
}

// NewConnectionHub constructs an empty hub.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{
		rooms: make(map[schema.RoomID]map[schema.DeviceID]peerConn),
	}
}

// Register stores the connection for the device, returning any previous
// connection it displaced. The caller closes the displaced connection.
func (h *ConnectionHub) Register(room schema.RoomID, device schema.DeviceID, conn peerConn) peerConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.rooms[room]
	if peers == nil {
		peers = make(map[schema.DeviceID]peerConn)
		h.rooms[room] = peers
	}
	previous := peers[device]
	peers[device] = conn
	return previous
}

// Unregister removes the device's connection only when it still is the
// registered one, so a reconnect that already displaced it is untouched.
func (h *ConnectionHub) Unregister(room schema.RoomID, device schema.DeviceID, conn peerConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.rooms[room]
	if peers == nil || peers[device] != conn {
		return false
	}
	delete(peers, device)
	if len(peers) == 0 {
		delete(h.rooms, room)
	}
	return true
}

// Broadcast sends the payload to every device in the room except the one
// named in except. A failed write never stops delivery to the rest.
func (h *ConnectionHub) Broadcast(room schema.RoomID, payload any, except schema.DeviceID) {
	h.mu.Lock()
	targets := make(map[schema.DeviceID]peerConn, len(h.rooms[room]))
	for device, conn := range h.rooms[room] {
		if device == except {
			continue
		}
		targets[device] = conn
	}
	h.mu.Unlock()

	for device, conn := range targets {
		if err := conn.WriteJSON(payload); err != nil {
			logx.WithRoom(context.Background(), room).Debug("hub write failed", "device", device, "err", err)
		}
	}
}

// SendTo delivers the payload to one device, reporting whether it was
// connected.
func (h *ConnectionHub) SendTo(room schema.RoomID, device schema.DeviceID, payload any) bool {
	h.mu.Lock()
	conn := h.rooms[room][device]
	h.mu.Unlock()
	if conn == nil {
		return false
	}
	if err := conn.WriteJSON(payload); err != nil {
		logx.WithRoom(context.Background(), room).Debug("hub write failed", "device", device, "err", err)
		return false
	}
	return true
}

// Peers lists the connected devices in the room, sorted.
func (h *ConnectionHub) Peers(room schema.RoomID) []schema.DeviceID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schema.DeviceID, 0, len(h.rooms[room]))
	for device := range h.rooms[room] {
		out = append(out, device)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
