package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"pkt.systems/agenthub/internal/logx"
	"pkt.systems/agenthub/schema"
)

const (
	maxDeviceIDLen    = 80
	maxClientMsgIDLen = 120
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsPeer serializes writes to one websocket connection.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) WriteJSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(v)
}

func (p *wsPeer) Close() error {
	return p.conn.Close()
}

// handleRoomSocket upgrades first so rejections arrive as error frames the
// client can read, then validates token, room, and device before admitting
// the connection to the hub.
func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Ctx(r.Context()).Debug("room socket upgrade failed", "err", err)
		return
	}
	peer := &wsPeer{conn: conn}

	reject := func(code string) {
		_ = peer.WriteJSON(schema.ErrorFrame{Type: schema.FrameError, Message: code})
		_ = conn.Close()
	}

	if !s.cfg.RoomsEnabled {
		reject("rooms_disabled")
		return
	}
	token := bearerToken(r)
	if token == "" {
		reject("missing_token")
		return
	}
	userID, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		reject("unauthorized")
		return
	}
	roomID := schema.RoomID(mux.Vars(r)["id"])
	if roomID == "" {
		reject("missing_room_id")
		return
	}
	deviceID := schema.DeviceID(strings.TrimSpace(r.URL.Query().Get("deviceId")))
	if deviceID == "" {
		reject("missing_device_id")
		return
	}
	if len(deviceID) > maxDeviceIDLen {
		reject("invalid_device_id")
		return
	}
	// Connecting joins the room; only bans block admission.
	if _, err := s.rooms.JoinRoom(roomID, userID); err != nil {
		switch {
		case errors.Is(err, schema.ErrRoomNotFound):
			reject("unknown_room")
		case errors.Is(err, schema.ErrBanned):
			reject("banned")
		default:
			reject("unauthorized")
		}
		return
	}

	log := logx.WithDevice(r.Context(), roomID, deviceID).With("user", userID)
	if previous := s.hub.Register(roomID, deviceID, peer); previous != nil {
		log.Info("room socket displaced previous connection")
		_ = previous.Close()
	}
	log.Info("room socket connected")

	var once sync.Once
	leave := func() {
		once.Do(func() {
			if s.hub.Unregister(roomID, deviceID, peer) {
				s.hub.Broadcast(roomID, schema.PresenceFrame{
					Type:     schema.FramePresenceLeave,
					RoomID:   roomID,
					DeviceID: deviceID,
				}, deviceID)
			}
			_ = conn.Close()
			log.Info("room socket disconnected")
		})
	}
	defer leave()

	_ = peer.WriteJSON(schema.PresenceSnapshotFrame{
		Type:   schema.FramePresenceSnapshot,
		RoomID: roomID,
		Peers:  s.hub.Peers(roomID),
	})
	s.hub.Broadcast(roomID, schema.PresenceFrame{
		Type:     schema.FramePresenceJoin,
		RoomID:   roomID,
		DeviceID: deviceID,
	}, deviceID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame schema.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = peer.WriteJSON(schema.ErrorFrame{Type: schema.FrameError, Message: "invalid_json"})
			continue
		}
		switch frame.Type {
		case schema.FrameChatSend:
			s.handleChatSend(roomID, deviceID, frame, peer)
		case schema.FrameSignal:
			s.handleSignal(roomID, deviceID, frame)
		default:
			_ = peer.WriteJSON(schema.ErrorFrame{Type: schema.FrameError, Message: "unknown_type"})
		}
	}
}

func (s *Server) handleChatSend(roomID schema.RoomID, deviceID schema.DeviceID, frame schema.ClientFrame, peer *wsPeer) {
	text := strings.TrimSpace(frame.Text)
	if text == "" {
		return
	}
	// Cap counts characters, not bytes, so a multibyte rune is never split.
	if utf8.RuneCountInString(text) > s.cfg.RoomMessageMaxChars {
		text = string([]rune(text)[:s.cfg.RoomMessageMaxChars])
	}
	id := strings.TrimSpace(frame.ClientID)
	if id == "" || len(id) > maxClientMsgIDLen {
		id = uuid.NewString()
	}
	message := schema.ChatMessage{
		Type:         schema.FrameChatMessage,
		ID:           id,
		RoomID:       roomID,
		Timestamp:    time.Now().UTC(),
		FromDeviceID: deviceID,
		Text:         text,
	}
	if err := s.rooms.AppendMessage(roomID, message); err != nil {
		if errors.Is(err, schema.ErrRoomNotFound) {
			_ = peer.WriteJSON(schema.ErrorFrame{Type: schema.FrameError, Message: "unknown_room"})
			return
		}
		logx.WithRoom(context.Background(), roomID).Warn("chat message persist failed", "err", err)
	}
	// Sender included; the broadcast is the delivery acknowledgment.
	s.hub.Broadcast(roomID, message, "")
}

func (s *Server) handleSignal(roomID schema.RoomID, deviceID schema.DeviceID, frame schema.ClientFrame) {
	signal := schema.SignalFrame{
		Type:         schema.FrameSignal,
		RoomID:       roomID,
		FromDeviceID: deviceID,
		ToDeviceID:   frame.ToDeviceID,
		Payload:      frame.Payload,
	}
	if frame.ToDeviceID != "" {
		s.hub.SendTo(roomID, frame.ToDeviceID, signal)
		return
	}
	s.hub.Broadcast(roomID, signal, deviceID)
}
