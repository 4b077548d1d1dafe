package httpapi

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"pkt.systems/agenthub/core"
	"pkt.systems/agenthub/internal/logx"
	"pkt.systems/agenthub/schema"
)

func (s *Server) handleRoomList(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.rooms.ListRoomsFor(userID)})
}

func (s *Server) handleRoomCreate(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	room, err := s.rooms.CreateRoom(userID, payload.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}
	writeJSON(w, http.StatusCreated, room.Info(userID))
}

func (s *Server) handleRoomJoin(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	id := schema.RoomID(mux.Vars(r)["id"])
	room, err := s.rooms.JoinRoom(id, userID)
	if err != nil {
		switch {
		case errors.Is(err, schema.ErrRoomNotFound):
			writeError(w, http.StatusNotFound, "unknown_room", err)
		case errors.Is(err, schema.ErrBanned):
			writeError(w, http.StatusForbidden, "banned", err)
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, room.Info(userID))
}

func (s *Server) handleRoomLeave(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	id := schema.RoomID(mux.Vars(r)["id"])
	if !s.rooms.LeaveRoom(id, userID) {
		writeError(w, http.StatusNotFound, "unknown_room", schema.ErrRoomNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	room, ok := s.memberRoom(w, r, userID)
	if !ok {
		return
	}
	members := make([]schema.RoomMember, 0, len(room.Members))
	for user := range room.Members {
		members = append(members, schema.RoomMember{UserID: user, Role: room.RoleOf(user)})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	room, ok := s.memberRoom(w, r, userID)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit > s.cfg.RoomHistoryLimit {
		limit = s.cfg.RoomHistoryLimit
	}
	messages, err := s.rooms.ReadMessages(room.ID, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_room", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleRoomPeers(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	room, ok := s.memberRoom(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": s.hub.Peers(room.ID)})
}

type moderationRequest struct {
	UserID schema.UserID `json:"userId"`
	Role   schema.Role   `json:"role,omitempty"`
}

func (s *Server) handleRoomKick(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	room, target, ok := s.moderationTarget(w, r, userID)
	if !ok {
		return
	}
	if !s.rooms.KickMember(room.ID, target) {
		writeError(w, http.StatusNotFound, "not_a_member", schema.ErrNotMember)
		return
	}
	logx.WithRoom(r.Context(), room.ID).Info("member kicked", "user", userID, "target", target)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRoomBan(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	room, target, ok := s.moderationTarget(w, r, userID)
	if !ok {
		return
	}
	if !s.rooms.BanMember(room.ID, target) {
		writeError(w, http.StatusNotFound, "unknown_room", schema.ErrRoomNotFound)
		return
	}
	logx.WithRoom(r.Context(), room.ID).Info("member banned", "user", userID, "target", target)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleRoomRole assigns a role. Only the owner may change roles, and the
// owner's own role is immutable.
func (s *Server) handleRoomRole(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	room, ok := s.memberRoom(w, r, userID)
	if !ok {
		return
	}
	var payload moderationRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if room.Owner != userID {
		writeError(w, http.StatusForbidden, "forbidden", schema.ErrForbidden)
		return
	}
	if payload.UserID == room.Owner || payload.Role == schema.RoleOwner {
		writeError(w, http.StatusBadRequest, "invalid_request", schema.ErrInvalidRequest)
		return
	}
	if !s.rooms.SetRole(room.ID, payload.UserID, payload.Role) {
		writeError(w, http.StatusBadRequest, "invalid_request", schema.ErrInvalidRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// memberRoom loads the room and requires the caller to be a member.
func (s *Server) memberRoom(w http.ResponseWriter, r *http.Request, userID schema.UserID) (core.Room, bool) {
	id := schema.RoomID(mux.Vars(r)["id"])
	room, ok := s.rooms.GetRoom(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_room", schema.ErrRoomNotFound)
		return core.Room{}, false
	}
	if !room.IsMember(userID) {
		writeError(w, http.StatusForbidden, "not_a_member", schema.ErrNotMember)
		return core.Room{}, false
	}
	return room, true
}

// moderationTarget loads the room, decodes the target, and checks that the
// caller may moderate: owners and moderators only, and never against the
// owner.
func (s *Server) moderationTarget(w http.ResponseWriter, r *http.Request, userID schema.UserID) (core.Room, schema.UserID, bool) {
	room, ok := s.memberRoom(w, r, userID)
	if !ok {
		return core.Room{}, "", false
	}
	var payload moderationRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return core.Room{}, "", false
	}
	if payload.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", schema.ErrInvalidRequest)
		return core.Room{}, "", false
	}
	actorRole := room.RoleOf(userID)
	if actorRole != schema.RoleOwner && actorRole != schema.RoleModerator {
		writeError(w, http.StatusForbidden, "forbidden", schema.ErrForbidden)
		return core.Room{}, "", false
	}
	if payload.UserID == room.Owner {
		writeError(w, http.StatusForbidden, "forbidden", schema.ErrForbidden)
		return core.Room{}, "", false
	}
	return room, payload.UserID, true
}
