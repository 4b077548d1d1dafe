package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/agenthub/internal/persist"
	"pkt.systems/agenthub/schema"
	"pkt.systems/pslog"
)

const (
	maxRoomNameLen = 80
	// MaxMessageTail caps how many messages a single read may return.
	MaxMessageTail = 200
)

// Room holds a room's membership state. The registry hands out copies;
// mutation goes through registry operations only.
type Room struct {
	ID        schema.RoomID
	Name      string
	CreatedAt time.Time
	Owner     schema.UserID
	Members   map[schema.UserID]struct{}
	Banned    map[schema.UserID]struct{}
	Roles     map[schema.UserID]schema.Role
}

// IsMember reports whether the user has joined the room.
func (r Room) IsMember(user schema.UserID) bool {
	_, ok := r.Members[user]
	return ok
}

// IsBanned reports whether the user is banned from the room.
func (r Room) IsBanned(user schema.UserID) bool {
	_, ok := r.Banned[user]
	return ok
}

// RoleOf returns the user's role; absent members report the member role.
func (r Room) RoleOf(user schema.UserID) schema.Role {
	if role, ok := r.Roles[user]; ok {
		return role
	}
	return schema.RoleMember
}

// Info returns the public view of the room for a given user.
func (r Room) Info(forUser schema.UserID) schema.RoomInfo {
	return schema.RoomInfo{
		ID:          r.ID,
		Name:        r.Name,
		CreatedAt:   r.CreatedAt,
		OwnerUserID: r.Owner,
		MemberCount: len(r.Members),
		IsMember:    r.IsMember(forUser),
	}
}

func (r Room) clone() Room {
	out := Room{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		Owner:     r.Owner,
		Members:   make(map[schema.UserID]struct{}, len(r.Members)),
		Banned:    make(map[schema.UserID]struct{}, len(r.Banned)),
		Roles:     make(map[schema.UserID]schema.Role, len(r.Roles)),
	}
	for user := range r.Members {
		out.Members[user] = struct{}{}
	}
	for user := range r.Banned {
		out.Banned[user] = struct{}{}
	}
	for user, role := range r.Roles {
		out.Roles[user] = role
	}
	return out
}

// Registry owns the room table and persists every mutation.
type Registry struct {
	mu    sync.Mutex
	rooms map[schema.RoomID]*Room
	store *persist.Store
	log   pslog.Logger
}

// NewRegistry constructs a registry backed by the given store and loads
// any previously persisted rooms.
func NewRegistry(store *persist.Store, logger pslog.Logger) (*Registry, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	reg := &Registry{
		rooms: make(map[schema.RoomID]*Room),
		store: store,
		log:   logger,
	}
	records, err := store.LoadRooms()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		room := roomFromRecord(record)
		if room.ID == "" || room.Owner == "" {
			continue
		}
		reg.rooms[room.ID] = room
	}
	if len(reg.rooms) > 0 {
		logger.Info("rooms loaded", "rooms", len(reg.rooms))
	}
	return reg, nil
}

// CreateRoom creates a room with the user as owner and sole member.
func (g *Registry) CreateRoom(owner schema.UserID, name string) (Room, error) {
	if owner == "" {
		return Room{}, schema.ErrInvalidRequest
	}
	name = strings.TrimSpace(name)
	if len(name) > maxRoomNameLen {
		name = name[:maxRoomNameLen]
	}
	if name == "" {
		name = "Room"
	}
	room := &Room{
		ID:        schema.RoomID(uuid.NewString()),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Owner:     owner,
		Members:   map[schema.UserID]struct{}{owner: {}},
		Banned:    map[schema.UserID]struct{}{},
		Roles:     map[schema.UserID]schema.Role{owner: schema.RoleOwner},
	}
	g.mu.Lock()
	g.rooms[room.ID] = room
	g.persistLocked()
	out := room.clone()
	g.mu.Unlock()
	g.log.Info("room created", "room", room.ID, "user", owner)
	return out, nil
}

// GetRoom returns a copy of the room, if it exists.
func (g *Registry) GetRoom(id schema.RoomID) (Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	if !ok {
		return Room{}, false
	}
	return room.clone(), true
}

// JoinRoom adds the user as a member. Joining a room you are already in is
// a no-op; banned users are rejected before membership is granted.
func (g *Registry) JoinRoom(id schema.RoomID, user schema.UserID) (Room, error) {
	if id == "" || user == "" {
		return Room{}, schema.ErrInvalidRequest
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	if !ok {
		return Room{}, schema.ErrRoomNotFound
	}
	if _, banned := room.Banned[user]; banned {
		return Room{}, schema.ErrBanned
	}
	if _, member := room.Members[user]; !member {
		room.Members[user] = struct{}{}
		if _, ok := room.Roles[user]; !ok {
			room.Roles[user] = schema.RoleMember
		}
		g.persistLocked()
		g.log.Info("room joined", "room", id, "user", user)
	}
	return room.clone(), nil
}

// LeaveRoom removes the user's membership. A room left empty, or whose
// owner is no longer a member, is deleted along with its message log.
func (g *Registry) LeaveRoom(id schema.RoomID, user schema.UserID) bool {
	if id == "" || user == "" {
		return false
	}
	g.mu.Lock()
	room, ok := g.rooms[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(room.Members, user)
	delete(room.Roles, user)
	deleted := false
	if len(room.Members) == 0 || !room.IsMember(room.Owner) {
		delete(g.rooms, id)
		deleted = true
	}
	g.persistLocked()
	g.mu.Unlock()
	if deleted {
		_ = g.store.RemoveMessages(id)
		g.log.Info("room deleted", "room", id)
	} else {
		g.log.Info("room left", "room", id, "user", user)
	}
	return true
}

// KickMember removes a member without banning them.
func (g *Registry) KickMember(id schema.RoomID, target schema.UserID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	if !ok {
		return false
	}
	if _, member := room.Members[target]; !member {
		return false
	}
	delete(room.Members, target)
	delete(room.Roles, target)
	g.persistLocked()
	g.log.Info("room member kicked", "room", id, "user", target)
	return true
}

// BanMember removes the member and blocks them from rejoining.
func (g *Registry) BanMember(id schema.RoomID, target schema.UserID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	if !ok {
		return false
	}
	delete(room.Members, target)
	delete(room.Roles, target)
	room.Banned[target] = struct{}{}
	g.persistLocked()
	g.log.Info("room member banned", "room", id, "user", target)
	return true
}

// SetRole assigns a role to an existing member.
func (g *Registry) SetRole(id schema.RoomID, target schema.UserID, role schema.Role) bool {
	if !schema.ValidRole(role) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	if !ok {
		return false
	}
	if _, member := room.Members[target]; !member {
		return false
	}
	room.Roles[target] = role
	g.persistLocked()
	g.log.Info("room role set", "room", id, "user", target, "role", role)
	return true
}

// ListRoomsFor returns the rooms the user is a member of, newest first.
func (g *Registry) ListRoomsFor(user schema.UserID) []schema.RoomInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]schema.RoomInfo, 0, len(g.rooms))
	for _, room := range g.rooms {
		if room.IsMember(user) {
			out = append(out, room.Info(user))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// AppendMessage persists one chat message to the room's log.
func (g *Registry) AppendMessage(id schema.RoomID, message schema.ChatMessage) error {
	if _, ok := g.GetRoom(id); !ok {
		return schema.ErrRoomNotFound
	}
	return g.store.AppendMessage(id, message)
}

// ReadMessages returns the most recent messages, oldest first. The limit is
// capped at MaxMessageTail.
func (g *Registry) ReadMessages(id schema.RoomID, limit int) ([]schema.ChatMessage, error) {
	if _, ok := g.GetRoom(id); !ok {
		return nil, schema.ErrRoomNotFound
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxMessageTail {
		limit = MaxMessageTail
	}
	return g.store.ReadMessageTail(id, limit)
}

func (g *Registry) persistLocked() {
	records := make([]persist.RoomRecord, 0, len(g.rooms))
	for _, room := range g.rooms {
		records = append(records, recordFromRoom(room))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	if err := g.store.SaveRooms(records); err != nil {
		g.log.Warn("rooms persist failed", "err", err)
	}
}

func recordFromRoom(room *Room) persist.RoomRecord {
	record := persist.RoomRecord{
		ID:        room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
		Owner:     room.Owner,
		Roles:     make(map[schema.UserID]schema.Role, len(room.Roles)),
	}
	for user := range room.Members {
		record.Members = append(record.Members, user)
	}
	for user := range room.Banned {
		record.Banned = append(record.Banned, user)
	}
	sort.Slice(record.Members, func(i, j int) bool { return record.Members[i] < record.Members[j] })
	sort.Slice(record.Banned, func(i, j int) bool { return record.Banned[i] < record.Banned[j] })
	for user, role := range room.Roles {
		record.Roles[user] = role
	}
	return record
}

func roomFromRecord(record persist.RoomRecord) *Room {
	room := &Room{
		ID:        record.ID,
		Name:      record.Name,
		CreatedAt: record.CreatedAt,
		Owner:     record.Owner,
		Members:   make(map[schema.UserID]struct{}, len(record.Members)),
		Banned:    make(map[schema.UserID]struct{}, len(record.Banned)),
		Roles:     make(map[schema.UserID]schema.Role, len(record.Roles)),
	}
	for _, user := range record.Members {
		if user != "" {
			room.Members[user] = struct{}{}
		}
	}
	for _, user := range record.Banned {
		if user != "" {
			room.Banned[user] = struct{}{}
		}
	}
	for user, role := range record.Roles {
		if schema.ValidRole(role) {
			room.Roles[user] = role
		}
	}
	return room
}
