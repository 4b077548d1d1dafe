package schema

// UserID identifies a user as reported by the identity provider.
type UserID string

// RunID identifies a tracked agent run.
type RunID string

// SessionID identifies the agent-side thread/session of a run.
type SessionID string

// RoomID identifies a room.
type RoomID string

// DeviceID identifies one live connection from a user's device.
type DeviceID string

// LoginID identifies a device-auth login attempt.
type LoginID string

// Role is a member's role within a room.
type Role string

const (
	// RoleOwner is held by exactly one member, the room creator.
	RoleOwner Role = "owner"
	// RoleModerator may kick and ban non-owner members.
	RoleModerator Role = "moderator"
	// RoleMember is the default role for joined users.
	RoleMember Role = "member"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleModerator, RoleMember:
		return true
	default:
		return false
	}
}
