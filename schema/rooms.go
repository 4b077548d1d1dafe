package schema

import "time"

// RoomInfo is the public view of a room for a given user.
type RoomInfo struct {
	ID          RoomID    `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"createdAt"`
	OwnerUserID UserID    `json:"ownerUserId"`
	MemberCount int       `json:"memberCount"`
	IsMember    bool      `json:"isMember"`
}

// RoomMember pairs a member with their role.
type RoomMember struct {
	UserID UserID `json:"userId"`
	Role   Role   `json:"role"`
}

// ChatMessage is one persisted room message.
type ChatMessage struct {
	Type         string    `json:"type"`
	ID           string    `json:"id"`
	RoomID       RoomID    `json:"roomId"`
	Timestamp    time.Time `json:"ts"`
	FromDeviceID DeviceID  `json:"fromDeviceId"`
	Text         string    `json:"text"`
}
