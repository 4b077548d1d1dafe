package logx

import (
	"context"

	"pkt.systems/agenthub/schema"
	"pkt.systems/pslog"
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithUser annotates the logger with the user id if present.
func WithUser(ctx context.Context, userID schema.UserID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if userID != "" {
		log = log.With("user", userID)
	}
	return log
}

// WithRun annotates the logger with user and run identifiers.
func WithRun(ctx context.Context, userID schema.UserID, runID schema.RunID) pslog.Logger {
	log := WithUser(ctx, userID)
	if runID != "" {
		log = log.With("run", runID)
	}
	return log
}

// WithRoom annotates the logger with a room id when available.
func WithRoom(ctx context.Context, roomID schema.RoomID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if roomID != "" {
		log = log.With("room", roomID)
	}
	return log
}

// WithDevice annotates the logger with room and device identifiers.
func WithDevice(ctx context.Context, roomID schema.RoomID, deviceID schema.DeviceID) pslog.Logger {
	log := WithRoom(ctx, roomID)
	if deviceID != "" {
		log = log.With("device", deviceID)
	}
	return log
}
