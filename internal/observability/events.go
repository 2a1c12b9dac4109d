package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/stylesync/internal/realtime"
)

// NewEventLogger returns a dispatcher observer that writes each event to
// logger. Routine traffic is logged at debug; internal failures at warn.
//
// Precondition: logger must be non-nil.
func NewEventLogger(logger *zap.Logger) func(realtime.Event) {
	logger = logger.Named("realtime")
	return func(ev realtime.Event) {
		level := zapcore.DebugLevel
		msg := "realtime message"
		if ev.Direction == realtime.DirectionInternal {
			level = zapcore.WarnLevel
			msg = "realtime failure"
		}
		ce := logger.Check(level, msg)
		if ce == nil {
			return
		}
		ce.Write(eventFields(ev)...)
	}
}

func eventFields(ev realtime.Event) []zap.Field {
	fields := []zap.Field{
		zap.String("direction", string(ev.Direction)),
		zap.String("type", ev.Type),
		zap.String("connection_id", ev.ConnectionID),
	}
	if ev.RoomID != "" {
		fields = append(fields, zap.String("room_id", ev.RoomID))
	}
	if ev.ClientID != "" {
		fields = append(fields, zap.String("client_id", ev.ClientID))
	}
	if ev.LockTargetKey != "" {
		fields = append(fields, zap.String("lock_target", ev.LockTargetKey))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
	}
	return fields
}
