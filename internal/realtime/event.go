package realtime

import (
	"github.com/cory-johannsen/stylesync/internal/protocol"
)

// Direction classifies an observed Event.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	// DirectionInternal marks dispatcher-side failures such as a panicking Sender.
	DirectionInternal Direction = "internal"
)

// Event is the diagnostic record handed to the observer. It carries routing
// metadata only, never document bodies or class names.
type Event struct {
	Direction     Direction
	Type          string
	RoomID        string
	ConnectionID  string
	ClientID      string
	LockTargetKey string
	Err           error
}

func inboundEvent(conn *connection, msg protocol.ClientMessage) Event {
	clientID := conn.clientID
	if clientID == "" {
		// join and lockAcquire set the identity; report the one they carry.
		switch m := msg.(type) {
		case protocol.Join:
			clientID = m.ClientID
		case protocol.LockAcquire:
			clientID = m.ClientID
		}
	}
	return Event{
		Direction:     DirectionInbound,
		Type:          msg.Kind(),
		RoomID:        msg.Room(),
		ConnectionID:  conn.id,
		ClientID:      clientID,
		LockTargetKey: lockTargetKeyOf(msg),
	}
}

func outboundEvent(conn *connection, msg protocol.ServerMessage) Event {
	return Event{
		Direction:     DirectionOutbound,
		Type:          msg.Kind(),
		RoomID:        roomOf(msg),
		ConnectionID:  conn.id,
		ClientID:      conn.clientID,
		LockTargetKey: lockTargetKeyOf(msg),
	}
}

func lockTargetKeyOf(msg any) string {
	switch m := msg.(type) {
	case protocol.LockAcquire:
		return m.LockTarget.Key()
	case protocol.LockReleased:
		return m.LockTarget.Key()
	case protocol.LockGranted:
		return m.LockTarget.Key()
	case protocol.LockDenied:
		return m.LockTarget.Key()
	}
	return ""
}

func roomOf(msg protocol.ServerMessage) string {
	switch m := msg.(type) {
	case protocol.Doc:
		return m.RoomID
	case protocol.DraftBroadcast:
		return m.RoomID
	case protocol.LockGranted:
		return m.RoomID
	case protocol.LockDenied:
		return m.RoomID
	case protocol.LockReleased:
		return m.RoomID
	case protocol.Presence:
		return m.RoomID
	}
	return ""
}
