// Package protocol defines the typed realtime message taxonomy exchanged
// between collaboration clients and the server, plus its JSON codec.
package protocol

import (
	"encoding/json"

	"github.com/cory-johannsen/stylesync/internal/document"
)

// ProtocolVersion is the only protocol version this server speaks.
const ProtocolVersion = 1

// Client → server message kinds.
const (
	TypeJoin           = "join"
	TypeSubscribe      = "subscribe"
	TypePatchDraft     = "patchDraft"
	TypeLockAcquire    = "lockAcquire"
	TypeLockReleased   = "lockReleased"
	TypeSave           = "save"
	TypeListVersions   = "listVersions"
	TypeGetVersion     = "getVersion"
	TypeReapplyVersion = "reapplyVersion"
)

// Server → client message kinds. patchDraft and lockReleased are shared with
// the client direction.
const (
	TypeDoc         = "doc"
	TypeLockGranted = "lockGranted"
	TypeLockDenied  = "lockDenied"
	TypePresence    = "presence"
	TypeError       = "error"
)

// Error codes carried by Error messages.
const (
	CodeInvalidMessage             = "INVALID_MESSAGE"
	CodeRoomNotFound               = "ROOM_NOT_FOUND"
	CodeUnsupportedMessageType     = "UNSUPPORTED_MESSAGE_TYPE"
	CodeUnsupportedProtocolVersion = "UNSUPPORTED_PROTOCOL_VERSION"
)

// DenyReason explains a lockDenied reply.
type DenyReason string

const (
	ReasonAlreadyLocked DenyReason = "alreadyLocked"
	ReasonInvalidTarget DenyReason = "invalidTarget"
)

// ClientMessage is any message a client may send. Concrete types are the
// value structs below; the dispatcher type-switches on them.
type ClientMessage interface {
	Kind() string
	Room() string
}

// ServerMessage is any message the server sends to a client.
type ServerMessage interface {
	Kind() string
}

// Join subscribes a connection to a room and establishes its client identity.
type Join struct {
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

// Subscribe watches a room without establishing a client identity.
type Subscribe struct {
	RoomID string `json:"roomId"`
}

// PatchDraft is an ephemeral draft edit from a client.
type PatchDraft struct {
	RoomID        string            `json:"roomId"`
	DraftID       string            `json:"draftId"`
	BaseVersionID string            `json:"baseVersionId"`
	Ops           []json.RawMessage `json:"ops"`
}

// LockAcquire requests the soft lock on a target.
type LockAcquire struct {
	RoomID     string     `json:"roomId"`
	ClientID   string     `json:"clientId"`
	LockTarget LockTarget `json:"lockTarget"`
}

// LockReleased is sent by a holder to release a lock, and broadcast by the
// server once a lock has been freed.
type LockReleased struct {
	RoomID     string     `json:"roomId"`
	ClientID   string     `json:"clientId"`
	LockTarget LockTarget `json:"lockTarget"`
}

// Save persists a new version of the room document.
type Save struct {
	RoomID        string             `json:"roomId"`
	ClientID      string             `json:"clientId"`
	BaseVersionID string             `json:"baseVersionId"`
	AtomicDoc     document.AtomicDoc `json:"atomicDoc"`
	PageDoc       document.PageDoc   `json:"pageDoc"`
}

// ListVersions requests the version log of a room.
type ListVersions struct {
	RoomID string `json:"roomId"`
	Limit  int    `json:"limit,omitempty"`
}

// GetVersion requests one stored version.
type GetVersion struct {
	RoomID    string `json:"roomId"`
	VersionID string `json:"versionId"`
}

// ReapplyVersion restores a stored version as the room's current document.
type ReapplyVersion struct {
	RoomID    string `json:"roomId"`
	ClientID  string `json:"clientId"`
	VersionID string `json:"versionId"`
}

func (Join) Kind() string           { return TypeJoin }
func (Subscribe) Kind() string      { return TypeSubscribe }
func (PatchDraft) Kind() string     { return TypePatchDraft }
func (LockAcquire) Kind() string    { return TypeLockAcquire }
func (LockReleased) Kind() string   { return TypeLockReleased }
func (Save) Kind() string           { return TypeSave }
func (ListVersions) Kind() string   { return TypeListVersions }
func (GetVersion) Kind() string     { return TypeGetVersion }
func (ReapplyVersion) Kind() string { return TypeReapplyVersion }

func (m Join) Room() string           { return m.RoomID }
func (m Subscribe) Room() string      { return m.RoomID }
func (m PatchDraft) Room() string     { return m.RoomID }
func (m LockAcquire) Room() string    { return m.RoomID }
func (m LockReleased) Room() string   { return m.RoomID }
func (m Save) Room() string           { return m.RoomID }
func (m ListVersions) Room() string   { return m.RoomID }
func (m GetVersion) Room() string     { return m.RoomID }
func (m ReapplyVersion) Room() string { return m.RoomID }

// Doc carries a room document snapshot to one connection.
type Doc struct {
	RoomID    string             `json:"roomId"`
	VersionID string             `json:"versionId"`
	AtomicDoc document.AtomicDoc `json:"atomicDoc"`
	PageDoc   document.PageDoc   `json:"pageDoc"`
}

// DraftBroadcast is a PatchDraft relayed to the other room members.
type DraftBroadcast struct {
	RoomID         string            `json:"roomId"`
	DraftID        string            `json:"draftId"`
	BaseVersionID  string            `json:"baseVersionId"`
	AuthorClientID string            `json:"authorClientId"`
	Ops            []json.RawMessage `json:"ops"`
}

// LockGranted confirms lock ownership to the requester.
type LockGranted struct {
	RoomID     string     `json:"roomId"`
	ClientID   string     `json:"clientId"`
	LockTarget LockTarget `json:"lockTarget"`
}

// LockDenied rejects a lockAcquire.
type LockDenied struct {
	RoomID     string     `json:"roomId"`
	ClientID   string     `json:"clientId"`
	LockTarget LockTarget `json:"lockTarget"`
	Reason     DenyReason `json:"reason"`
}

// Presence is the sorted, de-duplicated list of client ids in a room.
type Presence struct {
	RoomID    string   `json:"roomId"`
	ClientIDs []string `json:"clientIds"`
}

// Issue pinpoints one validation failure in an inbound payload.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the typed error reply sent to the originating connection.
type Error struct {
	Code                     string  `json:"code"`
	Message                  string  `json:"message"`
	Issues                   []Issue `json:"issues,omitempty"`
	SupportedProtocolVersion int     `json:"supportedProtocolVersion"`
}

// NewError builds an Error stamped with the supported protocol version.
func NewError(code, message string, issues ...Issue) Error {
	return Error{
		Code:                     code,
		Message:                  message,
		Issues:                   issues,
		SupportedProtocolVersion: ProtocolVersion,
	}
}

func (Doc) Kind() string            { return TypeDoc }
func (DraftBroadcast) Kind() string { return TypePatchDraft }
func (LockGranted) Kind() string    { return TypeLockGranted }
func (LockDenied) Kind() string     { return TypeLockDenied }
func (Presence) Kind() string       { return TypePresence }
func (Error) Kind() string          { return TypeError }
