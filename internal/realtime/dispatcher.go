// Package realtime implements the per-process collaboration hub: connection
// registry, room membership, soft locks, presence and message fan-out.
package realtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/stylesync/internal/document"
	"github.com/cory-johannsen/stylesync/internal/protocol"
)

// ErrDuplicateConnection is returned when a connection id is registered twice.
var ErrDuplicateConnection = errors.New("connection already registered")

// DocumentSource supplies point-in-time room document snapshots.
// Implementations must be fast; the dispatcher calls them while holding its lock.
type DocumentSource interface {
	// CurrentRoomDoc returns the room's current document, or document.ErrNotFound.
	CurrentRoomDoc(roomID string) (document.RoomDocument, error)
}

// DocumentSourceFunc adapts a plain function into a DocumentSource.
type DocumentSourceFunc func(roomID string) (document.RoomDocument, error)

// CurrentRoomDoc calls f(roomID).
func (f DocumentSourceFunc) CurrentRoomDoc(roomID string) (document.RoomDocument, error) {
	return f(roomID)
}

// Sender delivers one outbound message to exactly one connection.
// Send must not block and must not call back into the Dispatcher.
type Sender interface {
	Send(msg protocol.ServerMessage)
}

// SenderFunc adapts a plain function into a Sender.
type SenderFunc func(msg protocol.ServerMessage)

// Send calls f(msg).
func (f SenderFunc) Send(msg protocol.ServerMessage) { f(msg) }

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver installs a diagnostic observer that receives an Event for every
// inbound message and every outbound send.
func WithObserver(observe func(Event)) Option {
	return func(d *Dispatcher) {
		d.observe = observe
	}
}

type connection struct {
	id       string
	clientID string
	sender   Sender
	rooms    map[string]struct{}
}

// author is the identity stamped on relayed drafts.
func (c *connection) author() string {
	if c.clientID != "" {
		return c.clientID
	}
	return c.id
}

type lockEntry struct {
	target       protocol.LockTarget
	connectionID string
	clientID     string
}

// Stats is a point-in-time count of dispatcher state.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Locks       int `json:"locks"`
}

// Dispatcher owns all realtime state. Every public method runs to completion
// under a single mutex, so callers observe fully-settled state on return.
type Dispatcher struct {
	docs    DocumentSource
	observe func(Event)

	mu    sync.Mutex
	conns map[string]*connection          // connectionID → connection
	rooms map[string]map[string]struct{}  // roomID → set of connectionIDs
	locks map[string]map[string]lockEntry // roomID → lock key → owner
}

// New creates a Dispatcher reading room documents from docs.
//
// Precondition: docs must be non-nil.
func New(docs DocumentSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		docs:  docs,
		conns: make(map[string]*connection),
		rooms: make(map[string]map[string]struct{}),
		locks: make(map[string]map[string]lockEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterConnection adds a connection with no rooms and no client id.
//
// Precondition: connID must be non-empty; sender must be non-nil.
// Postcondition: The connection can receive Dispatch calls, or ErrDuplicateConnection
// is returned and the existing registration is left untouched.
func (d *Dispatcher) RegisterConnection(connID string, sender Sender) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.conns[connID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, connID)
	}
	d.conns[connID] = &connection{
		id:     connID,
		sender: sender,
		rooms:  make(map[string]struct{}),
	}
	return nil
}

// Disconnect releases the connection's locks, removes it from every room,
// re-broadcasts presence to the rooms it watched, and forgets it.
// Unknown ids are ignored.
//
// Postcondition: lockReleased notices are delivered before any presence update.
func (d *Dispatcher) Disconnect(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, ok := d.conns[connID]
	if !ok {
		return
	}

	for _, roomID := range sortedKeys(d.locks) {
		entries := d.locks[roomID]
		for _, key := range sortedKeys(entries) {
			entry := entries[key]
			if entry.connectionID != connID {
				continue
			}
			delete(entries, key)
			d.broadcast(roomID, protocol.LockReleased{
				RoomID:     roomID,
				ClientID:   entry.clientID,
				LockTarget: entry.target,
			}, connID)
		}
		if len(entries) == 0 {
			delete(d.locks, roomID)
		}
	}

	watched := sortedKeys(conn.rooms)
	for _, roomID := range watched {
		d.leave(conn, roomID)
	}
	for _, roomID := range watched {
		d.broadcastPresence(roomID)
	}

	delete(d.conns, connID)
}

// Dispatch routes one validated inbound message from connID. Messages from
// unknown connections are dropped.
func (d *Dispatcher) Dispatch(connID string, msg protocol.ClientMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, ok := d.conns[connID]
	if !ok || msg == nil {
		return
	}
	d.emit(inboundEvent(conn, msg))

	switch m := msg.(type) {
	case protocol.Join:
		d.handleJoin(conn, m)
	case protocol.Subscribe:
		d.handleSubscribe(conn, m)
	case protocol.PatchDraft:
		d.handlePatchDraft(conn, m)
	case protocol.LockAcquire:
		d.handleLockAcquire(conn, m)
	case protocol.LockReleased:
		d.handleLockReleased(conn, m)
	default:
		d.send(conn, protocol.NewError(protocol.CodeUnsupportedMessageType,
			fmt.Sprintf("message type %q is not supported by the realtime dispatcher", msg.Kind())))
	}
}

func (d *Dispatcher) handleJoin(conn *connection, m protocol.Join) {
	if conn.clientID == "" {
		conn.clientID = m.ClientID
	}
	d.join(conn, m.RoomID)
	d.sendDoc(conn, m.RoomID)
	d.broadcastPresence(m.RoomID)
}

func (d *Dispatcher) handleSubscribe(conn *connection, m protocol.Subscribe) {
	d.join(conn, m.RoomID)
	d.sendDoc(conn, m.RoomID)
}

func (d *Dispatcher) handlePatchDraft(conn *connection, m protocol.PatchDraft) {
	d.broadcast(m.RoomID, protocol.DraftBroadcast{
		RoomID:         m.RoomID,
		DraftID:        m.DraftID,
		BaseVersionID:  m.BaseVersionID,
		AuthorClientID: conn.author(),
		Ops:            m.Ops,
	}, conn.id)
}

func (d *Dispatcher) handleLockAcquire(conn *connection, m protocol.LockAcquire) {
	if conn.clientID == "" {
		conn.clientID = m.ClientID
	}

	doc, err := d.loadDoc(m.RoomID)
	if err != nil {
		d.sendRoomNotFound(conn, m.RoomID, err)
		return
	}
	if !targetExists(doc, m.LockTarget) {
		d.send(conn, protocol.LockDenied{
			RoomID:     m.RoomID,
			ClientID:   m.ClientID,
			LockTarget: m.LockTarget,
			Reason:     protocol.ReasonInvalidTarget,
		})
		return
	}

	key := m.LockTarget.Key()
	entries := d.locks[m.RoomID]
	if existing, held := entries[key]; held &&
		(existing.connectionID != conn.id || existing.clientID != m.ClientID) {
		d.send(conn, protocol.LockDenied{
			RoomID:     m.RoomID,
			ClientID:   m.ClientID,
			LockTarget: m.LockTarget,
			Reason:     protocol.ReasonAlreadyLocked,
		})
		return
	}

	if entries == nil {
		entries = make(map[string]lockEntry)
		d.locks[m.RoomID] = entries
	}
	entries[key] = lockEntry{
		target:       m.LockTarget,
		connectionID: conn.id,
		clientID:     m.ClientID,
	}
	d.send(conn, protocol.LockGranted{
		RoomID:     m.RoomID,
		ClientID:   m.ClientID,
		LockTarget: m.LockTarget,
	})
}

func (d *Dispatcher) handleLockReleased(conn *connection, m protocol.LockReleased) {
	entries := d.locks[m.RoomID]
	key := m.LockTarget.Key()
	existing, held := entries[key]
	if !held || existing.connectionID != conn.id || existing.clientID != m.ClientID {
		return
	}

	delete(entries, key)
	if len(entries) == 0 {
		delete(d.locks, m.RoomID)
	}
	d.broadcast(m.RoomID, protocol.LockReleased{
		RoomID:     m.RoomID,
		ClientID:   m.ClientID,
		LockTarget: m.LockTarget,
	}, "")
}

// targetExists reports whether target addresses the room's current document.
func targetExists(doc document.RoomDocument, target protocol.LockTarget) bool {
	switch target.Target {
	case protocol.TargetAtomic:
		return target.ComponentID == doc.AtomicDoc.ComponentID
	case protocol.TargetPage:
		return target.PageID == doc.PageDoc.PageID
	}
	return false
}

func (d *Dispatcher) join(conn *connection, roomID string) {
	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[roomID] = members
	}
	members[conn.id] = struct{}{}
	conn.rooms[roomID] = struct{}{}
}

func (d *Dispatcher) leave(conn *connection, roomID string) {
	delete(conn.rooms, roomID)
	members, ok := d.rooms[roomID]
	if !ok {
		return
	}
	delete(members, conn.id)
	if len(members) == 0 {
		delete(d.rooms, roomID)
	}
}

func (d *Dispatcher) sendDoc(conn *connection, roomID string) {
	doc, err := d.loadDoc(roomID)
	if err != nil {
		d.sendRoomNotFound(conn, roomID, err)
		return
	}
	d.send(conn, protocol.Doc{
		RoomID:    roomID,
		VersionID: doc.CurrentVersionID,
		AtomicDoc: doc.AtomicDoc,
		PageDoc:   doc.PageDoc,
	})
}

func (d *Dispatcher) sendRoomNotFound(conn *connection, roomID string, cause error) {
	if !errors.Is(cause, document.ErrNotFound) {
		d.emit(Event{
			Direction:    DirectionInternal,
			Type:         "documentSourceError",
			RoomID:       roomID,
			ConnectionID: conn.id,
			ClientID:     conn.clientID,
			Err:          cause,
		})
	}
	d.send(conn, protocol.NewError(protocol.CodeRoomNotFound, fmt.Sprintf("room %q not found", roomID)))
}

// loadDoc shields the dispatcher from a failing or panicking document source.
func (d *Dispatcher) loadDoc(roomID string) (doc document.RoomDocument, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("document source panicked: %v", r)
		}
	}()
	return d.docs.CurrentRoomDoc(roomID)
}

// presenceOf returns the sorted, de-duplicated client ids in a room.
func (d *Dispatcher) presenceOf(roomID string) []string {
	seen := make(map[string]struct{})
	for connID := range d.rooms[roomID] {
		if conn, ok := d.conns[connID]; ok && conn.clientID != "" {
			seen[conn.clientID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Dispatcher) broadcastPresence(roomID string) {
	d.broadcast(roomID, protocol.Presence{RoomID: roomID, ClientIDs: d.presenceOf(roomID)}, "")
}

// broadcast sends msg to every member of roomID except the connection named
// by exclude.
func (d *Dispatcher) broadcast(roomID string, msg protocol.ServerMessage, exclude string) {
	for _, connID := range sortedKeys(d.rooms[roomID]) {
		if connID == exclude {
			continue
		}
		if conn, ok := d.conns[connID]; ok {
			d.send(conn, msg)
		}
	}
}

// send delivers msg to one connection. A panicking Sender is contained so the
// rest of a fan-out still completes.
func (d *Dispatcher) send(conn *connection, msg protocol.ServerMessage) {
	ev := outboundEvent(conn, msg)
	defer func() {
		if r := recover(); r != nil {
			ev.Direction = DirectionInternal
			ev.Type = "sendFailed"
			ev.Err = fmt.Errorf("sender panicked delivering %s: %v", msg.Kind(), r)
			d.emit(ev)
		}
	}()
	d.emit(ev)
	conn.sender.Send(msg)
}

func (d *Dispatcher) emit(ev Event) {
	if d.observe == nil {
		return
	}
	defer func() { _ = recover() }()
	d.observe(ev)
}

// Presence returns the current sorted client ids of a room.
func (d *Dispatcher) Presence(roomID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presenceOf(roomID)
}

// Stats returns counts of connections, non-empty rooms, and held locks.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{Connections: len(d.conns), Rooms: len(d.rooms)}
	for _, entries := range d.locks {
		s.Locks += len(entries)
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
