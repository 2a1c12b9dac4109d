// Package document defines the room document model shared by the document
// stores, the wire protocol, and the realtime dispatcher.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no current document exists for a room.
var ErrNotFound = errors.New("room document not found")

// ErrVersionNotFound is returned when a version lookup yields no results.
var ErrVersionNotFound = errors.New("room version not found")

// ErrVersionConflict is returned when a save names a base version that is no
// longer the room's current version.
var ErrVersionConflict = errors.New("room version conflict")

// AtomicDoc holds the global ("atomic") class-name override for one component.
type AtomicDoc struct {
	ComponentID string `json:"componentId"`
	ClassName   string `json:"className"`
}

// PageOverride is one page-scoped class-name override.
type PageOverride struct {
	InstanceID string `json:"instanceId"`
	NodeID     string `json:"nodeId"`
	ClassName  string `json:"className"`
}

// PageDoc holds the page-scoped overrides for one page.
type PageDoc struct {
	PageID    string         `json:"pageId"`
	Overrides []PageOverride `json:"overrides"`
}

// RoomDocument is the latest snapshot of a room's atomic and page override state.
type RoomDocument struct {
	RoomID           string    `json:"roomId"`
	CurrentVersionID string    `json:"currentVersionId"`
	AtomicDoc        AtomicDoc `json:"atomicDoc"`
	PageDoc          PageDoc   `json:"pageDoc"`
}

// Validate checks the structural invariants of a room document.
//
// Postcondition: Returns nil if the document is valid, or an error describing all violations.
func (d RoomDocument) Validate() error {
	var errs []string
	if d.RoomID == "" {
		errs = append(errs, "roomId must not be empty")
	}
	if d.AtomicDoc.ComponentID == "" {
		errs = append(errs, "atomicDoc.componentId must not be empty")
	}
	if d.PageDoc.PageID == "" {
		errs = append(errs, "pageDoc.pageId must not be empty")
	}
	for i, o := range d.PageDoc.Overrides {
		if o.InstanceID == "" {
			errs = append(errs, fmt.Sprintf("pageDoc.overrides[%d].instanceId must not be empty", i))
		}
		if o.NodeID == "" {
			errs = append(errs, fmt.Sprintf("pageDoc.overrides[%d].nodeId must not be empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid room document: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Clone returns a deep copy so callers can hand out snapshots without sharing
// the overrides slice.
func (d RoomDocument) Clone() RoomDocument {
	out := d
	if d.PageDoc.Overrides != nil {
		out.PageDoc.Overrides = make([]PageOverride, len(d.PageDoc.Overrides))
		copy(out.PageDoc.Overrides, d.PageDoc.Overrides)
	}
	return out
}

// Version is one immutable entry of a room's version log.
type Version struct {
	RoomID          string    `json:"roomId"`
	VersionID       string    `json:"versionId"`
	ParentVersionID string    `json:"parentVersionId,omitempty"`
	AuthorClientID  string    `json:"authorClientId"`
	AtomicDoc       AtomicDoc `json:"atomicDoc"`
	PageDoc         PageDoc   `json:"pageDoc"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Loader reads current room documents from a backing store.
type Loader interface {
	// LoadCurrent returns the current document for roomID, or ErrNotFound.
	LoadCurrent(ctx context.Context, roomID string) (RoomDocument, error)
	// LoadAll returns every current room document in the store.
	LoadAll(ctx context.Context) ([]RoomDocument, error)
}
