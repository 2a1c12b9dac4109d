package protocol

import (
	"fmt"
	"strings"
)

// TargetKind discriminates the two lock target shapes.
type TargetKind string

const (
	// TargetAtomic addresses a global component override by componentId.
	TargetAtomic TargetKind = "atomic"
	// TargetPage addresses a page-scoped override by pageId, instanceId and nodeId.
	TargetPage TargetKind = "page"
)

// LockTarget identifies an editable unit that can be soft-locked.
// Atomic targets set ComponentID only; page targets set PageID, InstanceID and NodeID.
type LockTarget struct {
	Target      TargetKind `json:"target"`
	ComponentID string     `json:"componentId,omitempty"`
	PageID      string     `json:"pageId,omitempty"`
	InstanceID  string     `json:"instanceId,omitempty"`
	NodeID      string     `json:"nodeId,omitempty"`
}

// AtomicTarget returns the lock target for a global component.
func AtomicTarget(componentID string) LockTarget {
	return LockTarget{Target: TargetAtomic, ComponentID: componentID}
}

// PageTarget returns the lock target for one page-scoped node.
func PageTarget(pageID, instanceID, nodeID string) LockTarget {
	return LockTarget{Target: TargetPage, PageID: pageID, InstanceID: instanceID, NodeID: nodeID}
}

// Ids inside a key are escaped so that ':' only ever separates segments.
var (
	keyEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	keyUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

// Key returns the canonical string encoding of the target:
// "atomic:<componentId>" or "page:<pageId>:<instanceId>:<nodeId>".
//
// Precondition: t must pass validation.
// Postcondition: Distinct targets always produce distinct keys and
// parseLockTargetKey(t.Key()) == t.
func (t LockTarget) Key() string {
	switch t.Target {
	case TargetAtomic:
		return string(TargetAtomic) + ":" + keyEscaper.Replace(t.ComponentID)
	case TargetPage:
		return string(TargetPage) + ":" +
			keyEscaper.Replace(t.PageID) + ":" +
			keyEscaper.Replace(t.InstanceID) + ":" +
			keyEscaper.Replace(t.NodeID)
	}
	return ""
}

// parseLockTargetKey inverts LockTarget.Key.
//
// Postcondition: Returns the decoded target or an error if key is not canonical.
func parseLockTargetKey(key string) (LockTarget, error) {
	parts := strings.Split(key, ":")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			return LockTarget{}, fmt.Errorf("lock target key %q has an empty segment", key)
		}
		parts[i] = keyUnescaper.Replace(parts[i])
	}
	switch {
	case parts[0] == string(TargetAtomic) && len(parts) == 2:
		return AtomicTarget(parts[1]), nil
	case parts[0] == string(TargetPage) && len(parts) == 4:
		return PageTarget(parts[1], parts[2], parts[3]), nil
	}
	return LockTarget{}, fmt.Errorf("malformed lock target key %q", key)
}

func (t LockTarget) validate(path string) []Issue {
	var issues []Issue
	switch t.Target {
	case TargetAtomic:
		if t.ComponentID == "" {
			issues = append(issues, Issue{Path: path + ".componentId", Message: "must be a non-empty string"})
		}
		if t.PageID != "" || t.InstanceID != "" || t.NodeID != "" {
			issues = append(issues, Issue{Path: path, Message: "atomic target must not carry page fields"})
		}
	case TargetPage:
		if t.PageID == "" {
			issues = append(issues, Issue{Path: path + ".pageId", Message: "must be a non-empty string"})
		}
		if t.InstanceID == "" {
			issues = append(issues, Issue{Path: path + ".instanceId", Message: "must be a non-empty string"})
		}
		if t.NodeID == "" {
			issues = append(issues, Issue{Path: path + ".nodeId", Message: "must be a non-empty string"})
		}
		if t.ComponentID != "" {
			issues = append(issues, Issue{Path: path, Message: "page target must not carry componentId"})
		}
	default:
		issues = append(issues, Issue{Path: path + ".target", Message: `must be "atomic" or "page"`})
	}
	return issues
}
