package protocol

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/cory-johannsen/stylesync/internal/document"
)

func required(path, value string) []Issue {
	if value == "" {
		return []Issue{{Path: path, Message: "must be a non-empty string"}}
	}
	return nil
}

func validateJoin(m Join) []Issue {
	return append(required("roomId", m.RoomID), required("clientId", m.ClientID)...)
}

func validateSubscribe(m Subscribe) []Issue {
	return required("roomId", m.RoomID)
}

func validatePatchDraft(m PatchDraft) []Issue {
	issues := required("roomId", m.RoomID)
	issues = append(issues, required("draftId", m.DraftID)...)
	issues = append(issues, required("baseVersionId", m.BaseVersionID)...)
	if m.Ops == nil {
		return append(issues, Issue{Path: "ops", Message: "must be an array"})
	}
	for i, op := range m.Ops {
		if !gjson.ParseBytes(op).IsObject() {
			issues = append(issues, Issue{Path: fmt.Sprintf("ops[%d]", i), Message: "must be an object"})
		}
	}
	return issues
}

func validateLockAcquire(m LockAcquire) []Issue {
	issues := append(required("roomId", m.RoomID), required("clientId", m.ClientID)...)
	return append(issues, m.LockTarget.validate("lockTarget")...)
}

func validateLockReleased(m LockReleased) []Issue {
	issues := append(required("roomId", m.RoomID), required("clientId", m.ClientID)...)
	return append(issues, m.LockTarget.validate("lockTarget")...)
}

func validateSave(m Save) []Issue {
	issues := append(required("roomId", m.RoomID), required("clientId", m.ClientID)...)
	return append(issues, validateDocBody(m.AtomicDoc, m.PageDoc)...)
}

func validateDocBody(atomic document.AtomicDoc, page document.PageDoc) []Issue {
	issues := required("atomicDoc.componentId", atomic.ComponentID)
	issues = append(issues, required("pageDoc.pageId", page.PageID)...)
	for i, o := range page.Overrides {
		prefix := fmt.Sprintf("pageDoc.overrides[%d]", i)
		issues = append(issues, required(prefix+".instanceId", o.InstanceID)...)
		issues = append(issues, required(prefix+".nodeId", o.NodeID)...)
	}
	return issues
}

func validateListVersions(m ListVersions) []Issue {
	issues := required("roomId", m.RoomID)
	if m.Limit < 0 {
		issues = append(issues, Issue{Path: "limit", Message: "must not be negative"})
	}
	return issues
}

func validateGetVersion(m GetVersion) []Issue {
	return append(required("roomId", m.RoomID), required("versionId", m.VersionID)...)
}

func validateReapplyVersion(m ReapplyVersion) []Issue {
	issues := append(required("roomId", m.RoomID), required("clientId", m.ClientID)...)
	return append(issues, required("versionId", m.VersionID)...)
}
