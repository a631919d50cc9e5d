package models

import (
	"time"

	"talkstage/backend/internal/store"
)

// UserStatus is the per-identity status document: lifecycle state, current
// room reference, typing flag, and liveness timestamps. The room reference
// is authoritative for membership; matchedWith is informational only.
type UserStatus struct {
	ID             string    `json:"id"`
	Status         Status    `json:"status"`
	DisplayName    string    `json:"displayName"`
	CurrentRoomID  string    `json:"currentRoomId"`
	MatchedWith    string    `json:"matchedWith"`
	IsTyping       bool      `json:"isTyping"`
	TypingInRoomID string    `json:"typingInRoomId"`
	WaitingSince   time.Time `json:"waitingSince"`
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
	LastSeen       time.Time `json:"lastSeen"`
	IsActive       bool      `json:"isActive"`
	IsAdmin        bool      `json:"isAdmin"`
	StateEpoch     uint64    `json:"stateEpoch"`
}

// UserStatusFromSnapshot decodes a status document. ok is false for a
// missing or empty document; callers must treat that as homepage, not as
// trusted state.
func UserStatusFromSnapshot(snap store.Snapshot) (UserStatus, bool) {
	if !snap.Exists || snap.Empty() {
		return UserStatus{ID: snap.Ref.ID, Status: StatusHomepage}, false
	}
	d := snap.Data
	return UserStatus{
		ID:             snap.Ref.ID,
		Status:         ParseStatus(docString(d, "status")),
		DisplayName:    docString(d, "displayName"),
		CurrentRoomID:  docString(d, "currentRoomId"),
		MatchedWith:    docString(d, "matchedWith"),
		IsTyping:       docBool(d, "isTyping"),
		TypingInRoomID: docString(d, "typingInRoomId"),
		WaitingSince:   docTime(d, "waitingSince"),
		LastHeartbeat:  docTime(d, "lastHeartbeat"),
		LastSeen:       docTime(d, "lastSeen"),
		IsActive:       docBool(d, "isActive"),
		IsAdmin:        docBool(d, "isAdmin"),
		StateEpoch:     uint64(docInt(d, "stateEpoch")),
	}, true
}

// TypingIn reports whether this user should be rendered as typing by an
// observer in roomID. Scoping by room keeps a stale flag from a previous
// room from leaking into the current one.
func (u UserStatus) TypingIn(roomID string) bool {
	return u.IsTyping && roomID != "" && u.TypingInRoomID == roomID
}

// ProfileDoc is the full status document written when a nickname is
// submitted; it overwrites whatever profile existed before.
func ProfileDoc(id, displayName string, epoch uint64) store.Doc {
	return store.Doc{
		"uid":           id,
		"displayName":   displayName,
		"status":        string(StatusMatchmaking),
		"currentRoomId": nil,
		"createdAt":     store.ServerTimestamp,
		"stateEpoch":    int64(epoch),
	}
}
