package models

import (
	"time"

	"talkstage/backend/internal/store"
)

// Room statuses. A room only ever moves active → ended; ended is terminal
// and history stays readable.
const (
	RoomActive = "active"
	RoomEnded  = "ended"
)

// Room is a two-party chat session container. Membership is fixed at
// creation and never changes.
type Room struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	EndedAt      time.Time `json:"endedAt"`
	EndedBy      string    `json:"endedBy"`
}

// RoomFromSnapshot decodes a room document; ok is false if it doesn't exist.
func RoomFromSnapshot(snap store.Snapshot) (Room, bool) {
	if !snap.Exists {
		return Room{}, false
	}
	d := snap.Data
	return Room{
		ID:           snap.Ref.ID,
		Participants: docStrings(d["participants"]),
		Status:       docString(d, "status"),
		CreatedAt:    docTime(d, "createdAt"),
		EndedAt:      docTime(d, "endedAt"),
		EndedBy:      docString(d, "endedBy"),
	}, true
}

// Active reports whether the room still accepts messages.
func (r Room) Active() bool { return r.Status == RoomActive }

// Partner returns the other participant, or "" if selfID is not a member.
func (r Room) Partner(selfID string) string {
	for _, p := range r.Participants {
		if p != selfID {
			return p
		}
	}
	return ""
}

// Has reports whether id is one of the two participants.
func (r Room) Has(id string) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// NewRoomDoc is the document created by the matchmaker when two users pair.
func NewRoomDoc(a, b string) store.Doc {
	return store.Doc{
		"participants": []string{a, b},
		"status":       RoomActive,
		"createdAt":    store.ServerTimestamp,
	}
}
