package models

import (
	"time"

	"talkstage/backend/internal/store"
)

// Collection names and ref constructors shared by every component that
// touches the document store.
const (
	UsersCollection   = "users"
	RoomsCollection   = "rooms"
	ReportsCollection = "reports"
)

// MessagesCollection returns the per-room message log collection.
func MessagesCollection(roomID string) string {
	return RoomsCollection + "/" + roomID + "/messages"
}

// UserRef points at the status document of one identity.
func UserRef(id string) store.Ref {
	return store.Ref{Collection: UsersCollection, ID: id}
}

// RoomRef points at one room document.
func RoomRef(id string) store.Ref {
	return store.Ref{Collection: RoomsCollection, ID: id}
}

// Tolerant readers for document fields. A backend that round-trips through
// JSON hands back strings and float64s where the in-memory backend keeps the
// original Go values; both shapes decode identically, and anything malformed
// reads as the zero value.

func docString(d store.Doc, key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

func docBool(d store.Doc, key string) bool {
	if v, ok := d[key].(bool); ok {
		return v
	}
	return false
}

func docInt(d store.Doc, key string) int64 {
	switch v := d[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func docTime(d store.Doc, key string) time.Time {
	switch v := d[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func docStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		out := make([]string, len(s))
		copy(out, s)
		return out
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func docMap(v any) store.Doc {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
