package models

// Status is a user's lifecycle state. It is both the application state the
// UI renders and the matchmaking signal other users query for.
type Status string

const (
	StatusLoading     Status = "loading" // local-only, never written to the store
	StatusHomepage    Status = "homepage"
	StatusNickname    Status = "nickname"
	StatusMatchmaking Status = "matchmaking"
	StatusWaiting     Status = "waiting"
	StatusChatting    Status = "chatting"
	StatusChatEnded   Status = "chat_ended"
	StatusOffline     Status = "offline"
	StatusAdmin       Status = "admin"
)

var validStatuses = map[Status]bool{
	StatusHomepage:    true,
	StatusNickname:    true,
	StatusMatchmaking: true,
	StatusWaiting:     true,
	StatusChatting:    true,
	StatusChatEnded:   true,
	StatusOffline:     true,
	StatusAdmin:       true,
}

// Valid reports whether s is a recognized stored status.
func (s Status) Valid() bool { return validStatuses[s] }

// InRoom reports whether this status implies a current room reference.
func (s Status) InRoom() bool { return s == StatusChatting || s == StatusChatEnded }

// ParseStatus maps a raw stored value onto the enum. Anything unrecognized
// resolves to homepage; the status document is never trusted blindly.
func ParseStatus(raw string) Status {
	s := Status(raw)
	if !s.Valid() {
		return StatusHomepage
	}
	return s
}
