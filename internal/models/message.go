package models

import (
	"sort"
	"time"

	"talkstage/backend/internal/store"
)

// MessageKind discriminates the message union. System kinds carry no real
// sender; poll messages carry PollData; connect notices carry a visibleTo
// scope so each partner sees their own personalized line.
type MessageKind string

const (
	KindText             MessageKind = "text"
	KindSystemConnect    MessageKind = "system-connect"
	KindSystemDisconnect MessageKind = "system-disconnect"
	KindSystemHint       MessageKind = "system-hint"
	KindPoll             MessageKind = "poll"
)

// SystemSender is the sentinel sender id on system messages.
const SystemSender = "system"

// Message is one entry of a room's append-only ordered log.
type Message struct {
	ID         string      `json:"id"`
	Kind       MessageKind `json:"kind"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName,omitempty"`
	Text       string      `json:"text"`
	CreatedAt  time.Time   `json:"createdAt"`
	VisibleTo  string      `json:"visibleTo,omitempty"`

	// Reactions maps emoji → reactor ids. A user appears under at most one
	// emoji at a time.
	Reactions map[string][]string `json:"reactions,omitempty"`

	Poll *PollData `json:"pollData,omitempty"`
}

// System reports whether the message was emitted by the service itself.
func (m Message) System() bool { return m.Kind != KindText }

// VisibleFor reports whether selfID should see this message at all.
func (m Message) VisibleFor(selfID string) bool {
	return m.VisibleTo == "" || m.VisibleTo == selfID
}

// PollOption is one choice of an inline poll.
type PollOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PollData is the payload of a poll message. Votes maps option id → voter
// ids; a voter appears under at most one option (first vote binding).
type PollData struct {
	Question string              `json:"question"`
	Options  []PollOption        `json:"options"`
	Votes    map[string][]string `json:"votes"`
}

// HasVoted reports whether voterID already voted on any option.
func (p PollData) HasVoted(voterID string) bool {
	for _, voters := range p.Votes {
		for _, v := range voters {
			if v == voterID {
				return true
			}
		}
	}
	return false
}

// TotalVotes counts votes across all options.
func (p PollData) TotalVotes() int {
	n := 0
	for _, voters := range p.Votes {
		n += len(voters)
	}
	return n
}

// MessageFromSnapshot decodes a message document.
func MessageFromSnapshot(snap store.Snapshot) (Message, bool) {
	if !snap.Exists {
		return Message{}, false
	}
	d := snap.Data
	kind := MessageKind(docString(d, "kind"))
	switch kind {
	case KindText, KindSystemConnect, KindSystemDisconnect, KindSystemHint, KindPoll:
	default:
		// Unknown kinds are dropped rather than mis-rendered.
		return Message{}, false
	}
	msg := Message{
		ID:         snap.Ref.ID,
		Kind:       kind,
		SenderID:   docString(d, "senderId"),
		SenderName: docString(d, "senderName"),
		Text:       docString(d, "text"),
		CreatedAt:  docTime(d, "createdAt"),
		VisibleTo:  docString(d, "visibleTo"),
		Reactions:  ReactionsFromDoc(d["reactions"]),
	}
	if kind == KindPoll {
		if poll := PollFromDoc(docMap(d["pollData"])); poll != nil {
			msg.Poll = poll
		}
	}
	return msg, true
}

// ReactionsFromDoc decodes the reactions field, skipping empty buckets.
func ReactionsFromDoc(v any) map[string][]string {
	raw := docMap(v)
	if raw == nil {
		return nil
	}
	out := make(map[string][]string, len(raw))
	for emoji, voters := range raw {
		if ids := docStrings(voters); len(ids) > 0 {
			out[emoji] = ids
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ReactionsDoc encodes a reactions map for a store write.
func ReactionsDoc(reactions map[string][]string) store.Doc {
	out := make(store.Doc, len(reactions))
	for emoji, voters := range reactions {
		out[emoji] = voters
	}
	return out
}

// PollFromDoc decodes a pollData field; nil if it is structurally broken.
func PollFromDoc(d store.Doc) *PollData {
	if d == nil {
		return nil
	}
	poll := &PollData{
		Question: docString(d, "question"),
		Votes:    make(map[string][]string),
	}
	opts, ok := d["options"].([]any)
	if !ok {
		return nil
	}
	for _, o := range opts {
		om := docMap(o)
		if om == nil {
			return nil
		}
		poll.Options = append(poll.Options, PollOption{
			ID:   docString(om, "id"),
			Text: docString(om, "text"),
		})
	}
	for optionID, voters := range docMap(d["votes"]) {
		poll.Votes[optionID] = docStrings(voters)
	}
	return poll
}

// PollDoc encodes a poll for a store write.
func PollDoc(p PollData) store.Doc {
	options := make([]any, 0, len(p.Options))
	for _, o := range p.Options {
		options = append(options, store.Doc{"id": o.ID, "text": o.Text})
	}
	votes := make(store.Doc, len(p.Votes))
	for optionID, voters := range p.Votes {
		votes[optionID] = voters
	}
	return store.Doc{
		"question": p.Question,
		"options":  options,
		"votes":    votes,
	}
}

// TextMessageDoc builds a user text message document.
func TextMessageDoc(senderID, senderName, text string) store.Doc {
	return store.Doc{
		"kind":       string(KindText),
		"senderId":   senderID,
		"senderName": senderName,
		"text":       text,
		"createdAt":  store.ServerTimestamp,
	}
}

// SystemMessageDoc builds a system message document; visibleTo may be empty
// for messages both partners should see.
func SystemMessageDoc(kind MessageKind, text, visibleTo string) store.Doc {
	d := store.Doc{
		"kind":       string(kind),
		"senderId":   SystemSender,
		"senderName": "System",
		"text":       text,
		"createdAt":  store.ServerTimestamp,
	}
	if visibleTo != "" {
		d["visibleTo"] = visibleTo
	}
	return d
}

// SortMessages orders a decoded batch by creation time, oldest first. The
// ordering key is the store's commit timestamp, never a client clock.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
