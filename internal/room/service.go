// Package room implements the in-room protocol: the append-only message
// log, typing indicators, emoji reactions, inline polls, and the asymmetric
// end-of-chat sequence.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"talkstage/backend/internal/config"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/store"
)

var (
	ErrEmptyMessage    = errors.New("room: empty message")
	ErrMessageTooLong  = errors.New("room: message too long")
	ErrMessageNotFound = errors.New("room: message not found")
	ErrRoomNotFound    = errors.New("room: room not found")
	ErrNotAPoll        = errors.New("room: message is not a poll")
	ErrUnknownOption   = errors.New("room: unknown poll option")
	ErrUnknownTemplate = errors.New("room: unknown poll template")
)

// Service executes room operations against the document store.
type Service struct {
	store store.Store
	cfg   *config.Config
	log   zerolog.Logger
}

// New creates a room service.
func New(st store.Store, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		store: st,
		cfg:   cfg,
		log:   log.With().Str("component", "room").Logger(),
	}
}

// SendMessage appends a text message and clears the sender's typing flag in
// the same batch.
func (s *Service) SendMessage(ctx context.Context, roomID, senderID, senderName, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if len(text) > s.cfg.MaxMessageLen {
		return ErrMessageTooLong
	}
	ops := []store.WriteOp{
		{
			Ref:     s.store.NewRef(models.MessagesCollection(roomID)),
			Data:    models.TextMessageDoc(senderID, senderName, text),
			Replace: true,
		},
		{
			Ref:  models.UserRef(senderID),
			Data: store.Doc{"isTyping": false, "typingInRoomId": nil},
		},
	}
	if err := s.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// React toggles the acting user's emoji on a message. One transaction strips
// the user from every bucket and re-adds them to the target unless they were
// already there, so a user holds at most one reaction per message: same
// emoji toggles off, a different emoji switches. Empty buckets are pruned.
func (s *Service) React(ctx context.Context, roomID, messageID, userID, emoji string) error {
	ref := store.Ref{Collection: models.MessagesCollection(roomID), ID: messageID}
	return s.store.RunTransaction(ctx, func(tx store.Tx) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return ErrMessageNotFound
		}
		current := models.ReactionsFromDoc(snap.Data["reactions"])

		hadTarget := false
		for _, id := range current[emoji] {
			if id == userID {
				hadTarget = true
				break
			}
		}

		next := make(map[string][]string, len(current))
		for e, ids := range current {
			kept := make([]string, 0, len(ids))
			for _, id := range ids {
				if id != userID {
					kept = append(kept, id)
				}
			}
			if len(kept) > 0 {
				next[e] = kept
			}
		}
		if !hadTarget {
			next[emoji] = append(next[emoji], userID)
		}

		tx.Merge(ref, store.Doc{"reactions": models.ReactionsDoc(next)})
		return nil
	})
}

// VoteOnPoll records a vote. The first vote is binding: a voter already
// present under any option is left untouched, which also makes accidental
// double submissions harmless.
func (s *Service) VoteOnPoll(ctx context.Context, roomID, messageID, voterID, optionID string) error {
	ref := store.Ref{Collection: models.MessagesCollection(roomID), ID: messageID}
	return s.store.RunTransaction(ctx, func(tx store.Tx) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if !snap.Exists {
			return ErrMessageNotFound
		}
		raw, _ := snap.Data["pollData"].(map[string]any)
		poll := models.PollFromDoc(raw)
		if poll == nil {
			return ErrNotAPoll
		}
		if poll.HasVoted(voterID) {
			return nil
		}
		known := false
		for _, opt := range poll.Options {
			if opt.ID == optionID {
				known = true
				break
			}
		}
		if !known {
			return ErrUnknownOption
		}
		poll.Votes[optionID] = append(poll.Votes[optionID], voterID)
		tx.Merge(ref, store.Doc{"pollData": models.PollDoc(*poll)})
		return nil
	})
}

// EndChat ends an active room: one system disconnect message, the room
// marked ended, the ender sent back to matchmaking, and the partner pushed
// to chat_ended keeping the room reference so they can still read history.
// No cross-document read validation is needed, so everything after the room
// read rides a single batch.
func (s *Service) EndChat(ctx context.Context, roomID, enderID, enderName string) error {
	snap, err := s.store.Get(ctx, models.RoomRef(roomID))
	if err != nil {
		return fmt.Errorf("reading room: %w", err)
	}
	rm, ok := models.RoomFromSnapshot(snap)
	if !ok {
		return ErrRoomNotFound
	}
	if !rm.Active() {
		// Already ended by the partner; just step out.
		return s.LeaveEndedChat(ctx, enderID)
	}

	ops := []store.WriteOp{
		{
			Ref: s.store.NewRef(models.MessagesCollection(roomID)),
			Data: models.SystemMessageDoc(models.KindSystemDisconnect,
				fmt.Sprintf("Plot twist: %s ghosted. 👻", enderName), ""),
			Replace: true,
		},
		{
			Ref: models.RoomRef(roomID),
			Data: store.Doc{
				"status":  models.RoomEnded,
				"endedAt": store.ServerTimestamp,
				"endedBy": enderID,
			},
		},
	}
	for _, participant := range rm.Participants {
		if participant == enderID {
			ops = append(ops, store.WriteOp{
				Ref:  models.UserRef(participant),
				Data: store.Doc{"status": string(models.StatusMatchmaking), "currentRoomId": nil},
			})
		} else {
			ops = append(ops, store.WriteOp{
				Ref:  models.UserRef(participant),
				Data: store.Doc{"status": string(models.StatusChatEnded), "currentRoomId": roomID},
			})
		}
	}
	if err := s.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("ending chat: %w", err)
	}
	return nil
}

// LeaveEndedChat returns a user from an ended room to matchmaking, clearing
// the room reference.
func (s *Service) LeaveEndedChat(ctx context.Context, userID string) error {
	err := s.store.Merge(ctx, models.UserRef(userID), store.Doc{
		"status":        string(models.StatusMatchmaking),
		"currentRoomId": nil,
	})
	if err != nil {
		return fmt.Errorf("leaving ended chat: %w", err)
	}
	return nil
}

// ReportPartner files a manual report against the partner; moderation
// consumes these out of band.
func (s *Service) ReportPartner(ctx context.Context, roomID, reporterID, targetID, reason string) error {
	ref := s.store.NewRef(models.ReportsCollection)
	err := s.store.Replace(ctx, ref, store.Doc{
		"roomId":     roomID,
		"reporterId": reporterID,
		"targetId":   targetID,
		"reason":     strings.TrimSpace(reason),
		"status":     "new",
		"createdAt":  store.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("filing report: %w", err)
	}
	return nil
}

// Room fetches one room document.
func (s *Service) Room(ctx context.Context, roomID string) (models.Room, bool, error) {
	snap, err := s.store.Get(ctx, models.RoomRef(roomID))
	if err != nil {
		return models.Room{}, false, err
	}
	rm, ok := models.RoomFromSnapshot(snap)
	return rm, ok, nil
}

// SubscribeMessages delivers the room's message log, oldest first, capped to
// the most recent HistoryWindow entries, on every change.
func (s *Service) SubscribeMessages(roomID string, fn func([]models.Message)) store.CancelFunc {
	q := store.Query{
		Collection: models.MessagesCollection(roomID),
		OrderBy:    "createdAt",
		Desc:       true,
		Limit:      s.cfg.HistoryWindow,
	}
	return s.store.SubscribeQuery(q, func(snaps []store.Snapshot) {
		msgs := make([]models.Message, 0, len(snaps))
		for _, snap := range snaps {
			if msg, ok := models.MessageFromSnapshot(snap); ok {
				msgs = append(msgs, msg)
			}
		}
		models.SortMessages(msgs)
		fn(msgs)
	})
}
