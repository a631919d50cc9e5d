package room

import (
	"context"
	"fmt"

	"talkstage/backend/internal/models"
	"talkstage/backend/internal/store"
)

// PollTemplate is one of the preset icebreaker polls either side can drop
// into a chat. Polls are always template-driven; there is no free-form poll
// composer.
type PollTemplate struct {
	ID       string
	Question string
	Options  []models.PollOption
}

var pollTemplates = []PollTemplate{
	{
		ID:       "vibe-check",
		Question: "Vibe check: how's this convo going?",
		Options: []models.PollOption{
			{ID: "immaculate", Text: "Immaculate ✨"},
			{ID: "decent", Text: "Decent, keep talking 💬"},
			{ID: "mid", Text: "Kinda mid 😬"},
			{ID: "ghosting", Text: "About to ghost 👻"},
		},
	},
	{
		ID:       "coffee-date",
		Question: "Ideal first date?",
		Options: []models.PollOption{
			{ID: "coffee", Text: "Coffee shop ☕"},
			{ID: "movie", Text: "Movies 🎬"},
			{ID: "food-trip", Text: "Food trip 🍜"},
			{ID: "walk", Text: "Long walk 🚶"},
		},
	},
	{
		ID:       "text-or-call",
		Question: "Texter or caller?",
		Options: []models.PollOption{
			{ID: "texter", Text: "Texter all the way 📱"},
			{ID: "caller", Text: "Calls only 📞"},
			{ID: "depends", Text: "Depends on the mood 🤷"},
		},
	},
	{
		ID:       "red-flag",
		Question: "Biggest red flag?",
		Options: []models.PollOption{
			{ID: "dry-texter", Text: "Dry texter 🏜️"},
			{ID: "slow-reply", Text: "Replies after 5 hours 🐢"},
			{ID: "no-questions", Text: "Never asks questions ❓"},
			{ID: "one-word", Text: "One-word answers 💀"},
		},
	},
}

// PollTemplates returns the preset polls, in menu order.
func PollTemplates() []PollTemplate {
	out := make([]PollTemplate, len(pollTemplates))
	copy(out, pollTemplates)
	return out
}

// SendPoll appends a poll message built from a preset template. The poll is
// authored by the system so neither side owns it.
func (s *Service) SendPoll(ctx context.Context, roomID, templateID string) error {
	var tpl *PollTemplate
	for i := range pollTemplates {
		if pollTemplates[i].ID == templateID {
			tpl = &pollTemplates[i]
			break
		}
	}
	if tpl == nil {
		return ErrUnknownTemplate
	}

	poll := models.PollData{
		Question: tpl.Question,
		Options:  tpl.Options,
		Votes:    map[string][]string{},
	}
	doc := store.Doc{
		"kind":       string(models.KindPoll),
		"senderId":   models.SystemSender,
		"senderName": models.SystemSender,
		"text":       tpl.Question,
		"pollData":   models.PollDoc(poll),
		"createdAt":  store.ServerTimestamp,
	}
	if err := s.store.Replace(ctx, s.store.NewRef(models.MessagesCollection(roomID)), doc); err != nil {
		return fmt.Errorf("sending poll: %w", err)
	}
	return nil
}
