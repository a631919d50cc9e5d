package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkstage/backend/internal/models"
	"talkstage/backend/internal/store"
)

func TestVisibleForScopesSystemNotices(t *testing.T) {
	open := models.Message{Kind: models.KindText, Text: "hi"}
	scoped := models.Message{Kind: models.KindSystemConnect, Text: "welcome", VisibleTo: "ivy"}

	assert.True(t, open.VisibleFor("ivy"))
	assert.True(t, open.VisibleFor("cam"))
	assert.True(t, scoped.VisibleFor("ivy"))
	assert.False(t, scoped.VisibleFor("cam"))
}

func TestMessageFromSnapshotDropsUnknownKinds(t *testing.T) {
	snap := store.Snapshot{
		Ref:    store.Ref{Collection: "rooms/r1/messages", ID: "m1"},
		Exists: true,
		Data:   store.Doc{"kind": "hologram", "text": "??"},
	}

	_, ok := models.MessageFromSnapshot(snap)

	assert.False(t, ok, "unknown kinds are skipped, not rendered raw")
}

func TestReactionsFromDocPrunesEmptyBuckets(t *testing.T) {
	raw := map[string]any{
		"❤️": []any{"ivy"},
		"😂": []any{},
	}

	reactions := models.ReactionsFromDoc(raw)

	assert.Equal(t, []string{"ivy"}, reactions["❤️"])
	assert.NotContains(t, reactions, "😂")
}

func TestSortMessagesByCreatedAt(t *testing.T) {
	base := time.Now()
	msgs := []models.Message{
		{ID: "b", CreatedAt: base.Add(time.Second)},
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(2 * time.Second)},
	}

	models.SortMessages(msgs)

	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
	assert.Equal(t, "c", msgs[2].ID)
}

func TestParseStatusFallsBackToHomepage(t *testing.T) {
	assert.Equal(t, models.StatusChatting, models.ParseStatus("chatting"))
	assert.Equal(t, models.StatusHomepage, models.ParseStatus("garbage"))
	assert.Equal(t, models.StatusHomepage, models.ParseStatus(""))
}

func TestUserStatusFromEmptySnapshotIsUntrusted(t *testing.T) {
	snap := store.Snapshot{
		Ref:    store.Ref{Collection: "users", ID: "ivy"},
		Exists: true,
		Data:   store.Doc{},
	}

	us, ok := models.UserStatusFromSnapshot(snap)

	assert.False(t, ok)
	assert.Equal(t, models.StatusHomepage, us.Status)
}

func TestTypingInIsRoomScoped(t *testing.T) {
	us := models.UserStatus{IsTyping: true, TypingInRoomID: "r1"}

	assert.True(t, us.TypingIn("r1"))
	assert.False(t, us.TypingIn("r2"), "stale flag from another room must not leak")
	assert.False(t, us.TypingIn(""))
}

func TestRoomPartner(t *testing.T) {
	snap := store.Snapshot{
		Ref:    store.Ref{Collection: "rooms", ID: "r1"},
		Exists: true,
		Data:   models.NewRoomDoc("ivy", "cam"),
	}
	rm, ok := models.RoomFromSnapshot(snap)

	require.True(t, ok)
	assert.Equal(t, "cam", rm.Partner("ivy"))
	assert.Equal(t, "ivy", rm.Partner("cam"))
	assert.Empty(t, rm.Partner("stranger"))
}
