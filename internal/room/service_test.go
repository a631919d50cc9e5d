package room_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkstage/backend/internal/config"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/room"
	"talkstage/backend/internal/store"
)

func newService(t *testing.T) (*room.Service, *store.MemStore, *config.Config) {
	t.Helper()
	m := store.NewMemStore()
	cfg := config.Default()
	return room.New(m, cfg, zerolog.Nop()), m, cfg
}

func seedRoom(t *testing.T, m *store.MemStore, roomID string, a, b string) {
	t.Helper()
	require.NoError(t, m.Replace(context.Background(), models.RoomRef(roomID), models.NewRoomDoc(a, b)))
	for _, id := range []string{a, b} {
		require.NoError(t, m.Merge(context.Background(), models.UserRef(id), store.Doc{
			"uid":           id,
			"status":        string(models.StatusChatting),
			"currentRoomId": roomID,
		}))
	}
}

func roomMessages(t *testing.T, m *store.MemStore, roomID string) []models.Message {
	t.Helper()
	snaps, err := m.GetQuery(context.Background(), store.Query{
		Collection: models.MessagesCollection(roomID),
		OrderBy:    "createdAt",
	})
	require.NoError(t, err)
	msgs := make([]models.Message, 0, len(snaps))
	for _, snap := range snaps {
		msg, ok := models.MessageFromSnapshot(snap)
		require.True(t, ok)
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestSendMessageAppendsAndClearsTyping(t *testing.T) {
	// Arrange
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")
	require.NoError(t, m.Merge(context.Background(), models.UserRef("ivy"), store.Doc{
		"isTyping":       true,
		"typingInRoomId": "r1",
	}))

	// Act
	require.NoError(t, svc.SendMessage(context.Background(), "r1", "ivy", "Ivy", "  hey there  "))

	// Assert
	msgs := roomMessages(t, m, "r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, models.KindText, msgs[0].Kind)
	assert.Equal(t, "ivy", msgs[0].SenderID)
	assert.Equal(t, "hey there", msgs[0].Text, "text is trimmed")
	assert.False(t, msgs[0].CreatedAt.IsZero())

	snap, _ := m.Get(context.Background(), models.UserRef("ivy"))
	us, _ := models.UserStatusFromSnapshot(snap)
	assert.False(t, us.IsTyping, "sending clears the typing flag in the same batch")
}

func TestSendMessageRejectsEmptyAndOversized(t *testing.T) {
	svc, m, cfg := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")

	assert.ErrorIs(t, svc.SendMessage(context.Background(), "r1", "ivy", "Ivy", "   "), room.ErrEmptyMessage)
	long := strings.Repeat("x", cfg.MaxMessageLen+1)
	assert.ErrorIs(t, svc.SendMessage(context.Background(), "r1", "ivy", "Ivy", long), room.ErrMessageTooLong)
	assert.Empty(t, roomMessages(t, m, "r1"))
}

func TestReactSingleOwnershipToggleAndSwitch(t *testing.T) {
	// Arrange
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")
	require.NoError(t, svc.SendMessage(context.Background(), "r1", "ivy", "Ivy", "hello"))
	msgID := roomMessages(t, m, "r1")[0].ID

	reactions := func() map[string][]string {
		return roomMessages(t, m, "r1")[0].Reactions
	}

	// Act + Assert - add
	require.NoError(t, svc.React(context.Background(), "r1", msgID, "cam", "❤️"))
	assert.Equal(t, []string{"cam"}, reactions()["❤️"])

	// Switch: moving to another emoji removes the old one
	require.NoError(t, svc.React(context.Background(), "r1", msgID, "cam", "😂"))
	r := reactions()
	assert.NotContains(t, r, "❤️", "empty bucket is pruned")
	assert.Equal(t, []string{"cam"}, r["😂"])

	// Toggle: same emoji again removes it
	require.NoError(t, svc.React(context.Background(), "r1", msgID, "cam", "😂"))
	assert.Empty(t, reactions())
}

func TestReactConcurrentUsersKeepIndependentReactions(t *testing.T) {
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")
	require.NoError(t, svc.SendMessage(context.Background(), "r1", "ivy", "Ivy", "hello"))
	msgID := roomMessages(t, m, "r1")[0].ID

	var wg sync.WaitGroup
	for _, user := range []string{"ivy", "cam"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_ = svc.React(context.Background(), "r1", msgID, user, "🔥")
		}(user)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"ivy", "cam"}, roomMessages(t, m, "r1")[0].Reactions["🔥"])
}

func TestReactMissingMessage(t *testing.T) {
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")
	assert.ErrorIs(t, svc.React(context.Background(), "r1", "nope", "cam", "❤️"), room.ErrMessageNotFound)
}

func TestSendPollAndFirstVoteBinding(t *testing.T) {
	// Arrange
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")
	tpl := room.PollTemplates()[0]
	require.NoError(t, svc.SendPoll(context.Background(), "r1", tpl.ID))

	msgs := roomMessages(t, m, "r1")
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Poll)
	assert.Equal(t, models.KindPoll, msgs[0].Kind)
	assert.Equal(t, tpl.Question, msgs[0].Poll.Question)
	msgID := msgs[0].ID
	optA := tpl.Options[0].ID
	optB := tpl.Options[1].ID

	// Act - first vote lands, second is ignored
	require.NoError(t, svc.VoteOnPoll(context.Background(), "r1", msgID, "cam", optA))
	require.NoError(t, svc.VoteOnPoll(context.Background(), "r1", msgID, "cam", optB))

	// Assert
	poll := roomMessages(t, m, "r1")[0].Poll
	assert.Equal(t, []string{"cam"}, poll.Votes[optA])
	assert.Empty(t, poll.Votes[optB], "first vote is binding")
	assert.True(t, poll.HasVoted("cam"))
	assert.Equal(t, 1, poll.TotalVotes())
}

func TestVoteOnPollRejectsUnknownOptionAndTemplate(t *testing.T) {
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")
	assert.ErrorIs(t, svc.SendPoll(context.Background(), "r1", "no-such-template"), room.ErrUnknownTemplate)

	tpl := room.PollTemplates()[0]
	require.NoError(t, svc.SendPoll(context.Background(), "r1", tpl.ID))
	msgID := roomMessages(t, m, "r1")[0].ID
	assert.ErrorIs(t, svc.VoteOnPoll(context.Background(), "r1", msgID, "cam", "no-such-option"), room.ErrUnknownOption)
}

func TestEndChatAsymmetricOutcome(t *testing.T) {
	// Arrange
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")

	// Act - ivy ends the chat
	require.NoError(t, svc.EndChat(context.Background(), "r1", "ivy", "Ivy"))

	// Assert - room ended, exactly one disconnect message
	roomSnap, _ := m.Get(context.Background(), models.RoomRef("r1"))
	rm, ok := models.RoomFromSnapshot(roomSnap)
	require.True(t, ok)
	assert.False(t, rm.Active())

	var disconnects int
	for _, msg := range roomMessages(t, m, "r1") {
		if msg.Kind == models.KindSystemDisconnect {
			disconnects++
			assert.Contains(t, msg.Text, "Ivy")
			assert.Empty(t, msg.VisibleTo, "disconnect notice is visible to both")
		}
	}
	assert.Equal(t, 1, disconnects)

	// Ender goes straight back to matchmaking; partner lands on the ended
	// screen with the room still referenced.
	ivySnap, _ := m.Get(context.Background(), models.UserRef("ivy"))
	ivy, _ := models.UserStatusFromSnapshot(ivySnap)
	assert.Equal(t, models.StatusMatchmaking, ivy.Status)
	assert.Empty(t, ivy.CurrentRoomID)

	camSnap, _ := m.Get(context.Background(), models.UserRef("cam"))
	cam, _ := models.UserStatusFromSnapshot(camSnap)
	assert.Equal(t, models.StatusChatEnded, cam.Status)
	assert.Equal(t, "r1", cam.CurrentRoomID)
}

func TestEndChatOnEndedRoomJustLeaves(t *testing.T) {
	// Both sides hitting end at nearly the same time must not produce a
	// second disconnect message.
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")
	require.NoError(t, svc.EndChat(context.Background(), "r1", "ivy", "Ivy"))

	require.NoError(t, svc.EndChat(context.Background(), "r1", "cam", "Cam"))

	var disconnects int
	for _, msg := range roomMessages(t, m, "r1") {
		if msg.Kind == models.KindSystemDisconnect {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects)

	camSnap, _ := m.Get(context.Background(), models.UserRef("cam"))
	cam, _ := models.UserStatusFromSnapshot(camSnap)
	assert.Equal(t, models.StatusMatchmaking, cam.Status)
	assert.Empty(t, cam.CurrentRoomID)
}

func TestLeaveEndedChat(t *testing.T) {
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")
	require.NoError(t, svc.EndChat(context.Background(), "r1", "ivy", "Ivy"))

	require.NoError(t, svc.LeaveEndedChat(context.Background(), "cam"))

	camSnap, _ := m.Get(context.Background(), models.UserRef("cam"))
	cam, _ := models.UserStatusFromSnapshot(camSnap)
	assert.Equal(t, models.StatusMatchmaking, cam.Status)
	assert.Empty(t, cam.CurrentRoomID)
}

func TestReportPartnerFilesReport(t *testing.T) {
	svc, m, _ := newService(t)
	seedRoom(t, m, "r1", "ivy", "cam")

	require.NoError(t, svc.ReportPartner(context.Background(), "r1", "ivy", "cam", "  being creepy "))

	snaps, err := m.GetQuery(context.Background(), store.Query{Collection: models.ReportsCollection})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "ivy", snaps[0].Data["reporterId"])
	assert.Equal(t, "cam", snaps[0].Data["targetId"])
	assert.Equal(t, "being creepy", snaps[0].Data["reason"])
	assert.Equal(t, "new", snaps[0].Data["status"])
}

func TestSubscribeMessagesOrderedAndWindowed(t *testing.T) {
	// Arrange - a small history window to exercise the cap
	m := store.NewMemStore()
	cfg := config.Default()
	cfg.HistoryWindow = 3
	svc := room.New(m, cfg, zerolog.Nop())
	seedRoom(t, m, "r1", "ivy", "cam")
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, svc.SendMessage(context.Background(), "r1", "ivy", "Ivy", text))
	}

	// Act
	var mu sync.Mutex
	var latest []models.Message
	cancel := svc.SubscribeMessages("r1", func(msgs []models.Message) {
		mu.Lock()
		latest = msgs
		mu.Unlock()
	})
	defer cancel()

	// Assert - the three most recent, oldest first
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(latest) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "three", latest[0].Text)
	assert.Equal(t, "four", latest[1].Text)
	assert.Equal(t, "five", latest[2].Text)
}
