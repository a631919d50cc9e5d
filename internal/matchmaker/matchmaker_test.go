package matchmaker_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkstage/backend/internal/config"
	"talkstage/backend/internal/matchmaker"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/store"
)

func newService(t *testing.T) (*matchmaker.Service, *store.MemStore) {
	t.Helper()
	m := store.NewMemStore()
	return matchmaker.New(m, config.Default(), zerolog.Nop()), m
}

func seedUser(t *testing.T, m *store.MemStore, id, name string, status models.Status) {
	t.Helper()
	require.NoError(t, m.Merge(context.Background(), models.UserRef(id), store.Doc{
		"uid":         id,
		"displayName": name,
		"status":      string(status),
	}))
}

func userStatus(t *testing.T, m *store.MemStore, id string) models.UserStatus {
	t.Helper()
	snap, err := m.Get(context.Background(), models.UserRef(id))
	require.NoError(t, err)
	us, _ := models.UserStatusFromSnapshot(snap)
	return us
}

func TestFindMatchPairsWithWaitingUser(t *testing.T) {
	// Arrange
	svc, m := newService(t)
	seedUser(t, m, "cam", "Cam", models.StatusWaiting)
	seedUser(t, m, "ivy", "Ivy", models.StatusMatchmaking)

	// Act
	match, err := svc.FindMatch(context.Background(), "ivy", "Ivy")

	// Assert
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "cam", match.PartnerID)
	assert.Equal(t, "Cam", match.PartnerName)

	ivy := userStatus(t, m, "ivy")
	cam := userStatus(t, m, "cam")
	assert.Equal(t, models.StatusChatting, ivy.Status)
	assert.Equal(t, models.StatusChatting, cam.Status)
	assert.Equal(t, match.RoomID, ivy.CurrentRoomID)
	assert.Equal(t, match.RoomID, cam.CurrentRoomID)
	assert.Equal(t, "cam", ivy.MatchedWith)
	assert.Equal(t, "ivy", cam.MatchedWith)

	roomSnap, err := m.Get(context.Background(), models.RoomRef(match.RoomID))
	require.NoError(t, err)
	rm, ok := models.RoomFromSnapshot(roomSnap)
	require.True(t, ok)
	assert.True(t, rm.Active())
	assert.ElementsMatch(t, []string{"ivy", "cam"}, rm.Participants)
}

func TestFindMatchEmptyPoolParksAsWaiting(t *testing.T) {
	// Arrange
	svc, m := newService(t)
	seedUser(t, m, "ivy", "Ivy", models.StatusMatchmaking)

	// Act
	match, err := svc.FindMatch(context.Background(), "ivy", "Ivy")

	// Assert
	require.ErrorIs(t, err, matchmaker.ErrNoPartner)
	assert.Nil(t, match)
	ivy := userStatus(t, m, "ivy")
	assert.Equal(t, models.StatusWaiting, ivy.Status)
	assert.False(t, ivy.WaitingSince.IsZero(), "waitingSince must be stamped")
}

func TestFindMatchSkipsStaleCandidates(t *testing.T) {
	// Arrange - the discovery read said waiting, but by transaction time the
	// candidate was claimed.
	svc, m := newService(t)
	seedUser(t, m, "cam", "Cam", models.StatusWaiting)
	seedUser(t, m, "ivy", "Ivy", models.StatusMatchmaking)
	// Flip cam to chatting between discovery and pairing by doing it now and
	// relying on discovery reading the store live: discovery won't even see
	// him, so the pool is effectively empty.
	require.NoError(t, m.Merge(context.Background(), models.UserRef("cam"), store.Doc{
		"status": string(models.StatusChatting),
	}))

	// Act
	match, err := svc.FindMatch(context.Background(), "ivy", "Ivy")

	// Assert
	require.ErrorIs(t, err, matchmaker.ErrNoPartner)
	assert.Nil(t, match)
	assert.Equal(t, models.StatusChatting, userStatus(t, m, "cam").Status,
		"claimed candidate must not be touched")
}

func TestFindMatchNeverTrustsEmptyProfile(t *testing.T) {
	// A cleared profile that still matches the waiting query by a stale
	// index must not be paired. Empty docs decode as untrusted.
	svc, m := newService(t)
	seedUser(t, m, "ivy", "Ivy", models.StatusMatchmaking)
	require.NoError(t, m.Replace(context.Background(), models.UserRef("ghost"), store.Doc{}))

	match, err := svc.FindMatch(context.Background(), "ivy", "Ivy")

	require.ErrorIs(t, err, matchmaker.ErrNoPartner)
	assert.Nil(t, match)
}

func TestFindMatchWritesPersonalizedConnectNotices(t *testing.T) {
	// Arrange
	svc, m := newService(t)
	seedUser(t, m, "cam", "Cam", models.StatusWaiting)
	seedUser(t, m, "ivy", "Ivy", models.StatusMatchmaking)

	// Act
	match, err := svc.FindMatch(context.Background(), "ivy", "Ivy")
	require.NoError(t, err)

	// Assert - two connect messages, one per participant, naming the other
	snaps, err := m.GetQuery(context.Background(), store.Query{
		Collection: models.MessagesCollection(match.RoomID),
	})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	byViewer := map[string]models.Message{}
	for _, snap := range snaps {
		msg, ok := models.MessageFromSnapshot(snap)
		require.True(t, ok)
		assert.Equal(t, models.KindSystemConnect, msg.Kind)
		byViewer[msg.VisibleTo] = msg
	}
	assert.Contains(t, byViewer["ivy"].Text, "Cam")
	assert.Contains(t, byViewer["cam"].Text, "Ivy")

	// Visibility filtering is per participant.
	assert.True(t, byViewer["ivy"].VisibleFor("ivy"))
	assert.False(t, byViewer["ivy"].VisibleFor("cam"))
}

func TestConcurrentSeekersSingleCandidateOnePairs(t *testing.T) {
	// Arrange - one waiting user, many simultaneous seekers.
	svc, m := newService(t)
	seedUser(t, m, "cam", "Cam", models.StatusWaiting)
	seekers := []string{"s1", "s2", "s3", "s4", "s5"}
	for _, id := range seekers {
		seedUser(t, m, id, id, models.StatusMatchmaking)
	}

	// Act
	var wg sync.WaitGroup
	results := make([]*matchmaker.Match, len(seekers))
	for i, id := range seekers {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			match, err := svc.FindMatch(context.Background(), id, id)
			if err == nil {
				results[i] = match
			}
		}(i, id)
	}
	wg.Wait()

	// Assert - exactly one seeker claimed cam, the rest parked as waiting
	winners := 0
	for _, match := range results {
		if match != nil {
			winners++
			assert.Equal(t, "cam", match.PartnerID)
		}
	}
	assert.Equal(t, 1, winners, "the single candidate must be claimed exactly once")
	assert.Equal(t, models.StatusChatting, userStatus(t, m, "cam").Status)
}

func TestConcurrentSeekersNoDoublePairing(t *testing.T) {
	// Arrange - an even pool all racing each other.
	svc, m := newService(t)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		seedUser(t, m, id, id, models.StatusWaiting)
	}

	// Act
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = svc.FindMatch(context.Background(), id, id)
		}(id)
	}
	wg.Wait()

	// Assert - every chatting user's partner points back at them
	ctx := context.Background()
	for _, id := range ids {
		us := userStatus(t, m, id)
		if us.Status != models.StatusChatting {
			continue
		}
		partner := userStatus(t, m, us.MatchedWith)
		assert.Equal(t, models.StatusChatting, partner.Status)
		assert.Equal(t, id, partner.MatchedWith, "pairing must be symmetric")
		assert.Equal(t, us.CurrentRoomID, partner.CurrentRoomID)

		roomSnap, err := m.Get(ctx, models.RoomRef(us.CurrentRoomID))
		require.NoError(t, err)
		rm, ok := models.RoomFromSnapshot(roomSnap)
		require.True(t, ok)
		assert.True(t, rm.Has(id))
		assert.True(t, rm.Has(us.MatchedWith))
	}
}
