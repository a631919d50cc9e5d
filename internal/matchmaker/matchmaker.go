// Package matchmaker pairs a seeking user with a waiting stranger. The
// candidate scan is a cheap advisory read; the actual pairing re-validates
// every candidate inside one atomic transaction, so two seekers can never
// both claim the same partner and a seeker can never be claimed while it is
// still scanning (it is not marked waiting until the scan comes up empty).
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"talkstage/backend/internal/config"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/store"
)

// ErrNoPartner means nobody was available; the caller has been placed into
// the waiting pool for a future seeker to find.
var ErrNoPartner = errors.New("matchmaker: no waiting partner")

// Match is a successful pairing.
type Match struct {
	RoomID      string
	PartnerID   string
	PartnerName string
}

// Service runs the pairing algorithm against the document store.
type Service struct {
	store store.Store
	cfg   *config.Config
	log   zerolog.Logger
}

// New creates a matchmaker.
func New(st store.Store, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		store: st,
		cfg:   cfg,
		log:   log.With().Str("component", "matchmaker").Logger(),
	}
}

// FindMatch attempts to pair selfID with one currently-waiting identity.
// On success both status documents and a fresh room are committed
// atomically and personalized connect notices are appended. With no
// candidate available, selfID is written into the waiting pool and
// ErrNoPartner is returned. On a failed transaction the caller is restored
// to matchmaking so nobody is left stuck in waiting.
func (s *Service) FindMatch(ctx context.Context, selfID, selfName string) (*Match, error) {
	candidates, err := s.discover(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("candidate discovery: %w", err)
	}
	if len(candidates) == 0 {
		return nil, s.enterWaiting(ctx, selfID)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MatchMaxAttempts; attempt++ {
		match, err := s.tryPair(ctx, selfID, candidates)
		if err == nil {
			if match == nil {
				// Every candidate was stale; join the pool instead.
				return nil, s.enterWaiting(ctx, selfID)
			}
			s.appendConnectNotices(ctx, match, selfID, selfName)
			s.log.Info().Str("self", selfID).Str("partner", match.PartnerID).Str("room", match.RoomID).Msg("matched")
			return match, nil
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempt).Str("self", selfID).Msg("pairing transaction failed")
		if attempt < s.cfg.MatchMaxAttempts {
			select {
			case <-time.After(s.cfg.MatchRetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	// Do not leave the caller stranded; matchmaking is the safe state.
	if err := s.store.Merge(ctx, models.UserRef(selfID), store.Doc{
		"status": string(models.StatusMatchmaking),
	}); err != nil {
		s.log.Error().Err(err).Str("self", selfID).Msg("restoring matchmaking status")
	}
	return nil, fmt.Errorf("pairing failed: %w", lastErr)
}

// discover performs the advisory, non-transactional candidate read. The
// result may be stale; every candidate is re-validated before any write.
func (s *Service) discover(ctx context.Context, selfID string) ([]store.Snapshot, error) {
	return s.store.GetQuery(ctx, store.Query{
		Collection: models.UsersCollection,
		Filters: []store.Filter{
			{Field: "status", Op: store.OpEqual, Value: string(models.StatusWaiting)},
			{Field: "uid", Op: store.OpNotEqual, Value: selfID},
		},
		Limit: s.cfg.CandidateLimit,
	})
}

// tryPair runs one pairing transaction. Candidates are visited in a fresh
// random order each attempt so simultaneous seekers spread across the pool
// instead of all racing for the same first candidate. A nil, nil return
// means the transaction committed nothing because no candidate was still
// waiting.
func (s *Service) tryPair(ctx context.Context, selfID string, candidates []store.Snapshot) (*Match, error) {
	shuffled := make([]store.Snapshot, len(candidates))
	copy(shuffled, candidates)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var match *Match
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		for _, cand := range shuffled {
			if cand.Ref.ID == selfID {
				continue
			}
			live, err := tx.Get(cand.Ref)
			if err != nil {
				return err
			}
			partner, ok := models.UserStatusFromSnapshot(live)
			if !ok || partner.Status != models.StatusWaiting {
				continue // stale candidate, already claimed or gone
			}

			roomRef := s.store.NewRef(models.RoomsCollection)
			tx.Set(roomRef, models.NewRoomDoc(selfID, partner.ID))
			tx.Merge(models.UserRef(selfID), store.Doc{
				"status":        string(models.StatusChatting),
				"currentRoomId": roomRef.ID,
				"matchedWith":   partner.ID,
			})
			tx.Merge(cand.Ref, store.Doc{
				"status":        string(models.StatusChatting),
				"currentRoomId": roomRef.ID,
				"matchedWith":   selfID,
			})

			match = &Match{
				RoomID:      roomRef.ID,
				PartnerID:   partner.ID,
				PartnerName: partner.DisplayName,
			}
			return nil
		}
		return nil // nothing staged, commit is a no-op
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// enterWaiting puts the caller into the waiting pool.
func (s *Service) enterWaiting(ctx context.Context, selfID string) error {
	err := s.store.Merge(ctx, models.UserRef(selfID), store.Doc{
		"status":       string(models.StatusWaiting),
		"waitingSince": store.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("entering waiting pool: %w", err)
	}
	return ErrNoPartner
}

// appendConnectNotices writes the two personalized system messages, each
// visible only to one participant and naming the other. They ride one batch
// after the pairing commit; losing them is cosmetic, so failure only logs.
func (s *Service) appendConnectNotices(ctx context.Context, match *Match, selfID, selfName string) {
	coll := models.MessagesCollection(match.RoomID)
	ops := []store.WriteOp{
		{
			Ref:     s.store.NewRef(coll),
			Data:    models.SystemMessageDoc(models.KindSystemConnect, connectText(match.PartnerName), selfID),
			Replace: true,
		},
		{
			Ref:     s.store.NewRef(coll),
			Data:    models.SystemMessageDoc(models.KindSystemConnect, connectText(selfName), match.PartnerID),
			Replace: true,
		},
	}
	if err := s.store.Batch(ctx, ops); err != nil {
		s.log.Error().Err(err).Str("room", match.RoomID).Msg("appending connect notices")
	}
}

func connectText(partnerName string) string {
	return fmt.Sprintf("You've got a new talking stage: %s! Go say hi. 💬", partnerName)
}
