// Package liveness keeps a connected user's presence fields honest: a
// periodic heartbeat while they are visible in the pool or a chat, a
// scaled-back footprint when the tab is hidden for long, and a stale marker
// that forces a clean reload after a long absence.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"talkstage/backend/internal/config"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/store"
)

const writeTimeout = 5 * time.Second

// Cache is the slice of the session cache the supervisor needs: it only
// plants the stale marker the next session bootstrap consumes.
type Cache interface {
	Set(key, value string)
}

// Supervisor maintains liveness for one connected user.
type Supervisor struct {
	store  store.Store
	cfg    *config.Config
	log    zerolog.Logger
	userID string
	cache  Cache

	// onReload fires when the user foregrounds a session that went stale
	// while hidden. May be nil.
	onReload func()

	mu           sync.Mutex
	status       models.Status
	hidden       bool
	stale        bool
	cleanupTimer *time.Timer
	staleTimer   *time.Timer

	done chan struct{}
}

// New creates a supervisor for one user. onReload may be nil.
func New(st store.Store, cfg *config.Config, log zerolog.Logger, userID string, cache Cache, onReload func()) *Supervisor {
	return &Supervisor{
		store:    st,
		cfg:      cfg,
		log:      log.With().Str("component", "liveness").Str("uid", userID).Logger(),
		userID:   userID,
		cache:    cache,
		onReload: onReload,
		done:     make(chan struct{}),
	}
}

// Run drives the heartbeat until ctx is cancelled or Stop is called.
func (s *Supervisor) Run(ctx context.Context) {
	cancel := s.store.Subscribe(models.UserRef(s.userID), func(snap store.Snapshot) {
		us, ok := models.UserStatusFromSnapshot(snap)
		s.mu.Lock()
		if ok {
			s.status = us.Status
		} else {
			s.status = models.StatusHomepage
		}
		s.mu.Unlock()
	})
	defer cancel()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.beat()
		}
	}
}

// beat refreshes the liveness fields. Only users who matter to someone else
// right now, a waiting candidate or a chat partner, pay the write.
func (s *Supervisor) beat() {
	s.mu.Lock()
	active := !s.hidden &&
		(s.status == models.StatusChatting || s.status == models.StatusWaiting)
	s.mu.Unlock()
	if !active {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := s.store.Merge(ctx, models.UserRef(s.userID), store.Doc{
		"lastHeartbeat": store.ServerTimestamp,
		"lastSeen":      store.ServerTimestamp,
		"isActive":      true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("heartbeat write failed")
	}
}

// SetHidden tracks tab visibility. Going hidden arms two deadlines: the
// cleanup delay, after which only lastSeen is refreshed, and the stale
// window, after which the session must reload before being trusted again.
// Coming back within the windows simply disarms them.
func (s *Supervisor) SetHidden(hidden bool) {
	s.mu.Lock()
	if hidden == s.hidden {
		s.mu.Unlock()
		return
	}
	s.hidden = hidden

	if hidden {
		s.cleanupTimer = time.AfterFunc(s.cfg.HiddenCleanupDelay, s.hiddenCleanup)
		s.staleTimer = time.AfterFunc(s.cfg.StaleSessionWindow, s.markStale)
		s.mu.Unlock()
		return
	}

	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	if s.staleTimer != nil {
		s.staleTimer.Stop()
		s.staleTimer = nil
	}
	wasStale := s.stale
	s.stale = false
	s.mu.Unlock()

	if wasStale {
		if s.onReload != nil {
			s.onReload()
		}
		return
	}
	// Back in view and still fresh: refresh presence right away instead of
	// waiting out the ticker.
	s.beat()
}

// hiddenCleanup runs after the tab stayed hidden past the cleanup delay. It
// touches lastSeen only: status and room membership stay intact so a user
// who merely backgrounded the tab is not kicked out of their chat.
func (s *Supervisor) hiddenCleanup() {
	s.mu.Lock()
	still := s.hidden
	s.mu.Unlock()
	if !still {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := s.store.Merge(ctx, models.UserRef(s.userID), store.Doc{
		"lastSeen": store.ServerTimestamp,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("hidden cleanup write failed")
	}
}

// markStale plants the reload marker once the hidden session outlives the
// stale window. The session engine consumes the marker on its next
// bootstrap; if the user foregrounds this same connection, onReload fires.
func (s *Supervisor) markStale() {
	s.mu.Lock()
	if !s.hidden {
		s.mu.Unlock()
		return
	}
	s.stale = true
	s.mu.Unlock()

	s.cache.Set(s.userID+":expired", "1")
	s.log.Info().Msg("session marked stale while hidden")
}

// Unload records the disconnect, best effort. Status is left untouched so a
// quick reload can resume the session.
func (s *Supervisor) Unload() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := s.store.Merge(ctx, models.UserRef(s.userID), store.Doc{
		"isActive": false,
		"lastSeen": store.ServerTimestamp,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("unload write failed")
	}
}

// Stop halts the heartbeat loop and disarms the hidden timers.
func (s *Supervisor) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	if s.staleTimer != nil {
		s.staleTimer.Stop()
		s.staleTimer = nil
	}
}
