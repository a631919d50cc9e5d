package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"talkstage/backend/internal/config"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/store"
)

const typingWriteTimeout = 5 * time.Second

// TypingTracker debounces one user's typing indicator. Keystrokes call
// Compose; the flag is raised with the room it belongs to and dropped after
// the debounce window passes without another keystroke. Scoping the flag to
// a room keeps a stale indicator from leaking into the user's next chat.
type TypingTracker struct {
	store  store.Store
	cfg    *config.Config
	log    zerolog.Logger
	userID string

	mu     sync.Mutex
	timer  *time.Timer
	raised bool
}

// NewTypingTracker creates a tracker for one user.
func NewTypingTracker(st store.Store, cfg *config.Config, log zerolog.Logger, userID string) *TypingTracker {
	return &TypingTracker{
		store:  st,
		cfg:    cfg,
		log:    log.With().Str("component", "typing").Str("uid", userID).Logger(),
		userID: userID,
	}
}

// Compose registers a keystroke in roomID: raises the flag if it is down and
// pushes the auto-clear deadline out by the debounce window.
func (t *TypingTracker) Compose(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.raised {
		t.raised = true
		t.write(store.Doc{"isTyping": true, "typingInRoomId": roomID})
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.cfg.TypingDebounce, t.expire)
}

func (t *TypingTracker) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.raised {
		return
	}
	t.raised = false
	t.write(store.Doc{"isTyping": false, "typingInRoomId": nil})
}

// Clear drops the flag immediately. Sending a message and closing the
// connection both go through here.
func (t *TypingTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.raised {
		return
	}
	t.raised = false
	t.write(store.Doc{"isTyping": false, "typingInRoomId": nil})
}

// Drop resets the tracker without writing. Used when another write already
// lowered the flag, e.g. the batch that sends a message.
func (t *TypingTracker) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.raised = false
}

// write is best effort; a missed typing flag is cosmetic.
func (t *TypingTracker) write(fields store.Doc) {
	ctx, cancel := context.WithTimeout(context.Background(), typingWriteTimeout)
	defer cancel()
	if err := t.store.Merge(ctx, models.UserRef(t.userID), fields); err != nil {
		t.log.Warn().Err(err).Msg("typing flag write failed")
	}
}
