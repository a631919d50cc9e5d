package announce

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"talkstage/backend/internal/models"
)

// Watcher polls for banner changes and pushes them to connected clients.
// Announcements change on admin timescales, so polling beats wiring the
// admin path into the realtime store.
type Watcher struct {
	svc       *Service
	log       zerolog.Logger
	interval  time.Duration
	broadcast func(*models.AnnouncementView)

	lastID uint
	hadOne bool
}

// NewWatcher creates a watcher that calls broadcast whenever the live
// banner appears, changes, or expires. A nil view means no banner.
func NewWatcher(svc *Service, log zerolog.Logger, interval time.Duration, broadcast func(*models.AnnouncementView)) *Watcher {
	return &Watcher{
		svc:       svc,
		log:       log.With().Str("component", "announce-watcher").Logger(),
		interval:  interval,
		broadcast: broadcast,
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll performs one banner check, broadcasting only on change.
func (w *Watcher) Poll(ctx context.Context) {
	view, err := w.svc.Active(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("banner poll failed")
		return
	}

	switch {
	case view == nil && w.hadOne:
		w.hadOne = false
		w.lastID = 0
		w.broadcast(nil)
	case view != nil && (!w.hadOne || view.ID != w.lastID):
		w.hadOne = true
		w.lastID = view.ID
		w.broadcast(view)
	}
}
