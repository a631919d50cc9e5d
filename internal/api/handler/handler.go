// Package handler is the HTTP/WebSocket surface: anonymous identity
// issuance and the realtime gateway that owns one session engine per
// connection.
package handler

import (
	"sync"

	"github.com/rs/zerolog"

	"talkstage/backend/internal/announce"
	"talkstage/backend/internal/config"
	"talkstage/backend/internal/matchmaker"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/room"
	"talkstage/backend/internal/session"
	"talkstage/backend/internal/store"
)

// Handler wires the realtime gateway to the services behind it.
type Handler struct {
	store    store.Store
	cfg      *config.Config
	log      zerolog.Logger
	match    *matchmaker.Service
	rooms    *room.Service
	announce *announce.Service // may be nil
	cache    session.Cache

	mu     sync.RWMutex
	banner *models.AnnouncementView
	conns  map[*wsConn]struct{}
}

// New creates the handler. announceSvc may be nil when announcements are
// not configured.
func New(st store.Store, cfg *config.Config, log zerolog.Logger,
	match *matchmaker.Service, rooms *room.Service, announceSvc *announce.Service, cache session.Cache) *Handler {
	return &Handler{
		store:    st,
		cfg:      cfg,
		log:      log.With().Str("component", "gateway").Logger(),
		match:    match,
		rooms:    rooms,
		announce: announceSvc,
		cache:    cache,
		conns:    make(map[*wsConn]struct{}),
	}
}

// BroadcastBanner pushes a banner change to every open connection. The
// announcement watcher calls it; nil clears the banner.
func (h *Handler) BroadcastBanner(view *models.AnnouncementView) {
	h.mu.Lock()
	h.banner = view
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.notifyBanner()
	}
}

func (h *Handler) currentBanner() *models.AnnouncementView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.banner
}

func (h *Handler) track(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}
