package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"talkstage/backend/internal/liveness"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Anonymous product, no cookies to protect. Lock down per deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serverFrame is one outbound message: the session projection plus the
// global banner.
type serverFrame struct {
	models.Projection
	Announcement *models.AnnouncementView `json:"announcement,omitempty"`
}

// wsConn is one live connection: its socket, its session engine, and its
// liveness supervisor.
type wsConn struct {
	conn     *websocket.Conn
	engine   *session.Engine
	sup      *liveness.Supervisor
	log      zerolog.Logger
	bannerCh chan struct{}
	reloadCh chan struct{}
}

func (c *wsConn) notifyBanner() {
	select {
	case c.bannerCh <- struct{}{}:
	default:
	}
}

func (c *wsConn) notifyReload() {
	select {
	case c.reloadCh <- struct{}{}:
	default:
	}
}

// ServeWebSocket upgrades the connection and runs the session until the
// socket drops.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	tokenString := bearerToken(c)
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return
	}
	anonID, err := h.validateAndGetAnonID(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	var announcer session.Announcer
	if h.announce != nil {
		announcer = h.announce
	}
	engine := session.NewEngine(anonID, h.store, h.cfg, h.log, h.match, h.rooms, h.cache, announcer)

	wc := &wsConn{
		conn:     conn,
		engine:   engine,
		log:      h.log.With().Str("uid", anonID).Logger(),
		bannerCh: make(chan struct{}, 1),
		reloadCh: make(chan struct{}, 1),
	}
	wc.sup = liveness.New(h.store, h.cfg, h.log, anonID, h.cache, wc.notifyReload)

	h.track(wc)
	defer h.untrack(wc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)
	go wc.sup.Run(ctx)
	go wc.writePump(h)

	wc.readPump()

	// Socket is gone: stop everything and record the disconnect.
	cancel()
	engine.Close()
	wc.sup.Unload()
	wc.sup.Stop()
}

func (c *wsConn) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("ws read error")
			}
			return
		}

		var action models.ClientAction
		if err := json.Unmarshal(raw, &action); err != nil {
			c.log.Debug().Err(err).Msg("bad action frame, skipping")
			continue
		}

		// Visibility steers the liveness supervisor, not the session.
		if action.Type == models.ActionVisibility {
			c.sup.SetHidden(action.Hidden)
			continue
		}
		c.engine.HandleAction(action)
	}
}

func (c *wsConn) writePump(h *Handler) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var last serverFrame

	for {
		select {
		case p, ok := <-c.engine.Updates():
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			last = serverFrame{Projection: p, Announcement: h.currentBanner()}
			if !c.write(last) {
				return
			}
		case <-c.bannerCh:
			last.Announcement = h.currentBanner()
			if !c.write(last) {
				return
			}
		case <-c.reloadCh:
			frame := last
			frame.Reload = true
			if !c.write(frame) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(frame serverFrame) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		c.log.Debug().Err(err).Msg("ws write error")
		return false
	}
	return true
}
