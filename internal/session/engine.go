// Package session runs one engine per connected identity: a single
// goroutine that owns the session state, consumes UI actions and store
// snapshots as events, and pushes read-only projections back to the
// connection. All state transitions happen inside the loop, so no locks
// guard the session itself.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"talkstage/backend/internal/config"
	"talkstage/backend/internal/matchmaker"
	"talkstage/backend/internal/models"
	"talkstage/backend/internal/room"
	"talkstage/backend/internal/store"
)

// Announcer accepts banner purchase requests. The announcement service
// implements it; tests stub it.
type Announcer interface {
	Submit(ctx context.Context, requesterID, message string) error
}

type event interface{ isEvent() }

type statusEvent struct{ snap store.Snapshot }
type roomEvent struct{ snap store.Snapshot }
type messagesEvent struct{ msgs []models.Message }
type partnerEvent struct{ snap store.Snapshot }
type waitingTimeoutEvent struct{ epoch uint64 }
type matchResultEvent struct {
	match *matchmaker.Match
	err   error
}

func (statusEvent) isEvent()         {}
func (roomEvent) isEvent()           {}
func (messagesEvent) isEvent()       {}
func (partnerEvent) isEvent()        {}
func (waitingTimeoutEvent) isEvent() {}
func (matchResultEvent) isEvent()    {}

const opTimeout = 10 * time.Second

// Engine drives one user's session.
type Engine struct {
	id       string
	store    store.Store
	cfg      *config.Config
	log      zerolog.Logger
	match    *matchmaker.Service
	rooms    *room.Service
	typing   *room.TypingTracker
	cache    Cache
	announce Announcer // may be nil

	events  chan event
	actions chan models.ClientAction
	updates chan models.Projection
	done    chan struct{}

	// Loop-owned state. Nothing below is touched outside Run.
	state          models.Status
	epoch          uint64
	pendingStatus  models.Status
	displayName    string
	roomID         string
	roomEnded      bool
	partnerID      string
	messages       []models.Message
	partnerTyping  bool
	confirmPending bool

	cancelStatus store.CancelFunc
	cancelRoom   store.CancelFunc
	cancelMsgs   store.CancelFunc
	cancelPeer   store.CancelFunc
	waitTimer    *time.Timer
}

// NewEngine creates an engine for one identity. Run must be called to start
// it.
func NewEngine(id string, st store.Store, cfg *config.Config, log zerolog.Logger,
	match *matchmaker.Service, rooms *room.Service, cache Cache, announce Announcer) *Engine {
	return &Engine{
		id:       id,
		store:    st,
		cfg:      cfg,
		log:      log.With().Str("component", "session").Str("uid", id).Logger(),
		match:    match,
		rooms:    rooms,
		typing:   room.NewTypingTracker(st, cfg, log, id),
		cache:    cache,
		announce: announce,
		events:   make(chan event, 64),
		actions:  make(chan models.ClientAction, 16),
		updates:  make(chan models.Projection, 16),
		done:     make(chan struct{}),
		state:    models.StatusLoading,
	}
}

// Updates is the projection stream for the connection to forward.
func (e *Engine) Updates() <-chan models.Projection { return e.updates }

// HandleAction queues one inbound UI action. It never blocks the reader for
// long: a full queue drops the action, which the UI experiences as a missed
// click.
func (e *Engine) HandleAction(a models.ClientAction) {
	select {
	case e.actions <- a:
	case <-e.done:
	default:
		e.log.Warn().Str("action", a.Type).Msg("action queue full, dropping")
	}
}

// Close stops the engine and records unload bookkeeping for the reload
// grace window.
func (e *Engine) Close() {
	select {
	case <-e.done:
		return
	default:
		close(e.done)
	}
}

// Run is the session loop. It blocks until ctx is cancelled or Close is
// called.
func (e *Engine) Run(ctx context.Context) {
	defer e.teardown()

	e.bootstrap(ctx)

	e.cancelStatus = e.store.Subscribe(models.UserRef(e.id), func(snap store.Snapshot) {
		e.push(statusEvent{snap: snap})
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case ev := <-e.events:
			e.reduce(ctx, ev)
		case a := <-e.actions:
			e.apply(ctx, a)
		}
	}
}

// bootstrap decides between resuming a quick reload and starting a fresh
// visit. Anything past the grace window is a fresh visit: the status
// document is reset to homepage so a stale chatting state can never greet a
// returning user.
func (e *Engine) bootstrap(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	snap, err := e.store.Get(cctx, models.UserRef(e.id))
	if err != nil {
		e.log.Error().Err(err).Msg("bootstrap read failed")
	}
	us, ok := models.UserStatusFromSnapshot(snap)
	if ok {
		e.epoch = us.StateEpoch
		e.displayName = us.DisplayName
	}

	if _, expired := e.cache.Get(e.key("expired")); expired {
		e.cache.Delete(e.key("expired"))
		e.emitWith(func(p *models.Projection) { p.Reload = true })
	}

	if e.withinReloadGrace() {
		if ok && us.Status.InRoom() && us.CurrentRoomID != "" {
			e.log.Debug().Str("room", us.CurrentRoomID).Msg("resuming after reload")
		}
		return
	}

	// Fresh visit: nothing from the previous profile survives, the nickname
	// included.
	e.epoch++
	e.pendingStatus = models.StatusHomepage
	e.displayName = ""
	err = e.store.Merge(cctx, models.UserRef(e.id), store.Doc{
		"status":         string(models.StatusHomepage),
		"displayName":    nil,
		"currentRoomId":  nil,
		"isTyping":       false,
		"typingInRoomId": nil,
		"stateEpoch":     int64(e.epoch),
	})
	if err != nil {
		e.log.Error().Err(err).Msg("fresh visit reset failed")
	}
	e.state = models.StatusHomepage
	e.emit()
}

func (e *Engine) withinReloadGrace() bool {
	raw, ok := e.cache.Get(e.key("lastUnload"))
	if !ok {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return time.Since(t) <= e.cfg.ReloadGraceWindow
}

// MarkUnload records the disconnect instant so the next connection can tell
// a reload from a fresh visit. The gateway calls it when the socket drops.
func (e *Engine) MarkUnload() {
	e.cache.Set(e.key("lastUnload"), time.Now().Format(time.RFC3339Nano))
}

func (e *Engine) key(field string) string { return e.id + ":" + field }

func (e *Engine) push(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) teardown() {
	e.typing.Clear()
	e.stopWaitTimer()
	for _, cancel := range []store.CancelFunc{e.cancelStatus, e.cancelRoom, e.cancelMsgs, e.cancelPeer} {
		if cancel != nil {
			cancel()
		}
	}
	e.MarkUnload()
	close(e.updates)
}

// reduce folds one store event into the session state.
func (e *Engine) reduce(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case statusEvent:
		e.reduceStatus(ev.snap)
	case roomEvent:
		rm, ok := models.RoomFromSnapshot(ev.snap)
		if !ok || !rm.Has(e.id) {
			return
		}
		e.roomEnded = !rm.Active()
		e.emit()
	case messagesEvent:
		e.messages = ev.msgs
		e.emit()
	case partnerEvent:
		peer, ok := models.UserStatusFromSnapshot(ev.snap)
		typing := ok && peer.ID != e.id && peer.TypingIn(e.roomID)
		if typing != e.partnerTyping {
			e.partnerTyping = typing
			e.emit()
		}
	case waitingTimeoutEvent:
		if ev.epoch != e.epoch || e.state != models.StatusWaiting {
			return
		}
		e.giveUpWaiting(ctx)
	case matchResultEvent:
		e.reduceMatchResult(ev)
	}
}

// reduceStatus applies an authoritative status snapshot. While an
// optimistic transition is pending, older snapshots that contradict it are
// ignored by epoch; a snapshot carrying the expected status, or any epoch
// at least as new as ours, clears the pending marker. The latter is what
// lets a partner's pairing write come through.
func (e *Engine) reduceStatus(snap store.Snapshot) {
	// Admin is a local capability grant: no snapshot revokes it, not even a
	// missing document. Only an explicit logout leaves it.
	if e.state == models.StatusAdmin {
		e.pendingStatus = ""
		return
	}

	us, ok := models.UserStatusFromSnapshot(snap)
	if !ok {
		// Missing or cleared profile: never trust it, land on homepage.
		e.setState(models.StatusHomepage, "")
		e.emit()
		return
	}

	if e.pendingStatus != "" {
		if us.Status == e.pendingStatus || us.StateEpoch >= e.epoch {
			e.pendingStatus = ""
		} else if us.StateEpoch < e.epoch {
			return // stale echo of the pre-transition state
		}
	}
	if us.StateEpoch > e.epoch {
		e.epoch = us.StateEpoch
	}
	if us.DisplayName != "" {
		e.displayName = us.DisplayName
	}

	e.setState(us.Status, us.CurrentRoomID)
	e.emit()
}

// setState adopts a new lifecycle state and reconciles the room
// subscriptions and the waiting timer against it.
func (e *Engine) setState(st models.Status, roomID string) {
	prev := e.state
	e.state = st

	if st == models.StatusWaiting {
		if prev != models.StatusWaiting {
			e.armWaitTimer()
		}
	} else {
		e.stopWaitTimer()
	}

	if st.InRoom() && roomID != "" {
		if roomID != e.roomID {
			e.attachRoom(roomID)
		}
	} else {
		e.detachRoom()
	}
}

func (e *Engine) attachRoom(roomID string) {
	e.detachRoom()
	e.roomID = roomID
	e.roomEnded = false

	e.cancelRoom = e.store.Subscribe(models.RoomRef(roomID), func(snap store.Snapshot) {
		e.push(roomEvent{snap: snap})
	})
	e.cancelMsgs = e.rooms.SubscribeMessages(roomID, func(msgs []models.Message) {
		e.push(messagesEvent{msgs: msgs})
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rm, ok, err := e.rooms.Room(ctx, roomID)
	if err != nil {
		e.log.Error().Err(err).Str("room", roomID).Msg("room read failed")
		return
	}
	if !ok || !rm.Has(e.id) {
		return
	}
	e.roomEnded = !rm.Active()
	e.partnerID = rm.Partner(e.id)
	if e.partnerID != "" {
		e.cancelPeer = e.store.Subscribe(models.UserRef(e.partnerID), func(snap store.Snapshot) {
			e.push(partnerEvent{snap: snap})
		})
	}
}

func (e *Engine) detachRoom() {
	for _, cancel := range []store.CancelFunc{e.cancelRoom, e.cancelMsgs, e.cancelPeer} {
		if cancel != nil {
			cancel()
		}
	}
	e.cancelRoom, e.cancelMsgs, e.cancelPeer = nil, nil, nil
	e.roomID = ""
	e.roomEnded = false
	e.partnerID = ""
	e.messages = nil
	e.partnerTyping = false
	e.typing.Drop()
}

func (e *Engine) armWaitTimer() {
	e.stopWaitTimer()
	epoch := e.epoch
	e.waitTimer = time.AfterFunc(e.cfg.WaitingTimeout, func() {
		e.push(waitingTimeoutEvent{epoch: epoch})
	})
}

func (e *Engine) stopWaitTimer() {
	if e.waitTimer != nil {
		e.waitTimer.Stop()
		e.waitTimer = nil
	}
}

// giveUpWaiting demotes a user whose wait ran out, but only if the store
// still says waiting. A pairing commit racing the timer must win: its
// snapshot can sit queued behind the timer event, and a blind merge here
// would clobber the fresh room assignment and orphan the partner.
func (e *Engine) giveUpWaiting(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	epoch := e.epoch + 1
	demoted := false
	err := e.store.RunTransaction(cctx, func(tx store.Tx) error {
		demoted = false
		snap, err := tx.Get(models.UserRef(e.id))
		if err != nil {
			return err
		}
		us, ok := models.UserStatusFromSnapshot(snap)
		if !ok || us.Status != models.StatusWaiting {
			return nil
		}
		tx.Merge(models.UserRef(e.id), store.Doc{
			"status":        string(models.StatusMatchmaking),
			"currentRoomId": nil,
			"stateEpoch":    int64(epoch),
		})
		demoted = true
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Msg("waiting timeout demotion failed")
		return
	}
	if !demoted {
		// Paired in the meantime; the pairing snapshot carries the new state.
		return
	}

	e.epoch = epoch
	e.pendingStatus = models.StatusMatchmaking
	e.setState(models.StatusMatchmaking, "")
	e.emitWith(func(p *models.Projection) {
		p.Notice = &models.Notice{Level: "info", Text: "No one's around right now 😅 Try again in a bit."}
	})
}

func (e *Engine) reduceMatchResult(ev matchResultEvent) {
	if ev.err != nil {
		if errors.Is(ev.err, matchmaker.ErrNoPartner) {
			return // parked as waiting; the timeout or a partner resolves it
		}
		e.log.Error().Err(ev.err).Msg("matchmaking failed")
		e.pendingStatus = ""
		e.state = models.StatusMatchmaking
		e.emitWith(func(p *models.Projection) {
			p.Notice = &models.Notice{Level: "error", Text: "Matchmaking hiccuped. Give it another go."}
		})
		return
	}
	// The pairing write lands via the status subscription; nothing to do.
	e.log.Debug().Str("room", ev.match.RoomID).Str("partner", ev.match.PartnerID).Msg("matched")
}

// transition performs an optimistic local transition plus the backing
// status write. The epoch bump stamps the write so stale snapshots of the
// old state are recognizable.
func (e *Engine) transition(ctx context.Context, next models.Status, fields store.Doc) {
	e.epoch++
	e.pendingStatus = next
	fields["stateEpoch"] = int64(e.epoch)

	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := e.store.Merge(cctx, models.UserRef(e.id), fields); err != nil {
		e.log.Error().Err(err).Str("to", string(next)).Msg("status write failed")
		e.pendingStatus = ""
		e.emitWith(func(p *models.Projection) {
			p.Notice = &models.Notice{Level: "error", Text: "That didn't go through. Try again."}
		})
		return
	}
	e.setState(next, e.roomID)
	e.emit()
}

// apply executes one UI action against the current state. Actions invalid
// in the current state are dropped with a debug log, not an error: a slow
// UI can always race a state change.
func (e *Engine) apply(ctx context.Context, a models.ClientAction) {
	switch a.Type {
	case models.ActionAcceptTerms:
		if e.state != models.StatusHomepage {
			e.drop(a)
			return
		}
		e.transition(ctx, models.StatusNickname, store.Doc{
			"status": string(models.StatusNickname),
		})

	case models.ActionSubmitNickname:
		e.applySubmitNickname(ctx, a)

	case models.ActionFindChat:
		e.applyFindChat(a)

	case models.ActionSendMessage:
		if !e.inActiveRoom() {
			e.drop(a)
			return
		}
		if err := e.rooms.SendMessage(ctx, e.roomID, e.id, e.displayName, a.Text); err != nil {
			e.notifyErr("send message", err)
			return
		}
		e.typing.Drop()

	case models.ActionTyping:
		if !e.inActiveRoom() {
			return
		}
		if a.Composing {
			e.typing.Compose(e.roomID)
		} else {
			e.typing.Clear()
		}

	case models.ActionReact:
		if e.roomID == "" {
			e.drop(a)
			return
		}
		if err := e.rooms.React(ctx, e.roomID, a.MessageID, e.id, a.Emoji); err != nil {
			e.notifyErr("react", err)
		}

	case models.ActionSendPoll:
		if !e.inActiveRoom() {
			e.drop(a)
			return
		}
		if err := e.rooms.SendPoll(ctx, e.roomID, a.TemplateID); err != nil {
			e.notifyErr("send poll", err)
		}

	case models.ActionVotePoll:
		if e.roomID == "" {
			e.drop(a)
			return
		}
		if err := e.rooms.VoteOnPoll(ctx, e.roomID, a.MessageID, e.id, a.OptionID); err != nil {
			e.notifyErr("vote", err)
		}

	case models.ActionEndChat, models.ActionNextStranger:
		e.applyEndChat(ctx, a.Type == models.ActionNextStranger)

	case models.ActionLeaveChat:
		if e.state != models.StatusChatEnded {
			e.drop(a)
			return
		}
		e.transition(ctx, models.StatusMatchmaking, store.Doc{
			"status":        string(models.StatusMatchmaking),
			"currentRoomId": nil,
		})

	case models.ActionResetProfile:
		e.confirmPending = true
		e.emitWith(func(p *models.Projection) {
			p.Confirm = &models.ConfirmRequest{
				ID:      "reset-profile",
				Message: "Start over? Your nickname and chat history pointer are wiped.",
			}
		})

	case models.ActionConfirmReset:
		e.applyConfirmReset(ctx)

	case models.ActionReportPartner:
		if e.roomID == "" || e.partnerID == "" {
			e.drop(a)
			return
		}
		if err := e.rooms.ReportPartner(ctx, e.roomID, e.id, e.partnerID, a.Reason); err != nil {
			e.notifyErr("report", err)
			return
		}
		e.emitWith(func(p *models.Projection) {
			p.Notice = &models.Notice{Level: "success", Text: "Report filed. Thanks for flagging it."}
		})

	case models.ActionAdminAccess:
		e.applyAdminAccess(ctx, a)

	case models.ActionAdminLogout:
		if e.state != models.StatusAdmin {
			e.drop(a)
			return
		}
		e.transition(ctx, models.StatusHomepage, store.Doc{
			"status":  string(models.StatusHomepage),
			"isAdmin": false,
		})

	case models.ActionRequestAnnouncement:
		e.applyRequestAnnouncement(ctx, a)

	default:
		e.log.Debug().Str("action", a.Type).Msg("unknown action")
	}
}

func (e *Engine) applySubmitNickname(ctx context.Context, a models.ClientAction) {
	if e.state != models.StatusNickname {
		e.drop(a)
		return
	}
	name := strings.TrimSpace(a.Name)
	if n := utf8.RuneCountInString(name); n < 3 || n > 24 {
		e.emitWith(func(p *models.Projection) {
			p.Notice = &models.Notice{Level: "error", Text: "Pick a nickname between 3 and 24 characters."}
		})
		return
	}

	// Full overwrite: a returning user's old room pointers must not survive
	// a new profile.
	e.epoch++
	e.pendingStatus = models.StatusMatchmaking
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := e.store.Replace(cctx, models.UserRef(e.id), models.ProfileDoc(e.id, name, e.epoch)); err != nil {
		e.log.Error().Err(err).Msg("profile write failed")
		e.pendingStatus = ""
		e.notifyErr("save nickname", err)
		return
	}
	e.displayName = name
	e.setState(models.StatusMatchmaking, "")
	e.emit()
}

func (e *Engine) applyFindChat(a models.ClientAction) {
	if e.state != models.StatusMatchmaking && e.state != models.StatusChatEnded {
		e.drop(a)
		return
	}
	e.startSearch()
}

// startSearch shows waiting immediately and runs the matchmaker off-loop.
// The epoch is deliberately not bumped: the matchmaker's own status writes
// carry the previous epoch and must not be ignored as stale.
func (e *Engine) startSearch() {
	e.pendingStatus = models.StatusWaiting
	e.setState(models.StatusWaiting, "")
	e.emit()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WaitingTimeout)
		defer cancel()
		m, err := e.match.FindMatch(ctx, e.id, e.displayName)
		e.push(matchResultEvent{match: m, err: err})
	}()
}

func (e *Engine) applyEndChat(ctx context.Context, searchNext bool) {
	if e.roomID == "" {
		e.drop(models.ClientAction{Type: models.ActionEndChat})
		return
	}
	roomID := e.roomID
	e.epoch++
	e.pendingStatus = models.StatusMatchmaking

	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := e.rooms.EndChat(cctx, roomID, e.id, e.displayName); err != nil {
		e.log.Error().Err(err).Str("room", roomID).Msg("end chat failed")
		e.pendingStatus = ""
		e.notifyErr("end chat", err)
		return
	}
	e.setState(models.StatusMatchmaking, "")
	e.emit()

	if searchNext {
		e.applyFindChat(models.ClientAction{Type: models.ActionNextStranger})
	}
}

func (e *Engine) applyConfirmReset(ctx context.Context) {
	if !e.confirmPending {
		return
	}
	e.confirmPending = false

	e.epoch++
	e.pendingStatus = models.StatusHomepage
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := e.store.Replace(cctx, models.UserRef(e.id), store.Doc{}); err != nil {
		e.log.Error().Err(err).Msg("profile reset failed")
		e.pendingStatus = ""
		e.notifyErr("reset", err)
		return
	}
	e.cache.Delete(e.key("lastUnload"))
	e.displayName = ""
	e.detachRoom()
	e.setState(models.StatusHomepage, "")
	e.emitWith(func(p *models.Projection) {
		p.Notice = &models.Notice{Level: "success", Text: "Fresh start. 🌱"}
	})
}

// applyAdminAccess validates the admin secret server-side. The secret never
// leaves the server and a failed attempt looks identical to a typo.
func (e *Engine) applyAdminAccess(ctx context.Context, a models.ClientAction) {
	if e.cfg.AdminSecret == "" ||
		subtle.ConstantTimeCompare([]byte(a.Password), []byte(e.cfg.AdminSecret)) != 1 {
		e.emitWith(func(p *models.Projection) {
			p.Notice = &models.Notice{Level: "error", Text: "Nope."}
		})
		return
	}
	e.transition(ctx, models.StatusAdmin, store.Doc{
		"status":  string(models.StatusAdmin),
		"isAdmin": true,
	})
}

func (e *Engine) applyRequestAnnouncement(ctx context.Context, a models.ClientAction) {
	if e.announce == nil {
		e.emitWith(func(p *models.Projection) {
			p.Notice = &models.Notice{Level: "error", Text: "Announcements are not available right now."}
		})
		return
	}
	cctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := e.announce.Submit(cctx, e.id, a.Text); err != nil {
		e.notifyErr("announcement request", err)
		return
	}
	e.emitWith(func(p *models.Projection) {
		p.Notice = &models.Notice{
			Level: "success",
			Text: fmt.Sprintf("Request sent! Once payment (₱%d) is confirmed, your banner runs for %d minutes.",
				e.cfg.AnnouncementPrice, int(e.cfg.AnnouncementDuration.Minutes())),
		}
	})
}

func (e *Engine) inActiveRoom() bool {
	return e.state == models.StatusChatting && e.roomID != "" && !e.roomEnded
}

func (e *Engine) drop(a models.ClientAction) {
	e.log.Debug().Str("action", a.Type).Str("state", string(e.state)).Msg("action invalid in state, dropped")
}

func (e *Engine) notifyErr(what string, err error) {
	e.log.Warn().Err(err).Msg(what + " failed")
	e.emitWith(func(p *models.Projection) {
		p.Notice = &models.Notice{Level: "error", Text: "Couldn't " + what + ". Try again."}
	})
}

func (e *Engine) emit() { e.emitWith(nil) }

// emitWith pushes the current projection, optionally decorated with a
// one-shot field (notice, confirm, reload). If the connection is not
// draining fast enough the oldest projection is discarded; only the latest
// view matters.
func (e *Engine) emitWith(decorate func(*models.Projection)) {
	visible := make([]models.Message, 0, len(e.messages))
	for _, m := range e.messages {
		if m.VisibleFor(e.id) {
			visible = append(visible, m)
		}
	}
	p := models.Projection{
		State:         e.state,
		Epoch:         e.epoch,
		DisplayName:   e.displayName,
		RoomID:        e.roomID,
		RoomEnded:     e.roomEnded,
		Messages:      visible,
		PartnerTyping: e.partnerTyping,
	}
	if decorate != nil {
		decorate(&p)
	}
	select {
	case e.updates <- p:
	default:
		select {
		case <-e.updates:
		default:
		}
		select {
		case e.updates <- p:
		default:
		}
	}
}
