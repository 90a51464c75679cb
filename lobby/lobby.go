// lobby/lobby.go
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/snaked/gameserver/broadcast"
	"github.com/snaked/gameserver/config"
	"github.com/snaked/gameserver/game"
	"github.com/snaked/gameserver/ledger"
	"github.com/snaked/gameserver/logger"
	"github.com/snaked/gameserver/models"
	"github.com/snaked/gameserver/network"
	"github.com/snaked/gameserver/session"
	"github.com/snaked/gameserver/state"
	"github.com/snaked/gameserver/timer"
)

// Matchmaking modes.
const (
	ModeReservation = "reservation"
	ModeInstant     = "instant"
)

const ledgerTimeout = 10 * time.Second

type queueEntry struct {
	sess   *session.Session
	userID int64
	amount float64
}

// Manager owns matchmaking: the waiting set, the countdown state
// machine, entry-fee settlement and the session-to-room routing table.
//
// Locking: m.mu protects queue, routing, inflight, countdownLeft and
// startBatch. It is never held across ledger calls, blocking room calls
// or network writes. The state machine has its own mutex and is always
// taken after m.mu, never the other way around.
type Manager struct {
	cfg     config.LobbyConfig
	gameCfg config.GameConfig

	ledger      ledger.Ledger
	rooms       *game.Manager
	broadcaster broadcast.Broadcaster
	timers      *timer.TimerManager
	metrics     Metrics

	mu            sync.Mutex
	machine       state.StateMachine
	queue         map[string]*queueEntry // sessionID -> waiting player
	routing       map[string]string      // sessionID -> roomID
	inflight      map[string]*queueEntry // being settled/seated right now
	aborted       map[string]bool        // inflight players who disconnected
	countdownLeft int
	startBatch    []*queueEntry

	tickerID int64
}

func NewManager(cfg config.LobbyConfig, gameCfg config.GameConfig, rooms *game.Manager,
	broadcaster broadcast.Broadcaster, wallet ledger.Ledger, timers *timer.TimerManager, metrics Metrics) *Manager {
	m := &Manager{
		cfg:         cfg,
		gameCfg:     gameCfg,
		ledger:      wallet,
		rooms:       rooms,
		broadcaster: broadcaster,
		timers:      timers,
		metrics:     metrics,
		queue:       make(map[string]*queueEntry),
		routing:     make(map[string]string),
		inflight:    make(map[string]*queueEntry),
		aborted:     make(map[string]bool),
	}
	m.machine = state.NewBaseStateMachine(newIdleState())
	if timers != nil {
		m.tickerID = timers.AddTimer(time.Second, time.Second, m.tick)
	}
	return m
}

// Stop cancels the countdown ticker. Rooms keep running; the caller
// shuts those down through the room manager.
func (m *Manager) Stop() {
	if m.timers != nil {
		m.timers.RemoveTimer(m.tickerID)
	}
}

// stakePoints is the in-game value one settled entry fee buys.
func (m *Manager) stakePoints() int64 {
	return int64(math.Round(m.cfg.EntryFee * float64(m.gameCfg.PointsPerUnit)))
}

// HandleJoin processes a join request from an authenticated session.
func (m *Manager) HandleJoin(sess *session.Session, req models.JoinLobbyRequest) {
	if m.cfg.Mode == ModeInstant {
		m.joinInstant(sess, req)
		return
	}
	m.joinReservation(sess)
}

// joinReservation places a hold on the entry fee and adds the player to
// the waiting set. The actual debit happens at game start.
func (m *Manager) joinReservation(sess *session.Session) {
	if sess.UserID == 0 {
		m.sendError(sess, models.ReasonNotAuthenticated, "sign in to join a paid game")
		return
	}

	m.mu.Lock()
	_, queued := m.queue[sess.ID]
	_, settling := m.inflight[sess.ID]
	_, seated := m.routing[sess.ID]
	m.mu.Unlock()
	if queued || settling {
		m.sendError(sess, models.ReasonAlreadyQueued, "already waiting for a game")
		return
	}
	if seated {
		m.sendError(sess, models.ReasonAlreadyPlaying, "already in a game")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := m.ledger.Reserve(ctx, sess.UserID, m.cfg.EntryFee); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			m.sendError(sess, models.ReasonInsufficientBalance,
				fmt.Sprintf("balance does not cover the %.2f entry fee", m.cfg.EntryFee))
		} else {
			logger.Log.Errorf("Lobby: reserve for user %d: %v", sess.UserID, err)
			m.sendError(sess, models.ReasonSettlementFailed, "could not reserve entry fee")
		}
		return
	}

	m.mu.Lock()
	// Re-check: a duplicate join may have slipped in while reserving.
	if _, dup := m.queue[sess.ID]; dup {
		m.mu.Unlock()
		m.ledger.Release(sess.UserID, m.cfg.EntryFee)
		m.sendError(sess, models.ReasonAlreadyQueued, "already waiting for a game")
		return
	}
	m.queue[sess.ID] = &queueEntry{sess: sess, userID: sess.UserID, amount: m.cfg.EntryFee}
	if m.machine.GetCurrentState().GetID() == stateIdle {
		m.machine.ChangeState(newCountingState(m))
	}
	var batch []*queueEntry
	if len(m.queue) >= m.cfg.MaxPlayers {
		batch = m.takeBatchLocked()
	}
	update, recipients := m.lobbyUpdateLocked()
	m.mu.Unlock()

	logger.Log.Infof("Lobby: user %d (%s) queued, fee %.2f held", sess.UserID, sess.Username, m.cfg.EntryFee)
	m.sendLobbyUpdate(update, recipients)
	m.updateQueueMetric()
	if batch != nil {
		go m.startGame(batch)
	}
}

// joinInstant seats the player immediately and converts the reported ad
// revenue into points scattered across the room. No balance is touched.
func (m *Manager) joinInstant(sess *session.Session, req models.JoinLobbyRequest) {
	if req.AdRevenue < m.cfg.MinAdRevenue || req.AdRevenue > m.cfg.MaxAdRevenue {
		m.sendError(sess, models.ReasonInvalidInput,
			fmt.Sprintf("ad revenue must be between %.3f and %.3f", m.cfg.MinAdRevenue, m.cfg.MaxAdRevenue))
		return
	}

	m.mu.Lock()
	if _, seated := m.routing[sess.ID]; seated {
		m.mu.Unlock()
		m.sendError(sess, models.ReasonAlreadyPlaying, "already in a game")
		return
	}
	m.mu.Unlock()

	room := m.rooms.FindAvailable(m.cfg.MaxPlayers)
	if room == nil {
		room = m.rooms.CreateRoom(m.gameCfg, m.broadcaster, m.handleRoomEmpty)
	}
	points := int64(math.Round(req.AdRevenue * float64(m.gameCfg.PointsPerUnit)))
	room.InjectPoints(points)

	start, ok := room.Join(sess, 0)
	if !ok {
		m.sendError(sess, models.ReasonInvalidInput, "room is shutting down, try again")
		return
	}
	m.mu.Lock()
	m.routing[sess.ID] = room.ID
	m.mu.Unlock()
	sess.RoomID = room.ID

	m.send(sess, network.MsgTypeGameStart, models.GameStart{RoomID: room.ID, Player: start})
	if m.metrics != nil {
		m.metrics.IncGamesStarted()
		m.metrics.SetActiveRooms(m.rooms.Count())
	}
	logger.Log.Infof("Lobby: session %s seated instantly in room %s, %d points injected", sess.ID, room.ID, points)
}

// HandleLeave processes a voluntary leave. A queued player gets their
// hold back; a seated player leaves the room alive and cashes out.
func (m *Manager) HandleLeave(sess *session.Session) {
	if m.removeFromQueue(sess.ID) {
		return
	}
	if m.markAbortedIfInflight(sess.ID) {
		return
	}
	m.leaveRoom(sess, false)
}

// HandleDisconnect is the transport-loss variant of HandleLeave: the
// snake dies in place and nothing is credited. Idempotent; a second
// call finds no trace of the session.
func (m *Manager) HandleDisconnect(sess *session.Session) {
	if m.removeFromQueue(sess.ID) {
		return
	}
	if m.markAbortedIfInflight(sess.ID) {
		return
	}
	m.leaveRoom(sess, true)
}

// HandleMove forwards an input update to the player's room. Unrouted
// sessions are ignored.
func (m *Manager) HandleMove(sess *session.Session, req models.MoveRequest) {
	m.mu.Lock()
	roomID, ok := m.routing[sess.ID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if room, exists := m.rooms.GetRoom(roomID); exists {
		room.Move(sess.ID, req)
	}
}

// InjectRevenue scatters externally funded points into a running room.
// Exposed to the admin RPC surface.
func (m *Manager) InjectRevenue(roomID string, revenue float64) error {
	room, ok := m.rooms.GetRoom(roomID)
	if !ok {
		return broadcast.ErrRoomNotFound
	}
	room.InjectPoints(int64(math.Round(revenue * float64(m.gameCfg.PointsPerUnit))))
	return nil
}

// QueuedCount reports the size of the waiting set.
func (m *Manager) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// CountdownLeft reports the seconds remaining, 0 when idle.
func (m *Manager) CountdownLeft() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.machine.GetCurrentState().GetID() != stateCounting {
		return 0
	}
	return m.countdownLeft
}

// removeFromQueue takes a session out of the waiting set and releases
// its hold. Returns false when the session was not queued.
func (m *Manager) removeFromQueue(sessionID string) bool {
	m.mu.Lock()
	entry, ok := m.queue[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.queue, sessionID)
	if len(m.queue) == 0 && m.machine.GetCurrentState().GetID() == stateCounting {
		m.machine.ChangeState(newIdleState())
	}
	update, recipients := m.lobbyUpdateLocked()
	m.mu.Unlock()

	m.ledger.Release(entry.userID, entry.amount)
	logger.Log.Infof("Lobby: session %s left the queue, hold released", sessionID)
	m.sendLobbyUpdate(update, recipients)
	m.updateQueueMetric()
	return true
}

// markAbortedIfInflight flags a player whose batch is mid-settlement.
// startGame observes the flag and refunds instead of seating them.
func (m *Manager) markAbortedIfInflight(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[sessionID]; !ok {
		return false
	}
	m.aborted[sessionID] = true
	return true
}

// leaveRoom detaches a seated session from its room exactly once.
func (m *Manager) leaveRoom(sess *session.Session, disconnected bool) {
	m.mu.Lock()
	roomID, ok := m.routing[sess.ID]
	if ok {
		delete(m.routing, sess.ID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	room, exists := m.rooms.GetRoom(roomID)
	if !exists {
		return
	}
	res := room.Leave(sess.ID, disconnected)
	sess.RoomID = ""
	if disconnected || !res.Present || !res.WasAlive {
		return
	}

	// Voluntary leave while alive converts remaining points back to
	// balance at the same rate the stake was bought at.
	if res.Points > 0 && sess.UserID != 0 {
		amount := float64(res.Points) / float64(m.gameCfg.PointsPerUnit)
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()
		if _, err := m.ledger.Credit(ctx, sess.UserID, amount, "game earnings"); err != nil {
			logger.Log.Errorf("Lobby: credit %d points to user %d: %v", res.Points, sess.UserID, err)
			return
		}
		m.send(sess, network.MsgTypeCashOut, models.CashOut{
			PlayerID: sess.ID,
			Points:   res.Points,
			Amount:   amount,
		})
		logger.Log.Infof("Lobby: user %d cashed out %d points (%.4f)", sess.UserID, res.Points, amount)
	}
}

// tick fires once per second from the shared timer. In the counting
// state it advances the countdown and pushes a lobby update; a batch
// produced by the countdown is started outside the lock.
func (m *Manager) tick() {
	m.mu.Lock()
	st := m.machine.GetCurrentState()
	counting := st.GetID() == stateCounting
	if counting {
		st.OnUpdate()
	}
	batch := m.startBatch
	m.startBatch = nil
	update, recipients := m.lobbyUpdateLocked()
	m.mu.Unlock()

	if counting {
		m.sendLobbyUpdate(update, recipients)
	}
	if batch != nil {
		m.startGame(batch)
	}
}

// advanceCountdownLocked runs with m.mu held, once per second while
// counting. The countdown restarts rather than seating a batch below
// the minimum; a full queue starts without waiting.
func (m *Manager) advanceCountdownLocked() {
	m.countdownLeft--
	if len(m.queue) >= m.cfg.MaxPlayers {
		m.startBatch = m.takeBatchLocked()
		return
	}
	if m.countdownLeft > 0 {
		return
	}
	if len(m.queue) >= m.cfg.MinPlayers {
		m.startBatch = m.takeBatchLocked()
		return
	}
	m.countdownLeft = m.cfg.CountdownSeconds
}

// takeBatchLocked drains the waiting set into an inflight batch and
// parks the countdown. Caller holds m.mu.
func (m *Manager) takeBatchLocked() []*queueEntry {
	batch := make([]*queueEntry, 0, len(m.queue))
	for id, entry := range m.queue {
		batch = append(batch, entry)
		m.inflight[id] = entry
		delete(m.queue, id)
	}
	m.machine.ChangeState(newIdleState())
	return batch
}

// startGame settles every entry fee in the batch, creates one room and
// seats the players whose settlement succeeded. Runs without m.mu held.
func (m *Manager) startGame(batch []*queueEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	var settled []*queueEntry
	for _, entry := range batch {
		if m.consumeAborted(entry.sess.ID) {
			// Disconnected before settlement: the hold is all we took.
			m.ledger.Release(entry.userID, entry.amount)
			m.clearInflight(entry.sess.ID)
			continue
		}
		if _, err := m.ledger.Settle(ctx, entry.userID, entry.amount, "entry fee"); err != nil {
			logger.Log.Warnf("Lobby: settle fee for user %d: %v", entry.userID, err)
			if m.metrics != nil {
				m.metrics.IncSettlementFailures()
			}
			reason := models.ReasonSettlementFailed
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				reason = models.ReasonInsufficientBalance
			}
			m.sendError(entry.sess, reason, "could not charge the entry fee")
			m.clearInflight(entry.sess.ID)
			continue
		}
		settled = append(settled, entry)
	}
	m.updateQueueMetric()
	if len(settled) == 0 {
		logger.Log.Infof("Lobby: no settlements succeeded, no room created")
		return
	}

	room := m.rooms.CreateRoom(m.gameCfg, m.broadcaster, m.handleRoomEmpty)
	stake := m.stakePoints()

	type seatedEntry struct {
		entry *queueEntry
		start models.PlayerStart
	}
	var seated []seatedEntry
	for _, entry := range settled {
		if m.consumeAborted(entry.sess.ID) {
			// Disconnected after settlement but before seating: the fee
			// went through, so give it back.
			if _, err := m.ledger.Refund(ctx, entry.userID, entry.amount, "refund: left before game start"); err != nil {
				logger.Log.Errorf("Lobby: refund user %d: %v", entry.userID, err)
			}
			m.clearInflight(entry.sess.ID)
			continue
		}
		start, ok := room.Join(entry.sess, stake)
		if !ok {
			m.clearInflight(entry.sess.ID)
			if _, err := m.ledger.Refund(ctx, entry.userID, entry.amount, "refund: room unavailable"); err != nil {
				logger.Log.Errorf("Lobby: refund user %d: %v", entry.userID, err)
			}
			continue
		}
		seated = append(seated, seatedEntry{entry: entry, start: start})
	}

	// Route each seated player in the same critical section that
	// retires their inflight record, so a disconnect always lands in
	// exactly one of: the aborted flag (handled here) or the routing
	// table (handled by leaveRoom).
	seatedAny := false
	for _, se := range seated {
		sess := se.entry.sess
		m.mu.Lock()
		aborted := m.aborted[sess.ID]
		delete(m.aborted, sess.ID)
		delete(m.inflight, sess.ID)
		if !aborted {
			m.routing[sess.ID] = room.ID
		}
		m.mu.Unlock()

		if aborted {
			// Disconnected while being seated: forfeit like any seated
			// disconnect, so the stake stays in circulation as orbs.
			room.Leave(sess.ID, true)
			continue
		}
		sess.RoomID = room.ID
		m.send(sess, network.MsgTypeGameStart, models.GameStart{RoomID: room.ID, Player: se.start})
		seatedAny = true
	}

	if !seatedAny {
		m.rooms.RemoveRoom(room.ID)
		logger.Log.Infof("Lobby: every settled player bailed, room %s discarded", room.ID)
	} else if m.metrics != nil {
		m.metrics.IncGamesStarted()
	}
	if m.metrics != nil {
		m.metrics.SetActiveRooms(m.rooms.Count())
	}
}

func (m *Manager) consumeAborted(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted[sessionID] {
		delete(m.aborted, sessionID)
		return true
	}
	return false
}

func (m *Manager) clearInflight(sessionID string) {
	m.mu.Lock()
	delete(m.inflight, sessionID)
	delete(m.aborted, sessionID)
	m.mu.Unlock()
}

// handleRoomEmpty is wired as the room manager's onEmpty callback. It
// runs on a room goroutine, so it only touches the registry.
func (m *Manager) handleRoomEmpty(roomID string) {
	m.rooms.RemoveRoom(roomID)
	if m.metrics != nil {
		m.metrics.SetActiveRooms(m.rooms.Count())
	}
	logger.Log.Infof("Lobby: room %s emptied and removed", roomID)
}

// lobbyUpdateLocked snapshots the waiting-set view and its recipients.
// Caller holds m.mu.
func (m *Manager) lobbyUpdateLocked() (models.LobbyUpdate, []*session.Session) {
	update := models.LobbyUpdate{
		Players:    len(m.queue),
		MaxPlayers: m.cfg.MaxPlayers,
		TimeLeft:   m.countdownLeft,
	}
	recipients := make([]*session.Session, 0, len(m.queue))
	for _, entry := range m.queue {
		recipients = append(recipients, entry.sess)
	}
	return update, recipients
}

func (m *Manager) sendLobbyUpdate(update models.LobbyUpdate, recipients []*session.Session) {
	if len(recipients) == 0 {
		return
	}
	data, err := json.Marshal(update)
	if err != nil {
		logger.Log.Errorf("Lobby: marshal lobby update: %v", err)
		return
	}
	m.broadcaster.BroadcastToSessions(recipients, network.MsgTypeLobbyUpdate, data)
}

func (m *Manager) send(sess *session.Session, msgID uint16, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Errorf("Lobby: marshal msg %d: %v", msgID, err)
		return
	}
	if err := sess.Conn.Send(msgID, data); err != nil {
		logger.Log.Warnf("Lobby: send msg %d to session %s: %v", msgID, sess.ID, err)
	}
}

func (m *Manager) sendError(sess *session.Session, reason, message string) {
	m.send(sess, network.MsgTypeError, models.Error{Message: message, Reason: reason})
}

func (m *Manager) updateQueueMetric() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetQueuedPlayers(m.QueuedCount())
}
