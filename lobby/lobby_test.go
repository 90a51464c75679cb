// lobby/lobby_test.go
package lobby

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snaked/gameserver/config"
	"github.com/snaked/gameserver/game"
	"github.com/snaked/gameserver/ledger"
	"github.com/snaked/gameserver/models"
	"github.com/snaked/gameserver/network"
	"github.com/snaked/gameserver/session"
)

type sentMsg struct {
	msgID uint16
	data  []byte
}

type fakeConn struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (c *fakeConn) Send(msgID uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, sentMsg{msgID: msgID, data: buf})
	return nil
}

func (c *fakeConn) Close() error                         { return nil }
func (c *fakeConn) RemoteAddr() net.Addr                 { return nil }
func (c *fakeConn) SetHeartbeat(time.Duration)           {}
func (c *fakeConn) ReadPacket() (*network.Packet, error) { return nil, io.EOF }

func (c *fakeConn) msgs(msgID uint16) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, m := range c.sent {
		if m.msgID == msgID {
			out = append(out, m.data)
		}
	}
	return out
}

type fakeBroadcaster struct{}

func (b *fakeBroadcaster) BroadcastToRoom(string, uint16, []byte) error { return nil }

func (b *fakeBroadcaster) BroadcastToSessions(sessions []*session.Session, msgID uint16, data []byte) {
	for _, s := range sessions {
		s.Conn.Send(msgID, data)
	}
}

func (b *fakeBroadcaster) BroadcastToUser(int64, uint16, []byte) {}

type ledgerEntry struct {
	userID int64
	typ    string
	amount float64
}

type fakeLedger struct {
	mu         sync.Mutex
	balances   map[int64]float64
	pending    map[int64]float64
	entries    []ledgerEntry
	failSettle map[int64]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:   make(map[int64]float64),
		pending:    make(map[int64]float64),
		failSettle: make(map[int64]error),
	}
}

func (l *fakeLedger) GetBalance(_ context.Context, userID int64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *fakeLedger) Reserve(_ context.Context, userID int64, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID]-l.pending[userID] < amount {
		return ledger.ErrInsufficientBalance
	}
	l.pending[userID] += amount
	return nil
}

func (l *fakeLedger) Release(userID int64, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[userID] -= amount
	if l.pending[userID] <= 0 {
		delete(l.pending, userID)
	}
}

func (l *fakeLedger) Settle(_ context.Context, userID int64, amount float64, _ string) (string, error) {
	l.Release(userID, amount)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failSettle[userID]; err != nil {
		return "", err
	}
	if l.balances[userID] < amount {
		return "", ledger.ErrInsufficientBalance
	}
	l.balances[userID] -= amount
	l.entries = append(l.entries, ledgerEntry{userID: userID, typ: models.EntryTypeFee, amount: -amount})
	return "entry", nil
}

func (l *fakeLedger) Credit(_ context.Context, userID int64, amount float64, _ string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	l.entries = append(l.entries, ledgerEntry{userID: userID, typ: models.EntryTypeEarnings, amount: amount})
	return "entry", nil
}

func (l *fakeLedger) Refund(_ context.Context, userID int64, amount float64, _ string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	l.entries = append(l.entries, ledgerEntry{userID: userID, typ: models.EntryTypeRefund, amount: amount})
	return "entry", nil
}

func (l *fakeLedger) balance(userID int64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *fakeLedger) held(userID int64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[userID]
}

func (l *fakeLedger) entriesOf(userID int64, typ string) []ledgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledgerEntry
	for _, e := range l.entries {
		if e.userID == userID && e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

func testLobbyConfig() config.LobbyConfig {
	cfg := config.DefaultLobby()
	cfg.MinPlayers = 2
	cfg.MaxPlayers = 4
	cfg.CountdownSeconds = 3
	cfg.EntryFee = 0.5
	return cfg
}

func newTestManager(t *testing.T, cfg config.LobbyConfig, wallet ledger.Ledger) (*Manager, *game.Manager) {
	t.Helper()
	gameCfg := config.DefaultGame()
	rooms := game.NewManager()
	m := NewManager(cfg, gameCfg, rooms, &fakeBroadcaster{}, wallet, nil, nil)
	t.Cleanup(rooms.CloseAll)
	return m, rooms
}

func newTestSession(id string, userID int64) (*session.Session, *fakeConn) {
	conn := &fakeConn{}
	sess := session.NewSession(id, conn)
	sess.UserID = userID
	sess.Username = "player-" + id
	return sess, conn
}

func TestReservationCountdownStartsGame(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 2.0
	wallet.balances[2] = 2.0
	m, rooms := newTestManager(t, testLobbyConfig(), wallet)

	sessA, connA := newTestSession("a", 1)
	sessB, connB := newTestSession("b", 2)
	m.HandleJoin(sessA, models.JoinLobbyRequest{})
	m.HandleJoin(sessB, models.JoinLobbyRequest{})

	require.Equal(t, 2, m.QueuedCount())
	require.InDelta(t, 0.5, wallet.held(1), 1e-9)
	require.InDelta(t, 0.5, wallet.held(2), 1e-9)
	require.Equal(t, 0, rooms.Count())

	for i := 0; i < 3; i++ {
		m.tick()
	}

	require.Equal(t, 1, rooms.Count())
	require.Equal(t, 0, m.QueuedCount())
	require.InDelta(t, 1.5, wallet.balance(1), 1e-9)
	require.InDelta(t, 1.5, wallet.balance(2), 1e-9)
	require.Zero(t, wallet.held(1))
	require.Zero(t, wallet.held(2))

	startsA := connA.msgs(network.MsgTypeGameStart)
	startsB := connB.msgs(network.MsgTypeGameStart)
	require.Len(t, startsA, 1)
	require.Len(t, startsB, 1)

	var gsA, gsB models.GameStart
	require.NoError(t, json.Unmarshal(startsA[0], &gsA))
	require.NoError(t, json.Unmarshal(startsB[0], &gsB))
	require.Equal(t, gsA.RoomID, gsB.RoomID)
	require.NotEqual(t, gsA.Player.ID, gsB.Player.ID)
	require.NotEmpty(t, gsA.Player.Segments)
	require.NotEmpty(t, gsB.Player.Segments)
}

func TestCountdownResetsBelowMinimum(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 1.0
	cfg := testLobbyConfig()
	m, rooms := newTestManager(t, cfg, wallet)

	sess, conn := newTestSession("solo", 1)
	m.HandleJoin(sess, models.JoinLobbyRequest{})
	require.Equal(t, cfg.CountdownSeconds, m.CountdownLeft())

	for i := 0; i < cfg.CountdownSeconds; i++ {
		m.tick()
	}

	require.Equal(t, 0, rooms.Count())
	require.Equal(t, 1, m.QueuedCount())
	require.InDelta(t, 1.0, wallet.balance(1), 1e-9)
	require.InDelta(t, 0.5, wallet.held(1), 1e-9)

	// The broadcast after the expiring tick carries the reset timer.
	updates := conn.msgs(network.MsgTypeLobbyUpdate)
	require.NotEmpty(t, updates)
	var last models.LobbyUpdate
	require.NoError(t, json.Unmarshal(updates[len(updates)-1], &last))
	require.Equal(t, cfg.CountdownSeconds, last.TimeLeft)
	require.Equal(t, 1, last.Players)
}

func TestFullQueueStartsWithoutWaiting(t *testing.T) {
	wallet := newFakeLedger()
	cfg := testLobbyConfig()
	cfg.MaxPlayers = 2
	for id := int64(1); id <= 2; id++ {
		wallet.balances[id] = 1.0
	}
	m, rooms := newTestManager(t, cfg, wallet)

	sessA, _ := newTestSession("a", 1)
	sessB, _ := newTestSession("b", 2)
	m.HandleJoin(sessA, models.JoinLobbyRequest{})
	m.HandleJoin(sessB, models.JoinLobbyRequest{})

	require.Eventually(t, func() bool {
		return rooms.Count() == 1 && m.QueuedCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.InDelta(t, 0.5, wallet.balance(1), 1e-9)
	require.InDelta(t, 0.5, wallet.balance(2), 1e-9)
}

func TestInsufficientBalanceRejected(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 0.2
	m, _ := newTestManager(t, testLobbyConfig(), wallet)

	sess, conn := newTestSession("poor", 1)
	m.HandleJoin(sess, models.JoinLobbyRequest{})

	require.Equal(t, 0, m.QueuedCount())
	errs := conn.msgs(network.MsgTypeError)
	require.Len(t, errs, 1)
	var e models.Error
	require.NoError(t, json.Unmarshal(errs[0], &e))
	require.Equal(t, models.ReasonInsufficientBalance, e.Reason)
}

func TestAnonymousReservationRejected(t *testing.T) {
	wallet := newFakeLedger()
	m, _ := newTestManager(t, testLobbyConfig(), wallet)

	sess, conn := newTestSession("anon", 0)
	m.HandleJoin(sess, models.JoinLobbyRequest{})

	require.Equal(t, 0, m.QueuedCount())
	errs := conn.msgs(network.MsgTypeError)
	require.Len(t, errs, 1)
	var e models.Error
	require.NoError(t, json.Unmarshal(errs[0], &e))
	require.Equal(t, models.ReasonNotAuthenticated, e.Reason)
}

func TestDuplicateJoinHoldsOneFee(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 5.0
	m, _ := newTestManager(t, testLobbyConfig(), wallet)

	sess, conn := newTestSession("dup", 1)
	m.HandleJoin(sess, models.JoinLobbyRequest{})
	m.HandleJoin(sess, models.JoinLobbyRequest{})

	require.Equal(t, 1, m.QueuedCount())
	require.InDelta(t, 0.5, wallet.held(1), 1e-9)
	errs := conn.msgs(network.MsgTypeError)
	require.Len(t, errs, 1)
	var e models.Error
	require.NoError(t, json.Unmarshal(errs[0], &e))
	require.Equal(t, models.ReasonAlreadyQueued, e.Reason)
}

func TestLeaveQueueReleasesHold(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 1.0
	m, rooms := newTestManager(t, testLobbyConfig(), wallet)

	sess, _ := newTestSession("quitter", 1)
	m.HandleJoin(sess, models.JoinLobbyRequest{})
	require.InDelta(t, 0.5, wallet.held(1), 1e-9)

	m.HandleLeave(sess)

	require.Equal(t, 0, m.QueuedCount())
	require.Zero(t, wallet.held(1))
	require.InDelta(t, 1.0, wallet.balance(1), 1e-9)
	require.Equal(t, 0, m.CountdownLeft())
	require.Equal(t, 0, rooms.Count())
}

func TestNoRoomWhenEverySettlementFails(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 1.0
	wallet.balances[2] = 1.0
	wallet.failSettle[1] = ledger.ErrInsufficientBalance
	wallet.failSettle[2] = ledger.ErrInsufficientBalance
	m, rooms := newTestManager(t, testLobbyConfig(), wallet)

	sessA, connA := newTestSession("a", 1)
	sessB, _ := newTestSession("b", 2)
	m.HandleJoin(sessA, models.JoinLobbyRequest{})
	m.HandleJoin(sessB, models.JoinLobbyRequest{})
	for i := 0; i < 3; i++ {
		m.tick()
	}

	require.Equal(t, 0, rooms.Count())
	require.Equal(t, 0, m.QueuedCount())
	require.Zero(t, wallet.held(1))

	errs := connA.msgs(network.MsgTypeError)
	require.Len(t, errs, 1)
	var e models.Error
	require.NoError(t, json.Unmarshal(errs[0], &e))
	require.Equal(t, models.ReasonInsufficientBalance, e.Reason)
}

func TestVoluntaryLeaveCashesOut(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 2.0
	wallet.balances[2] = 2.0
	m, rooms := newTestManager(t, testLobbyConfig(), wallet)

	sessA, connA := newTestSession("a", 1)
	sessB, _ := newTestSession("b", 2)
	m.HandleJoin(sessA, models.JoinLobbyRequest{})
	m.HandleJoin(sessB, models.JoinLobbyRequest{})
	for i := 0; i < 3; i++ {
		m.tick()
	}
	require.Equal(t, 1, rooms.Count())

	m.HandleLeave(sessA)

	earnings := wallet.entriesOf(1, models.EntryTypeEarnings)
	require.Len(t, earnings, 1)
	require.InDelta(t, 0.5, earnings[0].amount, 1e-9)
	require.InDelta(t, 2.0, wallet.balance(1), 1e-9)

	outs := connA.msgs(network.MsgTypeCashOut)
	require.Len(t, outs, 1)
	var co models.CashOut
	require.NoError(t, json.Unmarshal(outs[0], &co))
	require.Equal(t, sessA.ID, co.PlayerID)
	require.Equal(t, m.stakePoints(), co.Points)
}

func TestDisconnectForfeitsAndIsIdempotent(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 2.0
	wallet.balances[2] = 2.0
	m, rooms := newTestManager(t, testLobbyConfig(), wallet)

	sessA, _ := newTestSession("a", 1)
	sessB, _ := newTestSession("b", 2)
	m.HandleJoin(sessA, models.JoinLobbyRequest{})
	m.HandleJoin(sessB, models.JoinLobbyRequest{})
	for i := 0; i < 3; i++ {
		m.tick()
	}
	require.Equal(t, 1, rooms.Count())

	m.HandleDisconnect(sessA)
	m.HandleDisconnect(sessA)

	require.Empty(t, wallet.entriesOf(1, models.EntryTypeEarnings))
	require.Empty(t, wallet.entriesOf(1, models.EntryTypeRefund))
	require.InDelta(t, 1.5, wallet.balance(1), 1e-9)
}

// dropOnSeatBroadcaster disconnects the target the instant their snake
// is announced, which lands between the room seat and the routing-table
// insert inside game start.
type dropOnSeatBroadcaster struct {
	fakeBroadcaster
	mgr    *Manager
	target *session.Session
	once   sync.Once
}

func (b *dropOnSeatBroadcaster) BroadcastToRoom(_ string, msgID uint16, data []byte) error {
	if msgID == network.MsgTypePlayerJoined {
		var pj models.PlayerJoined
		if json.Unmarshal(data, &pj) == nil && pj.ID == b.target.ID {
			b.once.Do(func() { b.mgr.HandleDisconnect(b.target) })
		}
	}
	return nil
}

func TestDisconnectWhileSeatingForfeitsCleanly(t *testing.T) {
	wallet := newFakeLedger()
	wallet.balances[1] = 2.0
	wallet.balances[2] = 2.0
	rooms := game.NewManager()
	t.Cleanup(rooms.CloseAll)

	b := &dropOnSeatBroadcaster{}
	m := NewManager(testLobbyConfig(), config.DefaultGame(), rooms, b, wallet, nil, nil)
	b.mgr = m

	sessA, connA := newTestSession("a", 1)
	sessB, connB := newTestSession("b", 2)
	b.target = sessA

	m.HandleJoin(sessA, models.JoinLobbyRequest{})
	m.HandleJoin(sessB, models.JoinLobbyRequest{})
	for i := 0; i < 3; i++ {
		m.tick()
	}

	require.Equal(t, 1, rooms.Count())

	// The dropped player leaves no trace in any lobby table and their
	// seat is vacated; the survivor plays on alone.
	m.mu.Lock()
	_, routedA := m.routing[sessA.ID]
	roomID, routedB := m.routing[sessB.ID]
	inflightLeft := len(m.inflight)
	abortedLeft := len(m.aborted)
	m.mu.Unlock()
	require.False(t, routedA)
	require.True(t, routedB)
	require.Zero(t, inflightLeft)
	require.Zero(t, abortedLeft)

	room, ok := rooms.GetRoom(roomID)
	require.True(t, ok)
	require.Equal(t, 1, room.PlayerCount())

	// Seated disconnect forfeits: fee stays settled, nothing credited.
	require.InDelta(t, 1.5, wallet.balance(1), 1e-9)
	require.Empty(t, wallet.entriesOf(1, models.EntryTypeRefund))
	require.Empty(t, wallet.entriesOf(1, models.EntryTypeEarnings))
	require.Empty(t, connA.msgs(network.MsgTypeGameStart))
	require.Len(t, connB.msgs(network.MsgTypeGameStart), 1)

	// A late duplicate disconnect finds nothing left to release.
	m.HandleDisconnect(sessA)
	require.InDelta(t, 1.5, wallet.balance(1), 1e-9)
	require.Empty(t, wallet.entriesOf(1, models.EntryTypeRefund))
}

func TestInstantModeSeatsAnonymous(t *testing.T) {
	wallet := newFakeLedger()
	cfg := testLobbyConfig()
	cfg.Mode = ModeInstant
	m, rooms := newTestManager(t, cfg, wallet)

	sess, conn := newTestSession("anon", 0)
	m.HandleJoin(sess, models.JoinLobbyRequest{AdRevenue: 0.01})

	require.Equal(t, 1, rooms.Count())
	starts := conn.msgs(network.MsgTypeGameStart)
	require.Len(t, starts, 1)
	var gs models.GameStart
	require.NoError(t, json.Unmarshal(starts[0], &gs))
	require.NotEmpty(t, gs.RoomID)
	require.NotEmpty(t, gs.Player.Segments)
}

func TestInstantModeRejectsRevenueOutOfBounds(t *testing.T) {
	wallet := newFakeLedger()
	cfg := testLobbyConfig()
	cfg.Mode = ModeInstant
	m, rooms := newTestManager(t, cfg, wallet)

	sess, conn := newTestSession("greedy", 0)
	m.HandleJoin(sess, models.JoinLobbyRequest{AdRevenue: 0.2})

	require.Equal(t, 0, rooms.Count())
	errs := conn.msgs(network.MsgTypeError)
	require.Len(t, errs, 1)
	var e models.Error
	require.NoError(t, json.Unmarshal(errs[0], &e))
	require.Equal(t, models.ReasonInvalidInput, e.Reason)
}
