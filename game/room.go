// game/room.go
package game

import (
	"encoding/json"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snaked/gameserver/config"
	"github.com/snaked/gameserver/geom"
	"github.com/snaked/gameserver/logger"
	"github.com/snaked/gameserver/models"
	"github.com/snaked/gameserver/network"
	"github.com/snaked/gameserver/session"
)

// Room owns one isolated simulation: snakes, food, orbs and the tick
// loop. All simulation state is mutated only by the room goroutine;
// outside callers talk to it through the inbox.
type Room struct {
	ID    string
	Inbox chan interface{}

	cfg         config.GameConfig
	broadcaster Broadcaster
	onEmpty     func(roomID string)

	// sessions is read by the broadcaster from other goroutines, so it
	// gets its own lock. Everything below is loop-private.
	sessions  map[string]*session.Session
	sessionMu sync.RWMutex

	snakes      map[string]*Snake
	food        []*Food
	foodSeq     int
	foodChanged bool
	orbs        map[string]*Orb

	rng      *rand.Rand
	tick     uint64
	lastTick time.Time
	quit     chan struct{}
	stopOnce sync.Once
}

// Commands delivered through the inbox.

type joinCmd struct {
	Sess        *session.Session
	StakePoints int64
	Reply       chan models.PlayerStart
}

type leaveCmd struct {
	SessionID    string
	Disconnected bool
	Reply        chan LeaveResult
}

type moveCmd struct {
	SessionID string
	Req       models.MoveRequest
}

type injectCmd struct {
	Points int64
}

// LeaveResult tells the lobby what happened to the departing player.
type LeaveResult struct {
	Present  bool
	WasAlive bool
	Points   int64
}

func NewRoom(id string, cfg config.GameConfig, broadcaster Broadcaster, onEmpty func(roomID string)) *Room {
	r := &Room{
		ID:          id,
		Inbox:       make(chan interface{}, 256),
		cfg:         cfg,
		broadcaster: broadcaster,
		onEmpty:     onEmpty,
		sessions:    make(map[string]*session.Session),
		snakes:      make(map[string]*Snake),
		orbs:        make(map[string]*Orb),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		quit:        make(chan struct{}),
	}
	r.initFood()
	return r
}

// Run drives the room at the configured tick rate until Close. A panic
// in one tick is logged and the loop keeps going; one broken room must
// never take down its siblings.
func (r *Room) Run() {
	interval := time.Second / time.Duration(r.cfg.TickHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.lastTick = time.Now()
	for {
		select {
		case <-r.quit:
			return
		case cmd := <-r.Inbox:
			r.safely(func() { r.handleCommand(cmd) })
		case now := <-ticker.C:
			r.safely(func() { r.stepTick(now) })
		}
	}
}

func (r *Room) safely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.Errorf("Room %s tick panic: %v\n%s", r.ID, rec, debug.Stack())
		}
	}()
	fn()
}

// Close stops the loop. Idempotent.
func (r *Room) Close() {
	r.stopOnce.Do(func() {
		close(r.quit)
	})
}

// --- outside-facing API (safe from any goroutine) ---

// Join seats a session in the room and returns the spawned snake's
// starting state. stakePoints seeds the snake's value (the entry fee in
// reservation mode, zero otherwise).
func (r *Room) Join(sess *session.Session, stakePoints int64) (models.PlayerStart, bool) {
	reply := make(chan models.PlayerStart, 1)
	select {
	case r.Inbox <- joinCmd{Sess: sess, StakePoints: stakePoints, Reply: reply}:
	case <-r.quit:
		return models.PlayerStart{}, false
	}
	select {
	case start := <-reply:
		return start, true
	case <-r.quit:
		return models.PlayerStart{}, false
	}
}

// Leave removes a session. disconnected=true treats a live snake as a
// death (orbs drop); false is a voluntary exit that keeps its points
// for cash-out.
func (r *Room) Leave(sessionID string, disconnected bool) LeaveResult {
	reply := make(chan LeaveResult, 1)
	select {
	case r.Inbox <- leaveCmd{SessionID: sessionID, Disconnected: disconnected, Reply: reply}:
	case <-r.quit:
		return LeaveResult{}
	}
	select {
	case res := <-reply:
		return res
	case <-r.quit:
		return LeaveResult{}
	}
}

// Move queues an input update. Dropped when the inbox is saturated;
// the next update supersedes it anyway.
func (r *Room) Move(sessionID string, req models.MoveRequest) {
	select {
	case r.Inbox <- moveCmd{SessionID: sessionID, Req: req}:
	default:
	}
}

// InjectPoints scatters externally funded value into the room.
func (r *Room) InjectPoints(points int64) {
	select {
	case r.Inbox <- injectCmd{Points: points}:
	case <-r.quit:
	}
}

// Sessions returns a snapshot of the seated sessions.
func (r *Room) Sessions() []*session.Session {
	r.sessionMu.RLock()
	defer r.sessionMu.RUnlock()

	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Room) PlayerCount() int {
	r.sessionMu.RLock()
	defer r.sessionMu.RUnlock()
	return len(r.sessions)
}

// --- command handling (room goroutine only) ---

func (r *Room) handleCommand(cmd interface{}) {
	switch c := cmd.(type) {
	case joinCmd:
		start := r.addPlayer(c.Sess, c.StakePoints)
		c.Reply <- start
	case leaveCmd:
		c.Reply <- r.removePlayer(c.SessionID, c.Disconnected)
	case moveCmd:
		r.applyMove(c.SessionID, c.Req)
	case injectCmd:
		n := r.injectOrbs(c.Points)
		logger.Log.Infof("Room %s: injected %d points across %d orbs", r.ID, c.Points, n)
	}
}

func (r *Room) addPlayer(sess *session.Session, stakePoints int64) models.PlayerStart {
	snake := r.spawnSnake(sess)
	if stakePoints > 0 {
		snake.Points = stakePoints
	}
	r.snakes[sess.ID] = snake

	r.sessionMu.Lock()
	r.sessions[sess.ID] = sess
	sess.RoomID = r.ID
	r.sessionMu.Unlock()

	// The newcomer has never seen the food field.
	r.foodChanged = true

	r.broadcastEvent(network.MsgTypePlayerJoined, models.PlayerJoined{
		ID:       snake.ID,
		Username: snake.Username,
		Segments: snake.segmentsCopy(),
		Color:    snake.Color,
	})

	return models.PlayerStart{
		ID:       snake.ID,
		Segments: snake.segmentsCopy(),
		Color:    snake.Color,
	}
}

// spawnSnake places a new snake away from every existing body. After
// SpawnAttempts tries it accepts an unsafe spot rather than stalling the
// join.
func (r *Room) spawnSnake(sess *session.Session) *Snake {
	var start geom.Vec2
	for attempt := 0; ; attempt++ {
		start = geom.Vec2{
			X: r.cfg.WorldSize/2 + (r.rng.Float64()-0.5)*r.cfg.WorldSize/2,
			Y: r.cfg.WorldSize/2 + (r.rng.Float64()-0.5)*r.cfg.WorldSize/2,
		}
		if !r.isSpawnCollision(start) {
			break
		}
		if attempt >= r.cfg.SpawnAttempts-1 {
			logger.Log.Warnf("Room %s: no safe spawn for %s after %d attempts", r.ID, sess.Username, r.cfg.SpawnAttempts)
			break
		}
	}

	segments := make([]geom.Vec2, r.cfg.InitialLength)
	for i := range segments {
		segments[i] = geom.Vec2{X: start.X - float64(i)*10, Y: start.Y}
	}

	return &Snake{
		ID:              sess.ID,
		UserID:          sess.UserID,
		Username:        sess.Username,
		Color:           SnakeColors[r.rng.Intn(len(SnakeColors))],
		Segments:        segments,
		Direction:       geom.Vec2{X: 1, Y: 0},
		TargetDirection: geom.Vec2{X: 1, Y: 0},
		Alive:           true,
		JoinedAt:        time.Now(),
	}
}

func (r *Room) isSpawnCollision(p geom.Vec2) bool {
	for _, snake := range r.snakes {
		if !snake.Alive {
			continue
		}
		for _, seg := range snake.Segments {
			if geom.PointInCircle(p, seg, r.cfg.SafeSpawnDistance) {
				return true
			}
		}
	}
	return false
}

func (r *Room) removePlayer(sessionID string, disconnected bool) LeaveResult {
	r.sessionMu.Lock()
	sess, seated := r.sessions[sessionID]
	if seated {
		sess.RoomID = ""
		delete(r.sessions, sessionID)
	}
	empty := len(r.sessions) == 0
	r.sessionMu.Unlock()

	if !seated {
		return LeaveResult{}
	}

	res := LeaveResult{Present: true}
	if snake, ok := r.snakes[sessionID]; ok && snake.Alive {
		res.WasAlive = true
		res.Points = snake.Points
		if disconnected {
			r.killSnake(snake, "", true)
		} else {
			delete(r.snakes, sessionID)
		}
	} else {
		delete(r.snakes, sessionID)
	}

	r.broadcastEvent(network.MsgTypePlayerLeft, models.PlayerLeft{ID: sessionID})

	if empty && r.onEmpty != nil {
		// The callback takes lobby-side locks; never run it on the room
		// goroutine.
		go r.onEmpty(r.ID)
	}
	return res
}

func (r *Room) applyMove(sessionID string, req models.MoveRequest) {
	snake, ok := r.snakes[sessionID]
	if !ok || !snake.Alive {
		return
	}

	if dir := req.Direction.Normalize(); dir.Length() > 0 {
		snake.TargetDirection = dir
	}
	snake.Boosting = req.Boosting

	// Legacy client-trusted mode: accept the reported body after basic
	// sanity checks on size and bounds.
	if r.cfg.TrustClientSegments && len(req.Segments) > 0 {
		if len(req.Segments) < r.cfg.MinLength || len(req.Segments) > snake.Length()+r.cfg.GrowthPerFood*4 {
			return
		}
		for _, seg := range req.Segments {
			if seg.X < 0 || seg.X > r.cfg.WorldSize || seg.Y < 0 || seg.Y > r.cfg.WorldSize {
				return
			}
		}
		snake.Segments = req.Segments
	}
}

// --- tick pipeline (room goroutine only) ---

// stepTick runs the fixed-order pipeline: movement, food, orbs, snake
// collisions, deaths, broadcast.
func (r *Room) stepTick(now time.Time) {
	elapsed := now.Sub(r.lastTick)
	r.lastTick = now
	r.tick++

	// Normalize wall time to tick units; clamp so a scheduling stall
	// cannot teleport snakes.
	delta := geom.Clamp(elapsed.Seconds()*float64(r.cfg.TickHz), 0, r.cfg.MaxDeltaFactor)

	for _, snake := range r.snakes {
		if !snake.Alive {
			continue
		}
		if !r.cfg.TrustClientSegments {
			snake.step(r.cfg, delta)
		}
	}

	for _, snake := range r.snakes {
		if !snake.Alive {
			continue
		}
		r.collectFood(snake)
		r.collectOrbs(snake)
	}

	// Collect kills against the state as it was at scan start, then
	// apply, so iteration order cannot hide a collision.
	type kill struct {
		victim *Snake
		killer string
	}
	var kills []kill
	for _, snake := range r.snakes {
		if !snake.Alive {
			continue
		}
		if killer := r.checkSnakeCollision(snake); killer != "" {
			kills = append(kills, kill{victim: snake, killer: killer})
		}
	}
	for _, k := range kills {
		r.killSnake(k.victim, k.killer, false)
	}

	r.broadcastSnapshot()
}

// collectOrbs awards every orb within the value-scaled pickup radius.
func (r *Room) collectOrbs(s *Snake) {
	head := s.Head()
	headRadius := s.Thickness(r.cfg)

	for id, orb := range r.orbs {
		radius := headRadius + orb.PickupRadius(r.cfg.OrbBaseRadius, r.cfg.OrbRadiusPerLog)
		if !geom.PointInCircle(orb.Position, head, radius) {
			continue
		}
		s.Points += orb.Value
		delete(r.orbs, id)
		r.broadcastEvent(network.MsgTypeMoneyCollected, models.MoneyCollected{
			PlayerID: s.ID,
			OrbID:    orb.ID,
			Amount:   orb.Value,
		})
	}
}

// checkSnakeCollision returns the id of the snake s died against, or ""
// if s survives this tick. Body hits use the combined thickness; head
// to head uses a tighter radius and favors the longer snake.
func (r *Room) checkSnakeCollision(s *Snake) string {
	if !s.Alive || len(s.Segments) == 0 {
		return ""
	}
	head := s.Head()

	for otherID, other := range r.snakes {
		if otherID == s.ID || !other.Alive {
			continue
		}

		bodyRadius := (s.Thickness(r.cfg) + other.Thickness(r.cfg)) / 2
		for i := 1; i < len(other.Segments); i++ {
			if geom.PointInCircle(head, other.Segments[i], bodyRadius) {
				return otherID
			}
		}

		headRadius := bodyRadius * r.cfg.HeadToHeadFactor
		if geom.PointInCircle(head, other.Head(), headRadius) {
			if s.Length() <= other.Length() {
				return otherID
			}
		}
	}
	return ""
}

// killSnake marks the snake dead, drops its value per the configured
// split, broadcasts the death and removes it from the active set so no
// ghost body lingers in the collision field.
func (r *Room) killSnake(s *Snake, killerID string, disconnected bool) {
	if !s.Alive {
		return
	}
	s.Alive = false

	orbs := r.dropDeathOrbs(s)
	orbStates := make([]models.OrbState, len(orbs))
	for i, orb := range orbs {
		orbStates[i] = orb.state()
	}

	r.broadcastEvent(network.MsgTypePlayerDied, models.PlayerDied{
		PlayerID:     s.ID,
		KilledBy:     killerID,
		MoneyOrbs:    orbStates,
		Disconnected: disconnected,
	})

	delete(r.snakes, s.ID)
}

// --- snapshot ---

func (r *Room) broadcastSnapshot() {
	players := make(map[string]models.SnakeState, len(r.snakes))
	for id, s := range r.snakes {
		if !s.Alive {
			continue
		}
		players[id] = models.SnakeState{
			ID:        s.ID,
			Username:  s.Username,
			Segments:  s.segmentsCopy(),
			Direction: s.Direction,
			Color:     s.Color,
			Alive:     true,
			Points:    s.Points,
			Thickness: s.Thickness(r.cfg),
		}
	}

	orbs := make([]models.OrbState, 0, len(r.orbs))
	for _, orb := range r.orbs {
		orbs = append(orbs, orb.state())
	}

	snapshot := models.GameState{
		Players:     players,
		MoneyOrbs:   orbs,
		Leaderboard: r.leaderboard(),
		PlayerCount: r.PlayerCount(),
	}

	// Food is big and churns rarely; ship it only when it changed.
	sentFood := false
	if r.foodChanged {
		snapshot.Food = make([]models.FoodState, len(r.food))
		for i, f := range r.food {
			snapshot.Food[i] = models.FoodState{ID: f.ID, Position: f.Position, Color: f.Color}
		}
		r.foodChanged = false
		sentFood = true
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		logger.Log.Errorf("Room %s: marshal snapshot: %v", r.ID, err)
		if sentFood {
			r.foodChanged = true
		}
		return
	}
	if err := r.broadcaster.BroadcastToRoom(r.ID, network.MsgTypeGameState, data); err != nil {
		logger.Log.Warnf("Room %s: broadcast snapshot: %v", r.ID, err)
		// The food delta never reached anyone; resend it next tick.
		if sentFood {
			r.foodChanged = true
		}
	}
}

func (r *Room) leaderboard() []models.LeaderboardEntry {
	alive := make([]*Snake, 0, len(r.snakes))
	for _, s := range r.snakes {
		if s.Alive {
			alive = append(alive, s)
		}
	}
	sort.Slice(alive, func(i, j int) bool {
		if alive[i].Length() != alive[j].Length() {
			return alive[i].Length() > alive[j].Length()
		}
		return alive[i].ID < alive[j].ID
	})
	if len(alive) > r.cfg.LeaderboardSize {
		alive = alive[:r.cfg.LeaderboardSize]
	}

	board := make([]models.LeaderboardEntry, len(alive))
	for i, s := range alive {
		board[i] = models.LeaderboardEntry{ID: s.ID, Username: s.Username, Length: s.Length()}
	}
	return board
}

func (r *Room) broadcastEvent(msgID uint16, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Errorf("Room %s: marshal msg %d: %v", r.ID, msgID, err)
		return
	}
	if err := r.broadcaster.BroadcastToRoom(r.ID, msgID, data); err != nil {
		logger.Log.Warnf("Room %s: broadcast msg %d: %v", r.ID, msgID, err)
	}
}

// --- Manager ---

// Manager is the process-wide room registry.
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// CreateRoom constructs a room, registers it and starts its loop.
func (m *Manager) CreateRoom(cfg config.GameConfig, broadcaster Broadcaster, onEmpty func(roomID string)) *Room {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room := NewRoom(uuid.New().String(), cfg, broadcaster, onEmpty)
	m.rooms[room.ID] = room
	go room.Run()
	return room
}

// RemoveRoom stops a room's loop and drops it from the registry.
func (m *Manager) RemoveRoom(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[id]; exists {
		room.Close()
		delete(m.rooms, id)
	}
}

func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// FindAvailable returns any room with a free seat.
func (m *Manager) FindAvailable(maxPlayers int) *Room {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, room := range m.rooms {
		if room.PlayerCount() < maxPlayers {
			return room
		}
	}
	return nil
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

// CloseAll stops every room, used on shutdown.
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for id, room := range m.rooms {
		room.Close()
		delete(m.rooms, id)
	}
}
