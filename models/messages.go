// models/messages.go
package models

import (
	"github.com/snaked/gameserver/geom"
)

// JoinLobbyRequest is the payload of MsgTypeJoinLobby. AdRevenue is only
// read in instant mode.
type JoinLobbyRequest struct {
	AdRevenue float64 `json:"adRevenue,omitempty"`
}

// MoveRequest is the periodic input update from a client. Direction is
// normalized server side. Segments is honored only in the legacy
// client-trusted mode.
type MoveRequest struct {
	Direction geom.Vec2   `json:"direction"`
	Boosting  bool        `json:"boosting,omitempty"`
	Segments  []geom.Vec2 `json:"segments,omitempty"`
}

// LobbyUpdate is broadcast to every queued player on each countdown tick
// and on queue membership change.
type LobbyUpdate struct {
	Players    int `json:"players"`
	MaxPlayers int `json:"maxPlayers"`
	TimeLeft   int `json:"timeLeft"`
}

// PlayerStart is the per-player slice of GameStart.
type PlayerStart struct {
	ID       string      `json:"id"`
	Segments []geom.Vec2 `json:"segments"`
	Color    string      `json:"color"`
}

type GameStart struct {
	RoomID string      `json:"roomId"`
	Player PlayerStart `json:"player"`
}

// SnakeState is one player's rendering-relevant state in a snapshot.
type SnakeState struct {
	ID        string      `json:"id"`
	Username  string      `json:"username"`
	Segments  []geom.Vec2 `json:"segments"`
	Direction geom.Vec2   `json:"direction"`
	Color     string      `json:"color"`
	Alive     bool        `json:"alive"`
	Points    int64       `json:"points"`
	Thickness float64     `json:"thickness"`
}

type FoodState struct {
	ID       string    `json:"id"`
	Position geom.Vec2 `json:"position"`
	Color    string    `json:"color"`
}

type OrbState struct {
	ID       string    `json:"id"`
	Position geom.Vec2 `json:"position"`
	Value    int64     `json:"value"`
}

type LeaderboardEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Length   int    `json:"length"`
}

// GameState is the per-tick room snapshot. Food is omitted when it has
// not changed since the previous broadcast.
type GameState struct {
	Players     map[string]SnakeState `json:"players"`
	MoneyOrbs   []OrbState            `json:"moneyOrbs"`
	Food        []FoodState           `json:"food,omitempty"`
	Leaderboard []LeaderboardEntry    `json:"leaderboard"`
	PlayerCount int                   `json:"playerCount"`
}

type PlayerJoined struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Segments []geom.Vec2 `json:"segments"`
	Color    string      `json:"color"`
}

type PlayerLeft struct {
	ID string `json:"id"`
}

type PlayerDied struct {
	PlayerID     string     `json:"playerId"`
	KilledBy     string     `json:"killedBy,omitempty"`
	MoneyOrbs    []OrbState `json:"moneyOrbs"`
	Disconnected bool       `json:"disconnected"`
}

type MoneyCollected struct {
	PlayerID string `json:"playerId"`
	OrbID    string `json:"orbId"`
	Amount   int64  `json:"amount"`
}

// CashOut reports the value credited back to a player who left a room
// alive.
type CashOut struct {
	PlayerID string  `json:"playerId"`
	Points   int64   `json:"points"`
	Amount   float64 `json:"amount"`
}

// Error is a terminal, user-visible rejection. Reason is a stable
// machine-checkable code such as "insufficient_balance".
type Error struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Error reason codes.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonAlreadyQueued       = "already_queued"
	ReasonAlreadyPlaying      = "already_playing"
	ReasonInvalidInput        = "invalid_input"
	ReasonSettlementFailed    = "settlement_failed"
	ReasonNotAuthenticated    = "not_authenticated"
)
