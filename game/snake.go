// game/snake.go
package game

import (
	"math"
	"time"

	"github.com/snaked/gameserver/config"
	"github.com/snaked/gameserver/geom"
)

// SnakeColors is the cosmetic palette; assigned at spawn.
var SnakeColors = []string{
	"#00ff88", "#ff00aa", "#00d4ff", "#ffd700", "#ff6600",
	"#9933ff", "#00ffcc", "#ff3366", "#66ff33", "#ff9900",
}

// Snake is one player's body inside a room. All fields are owned by the
// room loop; nothing outside the loop may touch them.
type Snake struct {
	ID       string
	UserID   int64
	Username string
	Color    string

	Segments        []geom.Vec2 // head first
	Direction       geom.Vec2   // unit vector
	TargetDirection geom.Vec2   // latest input, blended toward each tick
	Boosting        bool
	Points          int64
	Alive           bool
	JoinedAt        time.Time

	pendingGrowth int // segments owed from food, consumed one per tick
	boostTicks    int // ticks spent boosting since the last tail toll
}

func (s *Snake) Head() geom.Vec2 {
	return s.Segments[0]
}

func (s *Snake) Length() int {
	return len(s.Segments)
}

// Thickness is the collision radius, grown slowly with length.
func (s *Snake) Thickness(cfg config.GameConfig) float64 {
	return cfg.SegmentRadius + cfg.ThicknessFactor*math.Sqrt(float64(len(s.Segments)))
}

// Grow schedules extra segments to be added over the coming ticks.
func (s *Snake) Grow(segments int) {
	s.pendingGrowth += segments
}

// step advances the snake by one tick. delta is the tick-normalized time
// multiplier (1.0 = exactly one nominal tick), already clamped by the
// room. Growth and tail-popping are mutually exclusive within a tick.
func (s *Snake) step(cfg config.GameConfig, delta float64) {
	// Blend the heading toward the requested direction at a fixed turn
	// rate, then re-normalize. A zero target keeps the current heading.
	if s.TargetDirection.Length() > 1e-9 {
		t := geom.Clamp(cfg.TurnRate*delta, 0, 1)
		blended := s.Direction.Scale(1 - t).Add(s.TargetDirection.Normalize().Scale(t))
		if norm := blended.Normalize(); norm.Length() > 0 {
			s.Direction = norm
		}
	}

	speed := cfg.BaseSpeed
	if s.Boosting {
		speed *= cfg.BoostMultiplier
	}

	// Per-tick travel distance; delta folds in wall-clock jitter.
	dist := speed * delta / float64(cfg.TickHz)
	head := s.Head().Add(s.Direction.Scale(dist))
	head.X = geom.Clamp(head.X, 0, cfg.WorldSize)
	head.Y = geom.Clamp(head.Y, 0, cfg.WorldSize)

	s.Segments = append([]geom.Vec2{head}, s.Segments...)

	if s.pendingGrowth > 0 {
		s.pendingGrowth--
	} else {
		s.popTail(cfg)
	}

	// Boosting burns body mass: one extra tail segment every
	// BoostCostTicks ticks.
	if s.Boosting {
		s.boostTicks++
		if s.boostTicks >= cfg.BoostCostTicks {
			s.boostTicks = 0
			s.popTail(cfg)
		}
	} else {
		s.boostTicks = 0
	}
}

func (s *Snake) popTail(cfg config.GameConfig) {
	if len(s.Segments) > cfg.MinLength {
		s.Segments = s.Segments[:len(s.Segments)-1]
	}
}

// segmentsCopy returns a defensive copy for snapshots and events.
func (s *Snake) segmentsCopy() []geom.Vec2 {
	out := make([]geom.Vec2, len(s.Segments))
	copy(out, s.Segments)
	return out
}
