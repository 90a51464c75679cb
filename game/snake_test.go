// game/snake_test.go
package game

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snaked/gameserver/config"
	"github.com/snaked/gameserver/geom"
)

func testSnake(cfg config.GameConfig, length int) *Snake {
	segments := make([]geom.Vec2, length)
	for i := range segments {
		segments[i] = geom.Vec2{X: 2000 - float64(i)*10, Y: 2000}
	}
	return &Snake{
		ID:              "s",
		Segments:        segments,
		Direction:       geom.Vec2{X: 1, Y: 0},
		TargetDirection: geom.Vec2{X: 1, Y: 0},
		Alive:           true,
	}
}

func TestStepGrowthAndPopAreExclusive(t *testing.T) {
	cfg := config.DefaultGame()
	s := testSnake(cfg, 10)
	s.Grow(1)

	s.step(cfg, 1)
	require.Equal(t, 11, s.Length())
	require.Zero(t, s.pendingGrowth)

	s.step(cfg, 1)
	require.Equal(t, 11, s.Length())
}

func TestStepBlendsTowardTarget(t *testing.T) {
	cfg := config.DefaultGame()
	s := testSnake(cfg, 10)
	s.TargetDirection = geom.Vec2{X: 0, Y: 1}

	s.step(cfg, 1)

	require.InDelta(t, 1.0, s.Direction.Length(), 1e-9)
	require.Positive(t, s.Direction.X)
	require.Positive(t, s.Direction.Y)

	// Repeated steps converge onto the target heading.
	for i := 0; i < 200; i++ {
		s.step(cfg, 1)
	}
	require.InDelta(t, 0, s.Direction.X, 1e-3)
	require.InDelta(t, 1, s.Direction.Y, 1e-3)
}

func TestPopTailRespectsMinLength(t *testing.T) {
	cfg := config.DefaultGame()
	s := testSnake(cfg, cfg.MinLength)

	for i := 0; i < 50; i++ {
		s.step(cfg, 1)
	}
	require.Equal(t, cfg.MinLength, s.Length())
}

func TestBoostBurnsBodyMass(t *testing.T) {
	cfg := config.DefaultGame()
	cfg.BoostCostTicks = 3
	s := testSnake(cfg, 20)
	s.Boosting = true

	for i := 0; i < 3; i++ {
		s.step(cfg, 1)
	}
	require.Equal(t, 19, s.Length())

	// Dropping the boost resets the toll counter.
	s.Boosting = false
	s.step(cfg, 1)
	require.Zero(t, s.boostTicks)
	require.Equal(t, 19, s.Length())
}

func TestHeadStaysInsideWorld(t *testing.T) {
	cfg := config.DefaultGame()
	s := testSnake(cfg, 5)
	s.Segments[0] = geom.Vec2{X: cfg.WorldSize - 1, Y: 2000}
	s.Direction = geom.Vec2{X: 1, Y: 0}
	s.TargetDirection = s.Direction

	for i := 0; i < 20; i++ {
		s.step(cfg, 1)
	}
	head := s.Head()
	require.LessOrEqual(t, head.X, cfg.WorldSize)
	require.GreaterOrEqual(t, head.X, 0.0)
}

func TestThicknessGrowsWithLength(t *testing.T) {
	cfg := config.DefaultGame()
	short := testSnake(cfg, 5)
	long := testSnake(cfg, 50)
	require.Greater(t, long.Thickness(cfg), short.Thickness(cfg))
	require.GreaterOrEqual(t, short.Thickness(cfg), cfg.SegmentRadius)
}
