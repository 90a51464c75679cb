// game/food.go
package game

import (
	"fmt"

	"github.com/snaked/gameserver/geom"
)

// Food is a fixed-population collectible. Eating one grows the snake and
// respawns a replacement 1:1 elsewhere.
type Food struct {
	ID       string
	Position geom.Vec2
	Color    string
}

func (r *Room) initFood() {
	r.food = make([]*Food, 0, r.cfg.FoodCount)
	for i := 0; i < r.cfg.FoodCount; i++ {
		r.spawnFood()
	}
}

func (r *Room) spawnFood() {
	r.foodSeq++
	r.food = append(r.food, &Food{
		ID:       fmt.Sprintf("food_%d", r.foodSeq),
		Position: r.randomFoodPosition(),
		Color:    SnakeColors[r.rng.Intn(len(SnakeColors))],
	})
	r.foodChanged = true
}

// randomFoodPosition keeps a 50px margin from the world edge.
func (r *Room) randomFoodPosition() geom.Vec2 {
	return geom.Vec2{
		X: r.rng.Float64()*(r.cfg.WorldSize-100) + 50,
		Y: r.rng.Float64()*(r.cfg.WorldSize-100) + 50,
	}
}

// collectFood removes every food item within reach of the head and
// respawns replacements. Returns the number eaten.
func (r *Room) collectFood(s *Snake) int {
	head := s.Head()
	radius := s.Thickness(r.cfg) + r.cfg.FoodRadius

	eaten := 0
	kept := r.food[:0]
	for _, f := range r.food {
		if geom.PointInCircle(f.Position, head, radius) {
			eaten++
			continue
		}
		kept = append(kept, f)
	}
	r.food = kept

	for i := 0; i < eaten; i++ {
		r.spawnFood()
	}
	if eaten > 0 {
		s.Grow(eaten * r.cfg.GrowthPerFood)
		r.foodChanged = true
	}
	return eaten
}
