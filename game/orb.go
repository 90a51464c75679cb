// game/orb.go
package game

import (
	"math"

	"github.com/google/uuid"

	"github.com/snaked/gameserver/geom"
	"github.com/snaked/gameserver/models"
)

// Orb carries point value. Spawned by deaths or external revenue
// injection; removed on collection and never respawned.
type Orb struct {
	ID       string
	Position geom.Vec2
	Value    int64
}

// PickupRadius scales with value so big orbs are easier to grab. Value
// is clamped to 1 so the log never sees zero.
func (o *Orb) PickupRadius(base, perLog float64) float64 {
	v := o.Value
	if v < 1 {
		v = 1
	}
	return base + perLog*math.Log10(float64(v)+1)
}

func (o *Orb) state() models.OrbState {
	return models.OrbState{ID: o.ID, Position: o.Position, Value: o.Value}
}

func (r *Room) addOrb(pos geom.Vec2, value int64) *Orb {
	if value < 1 {
		value = 1
	}
	orb := &Orb{ID: uuid.New().String(), Position: pos, Value: value}
	r.orbs[orb.ID] = orb
	return orb
}

// splitPoints divides a dead player's points into the drop, scatter and
// sink shares. drop + scatter + sink always equals total.
func splitPoints(total int64, dropFrac, scatterFrac float64) (drop, scatter, sink int64) {
	if total <= 0 {
		return 0, 0, 0
	}
	drop = int64(float64(total) * dropFrac)
	scatter = int64(float64(total) * scatterFrac)
	if drop+scatter > total {
		scatter = total - drop
	}
	sink = total - drop - scatter
	return drop, scatter, sink
}

// distributeValue splits total across n orbs with the remainder on the
// first, so the orb values always sum exactly to total.
func distributeValue(total int64, n int) []int64 {
	if total <= 0 || n <= 0 {
		return nil
	}
	if int64(n) > total {
		n = int(total)
	}
	per := total / int64(n)
	values := make([]int64, n)
	for i := range values {
		values[i] = per
	}
	values[0] += total - per*int64(n)
	return values
}

// dropDeathOrbs spawns the drop share along the corpse and the scatter
// share at random world positions. Returns the spawned orbs.
func (r *Room) dropDeathOrbs(s *Snake) []*Orb {
	drop, scatter, _ := splitPoints(s.Points, r.cfg.DropFraction, r.cfg.ScatterFraction)

	var orbs []*Orb

	// Walk every other body segment, capped, with a little jitter.
	if drop > 0 {
		count := r.cfg.MaxDropOrbs
		if len(s.Segments) < count {
			count = len(s.Segments)
		}
		values := distributeValue(drop, count)
		for i, v := range values {
			seg := s.Segments[min(i*2, len(s.Segments)-1)]
			pos := geom.Vec2{
				X: geom.Clamp(seg.X+(r.rng.Float64()-0.5)*30, 0, r.cfg.WorldSize),
				Y: geom.Clamp(seg.Y+(r.rng.Float64()-0.5)*30, 0, r.cfg.WorldSize),
			}
			orbs = append(orbs, r.addOrb(pos, v))
		}
	}

	// Scatter keeps some value circulating away from the kill site.
	if scatter > 0 {
		values := distributeValue(scatter, r.cfg.MaxScatterOrbs)
		for _, v := range values {
			orbs = append(orbs, r.addOrb(r.randomFoodPosition(), v))
		}
	}

	return orbs
}

// injectOrbs scatters externally funded value (ad revenue) across the
// world. Returns the number of orbs spawned.
func (r *Room) injectOrbs(points int64) int {
	values := distributeValue(points, r.cfg.MaxScatterOrbs)
	for _, v := range values {
		r.addOrb(r.randomFoodPosition(), v)
	}
	return len(values)
}
