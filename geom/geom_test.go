package geom

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := Vec2{X: 3, Y: 4}.Normalize()
	if math.Abs(v.Length()-1) > 1e-9 {
		t.Errorf("Expected unit length, got %f", v.Length())
	}
	if math.Abs(v.X-0.6) > 1e-9 || math.Abs(v.Y-0.8) > 1e-9 {
		t.Errorf("Unexpected direction after normalize: %+v", v)
	}
}

func TestNormalize_Zero(t *testing.T) {
	v := Vec2{}.Normalize()
	if v.X != 0 || v.Y != 0 {
		t.Errorf("Normalizing the zero vector should return zero, got %+v", v)
	}
}

func TestPointInCircle(t *testing.T) {
	center := Vec2{X: 10, Y: 10}

	if !PointInCircle(Vec2{X: 13, Y: 14}, center, 5) {
		t.Error("Point on the circle boundary should be inside")
	}
	if PointInCircle(Vec2{X: 13, Y: 14.01}, center, 5) {
		t.Error("Point just outside the radius should not be inside")
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(-1, 0, 10); got != 0 {
		t.Errorf("Clamp below min: got %f", got)
	}
	if got := Clamp(11, 0, 10); got != 10 {
		t.Errorf("Clamp above max: got %f", got)
	}
	if got := Clamp(5, 0, 10); got != 5 {
		t.Errorf("Clamp in range: got %f", got)
	}
}
