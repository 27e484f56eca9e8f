package stealth

import (
	"math"

	"snap-automation/internal/core"
)

// PathPoint is an intermediate pointer position on the way to a target
type PathPoint struct {
	X, Y float64
}

// Mouse generates curved pointer paths between two coordinates
type Mouse struct {
	speedMin float64
	speedMax float64
	jitter   *Jitter
}

// NewMouse creates a Mouse. Speeds are multipliers; larger means fewer steps.
func NewMouse(speedMin, speedMax float64, jitter *Jitter) *Mouse {
	if speedMin <= 0 {
		speedMin = 1
	}
	if speedMax < speedMin {
		speedMax = speedMin
	}
	if jitter == nil {
		jitter = NewJitter()
	}
	return &Mouse{speedMin: speedMin, speedMax: speedMax, jitter: jitter}
}

// Path returns the points along a cubic Bézier curve from start to end.
// The last point is always exactly end.
func (m *Mouse) Path(start, end core.Point) []PathPoint {
	from := PathPoint{X: float64(start.X), Y: float64(start.Y)}
	to := PathPoint{X: float64(end.X), Y: float64(end.Y)}

	distance := math.Hypot(to.X-from.X, to.Y-from.Y)
	if distance < 1.0 {
		return []PathPoint{to}
	}

	speed := m.jitter.RandomFloat(m.speedMin, m.speedMax)
	steps := int(distance / (10.0 * speed))
	if steps < 10 {
		steps = 10
	}
	if steps > 100 {
		steps = 100
	}

	return bezierPoints(m.controlPoints(from, to, distance), steps)
}

// controlPoints bends the curve sideways by 20-50% of the distance
func (m *Mouse) controlPoints(start, end PathPoint, distance float64) [4]PathPoint {
	perpX := -(end.Y - start.Y) / distance
	perpY := (end.X - start.X) / distance
	scale := m.jitter.RandomFloat(0.2, 0.5) * distance

	c1 := m.jitter.RandomFloat(0.3, 0.7)
	c2 := m.jitter.RandomFloat(0.3, 0.7)
	return [4]PathPoint{
		start,
		{X: start.X + perpX*scale*c1, Y: start.Y + perpY*scale*c1},
		{X: end.X - perpX*scale*c2, Y: end.Y - perpY*scale*c2},
		end,
	}
}

func bezierPoints(cp [4]PathPoint, steps int) []PathPoint {
	points := make([]PathPoint, steps)
	for i := 0; i < steps; i++ {
		t := easeInOutCubic(float64(i) / float64(steps-1))

		// B(t) = (1-t)³P₀ + 3(1-t)²tP₁ + 3(1-t)t²P₂ + t³P₃
		mt := 1 - t
		a := mt * mt * mt
		b := 3 * mt * mt * t
		c := 3 * mt * t * t
		d := t * t * t

		points[i] = PathPoint{
			X: a*cp[0].X + b*cp[1].X + c*cp[2].X + d*cp[3].X,
			Y: a*cp[0].Y + b*cp[1].Y + c*cp[2].Y + d*cp[3].Y,
		}
	}
	points[steps-1] = cp[3]
	return points
}

// easeInOutCubic is slow at both ends and fast in the middle
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}
