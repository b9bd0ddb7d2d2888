package behavior

import "math"

// Point is a viewport coordinate.
type Point struct {
	X float64
	Y float64
}

// Rect is a target rectangle in viewport coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// PointerPath returns an ordered sequence of intermediate coordinates from a
// randomized start point to a randomized offset within the target, shaped
// with a sinusoidal lateral curve rather than a straight line.
func (e *Engine) PointerPath(viewportW, viewportH float64, target Rect) []Point {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := Point{
		X: e.rnd.Float64() * viewportW,
		Y: e.rnd.Float64() * viewportH,
	}
	end := Point{
		X: target.X + e.rnd.Float64()*target.Width,
		Y: target.Y + e.rnd.Float64()*target.Height,
	}

	steps := 3 + e.rnd.Intn(6)
	amplitude := 4 + e.rnd.Float64()*18

	path := make([]Point, 0, steps+1)
	dx := end.X - start.X
	dy := end.Y - start.Y
	length := math.Hypot(dx, dy)

	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := Point{
			X: start.X + dx*t,
			Y: start.Y + dy*t,
		}

		// Perpendicular sinusoidal offset, zero at both endpoints.
		if length > 0 && i < steps {
			off := amplitude * math.Sin(t*math.Pi)
			p.X += -dy / length * off
			p.Y += dx / length * off
		}
		path = append(path, p)
	}
	return path
}
