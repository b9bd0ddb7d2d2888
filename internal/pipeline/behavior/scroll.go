package behavior

import "time"

// ScrollStep is one wheel movement. A zero Delta with a Delay is a reading
// pause mid-scroll.
type ScrollStep struct {
	Delta int
	Delay time.Duration
}

// ScrollDirection selects scroll orientation.
type ScrollDirection int

const (
	ScrollDown ScrollDirection = iota
	ScrollUp
)

// ScrollPattern returns a sequence of (delta, delay) steps whose magnitudes
// sum to at least distance, with occasional zero-delta pause steps
// interleaved.
func (e *Engine) ScrollPattern(distance int, dir ScrollDirection) []ScrollStep {
	e.mu.Lock()
	defer e.mu.Unlock()

	if distance <= 0 {
		return nil
	}

	sign := 1
	if dir == ScrollUp {
		sign = -1
	}

	var steps []ScrollStep
	covered := 0
	for covered < distance {
		if len(steps) > 0 && e.rnd.Float64() < 0.1 {
			steps = append(steps, ScrollStep{
				Delta: 0,
				Delay: e.between(300*time.Millisecond, 900*time.Millisecond),
			})
			continue
		}

		delta := 80 + e.rnd.Intn(261)
		if remaining := distance - covered; delta > remaining {
			delta = remaining
		}
		covered += delta
		steps = append(steps, ScrollStep{
			Delta: sign * delta,
			Delay: e.between(40*time.Millisecond, 160*time.Millisecond),
		})
	}
	return steps
}
