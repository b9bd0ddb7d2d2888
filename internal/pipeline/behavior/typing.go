package behavior

import (
	"time"
	"unicode"
)

const (
	typingBaseMin = 80 * time.Millisecond
	typingBaseMax = 220 * time.Millisecond

	hesitationChance = 0.05
	mistypeChance    = 0.03
)

// KeyAction is one step of a typing plan.
type KeyAction struct {
	// Rune to type. Zero for a backspace step.
	Rune rune
	// Backspace deletes the previously typed rune.
	Backspace bool
	// Delay to wait before this keystroke.
	Delay time.Duration
}

// TypingDelays returns one delay per character of text. The per-character
// base is randomized within a band with multiplicative modifiers for
// spaces, punctuation, capitals and digits, plus an occasional long
// hesitation pause mid-stream.
func (e *Engine) TypingDelays(text string) []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	runes := []rune(text)
	delays := make([]time.Duration, len(runes))
	for i, r := range runes {
		d := e.between(typingBaseMin, typingBaseMax)
		d = time.Duration(float64(d) * charModifier(r))

		// Symmetric jitter on top of the modifier.
		d = time.Duration(float64(d) * (1 + (e.rnd.Float64()*0.5 - 0.25)))

		if e.rnd.Float64() < hesitationChance {
			d += e.between(400*time.Millisecond, 1400*time.Millisecond)
		}
		delays[i] = d
	}
	return delays
}

// TypingPlan expands text into keystrokes, occasionally inserting a
// deliberate wrong character followed by a backspace and the correct
// retype.
func (e *Engine) TypingPlan(text string) []KeyAction {
	delays := e.TypingDelays(text)

	e.mu.Lock()
	defer e.mu.Unlock()

	var plan []KeyAction
	for i, r := range []rune(text) {
		if unicode.IsLetter(r) && e.rnd.Float64() < mistypeChance {
			wrong := neighborRune(r, e.rnd.Intn(2) == 0)
			plan = append(plan,
				KeyAction{Rune: wrong, Delay: delays[i]},
				KeyAction{Backspace: true, Delay: e.between(150*time.Millisecond, 450*time.Millisecond)},
				KeyAction{Rune: r, Delay: e.between(typingBaseMin, typingBaseMax)},
			)
			continue
		}
		plan = append(plan, KeyAction{Rune: r, Delay: delays[i]})
	}
	return plan
}

// charModifier scales the base delay per character class. Humans slow down
// around word and sentence boundaries and for shifted or numeric keys.
func charModifier(r rune) float64 {
	switch {
	case r == ' ':
		return 1.4
	case r == '.' || r == '!' || r == '?':
		return 2.2
	case unicode.IsPunct(r):
		return 1.6
	case unicode.IsUpper(r):
		return 1.3
	case unicode.IsDigit(r):
		return 1.5
	default:
		return 1.0
	}
}

// neighborRune returns an adjacent rune in codepoint order, a cheap stand-in
// for a keyboard-adjacent key.
func neighborRune(r rune, up bool) rune {
	if up {
		return r + 1
	}
	return r - 1
}
