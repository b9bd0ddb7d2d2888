package recovery

import (
	"math"
	"math/rand"
	"time"
)

// MaxAttempts is the hard retry ceiling across all categories.
const MaxAttempts = 3

// IsRecoverable reports whether another local retry is worthwhile.
// VALIDATION and AUTHENTICATION always need external intervention.
// RATE_LIMIT gets at most two attempts before the run should back off
// for real.
func IsRecoverable(ce *ClassifiedError, attempt int) bool {
	if attempt >= MaxAttempts {
		return false
	}

	switch ce.Category {
	case CategoryValidation, CategoryAuthentication:
		return false
	case CategoryRateLimit:
		return attempt < 2
	default:
		return true
	}
}

// BackoffDelay returns how long to wait before retry number attempt
// (1-indexed). Each category has its own curve; ±10% jitter is always
// applied so retries from parallel workers do not align.
func BackoffDelay(attempt int, cat Category) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var base, ceil time.Duration
	switch cat {
	case CategoryRateLimit:
		base = time.Duration(float64(time.Second) * math.Pow(2, float64(attempt-1)))
		ceil = 5 * time.Minute
	case CategoryBrowser:
		base = time.Duration(attempt) * 5 * time.Second
		ceil = 30 * time.Second
	case CategoryNetwork:
		base = time.Duration(float64(time.Second) * math.Pow(float64(attempt), 1.5))
		ceil = 60 * time.Second
	default:
		base = time.Duration(attempt) * 2 * time.Second
		ceil = 10 * time.Second
	}

	if base > ceil {
		base = ceil
	}

	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(base) * jitter)
}

// Plan lists the ordered remediation actions for a classified error. The
// actions are advisory text for operators and automation, never executed
// here.
type Plan struct {
	Category  Category
	Retryable bool
	Delay     time.Duration
	Actions   []string
}

// PlanFor builds the recovery plan for a classified error at the given
// attempt count.
func PlanFor(ce *ClassifiedError, attempt int) Plan {
	p := Plan{
		Category:  ce.Category,
		Retryable: IsRecoverable(ce, attempt),
		Actions:   append([]string(nil), ce.Suggestions...),
	}
	if p.Retryable {
		p.Delay = BackoffDelay(attempt, ce.Category)
		if ce.RetryAfter > p.Delay {
			p.Delay = ce.RetryAfter
		}
	}
	return p
}
