package behavior

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	// activityLogCap bounds memory: oldest records are dropped past this.
	activityLogCap = 1000

	readingWordsPerMinute = 220
	minReadingTime        = time.Second
	maxReadingTime        = 30 * time.Second
)

// ActivityRecord is one simulated action in the engine's log.
type ActivityRecord struct {
	Type        string
	Timestamp   time.Time
	Metadata    map[string]any
	SessionTime time.Duration
}

// Config holds the cadence thresholds.
type Config struct {
	// ActionsPerMinute triggers a short cooldown when exceeded in the
	// trailing 60s.
	ActionsPerMinute int
	// ActionsPerHour triggers a long cooldown when exceeded in the
	// trailing hour.
	ActionsPerHour int
	// NaturalBreakChance is the probability of an unprompted pause even
	// when under both thresholds. Randomizing this avoids perfectly
	// threshold-triggered pauses, which are themselves a detectable
	// pattern.
	NaturalBreakChance float64
}

// DefaultConfig returns conservative cadence thresholds.
func DefaultConfig() Config {
	return Config{
		ActionsPerMinute:   8,
		ActionsPerHour:     120,
		NaturalBreakChance: 0.05,
	}
}

// Engine generates randomized timing, movement, typing and scroll plans and
// detects anomalous cadence from its own activity log. All computation is
// seeded by the injected clock and random source so tests stay
// deterministic.
type Engine struct {
	cfg Config
	now func() time.Time
	rnd *rand.Rand

	mu          sync.Mutex
	records     []ActivityRecord
	consecutive int
	startedAt   time.Time
}

// NewEngine creates an engine with the system clock and a time-seeded
// random source.
func NewEngine(cfg Config) *Engine {
	return NewEngineWithSource(cfg, time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewEngineWithSource creates an engine with an explicit clock and random
// source.
func NewEngineWithSource(cfg Config, now func() time.Time, rnd *rand.Rand) *Engine {
	if cfg.ActionsPerMinute <= 0 {
		cfg.ActionsPerMinute = DefaultConfig().ActionsPerMinute
	}
	if cfg.ActionsPerHour <= 0 {
		cfg.ActionsPerHour = DefaultConfig().ActionsPerHour
	}
	return &Engine{
		cfg:       cfg,
		now:       now,
		rnd:       rnd,
		startedAt: now(),
	}
}

// RecordAction appends an activity record and advances the
// consecutive-action counter. The log is capped; oldest entries drop first.
func (e *Engine) RecordAction(actionType string, metadata map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.records = append(e.records, ActivityRecord{
		Type:        actionType,
		Timestamp:   now,
		Metadata:    metadata,
		SessionTime: now.Sub(e.startedAt),
	})
	e.consecutive++

	if len(e.records) > activityLogCap {
		e.records = e.records[len(e.records)-activityLogCap:]
	}
}

// Cooldown describes a pacing decision.
type Cooldown struct {
	Needed   bool
	Duration time.Duration
	Reason   string
}

// CheckCooldown decides whether the session should pause, based on recent
// action counts and a small chance of an unprompted natural break.
func (e *Engine) CheckCooldown() Cooldown {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	lastMinute := e.countSinceLocked(now.Add(-time.Minute))
	lastHour := e.countSinceLocked(now.Add(-time.Hour))

	if lastMinute > e.cfg.ActionsPerMinute {
		e.consecutive = 0
		return Cooldown{
			Needed:   true,
			Duration: e.between(30*time.Second, 120*time.Second),
			Reason:   "minute threshold exceeded",
		}
	}

	if lastHour > e.cfg.ActionsPerHour {
		e.consecutive = 0
		return Cooldown{
			Needed:   true,
			Duration: e.between(5*time.Minute, 15*time.Minute),
			Reason:   "hour threshold exceeded",
		}
	}

	if e.rnd.Float64() < e.cfg.NaturalBreakChance {
		e.consecutive = 0
		return Cooldown{
			Needed:   true,
			Duration: e.between(10*time.Second, 45*time.Second),
			Reason:   "natural break",
		}
	}

	return Cooldown{}
}

// ReadingTime estimates how long a human would spend reading text: word
// count over reading speed, ±40% variance, clamped to [1s, 30s].
func (e *Engine) ReadingTime(text string) time.Duration {
	words := len(strings.Fields(text))
	base := time.Duration(float64(words) / readingWordsPerMinute * float64(time.Minute))

	e.mu.Lock()
	variance := 1 + (e.rnd.Float64()*0.8 - 0.4)
	e.mu.Unlock()

	d := time.Duration(float64(base) * variance)
	if d < minReadingTime {
		return minReadingTime
	}
	if d > maxReadingTime {
		return maxReadingTime
	}
	return d
}

// ConsecutiveActions returns the count of actions since the last cooldown.
func (e *Engine) ConsecutiveActions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutive
}

// countSinceLocked counts records at or after cutoff. Caller holds mu.
func (e *Engine) countSinceLocked(cutoff time.Time) int {
	n := 0
	for i := len(e.records) - 1; i >= 0; i-- {
		if e.records[i].Timestamp.Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// between returns a uniform random duration in [lo, hi). Caller holds mu or
// accepts racy rnd access; all exported callers hold mu.
func (e *Engine) between(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(e.rnd.Int63n(int64(hi-lo)))
}
