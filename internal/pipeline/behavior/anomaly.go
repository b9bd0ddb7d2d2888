package behavior

import "time"

const (
	anomalyWindow = 5 * time.Minute

	// Mean inter-action interval below this reads as scripted.
	tooFastMeanThreshold = 500 * time.Millisecond

	// Interval variance (ms²) below this reads as machine-regular.
	tooRegularVariance = 10_000.0

	// More actions than this inside the window is excessive.
	tooManyThreshold = 50

	// Any exact interval repeating this often is unusual: real human
	// timing essentially never repeats exactly.
	repeatThreshold = 3
)

// AnomalyReport flags detectable cadence patterns over the trailing
// activity window. Any single flag marks the window suspicious.
type AnomalyReport struct {
	TooFast         bool
	TooRegular      bool
	TooManyActions  bool
	UnusualTiming   bool
	Suspicious      bool
	Recommendations []string
}

// DetectAnomalies inspects the trailing five minutes of activity for
// patterns that distinguish automation from human use.
func (e *Engine) DetectAnomalies() AnomalyReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-anomalyWindow)
	var recent []ActivityRecord
	for _, r := range e.records {
		if !r.Timestamp.Before(cutoff) {
			recent = append(recent, r)
		}
	}

	var report AnomalyReport
	if len(recent) > tooManyThreshold {
		report.TooManyActions = true
		report.Recommendations = append(report.Recommendations,
			"Reduce overall action volume; take a long break")
	}

	if len(recent) >= 3 {
		intervals := make([]time.Duration, 0, len(recent)-1)
		for i := 1; i < len(recent); i++ {
			intervals = append(intervals, recent[i].Timestamp.Sub(recent[i-1].Timestamp))
		}

		mean := meanDuration(intervals)
		if mean < tooFastMeanThreshold {
			report.TooFast = true
			report.Recommendations = append(report.Recommendations,
				"Insert longer delays between actions")
		}

		if varianceMs(intervals, mean) < tooRegularVariance {
			report.TooRegular = true
			report.Recommendations = append(report.Recommendations,
				"Increase timing variance; avoid fixed intervals")
		}

		seen := make(map[time.Duration]int)
		for _, iv := range intervals {
			seen[iv]++
			if seen[iv] >= repeatThreshold {
				report.UnusualTiming = true
				break
			}
		}
		if report.UnusualTiming {
			report.Recommendations = append(report.Recommendations,
				"Randomize delays; identical intervals repeat in the log")
		}
	}

	report.Suspicious = report.TooFast || report.TooRegular ||
		report.TooManyActions || report.UnusualTiming
	return report
}

func meanDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}

// varianceMs computes interval variance in milliseconds squared.
func varianceMs(ds []time.Duration, mean time.Duration) float64 {
	if len(ds) == 0 {
		return 0
	}
	var sum float64
	m := float64(mean.Milliseconds())
	for _, d := range ds {
		diff := float64(d.Milliseconds()) - m
		sum += diff * diff
	}
	return sum / float64(len(ds))
}
