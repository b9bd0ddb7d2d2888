package domain

import "time"

// OutcomeStatus is the recorded result for a single item.
type OutcomeStatus string

const (
	OutcomeCaptured OutcomeStatus = "captured"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeFailed   OutcomeStatus = "failed"
)

// ItemOutcome records the per-item processing result. Its existence is the
// idempotency check: an item with a recorded outcome is never re-processed.
type ItemOutcome struct {
	ID            string        `json:"id"             db:"id"`
	ItemID        string        `json:"item_id"        db:"item_id"`
	Partition     Partition     `json:"partition"      db:"partition"`
	RequestID     string        `json:"request_id"     db:"request_id"`
	Status        OutcomeStatus `json:"status"         db:"status"`
	ScreenshotRef string        `json:"screenshot_ref" db:"screenshot_ref"`
	Error         string        `json:"error_msg"      db:"error_msg"`
	ProcessedAt   time.Time     `json:"processed_at"   db:"processed_at"`
}
