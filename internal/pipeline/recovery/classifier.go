package recovery

import (
	"errors"
	"strings"
	"time"
)

// Category identifies the failure class of an error.
type Category string

const (
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryBrowser        Category = "BROWSER"
	CategoryPlatform       Category = "PLATFORM"
	CategoryValidation     Category = "VALIDATION"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryNetwork        Category = "NETWORK"
	CategorySystem         Category = "SYSTEM"
)

// ClassifiedError is the classified view of a raw error. It is derived on
// demand and never persisted.
type ClassifiedError struct {
	Category    Category
	HTTPStatus  int
	Message     string
	Suggestions []string
	RetryAfter  time.Duration
	Cause       error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// rule maps message phrases to a category. Rules are evaluated in order and
// the first phrase match wins, so more specific phrases come first.
type rule struct {
	phrases     []string
	category    Category
	status      int
	message     string
	suggestions []string
	retryAfter  time.Duration
}

var rules = []rule{
	{
		phrases:  []string{"session expired", "session invalid", "token expired", "invalid token", "not logged in", "authentication", "unauthorized", "login required"},
		category: CategoryAuthentication,
		status:   401,
		message:  "Session is no longer authenticated",
		suggestions: []string{
			"Re-authenticate with fresh credentials",
			"Verify the stored session cookie has not been revoked",
		},
	},
	{
		phrases:  []string{"rate limit", "too many requests", "suspicious activity", "temporarily blocked", "temporarily restricted", "429"},
		category: CategoryRateLimit,
		status:   429,
		message:  "The platform is throttling or blocking automated activity",
		suggestions: []string{
			"Back off before retrying",
			"Reduce the actions-per-minute ceiling",
			"Let the session cool down for several hours if blocks persist",
		},
		retryAfter: 5 * time.Minute,
	},
	{
		phrases:  []string{"browser crashed", "browser closed", "target closed", "page crashed", "navigation timeout", "navigation failed", "selector not found", "waiting for selector", "timeout exceeded", "execution context"},
		category: CategoryBrowser,
		status:   502,
		message:  "Browser automation session failed",
		suggestions: []string{
			"Tear down and reinitialize the automation session",
			"Retry the operation after the session is rebuilt",
		},
	},
	{
		phrases:  []string{"profile not found", "member not found", "profile is private", "profile unavailable", "account deleted", "already connected", "message blocked", "capture failed"},
		category: CategoryPlatform,
		status:   404,
		message:  "The target item is missing, private, or rejected the action",
		suggestions: []string{
			"Skip this item and continue",
			"Verify the item identifier is still valid",
		},
	},
	{
		phrases:  []string{"missing required field", "is required", "must not be empty", "too long", "invalid input", "validation failed"},
		category: CategoryValidation,
		status:   400,
		message:  "Run input failed validation",
		suggestions: []string{
			"Correct the input and start a new run",
		},
	},
	{
		phrases:  []string{"network", "connection refused", "connection reset", "dns", "no such host", "dial tcp", "eof", "socket hang up"},
		category: CategoryNetwork,
		status:   503,
		message:  "Network failure while reaching a collaborator",
		suggestions: []string{
			"Retry with backoff",
			"Check connectivity to the automation driver and stores",
		},
	},
	{
		phrases:  []string{"out of memory", "cannot allocate", "no space left", "disk full", "resource exhausted"},
		category: CategorySystem,
		status:   500,
		message:  "Host resources exhausted",
		suggestions: []string{
			"Free disk or memory on the worker host",
			"Restart the worker",
		},
	},
}

// connectionLevelPhrases mark failures specific to one item. These are
// absorbed by the batch loop instead of failing the run.
var connectionLevelPhrases = []string{
	"profile not found",
	"member not found",
	"profile is private",
	"profile unavailable",
	"account deleted",
	"capture failed",
	"already connected",
}

// Classify maps a raw error to its category by case-insensitive substring
// matching. An error that is already classified is returned unchanged.
func Classify(err error) *ClassifiedError {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, p := range r.phrases {
			if strings.Contains(msg, p) {
				return &ClassifiedError{
					Category:    r.category,
					HTTPStatus:  r.status,
					Message:     r.message,
					Suggestions: r.suggestions,
					RetryAfter:  r.retryAfter,
					Cause:       err,
				}
			}
		}
	}

	return &ClassifiedError{
		Category:   CategorySystem,
		HTTPStatus: 500,
		Message:    "Unexpected internal failure",
		Suggestions: []string{
			"Inspect worker logs for the underlying cause",
		},
		Cause: err,
	}
}

// IsConnectionLevel reports whether err is a single-item failure that the
// batch loop should absorb (count, log, continue).
func IsConnectionLevel(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range connectionLevelPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
