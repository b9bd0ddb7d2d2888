package control

import "time"

// Response is the uniform envelope every run operation produces.
type Response struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Data     any      `json:"data,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Metadata carries tracing fields for a response.
type Metadata struct {
	RequestID string        `json:"request_id"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func newResponse(requestID string, start time.Time, success bool, message string, data any) *Response {
	return &Response{
		Success: success,
		Message: message,
		Data:    data,
		Metadata: Metadata{
			RequestID: requestID,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		},
	}
}
