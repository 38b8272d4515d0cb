package models

import "time"

// FetchResult is the outcome of one logical fetch (all retry attempts).
type FetchResult struct {
	URL        string        `json:"url"`
	Success    bool          `json:"success"`
	Body       string        `json:"-"`
	StatusCode int           `json:"status_code"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	RunID      string        `json:"run_id"`
	Attempts   int           `json:"attempts"`
	// CircuitOpen is set when the breaker rejected the call without I/O.
	CircuitOpen bool `json:"circuit_open,omitempty"`
}
