package models

import "time"

// AuditEntry records the outcome of a single /predict request.
type AuditEntry struct {
	RequestID    string    `json:"request_id"`
	Fingerprint  string    `json:"fingerprint"`
	Client       string    `json:"client"`
	Cached       bool      `json:"cached"`
	StatusCode   int       `json:"status_code"`
	RequestBody  string    `json:"request_body,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	LatencyMs    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	RequestID   string
	Fingerprint string
	Client      string
	Since       time.Time
	CachedOnly  bool
	Limit       int
}

// AuditStat holds aggregate request counts for a single day.
type AuditStat struct {
	Day      string
	Requests int
	Hits     int
	Errors   int
}
