package model

import (
	"time"
)

// AuditLog is one API call as seen by the gateway.
type AuditLog struct {
	ID        string `json:"id"`
	Account   string `json:"account"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`

	// Signatures and keys are redacted before storage.
	RequestBody  string `json:"request_body"`
	StatusCode   int    `json:"status_code"`
	ResponseBody string `json:"response_body"`
	LatencyMs    int64  `json:"latency_ms"`

	// Handler-supplied detail: order hashes, match types, errors.
	Context map[string]interface{} `json:"context"`

	CreatedAt time.Time `json:"created_at"`
}
