package model

import "time"

// IdempotencyRecord is the stored outcome of a keyed write request.
type IdempotencyRecord struct {
	Status     int       `json:"status"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Processing bool      `json:"processing"` // a request holding the key is still running
}
