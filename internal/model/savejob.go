package model

import "time"

// SaveJob is one scored article queued for durable persistence. EnqueuedAt
// is the save worker's 60s hard-deadline reference point — distinct from
// the store's created_at, which may lag behind it.
type SaveJob struct {
	Article    Article   `json:"article"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
