// Package notify detects usage-threshold crossings and delivers signed
// webhook alerts with bounded retry. Delivery is fully decoupled from the
// check path: the orchestrator enqueues jobs, workers drain them.
package notify

import (
	"fmt"
	"time"
)

// ShouldNotify returns the largest configured threshold satisfied by the
// usage ratio, or false when none is. Thresholds are percentages of limit.
func ShouldNotify(currentUsage, limit int64, thresholds []int) (int, bool) {
	if limit <= 0 {
		return 0, false
	}
	percentage := float64(currentUsage) / float64(limit) * 100

	best := -1
	for _, th := range thresholds {
		if percentage >= float64(th) && th > best {
			best = th
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// Payload is the transient value delivered per threshold crossing. It is
// constructed, handed to the pool, and discarded after delivery succeeds or
// retries are exhausted.
type Payload struct {
	Key          string `json:"key"`
	Endpoint     string `json:"endpoint,omitempty"`
	Limit        int64  `json:"limit"`
	CurrentUsage int64  `json:"currentUsage"`
	Threshold    int    `json:"threshold"`
	Timestamp    string `json:"timestamp"`
	Message      string `json:"message"`
}

// NewPayload builds a current-time-stamped payload for a threshold crossing.
func NewPayload(key, endpoint string, limit, currentUsage int64, threshold int) Payload {
	return Payload{
		Key:          key,
		Endpoint:     endpoint,
		Limit:        limit,
		CurrentUsage: currentUsage,
		Threshold:    threshold,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Message: fmt.Sprintf("rate limit usage for %q reached %d%% (%d/%d)",
			key, threshold, currentUsage, limit),
	}
}
