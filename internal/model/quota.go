package model

import "time"

// QuotaWindow is the length of the rolling quota window. A provider's usage
// resets once this much wall-clock time has passed since its last reset; it is
// a sliding daily cap, not a calendar-day cap.
const QuotaWindow = 24 * time.Hour

// QuotaState is the durable usage counter for one provider.
type QuotaState struct {
	ProviderID string    `json:"provider_id"`
	Used       int       `json:"used"`
	Limit      int       `json:"limit"`
	LastReset  time.Time `json:"last_reset"`
}

// Remaining returns the calls left in the current window, or -1 when uncapped.
func (q QuotaState) Remaining() int {
	if q.Limit <= 0 {
		return -1
	}
	if r := q.Limit - q.Used; r > 0 {
		return r
	}
	return 0
}

// ResetDue reports whether the window has elapsed at now.
func (q QuotaState) ResetDue(now time.Time) bool {
	return now.Sub(q.LastReset) >= QuotaWindow
}

// NextReset is the earliest time the counter will reset.
func (q QuotaState) NextReset() time.Time {
	return q.LastReset.Add(QuotaWindow)
}
