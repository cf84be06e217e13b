package models

import "time"

type ScheduledMessage struct {
	ID        string    `json:"id" db:"id" bson:"_id"`
	Workspace string    `json:"workspace" db:"workspace" bson:"workspace"`
	ChannelID string    `json:"channelId" db:"channel_id" bson:"channel_id"`
	Message   string    `json:"message" db:"message" bson:"message"`
	SendAt    time.Time `json:"sendAt" db:"send_at" bson:"send_at"`

	Locked      bool       `json:"locked" db:"locked" bson:"locked"`
	LockedUntil *time.Time `json:"-" db:"locked_until" bson:"locked_until,omitempty"` // lease, nil when no TTL configured
	CreatedAt   time.Time  `json:"createdAt" db:"created_at" bson:"created_at"`
}

// Due reports whether the message is eligible for delivery at the given poll time.
func (m *ScheduledMessage) Due(now time.Time) bool {
	return !m.SendAt.After(now)
}

// Claimable reports whether a claim may take the message. Due-ness is judged by the
// poll time now, lease expiry by clock, the store's current time.
func (m *ScheduledMessage) Claimable(now, clock time.Time) bool {
	if !m.Due(now) {
		return false
	}
	if !m.Locked {
		return true
	}
	return m.LockedUntil != nil && !m.LockedUntil.After(clock)
}

// HeldBy reports whether m is still under the claim that returned claimed.
func (m *ScheduledMessage) HeldBy(claimed ScheduledMessage) bool {
	if !m.Locked {
		return false
	}
	if m.LockedUntil == nil || claimed.LockedUntil == nil {
		return m.LockedUntil == nil && claimed.LockedUntil == nil
	}
	return m.LockedUntil.Equal(*claimed.LockedUntil)
}

// JobStats is a point-in-time summary of the job store used by the metrics collector.
type JobStats struct {
	Pending int64 // unlocked
	Locked  int64
	Overdue int64 // unlocked and already due
}
