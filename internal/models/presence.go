package models

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

func (s PresenceStatus) Valid() bool {
	return s == StatusOnline || s == StatusOffline
}

// UserPresence is the stored presence record. LastSeenAt is only stamped on
// transitions to offline; UpdatedAt is refreshed by every write.
type UserPresence struct {
	UserID     string         `json:"user_id"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt *time.Time     `json:"last_seen_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// StatusView is what readers get back after the staleness correction.
type StatusView struct {
	UserID     string         `json:"user_id"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt *time.Time     `json:"last_seen_at,omitempty"`
}
