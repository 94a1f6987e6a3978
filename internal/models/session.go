package models

import "time"

// SessionRecord describes an active pairing as exposed by the operator API
// and mirrored into Redis.
type SessionRecord struct {
	ID        string    `json:"id"`
	Caller    string    `json:"caller"`
	Callee    string    `json:"callee"`
	StartedAt time.Time `json:"startedAt"`
}

// Stats is the response body of GET /api/stats.
type Stats struct {
	Connected      int   `json:"connected"`
	Waiting        int   `json:"waiting"`
	ActiveSessions int   `json:"activeSessions"`
	Online         int64 `json:"online"`        // presence set size, -1 without Redis
	TotalSessions  int64 `json:"totalSessions"` // lifetime pairings, -1 without Redis
}

// KickResponse is returned by DELETE /api/peers/:peerId.
type KickResponse struct {
	PeerID string `json:"peerId"`
	Kicked bool   `json:"kicked"`
}
