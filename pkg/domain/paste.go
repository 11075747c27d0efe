package domain

import (
	"time"
)

// Paste is the authoritative metadata record. Content bytes live in the
// blob store under (ID, ContentHash) and are only attached to Content
// when a read path hydrates them.
type Paste struct {
	ID              int64      `json:"id"`
	UUID            string     `json:"uuid"`
	Title           string     `json:"title"`
	ContentHash     string     `json:"content_hash"`
	Language        string     `json:"language"`
	LifetimeMinutes float64    `json:"lifetime"`
	IsPrivate       bool       `json:"is_private"`
	SecretKey       string     `json:"secret_key,omitempty"`
	ViewsCount      int64      `json:"views_count"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	IsExpired       bool       `json:"is_expired"`
	Content         string     `json:"content,omitempty"`
}

// Live reports whether the paste is servable at the given instant.
func (p *Paste) Live(now time.Time) bool {
	if p.IsExpired {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}

type CreateParams struct {
	Title           string
	Content         string
	Language        string
	LifetimeMinutes float64
	IsPrivate       bool
	SecretKey       string
}

// Stat is a named monotonic counter that survives row churn, e.g.
// total_pastes_ever keeps counting after expired pastes are swept away.
type Stat struct {
	Key       string    `json:"key"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Stats struct {
	TotalPastes    int64 `json:"total_pastes"`
	ActivePastes   int64 `json:"active_pastes"`
	ExpiredPastes  int64 `json:"expired_pastes"`
	PastesThisWeek int64 `json:"pastes_this_week"`
	Categories     int64 `json:"categories"`
}
