package models

import (
	"strconv"
	"time"
)

// Channel represents a configured upstream provider
type Channel struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url"`
	APIKey    string    `json:"api_key"`
	ModelID   string    `json:"model_id"`
	RPMLimit  int       `json:"rpm_limit"`
	IsEnabled bool      `json:"is_enabled"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LimitKey is the rate limiter key for this channel.
func (c *Channel) LimitKey() string {
	return "channel:" + strconv.FormatInt(c.ID, 10)
}

// Caller identifies who is making a request. UserID is nil for guests.
type Caller struct {
	UserID   *int64
	Username *string
	IP       string
}

// IsGuest reports whether the caller is unauthenticated.
func (c Caller) IsGuest() bool {
	return c.UserID == nil
}

// LimitKey is the rate limiter key for this caller.
func (c Caller) LimitKey() string {
	if c.UserID != nil {
		return "user:" + strconv.FormatInt(*c.UserID, 10)
	}
	return "guest:" + c.IP
}

// UsageRecord is the audit entry written after a completed relay
type UsageRecord struct {
	ID               int64
	RequestID        string
	UserID           *int64
	Username         *string
	IPAddress        string
	ChannelID        int64
	ModelID          string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}
