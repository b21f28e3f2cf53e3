// Package domain contains core types for the auth service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User represents a registered account.
type User struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Email        string       `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash string       `gorm:"column:password_hash;type:text;not null"`
	DisplayName  string       `gorm:"column:display_name;type:text;not null;default:''"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Session represents a persisted login session. Only the sha-256 of the
// cookie token is stored.
type Session struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"column:user_id;not null;index"`
	TokenHash  string       `gorm:"column:token_hash;type:text;not null;uniqueIndex"`
	UserAgent  string       `gorm:"column:user_agent;type:text;not null;default:''"`
	IPAddress  string       `gorm:"column:ip_address;type:text;not null;default:''"`
	ExpiresAt  time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt  *time.Time   `gorm:"column:revoked_at"`
	LastSeenAt time.Time    `gorm:"column:last_seen_at;not null;default:CURRENT_TIMESTAMP"`
	CreatedAt  time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }
