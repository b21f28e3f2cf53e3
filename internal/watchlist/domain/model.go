package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	titledomain "github.com/reelay/reelay/internal/title/domain"
)

type Item struct {
	ID        snowflake.ID       `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID       `gorm:"not null;uniqueIndex:idx_watchlist_user_title,priority:1" json:"user_id"`
	TitleID   snowflake.ID       `gorm:"not null;uniqueIndex:idx_watchlist_user_title,priority:2" json:"title_id"`
	Title     *titledomain.Title `gorm:"foreignKey:TitleID" json:"title,omitempty"`
	CreatedAt time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Item) TableName() string {
	return "watchlist_items"
}
