package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"

	titledomain "github.com/reelay/reelay/internal/title/domain"
)

const (
	MinScore  = 0.5
	MaxScore  = 10.0
	ScoreStep = 0.5
)

type Rating struct {
	ID        snowflake.ID       `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID       `gorm:"not null;uniqueIndex:idx_ratings_user_title,priority:1;index:idx_ratings_user_created,priority:1" json:"user_id"`
	TitleID   snowflake.ID       `gorm:"not null;uniqueIndex:idx_ratings_user_title,priority:2" json:"title_id"`
	Title     *titledomain.Title `gorm:"foreignKey:TitleID" json:"title,omitempty"`
	Score     float64            `gorm:"type:numeric(3,1);not null" json:"score"`
	CreatedAt time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_ratings_user_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Rating) TableName() string {
	return "ratings"
}

// ValidateScore accepts half-point scores between 0.5 and 10.0.
func ValidateScore(score float64) error {
	if score < MinScore || score > MaxScore {
		return ErrInvalidScore
	}
	if math.Mod(score, ScoreStep) != 0 {
		return ErrInvalidScore
	}
	return nil
}
