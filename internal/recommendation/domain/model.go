package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	titledomain "github.com/reelay/reelay/internal/title/domain"
)

const (
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
)

// Error kinds recorded on failed batches.
const (
	ErrorKindUpstream = "upstream_unavailable"
	ErrorKindSchema   = "schema_violation"
	ErrorKindInternal = "internal"
)

// Batch is one generation run. Superseded batches keep their rows; the
// active set is the newest completed batch.
type Batch struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	PublicID       string       `gorm:"not null;uniqueIndex" json:"public_id"`
	UserID         snowflake.ID `gorm:"not null;index" json:"user_id"`
	Status         string       `gorm:"not null;default:'running'" json:"status"`
	Filters        FilterSpec   `gorm:"type:jsonb;serializer:json;not null" json:"filters"`
	SourceModel    string       `gorm:"not null;default:''" json:"source_model"`
	RankModel      string       `gorm:"not null;default:''" json:"rank_model"`
	RequestedCount int          `gorm:"not null;default:0" json:"requested_count"`
	StoredCount    int          `gorm:"not null;default:0" json:"stored_count"`
	SkippedCount   int          `gorm:"not null;default:0" json:"skipped_count"`
	FailedCount    int          `gorm:"not null;default:0" json:"failed_count"`
	ErrorKind      string       `gorm:"not null;default:''" json:"error_kind,omitempty"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

func (Batch) TableName() string {
	return "recommendation_batches"
}

type Recommendation struct {
	ID        snowflake.ID       `gorm:"primaryKey" json:"id"`
	BatchID   snowflake.ID       `gorm:"not null;index:idx_recommendations_batch_rank,priority:1" json:"batch_id"`
	UserID    snowflake.ID       `gorm:"not null;index:idx_recommendations_user_created,priority:1" json:"user_id"`
	TitleID   *snowflake.ID      `json:"title_id,omitempty"`
	Title     *titledomain.Title `gorm:"foreignKey:TitleID" json:"title,omitempty"`
	Name      string             `gorm:"not null" json:"name"`
	Year      int                `gorm:"not null;default:0" json:"year"`
	Rank      int                `gorm:"not null;index:idx_recommendations_batch_rank,priority:2" json:"rank"`
	Score     float64            `gorm:"type:numeric(4,3);not null;default:0" json:"score"`
	Reason    string             `gorm:"not null;default:''" json:"reason"`
	CreatedAt time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_recommendations_user_created,priority:2,sort:desc" json:"created_at"`
}

func (Recommendation) TableName() string {
	return "recommendations"
}

// FilterSpec narrows what the pipeline may suggest. Zero values mean
// "no constraint".
type FilterSpec struct {
	Count        int      `json:"count,omitempty"`
	YearFrom     int      `json:"year_from,omitempty"`
	YearTo       int      `json:"year_to,omitempty"`
	Genres       []string `json:"genres,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	MinRating    float64  `json:"min_rating,omitempty"`
	MinBoxOffice int64    `json:"min_box_office,omitempty"`
	MaxBudget    int64    `json:"max_budget,omitempty"`
}

// Normalize applies the count default and cap and untangles inverted year
// bounds.
func (f FilterSpec) Normalize(defaultCount, maxCount int) FilterSpec {
	if f.Count <= 0 {
		f.Count = defaultCount
	}
	if maxCount > 0 && f.Count > maxCount {
		f.Count = maxCount
	}
	if f.YearFrom != 0 && f.YearTo != 0 && f.YearFrom > f.YearTo {
		f.YearFrom, f.YearTo = f.YearTo, f.YearFrom
	}
	return f
}

// CandidateSet carries the sourcing stage's output into the ranking stage.
type CandidateSet struct {
	RawText string
	Prompt  string
}

// BulkResult is the per-item outcome tally of one completed run.
type BulkResult struct {
	Batch   *Batch
	Stored  int
	Skipped int
	Failed  int
}

type BatchSummary struct {
	PublicID    string     `json:"public_id"`
	Status      string     `json:"status"`
	Stored      int        `json:"stored"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Status reports generation readiness without side effects.
type Status struct {
	RatingCount int64
	Required    int
	Ready       bool
	InFlight    bool
	LatestBatch *BatchSummary
}

func (b *Batch) Summary() *BatchSummary {
	if b == nil {
		return nil
	}
	return &BatchSummary{
		PublicID:    b.PublicID,
		Status:      b.Status,
		Stored:      b.StoredCount,
		Skipped:     b.SkippedCount,
		Failed:      b.FailedCount,
		ErrorKind:   b.ErrorKind,
		CreatedAt:   b.CreatedAt,
		CompletedAt: b.CompletedAt,
	}
}
