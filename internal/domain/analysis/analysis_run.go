package analysis

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// AnalysisRun is one request to analyze a recorded talk.
type AnalysisRun struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SourceURL  string         `gorm:"column:source_url;not null" json:"source_url"`
	FileName   string         `gorm:"column:file_name;not null" json:"file_name"`
	Status     string         `gorm:"column:status;not null;index" json:"status"`
	Stage      string         `gorm:"column:stage;not null" json:"stage"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	ErrorCode  string         `gorm:"column:error_code" json:"error_code,omitempty"`
	Transcript string         `gorm:"column:transcript" json:"transcript,omitempty"`
	Analytics  datatypes.JSON `gorm:"column:analytics;type:jsonb" json:"analytics,omitempty"`
	ChunkCount int            `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	Transcoded bool           `gorm:"column:transcoded;not null;default:false" json:"transcoded"`
	// Timings holds per-stage durations in milliseconds.
	Timings    datatypes.JSON `gorm:"column:timings;type:jsonb" json:"timings,omitempty"`
	StartedAt  *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (AnalysisRun) TableName() string { return "analysis_run" }

func (r *AnalysisRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusQueued
	}
	if r.Stage == "" {
		r.Stage = StatusQueued
	}
	return nil
}

func (r *AnalysisRun) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}
