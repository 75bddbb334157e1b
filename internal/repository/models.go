package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/example/medical-ai/internal/classifier"
)

// User is a registered or implicitly created account, keyed by email.
type User struct {
	ID               string    `gorm:"primaryKey;size:36"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	Name             string    `gorm:"column:name;size:255"`
	Email            string    `gorm:"column:email;uniqueIndex;size:320;not null"`
	PasswordHash     string    `gorm:"column:password_hash;size:255"`
	IsActive         bool      `gorm:"column:is_active;not null"`
	IsAdmin          bool      `gorm:"column:is_admin;not null"`
	TotalPredictions int64     `gorm:"column:total_predictions;not null"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns an id when the caller did not.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// PredictionRecord is the persisted result of one inference call.
type PredictionRecord struct {
	ID              string                                      `gorm:"primaryKey;size:36"`
	CreatedAt       time.Time                                   `gorm:"column:created_at;index"`
	UserName        string                                      `gorm:"column:user_name;size:255"`
	UserEmail       string                                      `gorm:"column:user_email;index;size:320"`
	ImageFilename   string                                      `gorm:"column:image_filename;size:255"`
	ImageWidth      int                                         `gorm:"column:image_width"`
	ImageHeight     int                                         `gorm:"column:image_height"`
	PredictedClass  string                                      `gorm:"column:predicted_class;index;size:255"`
	ConfidenceScore float64                                     `gorm:"column:confidence_score"`
	AllPredictions  datatypes.JSONType[classifier.Distribution] `gorm:"column:all_predictions"`
	ProcessingTime  float64                                     `gorm:"column:processing_time"`
	ModelVersion    string                                      `gorm:"column:model_version;size:64"`
}

// TableName overrides the default table name.
func (PredictionRecord) TableName() string {
	return "predictions"
}

// BeforeCreate assigns an id when the caller did not.
func (p *PredictionRecord) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Distribution returns the stored probability distribution.
func (p *PredictionRecord) Distribution() classifier.Distribution {
	return p.AllPredictions.Data()
}

// ListFilter selects a page of predictions, newest first.
type ListFilter struct {
	Email string
	Skip  int
	Limit int
}

// ClassCount is the number of predictions and summed confidence for one
// class within a filter.
type ClassCount struct {
	PredictedClass  string
	Count           int64
	ConfidenceTotal float64
}
