package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// MissingImagePolicy decides what happens when a row references an image that
// cannot be found in storage.
type MissingImagePolicy string

const (
	MissingImageFail        MissingImagePolicy = "fail"
	MissingImagePlaceholder MissingImagePolicy = "placeholder"
	MissingImageSkip        MissingImagePolicy = "skip"
)

func ParseMissingImagePolicy(s string) (MissingImagePolicy, error) {
	switch p := MissingImagePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MissingImageFail, MissingImagePlaceholder, MissingImageSkip:
		return p, nil
	case "":
		return MissingImagePlaceholder, nil
	default:
		return "", fmt.Errorf("unknown missing_image_behavior %q", s)
	}
}

type Template struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;index;not null"`
	Name        string    `gorm:"type:text;not null;default:''"`
	StoragePath string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type CsvUpload struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;index;not null"`
	Name        string    `gorm:"type:text;not null;default:''"`
	StoragePath string    `gorm:"type:text;not null"`
	RowCount    int       `gorm:"not null;default:0"` // advisory only
	CreatedAt   time.Time `gorm:"not null"`
}

type Job struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;index;not null"`

	TemplateID  uuid.UUID `gorm:"type:uuid;not null"`
	Template    Template  `gorm:"foreignKey:TemplateID"`
	CsvUploadID uuid.UUID `gorm:"type:uuid;not null"`
	CsvUpload   CsvUpload `gorm:"foreignKey:CsvUploadID"`

	Status          Status `gorm:"type:text;index;not null;default:'queued'"`
	Progress        int    `gorm:"not null;default:0"`
	ProgressMessage string `gorm:"type:text;not null;default:''"`

	FilenameTemplate     string             `gorm:"type:text;not null;default:''"`
	MissingImageBehavior MissingImagePolicy `gorm:"type:text;not null;default:'placeholder'"`

	OutputArchivePath *string        `gorm:"type:text"`
	ErrorMessage      *string        `gorm:"type:text"`
	Notes             *string        `gorm:"type:text"`
	Warnings          datatypes.JSON `gorm:"type:jsonb"`

	RowsTotal     int `gorm:"not null;default:0"`
	RowsSucceeded int `gorm:"not null;default:0"`
	RowsFailed    int `gorm:"not null;default:0"`

	ClaimedBy  *string `gorm:"type:text"`
	StartedAt  *time.Time
	FinishedAt *time.Time

	CreatedAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Job) TableName() string { return "generation_jobs" }

func (t *Template) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (c *CsvUpload) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (j *Job) BeforeCreate(*gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.MissingImageBehavior == "" {
		j.MissingImageBehavior = MissingImagePlaceholder
	}
	return nil
}

// Outcome is the terminal state written by Finish.
type Outcome struct {
	Status            Status
	OutputArchivePath string
	ErrorMessage      string
	Notes             string
	Warnings          []string
}
