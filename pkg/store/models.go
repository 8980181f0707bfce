package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"size:255;uniqueIndex;not null"`
	Username     string `gorm:"size:100;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	IsActive     bool   `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    *time.Time `gorm:"autoUpdateTime:false"`
}

func (UserModel) TableName() string { return "users" }

type ContentGenerationModel struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	UserID           uint      `gorm:"not null;index"`
	User             UserModel `gorm:"constraint:OnDelete:CASCADE"`
	InputText        string    `gorm:"type:text;not null"`
	OutputType       string    `gorm:"size:50;not null"`
	GeneratedContent string    `gorm:"type:text;not null"`
	CreatedAt        time.Time `gorm:"index"`
}

func (ContentGenerationModel) TableName() string { return "content_generations" }

type StudySessionModel struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	UserID          uint      `gorm:"not null;index"`
	User            UserModel `gorm:"constraint:OnDelete:CASCADE"`
	SessionName     string    `gorm:"size:255;not null"`
	Content         *string   `gorm:"type:text"`
	DurationMinutes *int
	CreatedAt       time.Time
}

func (StudySessionModel) TableName() string { return "study_sessions" }

type FileUploadModel struct {
	ID            uint       `gorm:"primaryKey;autoIncrement"`
	UserID        *uint      `gorm:"index"`
	User          *UserModel `gorm:"constraint:OnDelete:SET NULL"`
	Filename      string     `gorm:"size:255;not null"`
	FileType      string     `gorm:"size:100;not null"`
	FileSize      int64      `gorm:"not null"`
	ExtractedText string     `gorm:"type:text"`
	CreatedAt     time.Time
}

func (FileUploadModel) TableName() string { return "file_uploads" }
