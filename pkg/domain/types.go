package domain

import "time"

// OutputType selects the prompt template used for a generation.
type OutputType string

const (
	OutputShortNotes OutputType = "short_notes"
	OutputLongNotes  OutputType = "long_notes"
	OutputQuiz       OutputType = "quiz"
)

// StoredTextLimit bounds how much input or extracted text is persisted per row.
const StoredTextLimit = 1000

type User struct {
	ID           uint      `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	// UpdatedAt is nil until the row is modified.
	UpdatedAt *time.Time `json:"updated_at"`
}

type ContentGeneration struct {
	ID               uint       `json:"id"`
	UserID           uint       `json:"user_id"`
	InputText        string     `json:"input_text"`
	OutputType       OutputType `json:"output_type"`
	GeneratedContent string     `json:"generated_content"`
	CreatedAt        time.Time  `json:"created_at"`
}

type StudySession struct {
	ID              uint      `json:"id"`
	UserID          uint      `json:"user_id"`
	SessionName     string    `json:"session_name"`
	Content         *string   `json:"content"`
	DurationMinutes *int      `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
}

type FileUpload struct {
	ID            uint      `json:"id"`
	UserID        *uint     `json:"user_id"`
	Filename      string    `json:"filename"`
	FileType      string    `json:"file_type"`
	FileSize      int64     `json:"file_size"`
	ExtractedText string    `json:"extracted_text"`
	CreatedAt     time.Time `json:"created_at"`
}

// TruncateText returns at most limit runes of text.
func TruncateText(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
