package store

import (
	"errors"
	"strings"

	"eduflow/pkg/domain"
)

var (
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
)

// MemoryDSN selects the in-process store.
const MemoryDSN = "memory://"

// Store defines persistence for users, generations, uploads and study sessions.
type Store interface {
	// users
	CreateUser(domain.User) (domain.User, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	UserCount() (int, error)

	// generations
	RecordGeneration(domain.ContentGeneration) (domain.ContentGeneration, error)
	RecordUploadGeneration(domain.FileUpload, domain.ContentGeneration) (domain.FileUpload, domain.ContentGeneration, error)
	ListGenerationsByUser(userID uint, limit int) ([]domain.ContentGeneration, error)
	GetGeneration(id uint) (domain.ContentGeneration, bool, error)

	// study sessions
	CreateStudySession(domain.StudySession) (domain.StudySession, error)
	ListStudySessionsByUser(userID uint) ([]domain.StudySession, error)

	Close() error
}

// Open returns the store selected by dsn.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" || strings.HasPrefix(dsn, MemoryDSN) {
		return NewMemoryStore(), nil
	}
	s, err := NewGormStore(dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}
