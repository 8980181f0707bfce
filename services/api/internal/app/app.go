package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"eduflow/internal/util"
	"eduflow/pkg/auth"
	"eduflow/pkg/domain"
	"eduflow/pkg/extract"
	"eduflow/pkg/store"
	"eduflow/pkg/studygen"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// TokenIssuer signs and verifies bearer tokens whose subject is a username.
type TokenIssuer interface {
	NewSession(subject string) (string, error)
	Subject(token string) (string, error)
}

// Generator produces study material from text.
type Generator interface {
	Generate(ctx context.Context, text string, outputType domain.OutputType) (string, error)
}

// Config holds the collaborators of the core application.
type Config struct {
	Store     store.Store
	Sessions  TokenIssuer
	Generator Generator
	Now       func() time.Time
}

// App implements registration, token issuance and study material generation.
type App struct {
	store     store.Store
	sessions  TokenIssuer
	generator Generator
	now       func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("app: token issuer required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("app: generator required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		generator: cfg.Generator,
		now:       cfg.Now,
	}, nil
}

// Register creates an active user. Email conflicts are reported before
// username conflicts.
func (a *App) Register(email, username, password string) (domain.User, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if err := validateEmail(email); err != nil {
		return domain.User{}, err
	}
	if username == "" {
		return domain.User{}, ErrUsernameRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if _, found, err := a.store.GetUserByEmail(email); err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	} else if found {
		return domain.User{}, ErrEmailTaken
	}
	if _, found, err := a.store.GetUserByUsername(username); err != nil {
		return domain.User{}, fmt.Errorf("check username: %w", err)
	} else if found {
		return domain.User{}, ErrUsernameTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := a.store.CreateUser(domain.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    a.now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrDuplicateEmail):
		return domain.User{}, ErrEmailTaken
	case errors.Is(err, store.ErrDuplicateUsername):
		return domain.User{}, ErrUsernameTaken
	case err != nil:
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// Authenticate checks credentials. Unknown, inactive and mismatched users all
// yield ErrInvalidCredentials.
func (a *App) Authenticate(username, password string) (domain.User, error) {
	user, found, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	var stored string
	if found {
		stored = user.PasswordHash
	}
	// unknown users still pay for a bcrypt comparison
	if !auth.CheckPassword(password, stored) || !user.IsActive {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// IssueToken authenticates the user and returns a bearer token.
func (a *App) IssueToken(username, password string) (string, domain.User, error) {
	user, err := a.Authenticate(username, password)
	if err != nil {
		return "", domain.User{}, err
	}
	token, err := a.sessions.NewSession(user.Username)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("issue token: %w", err)
	}
	return token, user, nil
}

// UserFromToken resolves an active user from a bearer token.
func (a *App) UserFromToken(token string) (domain.User, error) {
	username, err := a.sessions.Subject(token)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	user, found, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !found || !user.IsActive {
		return domain.User{}, ErrUnauthorized
	}
	return user, nil
}

// GenerateFromText generates study material from raw text and records it.
func (a *App) GenerateFromText(ctx context.Context, user domain.User, inputText string, outputType domain.OutputType) (domain.ContentGeneration, error) {
	if strings.TrimSpace(inputText) == "" {
		return domain.ContentGeneration{}, ErrInputTextRequired
	}
	result, err := a.generator.Generate(ctx, inputText, outputType)
	if err != nil {
		return domain.ContentGeneration{}, err
	}
	gen, err := a.store.RecordGeneration(domain.ContentGeneration{
		UserID:           user.ID,
		InputText:        domain.TruncateText(inputText, domain.StoredTextLimit),
		OutputType:       outputType,
		GeneratedContent: result,
		CreatedAt:        a.now().UTC(),
	})
	if err != nil {
		return domain.ContentGeneration{}, err
	}
	util.LoggerFromContext(ctx).Info("content generated", "user", user.Username, "output_type", outputType, "generation_id", gen.ID)
	return gen, nil
}

// Upload is a document received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// GenerateFromUpload extracts the document text, generates study material and
// records the upload and generation together.
func (a *App) GenerateFromUpload(ctx context.Context, user domain.User, upload Upload, outputType domain.OutputType) (domain.ContentGeneration, error) {
	if !extract.Allowed(upload.ContentType) {
		return domain.ContentGeneration{}, fmt.Errorf("%w: %q", extract.ErrUnsupportedType, upload.ContentType)
	}
	text, err := extract.Extract(upload.Data, upload.ContentType)
	if err != nil {
		return domain.ContentGeneration{}, err
	}
	result, err := a.generator.Generate(ctx, text, outputType)
	if err != nil {
		return domain.ContentGeneration{}, err
	}
	now := a.now().UTC()
	stored := domain.TruncateText(text, domain.StoredTextLimit)
	userID := user.ID
	_, gen, err := a.store.RecordUploadGeneration(
		domain.FileUpload{
			UserID:        &userID,
			Filename:      upload.Filename,
			FileType:      upload.ContentType,
			FileSize:      int64(len(upload.Data)),
			ExtractedText: stored,
			CreatedAt:     now,
		},
		domain.ContentGeneration{
			UserID:           user.ID,
			InputText:        stored,
			OutputType:       outputType,
			GeneratedContent: result,
			CreatedAt:        now,
		},
	)
	if err != nil {
		return domain.ContentGeneration{}, err
	}
	util.LoggerFromContext(ctx).Info("content generated from upload", "user", user.Username, "output_type", outputType, "filename", upload.Filename, "generation_id", gen.ID)
	return gen, nil
}

// ListGenerations returns the user's generations, newest first. Limits outside
// 1..MaxListLimit are clamped.
func (a *App) ListGenerations(user domain.User, limit int) ([]domain.ContentGeneration, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return a.store.ListGenerationsByUser(user.ID, limit)
}

// GetGeneration returns one generation owned by user.
func (a *App) GetGeneration(user domain.User, id uint) (domain.ContentGeneration, error) {
	gen, found, err := a.store.GetGeneration(id)
	if err != nil {
		return domain.ContentGeneration{}, err
	}
	if !found || gen.UserID != user.ID {
		return domain.ContentGeneration{}, ErrNotFound
	}
	return gen, nil
}

func (a *App) CreateStudySession(user domain.User, name string, content *string, durationMinutes *int) (domain.StudySession, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.StudySession{}, ErrSessionNameRequired
	}
	if durationMinutes != nil && *durationMinutes < 0 {
		return domain.StudySession{}, ErrInvalidDuration
	}
	return a.store.CreateStudySession(domain.StudySession{
		UserID:          user.ID,
		SessionName:     name,
		Content:         content,
		DurationMinutes: durationMinutes,
		CreatedAt:       a.now().UTC(),
	})
}

func (a *App) ListStudySessions(user domain.User) ([]domain.StudySession, error) {
	return a.store.ListStudySessionsByUser(user.ID)
}

var _ Generator = (*studygen.Generator)(nil)
