package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"eduflow/pkg/domain"
)

const migrateLockID int64 = 51836002

// GormStore implements Store using GORM with Postgres, MySQL or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB selected by dsn and runs auto-migrations.
//
// postgres:// and postgresql:// URLs (or key=value DSNs) use Postgres. A
// mysql:// prefix selects MySQL; the remainder must be a go-sql-driver DSN
// such as "user:pass@tcp(host:3306)/eduflow?parseTime=true". sqlite:///path
// opens a SQLite file relative to the working directory, sqlite:////path an
// absolute one.
func NewGormStore(dsn string) (*GormStore, error) {
	dialector, kind, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ContentGenerationModel{}, &StudySessionModel{}, &FileUploadModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if kind == dialectSQLite {
		// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if kind == dialectPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

type dialect int

const (
	dialectPostgres dialect = iota + 1
	dialectMySQL
	dialectSQLite
)

func dialectorFor(dsn string) (gorm.Dialector, dialect, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, 0, errors.New("database dsn required")
	case strings.HasPrefix(dsn, "sqlite://"):
		path, err := sqlitePath(dsn)
		if err != nil {
			return nil, 0, err
		}
		return sqlite.Open(path), dialectSQLite, nil
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), dialectMySQL, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), dialectPostgres, nil
	case !strings.Contains(dsn, "://") && strings.Contains(dsn, "="):
		// key=value connection string
		return postgres.Open(dsn), dialectPostgres, nil
	default:
		return nil, 0, fmt.Errorf("unsupported database dsn scheme: %q", schemeOf(dsn))
	}
}

// sqlitePath converts sqlite:///rel.db and sqlite:////abs.db into a driver
// DSN with foreign keys enforced.
func sqlitePath(dsn string) (string, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", errors.New("sqlite dsn requires a file path")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.Contains(path, "_pragma=foreign_keys") {
		path += sep + "_pragma=foreign_keys(1)"
	}
	return path, nil
}

func schemeOf(dsn string) string {
	if i := strings.Index(dsn, "://"); i > 0 {
		return dsn[:i]
	}
	return ""
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateUser(u domain.User) (domain.User, error) {
	model := userToModel(u)
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, s.duplicateUserError(u)
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// duplicateUserError reports which unique column a failed insert collided on.
func (s *GormStore) duplicateUserError(u domain.User) error {
	if _, found, err := s.GetUserByEmail(u.Email); err == nil && found {
		return ErrDuplicateEmail
	}
	return ErrDuplicateUsername
}

func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	return s.findUser("username = ?", username)
}

func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.findUser("email = ?", email)
}

func (s *GormStore) findUser(query string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) RecordGeneration(g domain.ContentGeneration) (domain.ContentGeneration, error) {
	model := generationToModel(g)
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		return domain.ContentGeneration{}, fmt.Errorf("record generation: %w", err)
	}
	return generationFromModel(model), nil
}

// RecordUploadGeneration writes the upload and its generation in one transaction.
func (s *GormStore) RecordUploadGeneration(u domain.FileUpload, g domain.ContentGeneration) (domain.FileUpload, domain.ContentGeneration, error) {
	uploadModel := uploadToModel(u)
	genModel := generationToModel(g)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&uploadModel).Error; err != nil {
			return fmt.Errorf("record upload: %w", err)
		}
		if err := tx.Omit(clause.Associations).Create(&genModel).Error; err != nil {
			return fmt.Errorf("record generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.FileUpload{}, domain.ContentGeneration{}, err
	}
	return uploadFromModel(uploadModel), generationFromModel(genModel), nil
}

// ListGenerationsByUser returns the newest generations first.
func (s *GormStore) ListGenerationsByUser(userID uint, limit int) ([]domain.ContentGeneration, error) {
	if limit <= 0 {
		return []domain.ContentGeneration{}, nil
	}
	var models []ContentGenerationModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ContentGeneration, 0, len(models))
	for _, m := range models {
		out = append(out, generationFromModel(m))
	}
	return out, nil
}

func (s *GormStore) GetGeneration(id uint) (domain.ContentGeneration, bool, error) {
	var model ContentGenerationModel
	if err := s.db.Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ContentGeneration{}, false, nil
		}
		return domain.ContentGeneration{}, false, err
	}
	return generationFromModel(model), true, nil
}

func (s *GormStore) CreateStudySession(ss domain.StudySession) (domain.StudySession, error) {
	model := sessionToModel(ss)
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		return domain.StudySession{}, fmt.Errorf("create study session: %w", err)
	}
	return sessionFromModel(model), nil
}

func (s *GormStore) ListStudySessionsByUser(userID uint) ([]domain.StudySession, error) {
	var models []StudySessionModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.StudySession, 0, len(models))
	for _, m := range models {
		out = append(out, sessionFromModel(m))
	}
	return out, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func generationToModel(g domain.ContentGeneration) ContentGenerationModel {
	return ContentGenerationModel{
		ID:               g.ID,
		UserID:           g.UserID,
		InputText:        g.InputText,
		OutputType:       string(g.OutputType),
		GeneratedContent: g.GeneratedContent,
		CreatedAt:        g.CreatedAt,
	}
}

func generationFromModel(m ContentGenerationModel) domain.ContentGeneration {
	return domain.ContentGeneration{
		ID:               m.ID,
		UserID:           m.UserID,
		InputText:        m.InputText,
		OutputType:       domain.OutputType(m.OutputType),
		GeneratedContent: m.GeneratedContent,
		CreatedAt:        m.CreatedAt,
	}
}

func sessionToModel(s domain.StudySession) StudySessionModel {
	return StudySessionModel{
		ID:              s.ID,
		UserID:          s.UserID,
		SessionName:     s.SessionName,
		Content:         s.Content,
		DurationMinutes: s.DurationMinutes,
		CreatedAt:       s.CreatedAt,
	}
}

func sessionFromModel(m StudySessionModel) domain.StudySession {
	return domain.StudySession{
		ID:              m.ID,
		UserID:          m.UserID,
		SessionName:     m.SessionName,
		Content:         m.Content,
		DurationMinutes: m.DurationMinutes,
		CreatedAt:       m.CreatedAt,
	}
}

func uploadToModel(u domain.FileUpload) FileUploadModel {
	return FileUploadModel{
		ID:            u.ID,
		UserID:        u.UserID,
		Filename:      u.Filename,
		FileType:      u.FileType,
		FileSize:      u.FileSize,
		ExtractedText: u.ExtractedText,
		CreatedAt:     u.CreatedAt,
	}
}

func uploadFromModel(m FileUploadModel) domain.FileUpload {
	return domain.FileUpload{
		ID:            m.ID,
		UserID:        m.UserID,
		Filename:      m.Filename,
		FileType:      m.FileType,
		FileSize:      m.FileSize,
		ExtractedText: m.ExtractedText,
		CreatedAt:     m.CreatedAt,
	}
}
