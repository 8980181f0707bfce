// Command initdb migrates the schema and seeds a test account into an empty
// database.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"eduflow/internal/util"
	"eduflow/pkg/auth"
	"eduflow/pkg/domain"
	"eduflow/pkg/store"
	"eduflow/services/api/internal/config"
)

const (
	seedUsername = "testuser"
	seedEmail    = "test@example.com"
	seedPassword = "testpassword123"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger("initdb", cfg.EffectiveLogLevel())

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	created, err := seed(db)
	if err != nil {
		logger.Error("seed failed", "err", err)
		db.Close()
		os.Exit(1)
	}
	if created {
		logger.Info("test user created", "username", seedUsername, "email", seedEmail)
		return
	}
	logger.Info("users already present, skipping seed")
}

// seed inserts the test account when no users exist.
func seed(st store.Store) (bool, error) {
	count, err := st.UserCount()
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	user, err := st.CreateUser(domain.User{
		Email:        seedEmail,
		Username:     seedUsername,
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		return false, fmt.Errorf("create user: %w", err)
	}
	slog.Debug("seeded user", "user_id", user.ID)
	return true, nil
}
