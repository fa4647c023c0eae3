package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/quorum/internal/questions"
	"github.com/MarcoPoloResearchLab/quorum/internal/sessions"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// TranslateError is required: the ledgers rely on gorm.ErrDuplicatedKey to distinguish
// dedupe conflicts from storage failures.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&sessions.Session{},
		&questions.Question{},
		&questions.Vote{},
		&questions.FeedbackEntry{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
