package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairVoteCountDrift = "2026-08-12_repair_vote_count_drift"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRepairVoteCountDrift, apply: repairVoteCountDrift},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairVoteCountDrift recomputes the denormalized counter from the vote rows. Normal
// operation maintains the counter transactionally; this repair exists for databases
// touched by out-of-band tooling.
func repairVoteCountDrift(db *gorm.DB) error {
	const recount = `
UPDATE questions
SET vote_count = (
    SELECT COUNT(*) FROM question_votes
    WHERE question_votes.question_id = questions.question_id
)`
	return db.Exec(recount).Error
}
