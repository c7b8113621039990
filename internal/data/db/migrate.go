package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/podium-backend/internal/domain/analysis"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&analysis.AnalysisRun{},
	)
}

// EnsureIndexes creates the Postgres-only indexes AutoMigrate cannot express.
func EnsureIndexes(db *gorm.DB) error {
	if db.Dialector.Name() != DriverPostgres {
		return nil
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_analysis_run_active
		ON analysis_run(created_at DESC)
		WHERE deleted_at IS NULL AND status IN ('queued', 'running');
	`).Error; err != nil {
		return fmt.Errorf("create idx_analysis_run_active: %w", err)
	}
	return nil
}

// Migrate runs AutoMigrateAll followed by EnsureIndexes.
func (s *Service) Migrate() error {
	if err := AutoMigrateAll(s.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return EnsureIndexes(s.db)
}
