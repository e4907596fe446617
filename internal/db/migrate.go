package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

type migrationStep struct {
	name string
	run  func(tx *gorm.DB) error
}

// migrationSteps creates the briefs schema, migrates the record models and
// then adds the full-text and prefix indexes the matcher queries rely on.
func migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "create schema", run: execSQL(preAutoMigrateSQL)},
		{name: "auto-migrate models", run: func(tx *gorm.DB) error {
			return tx.AutoMigrate(autoMigrateModels()...)
		}},
		{name: "search indexes", run: execSQL(postAutoMigrateSQL)},
	}
}

func (p *Pool) migrate(ctx context.Context, log zerolog.Logger) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	tx := p.gdb.WithContext(ctx)
	for _, step := range migrationSteps() {
		if err := step.run(tx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		log.Debug().Str("step", step.name).Msg("migration step applied")
	}
	return nil
}

func execSQL(sqlText string) func(tx *gorm.DB) error {
	trimmed := strings.TrimSpace(sqlText)
	return func(tx *gorm.DB) error {
		if trimmed == "" {
			return nil
		}
		return tx.Exec(trimmed).Error
	}
}
