package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/panedeck/internal/config"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/statedb"
)

// openStateDB opens and migrates the state database, importing a legacy
// layouts.json on first use.
func openStateDB(ctx context.Context) (*statedb.StateDB, error) {
	dbPath, err := config.GetStateDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state database path: %w", err)
	}
	db, err := statedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate state database: %w", err)
	}

	jsonPath := filepath.Join(filepath.Dir(dbPath), statedb.LegacyLayoutsFile)
	if _, statErr := os.Stat(jsonPath); statErr == nil {
		importLegacyLayouts(ctx, jsonPath, db)
	}
	return db, nil
}

func importLegacyLayouts(ctx context.Context, jsonPath string, db *statedb.StateDB) {
	log := logging.ForComponent(logging.CompStorage)
	nLayouts, nBuffers, err := statedb.MigrateFromJSON(ctx, jsonPath, db)
	if err != nil {
		// Continue with what the database has rather than failing startup
		log.Warn("json_migration_failed", slog.String("error", err.Error()))
		return
	}
	log.Info("migrated_from_json", slog.Int("layouts", nLayouts), slog.Int("buffers", nBuffers))
	if err := os.Rename(jsonPath, jsonPath+".migrated"); err != nil {
		log.Warn("json_rename_failed", slog.String("error", err.Error()))
	}
}
