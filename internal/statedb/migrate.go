package statedb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LegacyLayoutsFile is the JSON store used before layouts moved into SQLite.
const LegacyLayoutsFile = "layouts.json"

// jsonLayoutStore mirrors the legacy layouts.json file.
type jsonLayoutStore struct {
	Layouts   map[string]json.RawMessage `json:"layouts"`
	Buffers   map[string]string          `json:"terminal_buffers,omitempty"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// MigrateFromJSON imports a legacy layouts.json file into the StateDB.
// Entries already present in the database win. Returns the number of
// layouts and terminal buffers imported.
func MigrateFromJSON(ctx context.Context, jsonPath string, db *StateDB) (int, int, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, 0, fmt.Errorf("read json: %w", err)
	}

	var store jsonLayoutStore
	if err := json.Unmarshal(data, &store); err != nil {
		return 0, 0, fmt.Errorf("parse json: %w", err)
	}

	existing, err := db.LoadAllLayouts(ctx)
	if err != nil {
		return 0, 0, err
	}

	layouts := 0
	for projectID, doc := range store.Layouts {
		if _, ok := existing[projectID]; ok {
			continue
		}
		if len(doc) == 0 || string(doc) == "null" {
			continue
		}
		if err := db.SaveLayout(ctx, projectID, doc); err != nil {
			return layouts, 0, fmt.Errorf("save layout %s: %w", projectID, err)
		}
		layouts++
	}

	buffers := 0
	for terminalID, content := range store.Buffers {
		if content == "" {
			continue
		}
		if _, ok, err := db.LoadBuffer(ctx, terminalID); err != nil {
			return layouts, buffers, err
		} else if ok {
			continue
		}
		if err := db.SaveBuffer(ctx, terminalID, content); err != nil {
			return layouts, buffers, fmt.Errorf("save buffer %s: %w", terminalID, err)
		}
		buffers++
	}

	return layouts, buffers, nil
}
