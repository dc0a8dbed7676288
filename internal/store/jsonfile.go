// Package store provides the durable, write-through JSON persistence used by
// the UpdateTracker and DeadStreamRegistry (spec §6: "durable JSON,
// newline-indented, write-through"), grounded on the teacher's use of
// google/renameio for atomic file writes (internal/m3u writer in xg2g).
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/sbeimel/streamflow-sub002/internal/log"
)

// LoadJSON reads and decodes path into v. A missing file leaves v untouched
// and returns nil (first-run case). A corrupt file logs a warning and
// returns nil as well, per spec §7's state-file-corruption policy: "produces
// an empty in-memory state and a warning log; the next write overwrites the
// corrupt file."
func LoadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.WithComponent("store").Warn().
			Err(err).
			Str("path", path).
			Msg("state file corrupt, starting from empty state")
		return nil
	}
	return nil
}

// SaveJSON atomically writes v to path as newline-indented JSON, creating
// parent directories as needed. The rename is atomic with respect to
// concurrent readers (renameio writes to a temp file then renames over the
// target), so a crash mid-write never leaves a partially written file.
func SaveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return renameio.WriteFile(path, data, 0o644)
}
