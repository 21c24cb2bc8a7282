// Package paths resolves the on-disk data directory the rest of the core
// persists state under, grounded on original_source/data_dir.rs's
// environment-override-first rule, adapted to the teacher's
// filepath.Join(homeDir, ".<app>", …) fallback instead of a repo-relative
// dev default.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const dataDirEnvVar = "TYPEVOICE_DATA_DIR"

// DataDir resolves the data directory root: TYPEVOICE_DATA_DIR when set,
// else ~/.typevoice.
func DataDir() (string, error) {
	if v := os.Getenv(dataDirEnvVar); v != "" {
		return v, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(home, ".typevoice"), nil
}

// TracePath returns the primary trace JSONL file path under dir.
func TracePath(dataDir string) string { return filepath.Join(dataDir, "trace.jsonl") }

// MetricsPath returns the metrics JSONL file path under dir.
func MetricsPath(dataDir string) string { return filepath.Join(dataDir, "metrics.jsonl") }

// SettingsPath returns the settings.json path under dir.
func SettingsPath(dataDir string) string { return filepath.Join(dataDir, "settings.json") }

// TemplatesPath returns the templates.json path under dir.
func TemplatesPath(dataDir string) string { return filepath.Join(dataDir, "templates.json") }

// HistoryDBPath returns the sqlite history store path under dir.
func HistoryDBPath(dataDir string) string { return filepath.Join(dataDir, "history.db") }

// DictionaryPath returns the dictionary.json path under dir, per
// original_source/dictionary.rs's dictionary_path.
func DictionaryPath(dataDir string) string { return filepath.Join(dataDir, "dictionary.json") }

// DebugTaskDir returns the per-task debug payload directory under dir.
func DebugTaskDir(dataDir, taskID string) string { return filepath.Join(dataDir, "debug", taskID) }
