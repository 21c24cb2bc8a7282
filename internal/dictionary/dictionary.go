// Package dictionary persists the user's source-term/preferred-term
// glossary and renders it into the rewrite prompt's glossary lines (§3,
// §4.5). Grounded on original_source/dictionary.rs: a JSON file at
// dictionary.json, normalized on every load/save (case-insensitive dedupe
// by source term, most-recent entry wins), with enabled entries rendered
// as "{source} -> {preferred}" (+ " # {note}" when present) lines, capped
// to a character budget the way dictionary_context_section truncates
// its "### DICTIONARY" block.
package dictionary

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"typevoice/internal/corerr"
)

// Version is the current on-disk schema version.
const Version = 1

// DefaultContextChars mirrors dictionary.rs's DEFAULT_DICTIONARY_CONTEXT_CHARS.
const DefaultContextChars = 1800

// Entry is one glossary mapping.
type Entry struct {
	ID            string `json:"id"`
	SourceTerm    string `json:"source_term"`
	PreferredTerm string `json:"preferred_term"`
	Note          string `json:"note,omitempty"`
	Enabled       bool   `json:"enabled"`
}

// File is the on-disk document.
type File struct {
	Version     int     `json:"version"`
	Entries     []Entry `json:"entries"`
	UpdatedAtMs int64   `json:"updated_at_ms"`
}

// Default returns an empty dictionary file.
func Default(nowMs int64) File {
	return File{Version: Version, Entries: nil, UpdatedAtMs: nowMs}
}

// normalizeEntry trims source/preferred/note, drops the entry entirely
// when source or preferred is blank, and assigns an id when absent.
func normalizeEntry(e Entry) (Entry, bool) {
	source := strings.TrimSpace(e.SourceTerm)
	preferred := strings.TrimSpace(e.PreferredTerm)
	if source == "" || preferred == "" {
		return Entry{}, false
	}
	id := strings.TrimSpace(e.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return Entry{
		ID:            id,
		SourceTerm:    source,
		PreferredTerm: preferred,
		Note:          strings.TrimSpace(e.Note),
		Enabled:       e.Enabled,
	}, true
}

// normalize drops blank entries and dedupes by case-insensitive source
// term, keeping the later occurrence — the same rule
// DictionaryFile::normalize applies on every load and save.
func normalize(entries []Entry, nowMs int64) File {
	var merged []Entry
	for _, raw := range entries {
		e, ok := normalizeEntry(raw)
		if !ok {
			continue
		}
		kept := merged[:0:0]
		for _, old := range merged {
			if !strings.EqualFold(old.SourceTerm, e.SourceTerm) {
				kept = append(kept, old)
			}
		}
		merged = append(kept, e)
	}
	return File{Version: Version, Entries: merged, UpdatedAtMs: nowMs}
}

// Store persists the dictionary document as JSON, following the same
// read/validate/write shape as config.Store.
type Store struct {
	path string
}

// NewStore builds a dictionary store rooted at path (typically
// filepath.Join(dataDir, "dictionary.json"), per dictionary_path).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the dictionary, tolerating both the current {version,entries}
// object shape and a legacy bare-array shape, and normalizes the result.
// A missing file yields an empty dictionary, never an error.
func (s *Store) Load() (File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(nowMs()), nil
		}
		return File{}, corerr.Wrap("E_DICTIONARY_LOAD", "read dictionary.json failed", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Default(nowMs()), nil
	}

	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return File{}, corerr.Wrap("E_DICTIONARY_PARSE", "parse dictionary.json failed", err)
	}

	var entries []Entry
	trimmed := strings.TrimSpace(string(probe))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(probe, &entries); err != nil {
			return File{}, corerr.Wrap("E_DICTIONARY_PARSE", "parse dictionary array failed", err)
		}
	} else {
		var f File
		if err := json.Unmarshal(probe, &f); err != nil {
			return File{}, corerr.Wrap("E_DICTIONARY_PARSE", "parse dictionary.json failed", err)
		}
		entries = f.Entries
	}

	return normalize(entries, nowMs()), nil
}

// Save normalizes file and writes it to disk, creating parent directories.
func (s *Store) Save(file File) (File, error) {
	normalized := normalize(file.Entries, nowMs())
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return File{}, corerr.Wrap("E_DICTIONARY_SAVE", "create dictionary dir failed", err)
	}
	data, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return File{}, corerr.Wrap("E_DICTIONARY_SAVE", "serialize dictionary failed", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return File{}, corerr.Wrap("E_DICTIONARY_SAVE", "write dictionary.json failed", err)
	}
	return normalized, nil
}

// ImportMode selects how Import merges incoming entries onto the store.
type ImportMode string

const (
	ImportMerge   ImportMode = "merge"
	ImportReplace ImportMode = "replace"
)

// Export serializes the current dictionary as pretty JSON.
func (s *Store) Export() (string, error) {
	file, err := s.Load()
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return "", corerr.Wrap("E_DICTIONARY_EXPORT", "serialize dictionary failed", err)
	}
	return string(data), nil
}

// Import decodes a JSON payload (either a bare entries array or a
// {"entries": [...]} object) and merges or replaces the store's content,
// returning the resulting entry count.
func (s *Store) Import(rawJSON string, mode ImportMode) (int, error) {
	if mode != ImportMerge && mode != ImportReplace {
		return 0, corerr.New("E_DICTIONARY_IMPORT_MODE", "mode must be merge or replace")
	}
	if strings.TrimSpace(rawJSON) == "" {
		return 0, nil
	}

	var probe json.RawMessage
	if err := json.Unmarshal([]byte(rawJSON), &probe); err != nil {
		return 0, corerr.Wrap("E_DICTIONARY_IMPORT_PARSE", "dictionary import json invalid", err)
	}

	var incoming []Entry
	trimmed := strings.TrimSpace(string(probe))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(probe, &incoming); err != nil {
			return 0, corerr.Wrap("E_DICTIONARY_IMPORT_PARSE", "import json must be array or {entries}", err)
		}
	} else {
		var wrapper struct {
			Entries []Entry `json:"entries"`
		}
		if err := json.Unmarshal(probe, &wrapper); err != nil {
			return 0, corerr.Wrap("E_DICTIONARY_IMPORT_PARSE", "import json needs entries array", err)
		}
		incoming = wrapper.Entries
	}

	normalizedIncoming := normalize(incoming, nowMs()).Entries

	var base File
	if mode == ImportReplace {
		base = Default(nowMs())
	} else {
		loaded, err := s.Load()
		if err != nil {
			return 0, err
		}
		base = loaded
	}

	switch mode {
	case ImportReplace:
		base.Entries = normalizedIncoming
	case ImportMerge:
		entries := base.Entries
		for _, e := range normalizedIncoming {
			replaced := false
			for i := range entries {
				if strings.EqualFold(entries[i].SourceTerm, e.SourceTerm) {
					entries[i] = e
					replaced = true
					break
				}
			}
			if !replaced {
				entries = append(entries, e)
			}
		}
		base.Entries = entries
	}

	saved, err := s.Save(base)
	if err != nil {
		return 0, err
	}
	return len(saved.Entries), nil
}

// GlossaryLines renders file's enabled entries (deduped case-insensitively,
// input order preserved) as "{source} -> {preferred}" lines, appending
// " # {note}" when a note is present — the per-entry shape
// dictionary_context_section renders into its "### DICTIONARY" block,
// exposed per-line here so callers can budget/render them themselves
// (e.g. domain.RewriteDecision.Glossary, contextpack's glossary section).
func GlossaryLines(file File) []string {
	seen := map[string]bool{}
	var lines []string
	for _, e := range file.Entries {
		if !e.Enabled {
			continue
		}
		key := strings.ToLower(e.SourceTerm)
		if seen[key] {
			continue
		}
		seen[key] = true
		line := fmt.Sprintf("%s -> %s", e.SourceTerm, e.PreferredTerm)
		if e.Note != "" {
			line += " # " + e.Note
		}
		lines = append(lines, line)
	}
	return lines
}

func nowMs() int64 { return time.Now().UnixMilli() }
