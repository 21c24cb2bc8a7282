// Package config persists the on-disk settings document and resolves it
// into the strict, typed start-options snapshot the rest of the core
// consumes (C2). Persistence follows the teacher's JSONStore; strict
// resolution rules follow original_source/settings.rs and spec.md §4.2:
// there are no hidden fallbacks for required boolean flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/sjson"
	"github.com/xeipuuv/gojsonschema"

	"typevoice/internal/corerr"
	"typevoice/internal/domain"
)

// Settings is the on-disk document, deliberately all-optional (pointer /
// zero-value fields): presence, not value, is what the resolver checks.
type Settings struct {
	ASRModel string `json:"asr_model,omitempty"`

	LLMBaseURL         string `json:"llm_base_url,omitempty"`
	LLMModel           string `json:"llm_model,omitempty"`
	LLMReasoningEffort string `json:"llm_reasoning_effort,omitempty"`

	RewriteEnabled    *bool  `json:"rewrite_enabled,omitempty"`
	RewriteTemplateID string `json:"rewrite_template_id,omitempty"`

	HotkeysEnabled     *bool  `json:"hotkeys_enabled,omitempty"`
	HotkeysShowOverlay *bool  `json:"hotkeys_show_overlay,omitempty"`
	HotkeyPTT          string `json:"hotkey_ptt,omitempty"`
	HotkeyToggle       string `json:"hotkey_toggle,omitempty"`

	Preprocess *PreprocessSettings `json:"preprocess,omitempty"`

	ContextIncludeHistory            *bool `json:"context_include_history,omitempty"`
	ContextIncludeClipboard          *bool `json:"context_include_clipboard,omitempty"`
	ContextIncludePreviousWindow     *bool `json:"context_include_previous_window,omitempty"`
	ContextIncludePreviousScreenshot *bool `json:"context_include_previous_screenshot,omitempty"`

	// RewriteIncludeGlossary gates whether the resolved dictionary entries
	// are rendered into the rewrite prompt at all; unset defaults to true,
	// matching original_source/lib.rs's rewrite_text command
	// (`s.rewrite_include_glossary.unwrap_or(true)`). The entries themselves
	// live in dictionary.json (internal/dictionary), not in this document.
	RewriteIncludeGlossary *bool `json:"rewrite_include_glossary,omitempty"`
}

// PreprocessSettings mirrors domain.PreprocessParams on the wire; only
// Enabled is required when the object is present at all.
type PreprocessSettings struct {
	Enabled            bool     `json:"enabled"`
	SilenceThresholdDb *float64 `json:"silence_threshold_db,omitempty"`
	SilenceTrimStartMs *uint64  `json:"silence_trim_start_ms,omitempty"`
	SilenceTrimEndMs   *uint64  `json:"silence_trim_end_ms,omitempty"`
}

// settingsSchema validates the shape (not the business-required-ness) of a
// raw settings document before field-presence resolution runs (§B.4).
const settingsSchema = `{
  "type": "object",
  "properties": {
    "rewrite_enabled": {"type": "boolean"},
    "rewrite_include_glossary": {"type": "boolean"},
    "hotkeys_enabled": {"type": "boolean"},
    "hotkeys_show_overlay": {"type": "boolean"},
    "rewrite_template_id": {"type": "string"},
    "llm_base_url": {"type": "string"},
    "llm_model": {"type": "string"},
    "preprocess": {
      "type": "object",
      "properties": {"enabled": {"type": "boolean"}},
      "required": ["enabled"]
    }
  }
}`

// ValidateShape rejects a raw settings document that does not match the
// expected JSON shape, before strict field-presence checks run.
func ValidateShape(raw json.RawMessage) error {
	schemaLoader := gojsonschema.NewStringLoader(settingsSchema)
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return corerr.Wrap("E_SETTINGS_SCHEMA", "settings document could not be validated", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return corerr.New("E_SETTINGS_SCHEMA", sb.String())
	}
	return nil
}

// Store persists the settings document as JSON, following the teacher's
// JSONStore exactly, adapted to the new settings shape.
type Store struct {
	path string
}

// NewStore builds a store rooted at path.
func NewStore(path string) *Store { return &Store{path: path} }

// Load reads settings from disk; a missing file yields an empty (all-unset)
// document, never a document with hidden defaults baked in.
func (s *Store) Load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Settings{}, nil
		}
		return Settings{}, err
	}

	if err := ValidateShape(data); err != nil {
		return Settings{}, err
	}

	var cfg Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse settings.json: %w", err)
	}
	return cfg, nil
}

// Save writes settings as indented JSON, creating parent directories.
func (s *Store) Save(cfg Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Patch applies a partial update to the on-disk document and persists the
// result. See ApplyPatch for the merge semantics.
func (s *Store) Patch(patchJSON []byte) (Settings, error) {
	current, err := s.Load()
	if err != nil {
		return Settings{}, err
	}

	next, err := ApplyPatch(current, patchJSON)
	if err != nil {
		return Settings{}, err
	}
	if err := s.Save(next); err != nil {
		return Settings{}, err
	}
	return next, nil
}

// ApplyPatch merges a sparse JSON patch onto base: only keys present in
// patchJSON are modified, and a JSON null explicitly clears a field,
// following original_source/settings.rs's SettingsPatch semantics (§D.1) —
// an outer Option of "touch this field or don't," with an inner Option of
// "set it to a value or clear it," collapsed onto JSON's native
// present/absent/null. Implemented with sjson so callers can send a sparse
// document without round-tripping every field through Go struct tags. Pure
// function, no disk I/O, so it is usable independently of Store.
func ApplyPatch(base Settings, patchJSON []byte) (Settings, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return Settings{}, err
	}

	var patch map[string]json.RawMessage
	if err := json.Unmarshal(patchJSON, &patch); err != nil {
		return Settings{}, fmt.Errorf("parse settings patch: %w", err)
	}

	merged := string(baseJSON)
	for key, rawVal := range patch {
		var val any
		if err := json.Unmarshal(rawVal, &val); err != nil {
			return Settings{}, fmt.Errorf("parse patch field %q: %w", key, err)
		}
		if val == nil {
			merged, err = sjson.Delete(merged, key)
		} else {
			merged, err = sjson.Set(merged, key, val)
		}
		if err != nil {
			return Settings{}, fmt.Errorf("apply patch field %q: %w", key, err)
		}
	}

	var next Settings
	if err := json.Unmarshal([]byte(merged), &next); err != nil {
		return Settings{}, fmt.Errorf("parse merged settings: %w", err)
	}
	return next, nil
}

// Resolver turns a raw Settings document into a strict domain.StartOpts
// snapshot (C2), returning a *corerr.Error with an E_SETTINGS_* /
// E_LLM_CONFIG_* code for the first missing required field.
type Resolver struct{}

// NewResolver builds a config resolver. It is stateless; every call reads
// only from the Settings value passed in, never from live mutable state,
// per spec.md §9's "replacing closures that capture mutable config."
func NewResolver() *Resolver { return &Resolver{} }

// ResolveStartOptions implements §4.2's strict rules.
func (r *Resolver) ResolveStartOptions(s Settings) (domain.StartOpts, error) {
	opts := domain.StartOpts{}

	if s.RewriteEnabled == nil {
		return opts, corerr.New("E_SETTINGS_REWRITE_ENABLED_MISSING", "rewrite_enabled is required")
	}
	opts.RewriteEnabled = *s.RewriteEnabled

	if s.HotkeysEnabled == nil {
		return opts, corerr.New("E_SETTINGS_HOTKEYS_ENABLED_MISSING", "hotkeys_enabled is required")
	}
	opts.HotkeysEnabled = *s.HotkeysEnabled

	if s.HotkeysShowOverlay == nil {
		return opts, corerr.New("E_SETTINGS_HOTKEYS_SHOW_OVERLAY_MISSING", "hotkeys_show_overlay is required")
	}
	opts.HotkeysShowOverlay = *s.HotkeysShowOverlay

	if opts.RewriteEnabled {
		if strings.TrimSpace(s.RewriteTemplateID) == "" {
			return opts, corerr.New("E_SETTINGS_TEMPLATE_REQUIRED", "rewrite_template_id is required when rewrite_enabled is true")
		}
		opts.RewriteTemplateID = s.RewriteTemplateID

		if strings.TrimSpace(s.LLMBaseURL) == "" {
			return opts, corerr.New("E_LLM_CONFIG_BASE_URL_MISSING", "llm_base_url is required when rewrite_enabled is true")
		}
		opts.LLMBaseURL = s.LLMBaseURL

		if strings.TrimSpace(s.LLMModel) == "" {
			return opts, corerr.New("E_LLM_CONFIG_MODEL_MISSING", "llm_model is required when rewrite_enabled is true")
		}
		opts.LLMModel = s.LLMModel
	}

	opts.Preprocess = domain.DefaultPreprocessParams()
	if s.Preprocess != nil {
		opts.Preprocess.SilenceTrimEnabled = s.Preprocess.Enabled
		if s.Preprocess.SilenceThresholdDb != nil {
			opts.Preprocess.SilenceThresholdDb = *s.Preprocess.SilenceThresholdDb
		}
		if s.Preprocess.SilenceTrimStartMs != nil {
			opts.Preprocess.SilenceTrimStartMs = *s.Preprocess.SilenceTrimStartMs
		}
		if s.Preprocess.SilenceTrimEndMs != nil {
			opts.Preprocess.SilenceTrimEndMs = *s.Preprocess.SilenceTrimEndMs
		}
	}

	opts.ASRModel = s.ASRModel

	opts.ContextPolicy = domain.DefaultContextBudget()
	opts.ContextPolicy.IncludeHistory = boolOr(s.ContextIncludeHistory, false)
	opts.ContextPolicy.IncludeClipboard = boolOr(s.ContextIncludeClipboard, false)
	opts.ContextPolicy.IncludePreviousWindow = boolOr(s.ContextIncludePreviousWindow, false)
	opts.ContextPolicy.IncludePreviousScreenshot = boolOr(s.ContextIncludePreviousScreenshot, false)
	opts.ContextPolicy.IncludeGlossary = boolOr(s.RewriteIncludeGlossary, true)

	return opts, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// HotkeyConfig is the subset of Settings the hotkey dispatcher (C10) needs,
// resolved with the same strict-required-field rules as
// original_source/hotkeys.rs's hotkey_config_from_settings.
type HotkeyConfig struct {
	Enabled bool
	PTT     string
	Toggle  string
}

// ResolveHotkeyConfig reproduces original_source/hotkeys.rs's validation:
// hotkeys_enabled is always required; when enabled, at least one of PTT /
// Toggle must be a non-blank shortcut, and they must not be identical.
func (r *Resolver) ResolveHotkeyConfig(s Settings) (HotkeyConfig, error) {
	if s.HotkeysEnabled == nil {
		return HotkeyConfig{}, corerr.New("E_SETTINGS_HOTKEYS_ENABLED_MISSING", "hotkeys_enabled is required")
	}
	if !*s.HotkeysEnabled {
		return HotkeyConfig{Enabled: false}, nil
	}

	ptt := strings.TrimSpace(s.HotkeyPTT)
	toggle := strings.TrimSpace(s.HotkeyToggle)
	if ptt == "" && toggle == "" {
		return HotkeyConfig{}, corerr.New("E_SETTINGS_HOTKEY_PTT_MISSING", "hotkey_ptt or hotkey_toggle is required when hotkeys_enabled is true")
	}
	if ptt != "" && toggle != "" && strings.EqualFold(ptt, toggle) {
		return HotkeyConfig{}, corerr.New("E_SETTINGS_HOTKEY_CONFLICT", "hotkey_ptt and hotkey_toggle must not be the same shortcut")
	}

	return HotkeyConfig{Enabled: true, PTT: ptt, Toggle: toggle}, nil
}
