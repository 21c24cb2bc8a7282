// Package contextpack collects the "surroundings" snapshot taken at
// recording-press time — recent history, clipboard text, previous window
// metadata, an optional screenshot — and renders it alongside the ASR
// transcript into the single user-text block handed to the Rewrite stage
// (C6). The rendering algorithm is ported verbatim in meaning from
// original_source/context_pack.rs's prepare(); character clamping uses
// github.com/rivo/uniseg for grapheme-cluster-aware truncation instead of
// naive rune counting, since a budget that splits a multi-rune grapheme
// mid-cluster would emit a broken glyph into the rewrite prompt. The
// glossary section's line format ("source -> preferred # note") is ported
// from original_source/dictionary.rs's dictionary_context_section.
package contextpack

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
	"github.com/samber/lo"

	"typevoice/internal/domain"
)

// PreviousWindowInfo is the subset of domain.WindowSnapshot rendered into
// the context block; screenshot bytes are carried separately.
type PreviousWindowInfo struct {
	Title            string
	ProcessImagePath string
}

// Snapshot is the raw, unbudgeted capture; Prepare applies domain.ContextPolicy
// limits when rendering it into prompt text.
type Snapshot struct {
	RecentHistory   []domain.HistoryItem
	ClipboardText   string
	PreviousWindow  *PreviousWindowInfo
	ScreenshotBytes []byte
	GlossaryLines   []string
}

// Prepared is Prepare's output: the single text block for the rewrite
// stage, plus any screenshot bytes carried through unbudgeted.
type Prepared struct {
	UserText        string
	ScreenshotBytes []byte
}

// Prepare renders asrText plus snap into one prompt block, spending at most
// policy.MaxTotalContextChars graphemes on the CONTEXT section's content
// (the section headers are not counted, and the transcript itself is never
// budgeted).
func Prepare(asrText string, snap Snapshot, policy domain.ContextPolicy) Prepared {
	var out strings.Builder
	var context strings.Builder
	remaining := policy.MaxTotalContextChars

	out.WriteString("### TRANSCRIPT\n")
	out.WriteString(strings.TrimSpace(asrText))
	out.WriteString("\n\n")

	if policy.IncludeHistory && len(snap.RecentHistory) > 0 && policy.MaxHistoryItems > 0 && remaining > 0 {
		context.WriteString("#### RECENT HISTORY\n")
		usedItems := 0
		items := lo.Filter(snap.RecentHistory, func(h domain.HistoryItem, _ int) bool {
			return strings.TrimSpace(h.FinalText) != "" || strings.TrimSpace(h.AsrText) != ""
		})
		if len(items) > policy.MaxHistoryItems {
			items = items[:policy.MaxHistoryItems]
		}
		for _, h := range items {
			if remaining == 0 {
				break
			}
			usedItems++
			text := h.FinalText
			if strings.TrimSpace(text) == "" {
				text = h.AsrText
			}
			clipped := clampGraphemes(text, policy.MaxCharsPerHistoryItem)
			if clipped == "" {
				continue
			}
			meta := fmt.Sprintf("- [t=%d] ", h.CreatedAtMs)
			if h.TemplateID != "" {
				meta = fmt.Sprintf("- [t=%d template=%s] ", h.CreatedAtMs, h.TemplateID)
			}
			pushWithBudget(&context, meta, &remaining)
			pushWithBudget(&context, clipped, &remaining)
			pushWithBudget(&context, "\n", &remaining)
		}
		if usedItems > 0 {
			pushWithBudget(&context, "\n", &remaining)
		}
	}

	if policy.IncludeClipboard && snap.ClipboardText != "" && remaining > 0 {
		clipped := clampGraphemes(snap.ClipboardText, policy.MaxCharsClipboard)
		if clipped != "" {
			context.WriteString("#### CLIPBOARD\n")
			pushWithBudget(&context, clipped, &remaining)
			pushWithBudget(&context, "\n\n", &remaining)
		}
	}

	if policy.IncludePreviousWindow && snap.PreviousWindow != nil && remaining > 0 {
		context.WriteString("#### PREVIOUS WINDOW\n")
		if v := clampGraphemes(snap.PreviousWindow.Title, 200); v != "" {
			pushWithBudget(&context, "title=", &remaining)
			pushWithBudget(&context, v, &remaining)
			pushWithBudget(&context, "\n", &remaining)
		}
		if v := clampGraphemes(snap.PreviousWindow.ProcessImagePath, 260); v != "" {
			pushWithBudget(&context, "process=", &remaining)
			pushWithBudget(&context, v, &remaining)
			pushWithBudget(&context, "\n", &remaining)
		}
		pushWithBudget(&context, "\n", &remaining)
	}

	if policy.IncludeGlossary && len(snap.GlossaryLines) > 0 && remaining > 0 {
		glossary := clampGraphemes(strings.Join(snap.GlossaryLines, "\n"), policy.MaxCharsGlossary)
		if glossary != "" {
			context.WriteString("#### GLOSSARY\n")
			pushWithBudget(&context, glossary, &remaining)
			pushWithBudget(&context, "\n\n", &remaining)
		}
	}

	if strings.TrimSpace(context.String()) != "" {
		out.WriteString("### CONTEXT\n")
		out.WriteString(context.String())
	}

	var screenshot []byte
	if policy.IncludePreviousScreenshot {
		screenshot = snap.ScreenshotBytes
	}

	return Prepared{UserText: strings.TrimRight(out.String(), "\n"), ScreenshotBytes: screenshot}
}

// clampGraphemes trims s and keeps at most maxChars grapheme clusters,
// dropping NUL bytes the way the original dropped them per-rune.
func clampGraphemes(s string, maxChars int) string {
	if maxChars == 0 {
		return ""
	}
	t := strings.TrimSpace(s)
	if t == "" {
		return ""
	}

	var out strings.Builder
	count := 0
	gr := uniseg.NewGraphemes(t)
	for gr.Next() {
		if count >= maxChars {
			break
		}
		cluster := gr.Str()
		if cluster == "\x00" {
			continue
		}
		out.WriteString(cluster)
		count++
	}
	return out.String()
}

// pushWithBudget appends up to *remaining graphemes of s to dst, decrementing
// *remaining by however much was actually written.
func pushWithBudget(dst *strings.Builder, s string, remaining *int) {
	if *remaining <= 0 || s == "" {
		return
	}

	took := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		if took >= *remaining {
			break
		}
		dst.WriteString(gr.Str())
		took++
	}
	*remaining -= took
	if *remaining < 0 {
		*remaining = 0
	}
}
