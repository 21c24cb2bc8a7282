package contextpack

import (
	"strings"
	"testing"

	"typevoice/internal/domain"
)

func fullPolicy(maxTotal int) domain.ContextPolicy {
	p := domain.DefaultContextBudget()
	p.IncludeHistory = true
	p.IncludeClipboard = true
	p.IncludePreviousWindow = true
	p.IncludePreviousScreenshot = true
	p.IncludeGlossary = true
	p.MaxTotalContextChars = maxTotal
	return p
}

func TestPrepareIncludesAllSectionsWhenEnabled(t *testing.T) {
	snap := Snapshot{
		RecentHistory: []domain.HistoryItem{
			{CreatedAtMs: 1, AsrText: "a", FinalText: "final-1", TemplateID: "t"},
			{CreatedAtMs: 2, AsrText: "asr-2"},
		},
		ClipboardText:  " clip ",
		PreviousWindow: &PreviousWindowInfo{Title: "win", ProcessImagePath: "p.exe"},
		GlossaryLines:  []string{"foo -> Foo Corp"},
	}

	out := Prepare(" TRANSCRIPT ", snap, fullPolicy(100))

	for _, want := range []string{"### TRANSCRIPT", "TRANSCRIPT", "RECENT HISTORY", "CLIPBOARD", "PREVIOUS WINDOW", "GLOSSARY", "foo -> Foo Corp"} {
		if !strings.Contains(out.UserText, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out.UserText)
		}
	}
}

func TestPrepareNeverBudgetsTranscript(t *testing.T) {
	longTranscript := strings.Repeat("x", 5000)
	out := Prepare(longTranscript, Snapshot{}, fullPolicy(10))
	if !strings.Contains(out.UserText, longTranscript) {
		t.Fatal("transcript must never be truncated by the context budget")
	}
}

func TestPrepareDisabledFlagsOmitSections(t *testing.T) {
	policy := domain.DefaultContextBudget()
	snap := Snapshot{ClipboardText: "secret clipboard contents"}

	out := Prepare("hello", snap, policy)
	if strings.Contains(out.UserText, "CLIPBOARD") {
		t.Fatal("expected clipboard section omitted when IncludeClipboard is false")
	}
}

func TestPrepareGlossaryOmittedWhenPolicyExcludesIt(t *testing.T) {
	policy := domain.DefaultContextBudget()
	snap := Snapshot{GlossaryLines: []string{"api -> Application Programming Interface"}}

	out := Prepare("hello", snap, policy)
	if strings.Contains(out.UserText, "GLOSSARY") {
		t.Fatal("expected no GLOSSARY section when IncludeGlossary is false")
	}
}

func TestPrepareOmitsEmptyContextSection(t *testing.T) {
	out := Prepare("hello", Snapshot{}, fullPolicy(100))
	if strings.Contains(out.UserText, "### CONTEXT") {
		t.Fatal("expected no CONTEXT header when nothing was collected")
	}
}

func TestClampGraphemesHandlesMultiByteRunes(t *testing.T) {
	got := clampGraphemes("héllo wörld", 5)
	if got != "héllo" {
		t.Fatalf("expected %q, got %q", "héllo", got)
	}
}
