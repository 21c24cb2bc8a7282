package session

import (
	"testing"

	"typevoice/internal/corerr"
	"typevoice/internal/domain"
)

func TestConsumeIsSingleConsumer(t *testing.T) {
	r := New()
	s := r.Open(domain.ContextPack{ClipboardText: "hi"})

	if _, err := r.Consume(s.ID, "task-1"); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	_, err := r.Consume(s.ID, "task-2")
	if corerr.CodeOf(err, "") != "E_RECORDING_SESSION_ALREADY_CONSUMED" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAbortThenConsumeFails(t *testing.T) {
	r := New()
	s := r.Open(domain.ContextPack{})
	if err := r.Abort(s.ID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := r.Consume(s.ID, "task-1"); err == nil {
		t.Fatal("expected consume of aborted session to fail")
	}
}

func TestConsumeUnknownSessionFails(t *testing.T) {
	r := New()
	_, err := r.Consume("does-not-exist", "task-1")
	if corerr.CodeOf(err, "") != "E_RECORDING_SESSION_NOT_FOUND" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrphanMarksOpenSessionsOnly(t *testing.T) {
	r := New()
	open := r.Open(domain.ContextPack{})
	consumed := r.Open(domain.ContextPack{})
	if _, err := r.Consume(consumed.ID, "task-1"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	changed := r.Orphan()
	if len(changed) != 1 || changed[0] != open.ID {
		t.Fatalf("unexpected orphan set: %v", changed)
	}

	got, _ := r.Get(open.ID)
	if got.State != domain.SessionStateOrphaned {
		t.Fatalf("unexpected state: %v", got.State)
	}
}

func TestForgetKeepsOpenSessions(t *testing.T) {
	r := New()
	s := r.Open(domain.ContextPack{})
	r.Forget(s.ID)
	if _, ok := r.Get(s.ID); !ok {
		t.Fatal("expected open session to survive Forget")
	}
}
