package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestChunkID(t *testing.T) {
	got := ChunkID("abc123", 4, 7)
	if got != "abc123_p4_s7" {
		t.Fatalf("unexpected chunk id: %s", got)
	}
}

func TestValidateQuestion(t *testing.T) {
	if err := ValidateQuestion("What is hypertension?"); err != nil {
		t.Fatalf("valid question rejected: %v", err)
	}
	if err := ValidateQuestion("   "); !errors.Is(err, ErrQueryEmpty) {
		t.Fatalf("expected ErrQueryEmpty, got %v", err)
	}
	long := strings.Repeat("a", MaxQuestionLen+1)
	if err := ValidateQuestion(long); !errors.Is(err, ErrQueryTooLong) {
		t.Fatalf("expected ErrQueryTooLong, got %v", err)
	}
	// Length is checked after trimming.
	padded := strings.Repeat("a", MaxQuestionLen) + "   "
	if err := ValidateQuestion(padded); err != nil {
		t.Fatalf("trimmed question at the limit rejected: %v", err)
	}
}

func TestValidateRole(t *testing.T) {
	if err := ValidateRole(RoleUser); err != nil {
		t.Fatal(err)
	}
	if err := ValidateRole(RoleAssistant); err != nil {
		t.Fatal(err)
	}
	if err := ValidateRole(Role("system")); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRetrievalErrorIs(t *testing.T) {
	err := NewRetrievalError("dense search", errors.New("boom"))
	if !errors.Is(err, ErrRetrieval) {
		t.Fatal("RetrievalError should match ErrRetrieval")
	}
	if !strings.Contains(err.Error(), "dense search") {
		t.Fatalf("stage missing from message: %s", err.Error())
	}
}

func TestIndexErrorIs(t *testing.T) {
	err := &IndexError{Artifact: "dense vector file"}
	if !errors.Is(err, ErrIndexCorrupt) {
		t.Fatal("IndexError should match ErrIndexCorrupt")
	}
	wrapped := &IndexError{Artifact: "manifest", Wrapped: errors.New("eof")}
	if !strings.Contains(wrapped.Error(), "eof") {
		t.Fatalf("wrapped error missing: %s", wrapped.Error())
	}
}
