package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MediqAI/mediq-mvp/engine/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnsureUserIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.EnsureUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if id != "u1" {
		t.Fatalf("expected u1, got %s", id)
	}
	if _, err := store.EnsureUser(ctx, "u1"); err != nil {
		t.Fatalf("second ensure should succeed: %v", err)
	}
}

func TestEnsureUserGeneratesID(t *testing.T) {
	store := newTestStore(t)

	id, err := store.EnsureUser(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a generated user id")
	}
}

func TestConversationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	userID, _ := store.EnsureUser(ctx, "u1")
	conv, err := store.CreateConversation(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u1" || got.Title != "" {
		t.Fatalf("unexpected conversation: %+v", got)
	}

	if err := store.SetTitle(ctx, conv.ID, "Metformin dosing"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetConversation(ctx, conv.ID)
	if got.Title != "Metformin dosing" {
		t.Fatalf("title not persisted: %q", got.Title)
	}
}

func TestGetConversationUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetConversation(context.Background(), "missing")
	if !errors.Is(err, domain.ErrConversationUnknown) {
		t.Fatalf("expected ErrConversationUnknown, got %v", err)
	}
}

func TestAddMessageRejectsBadRole(t *testing.T) {
	store := newTestStore(t)

	err := store.AddMessage(context.Background(), "c1", domain.Role("system"), "hi")
	if err == nil {
		t.Fatal("expected role validation error")
	}
}

func TestRecentTurnsWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	userID, _ := store.EnsureUser(ctx, "u1")
	conv, _ := store.CreateConversation(ctx, userID)

	for i := 0; i < 4; i++ {
		if err := store.AddMessage(ctx, conv.ID, domain.RoleUser, fmt.Sprintf("q%d", i)); err != nil {
			t.Fatal(err)
		}
		if err := store.AddMessage(ctx, conv.ID, domain.RoleAssistant, fmt.Sprintf("a%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := store.RecentTurns(ctx, conv.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	// Window keeps the newest turns but returns them oldest first.
	if turns[0].Content != "a2" || turns[1].Content != "q3" || turns[2].Content != "a3" {
		t.Fatalf("unexpected window: %+v", turns)
	}
}

func TestRecentTurnsEmptyConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	userID, _ := store.EnsureUser(ctx, "u1")
	conv, _ := store.CreateConversation(ctx, userID)

	turns, err := store.RecentTurns(ctx, conv.ID, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected no turns, got %d", len(turns))
	}
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	userID, _ := store.EnsureUser(ctx, "u1")
	first, _ := store.CreateConversation(ctx, userID)
	second, _ := store.CreateConversation(ctx, userID)

	// Touching the older conversation moves it to the front.
	if err := store.AddMessage(ctx, first.ID, domain.RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}

	convs, err := store.ListConversations(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != first.ID || convs[1].ID != second.ID {
		t.Fatal("conversations not ordered by last activity")
	}
}

func TestMessagesOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	userID, _ := store.EnsureUser(ctx, "u1")
	conv, _ := store.CreateConversation(ctx, userID)
	store.AddMessage(ctx, conv.ID, domain.RoleUser, "question")
	store.AddMessage(ctx, conv.ID, domain.RoleAssistant, "answer")

	msgs, err := store.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	if msgs[0].ID == "" || msgs[0].CreatedAt.IsZero() {
		t.Fatal("message metadata missing")
	}
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]domain.Turn{
		{Role: domain.RoleUser, Content: "What is metformin?"},
		{Role: domain.RoleAssistant, Content: "A diabetes medication."},
	})
	want := "USER: What is metformin?\nASSISTANT: A diabetes medication."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if FormatHistory(nil) != "" {
		t.Fatal("empty history should format to empty string")
	}
}

type fakeTitleGen struct {
	out string
	err error
}

func (f fakeTitleGen) Generate(context.Context, string, string, float64) (string, error) {
	return f.out, f.err
}

func TestTitlerUsesModel(t *testing.T) {
	titler := NewTitler(fakeTitleGen{out: `"Metformin Side Effects"`}, nil)

	got := titler.Title(context.Background(), "What are metformin side effects?", "Common ones are...")
	if got != "Metformin Side Effects" {
		t.Fatalf("unexpected title: %q", got)
	}
}

func TestTitlerTruncatesLongModelTitle(t *testing.T) {
	long := strings.Repeat("word ", 20)
	titler := NewTitler(fakeTitleGen{out: long}, nil)

	got := titler.Title(context.Background(), "q", "a")
	if len(got) > 30 {
		t.Fatalf("title too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated title should end with ellipsis: %q", got)
	}
}

func TestTitlerFallsBackToHeuristic(t *testing.T) {
	titler := NewTitler(fakeTitleGen{err: errors.New("model down")}, nil)

	got := titler.Title(context.Background(), "What is hypertension? And how is it treated?", "")
	if got != "What is hypertension" {
		t.Fatalf("unexpected heuristic title: %q", got)
	}
}

func TestTitlerHeuristicTruncatesAtWordBoundary(t *testing.T) {
	titler := NewTitler(nil, nil)

	query := "Explain the mechanism of angiotensin converting enzyme inhibitors in detail"
	got := titler.Title(context.Background(), query, "")
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis: %q", got)
	}
	if len(got) > 54 {
		t.Fatalf("title too long: %d", len(got))
	}
	if strings.Contains(strings.TrimSuffix(got, "..."), "  ") {
		t.Fatalf("unexpected whitespace: %q", got)
	}
}

func TestTitlerEmptyQuery(t *testing.T) {
	titler := NewTitler(nil, nil)

	if got := titler.Title(context.Background(), "   ", ""); got != "New Chat" {
		t.Fatalf("expected fallback title, got %q", got)
	}
}
