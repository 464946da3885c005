package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MediqAI/mediq-mvp/engine/domain"
	"github.com/MediqAI/mediq-mvp/engine/memory"
	"github.com/MediqAI/mediq-mvp/engine/pipeline"
)

// conversationStore is the slice of the memory store the handlers need.
type conversationStore interface {
	EnsureUser(ctx context.Context, userID string) (string, error)
	CreateConversation(ctx context.Context, userID string) (memory.Conversation, error)
	GetConversation(ctx context.Context, id string) (memory.Conversation, error)
	SetTitle(ctx context.Context, conversationID, title string) error
	AddMessage(ctx context.Context, conversationID string, role domain.Role, content string) error
	ListConversations(ctx context.Context, userID string) ([]memory.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]memory.Message, error)
}

// questionRunner runs one question through the retrieval pipeline.
type questionRunner interface {
	Run(ctx context.Context, query, conversationID string) (pipeline.Outcome, *pipeline.State, error)
}

// answerGenerator turns a pipeline outcome into answer text.
type answerGenerator interface {
	Answer(ctx context.Context, query string, outcome pipeline.Outcome) string
	StreamAnswer(ctx context.Context, query string, outcome pipeline.Outcome, emit func(token string) error) error
}

// titleMaker produces a conversation title from the first exchange.
type titleMaker interface {
	Title(ctx context.Context, query, answer string) string
}

type server struct {
	store    conversationStore
	pipe     questionRunner
	answerer answerGenerator
	titler   titleMaker
	logger   *slog.Logger
}

func newServer(store conversationStore, pipe questionRunner, answerer answerGenerator, titler titleMaker, logger *slog.Logger) *server {
	return &server{store: store, pipe: pipe, answerer: answerer, titler: titler, logger: logger}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UserRequest is the JSON body for POST /api/users.
type UserRequest struct {
	UserID string `json:"user_id,omitempty"`
}

func (s *server) handleEnsureUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body means a fresh user
	}
	id, err := s.store.EnsureUser(r.Context(), req.UserID)
	if err != nil {
		s.logger.Error("ensure user failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": id})
}

// ConversationRequest is the JSON body for POST /api/conversations.
type ConversationRequest struct {
	UserID string `json:"user_id"`
}

func (s *server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	userID, err := s.store.EnsureUser(r.Context(), req.UserID)
	if err != nil {
		s.logger.Error("ensure user failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	conv, err := s.store.CreateConversation(r.Context(), userID)
	if err != nil {
		s.logger.Error("create conversation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	convs, err := s.store.ListConversations(r.Context(), userID)
	if err != nil {
		s.logger.Error("list conversations failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if convs == nil {
		convs = []memory.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetConversation(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrConversationUnknown) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("get conversation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	msgs, err := s.store.Messages(r.Context(), id)
	if err != nil {
		s.logger.Error("list messages failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// AskRequest is the JSON body for POST /api/ask and /api/ask/stream.
type AskRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Source is one evidence chunk in an answer response.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	Content    string  `json:"content"`
	SourceFile string  `json:"source_file"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
}

// AskResponse is the JSON response for POST /api/ask.
type AskResponse struct {
	Status         domain.Status `json:"status"`
	Answer         string        `json:"answer"`
	Sources        []Source      `json:"sources"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Title          string        `json:"title,omitempty"`
}

func toSources(evidence []domain.Candidate) []Source {
	sources := make([]Source, len(evidence))
	for i, c := range evidence {
		sources[i] = Source{
			ChunkID:    c.Chunk.ID,
			Content:    c.Chunk.Content,
			SourceFile: c.Chunk.Meta.SourceFile,
			Page:       c.Chunk.Meta.PageNumber,
			Score:      c.Score,
		}
	}
	return sources
}

// decodeAsk parses and validates the ask request, resolving the conversation
// if one was named. ok is false when a response has already been written.
func (s *server) decodeAsk(w http.ResponseWriter, r *http.Request) (AskRequest, memory.Conversation, bool) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, memory.Conversation{}, false
	}
	if err := domain.ValidateQuestion(req.Question); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, memory.Conversation{}, false
	}

	var conv memory.Conversation
	if req.ConversationID != "" {
		var err error
		conv, err = s.store.GetConversation(r.Context(), req.ConversationID)
		if errors.Is(err, domain.ErrConversationUnknown) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return req, conv, false
		}
		if err != nil {
			s.logger.Error("get conversation failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return req, conv, false
		}
	}
	return req, conv, true
}

// persistExchange records the question and answer and titles the
// conversation on its first exchange. Persistence failures are logged but
// never fail the request; the answer was already produced.
func (s *server) persistExchange(ctx context.Context, conv memory.Conversation, question, answer string) string {
	if conv.ID == "" {
		return ""
	}
	if err := s.store.AddMessage(ctx, conv.ID, domain.RoleUser, question); err != nil {
		s.logger.Error("persist question failed", "err", err)
		return conv.Title
	}
	if err := s.store.AddMessage(ctx, conv.ID, domain.RoleAssistant, answer); err != nil {
		s.logger.Error("persist answer failed", "err", err)
		return conv.Title
	}

	title := conv.Title
	if title == "" {
		title = s.titler.Title(ctx, question, answer)
		if err := s.store.SetTitle(ctx, conv.ID, title); err != nil {
			s.logger.Error("set title failed", "err", err)
		}
	}
	return title
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, conv, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	outcome, _, err := s.pipe.Run(ctx, req.Question, req.ConversationID)
	if err != nil {
		s.logger.Error("pipeline failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	answer := s.answerer.Answer(ctx, req.Question, outcome)
	title := s.persistExchange(ctx, conv, req.Question, answer)

	writeJSON(w, http.StatusOK, AskResponse{
		Status:         outcome.Status(),
		Answer:         answer,
		Sources:        toSources(outcome.Evidence()),
		ConversationID: conv.ID,
		Title:          title,
	})
}

// handleAskStream answers over SSE: a sources event first, then token
// events, then done carrying the conversation metadata.
func (s *server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, conv, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	outcome, _, err := s.pipe.Run(ctx, req.Question, req.ConversationID)
	if err != nil {
		s.logger.Error("pipeline failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	flusher, ok2 := w.(http.Flusher)
	if !ok2 {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sourcesJSON, _ := json.Marshal(toSources(outcome.Evidence()))
	fmt.Fprintf(w, "event: sources\ndata: %s\n\n", sourcesJSON)
	flusher.Flush()

	var full strings.Builder
	err = s.answerer.StreamAnswer(ctx, req.Question, outcome, func(token string) error {
		full.WriteString(token)
		tokenJSON, _ := json.Marshal(map[string]string{"token": token})
		if _, err := fmt.Fprintf(w, "event: token\ndata: %s\n\n", tokenJSON); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.logger.Error("answer stream failed", "err", err)
		fmt.Fprintf(w, "event: error\ndata: {\"error\":\"generation failed\"}\n\n")
		flusher.Flush()
		return
	}

	title := s.persistExchange(ctx, conv, req.Question, full.String())

	doneJSON, _ := json.Marshal(map[string]string{
		"status":          string(outcome.Status()),
		"conversation_id": conv.ID,
		"title":           title,
	})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", doneJSON)
	flusher.Flush()
}
