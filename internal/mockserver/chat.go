package mockserver

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/identity"
)

const maxTitleLength = 40

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req chatRequest
	if err := decodeBody(w, r, s.maxRequestBodySize, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_argument", "invalid request body")
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		Error(w, http.StatusBadRequest, "invalid_argument", "message is required")
		return
	}

	s.mu.Lock()
	c, ok := s.conversations[req.ConversationID]
	switch {
	case req.ConversationID == "" || !ok:
		id := req.ConversationID
		if id == "" {
			id = s.newID()
		}
		c = &conversation{ID: id, Owner: userID, Title: titleFor(msg)}
		s.conversations[id] = c
	case c.Owner != userID:
		s.mu.Unlock()
		Error(w, http.StatusForbidden, "permission_denied", "You do not have access to this conversation")
		return
	}
	now := s.clk.Now()
	reply := replyFor(msg, len(c.Messages)/2+1)
	c.Messages = append(c.Messages,
		domain.ServerMessage{ID: s.newID(), Role: domain.RoleUser, Content: msg, CreatedAt: now},
		domain.ServerMessage{ID: s.newID(), Role: domain.RoleAssistant, Content: reply, CreatedAt: now},
	)
	c.UpdatedAt = now
	threadID := c.ID
	s.mu.Unlock()

	s.publishChatProgress(threadID, msg)
	s.logger.Info("Chat turn handled", "thread_id", threadID, "user_id", userID)
	JSON(w, http.StatusOK, chatResponse{Response: reply, ConversationID: threadID})
}

func (s *Server) publishChatProgress(threadID, msg string) {
	frames := []progressFrame{
		{AgentType: "planner", EventType: string(domain.PhaseStart), Message: "Planning your request"},
		{AgentType: "planner", EventType: string(domain.PhaseThinking), Message: "Reading: " + titleFor(msg)},
		{AgentType: "search", EventType: string(domain.PhaseStart), Message: "Looking up destinations"},
		{AgentType: "search", EventType: string(domain.PhaseResult), Message: "Found matching places", Data: map[string]any{"results": 3}},
		{AgentType: "search", EventType: string(domain.PhaseComplete)},
		{AgentType: "planner", EventType: string(domain.PhaseComplete), Message: "Reply ready"},
	}
	for _, f := range frames {
		s.events.publish(threadID, f)
	}
}

func titleFor(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	r := []rune(msg)
	if len(r) > maxTitleLength {
		return string(r[:maxTitleLength-3]) + "..."
	}
	return msg
}

func replyFor(msg string, turn int) string {
	return fmt.Sprintf("Here is a plan for %q (turn %d).", titleFor(msg), turn)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	s.mu.Lock()
	var out []domain.SessionSummary
	for _, c := range s.conversations {
		if c.Owner != userID {
			continue
		}
		sum := domain.SessionSummary{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt}
		if n := len(c.Messages); n > 0 {
			sum.LastMessage = c.Messages[n-1].Content
		}
		out = append(out, sum)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	JSON(w, http.StatusOK, listOf(out))
}

// conversationFor resolves the conversation named in the URL. Callers hold
// s.mu.
func (s *Server) conversationFor(w http.ResponseWriter, r *http.Request) (*conversation, bool) {
	userID := identity.UserIDFromContext(r.Context())
	c, ok := s.conversations[chi.URLParam(r, "conversationID")]
	if !ok {
		Error(w, http.StatusNotFound, "not_found", "Conversation not found")
		return nil, false
	}
	if c.Owner != userID {
		Error(w, http.StatusForbidden, "permission_denied", "You do not have access to this conversation")
		return nil, false
	}
	return c, true
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.conversationFor(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	msgs := append([]domain.ServerMessage(nil), c.Messages...)
	s.mu.Unlock()
	JSON(w, http.StatusOK, listOf(msgs))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.conversationFor(w, r)
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conversations, c.ID)
	s.mu.Unlock()

	s.events.forget(c.ID)
	s.logger.Info("Conversation deleted", "thread_id", c.ID)
	w.WriteHeader(http.StatusNoContent)
}
