// Package chat drives the storefront's shopping assistant conversation. The
// backend grounds its answers in the catalog; the store keeps the transcript
// and the in-flight state.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veloura/storefront-go/internal/api"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

const (
	// historyWindow is how many prior turns accompany each question.
	historyWindow = 5
	// maxMessageLen matches the backend's request validation.
	maxMessageLen = 2000
)

// Role distinguishes who said what in the transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source is a catalog document the assistant drew on for an answer.
type Source struct {
	Collection string  `json:"collection"`
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
}

// Message is one transcript bubble. IsError marks an assistant bubble that
// explains a failed turn instead of answering.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"isError,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
}

type historyMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Message             string           `json:"message" validate:"required,max=2000"`
	ConversationHistory []historyMessage `json:"conversation_history"`
	IncludeContext      bool             `json:"include_context"`
}

type chatResponse struct {
	api.Envelope
	Sources   []Source  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

// Backend is the slice of the API client the chat store needs. Chat turns get
// a longer deadline than regular calls, so the store issues full requests.
type Backend interface {
	Do(ctx context.Context, req api.Request, out any) error
}

// Store holds one chat session's transcript.
type Store struct {
	backend Backend
	log     *logger.Logger
	timeout time.Duration

	mu        sync.RWMutex
	sessionID string
	messages  []Message
	loading   bool
}

// Params groups the store dependencies. Timeout bounds one assistant turn;
// zero means the client default.
type Params struct {
	Backend Backend
	Logger  *logger.Logger
	Timeout time.Duration
}

// NewStore builds a chat store with a fresh session id.
func NewStore(params Params) (*Store, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Store{
		backend:   params.Backend,
		log:       params.Logger,
		timeout:   params.Timeout,
		sessionID: uuid.NewString(),
	}, nil
}

// Send posts the user's question with the recent transcript attached. A blank
// message is a no-op; an over-length one is rejected before anything is
// appended. Request failures land in the transcript as a single error
// bubble; the returned error carries the cause for callers that want it.
func (s *Store) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runes := []rune(text); len(runes) > maxMessageLen {
		return pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("message exceeds %d characters", maxMessageLen))
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "a reply is still in flight")
	}
	s.loading = true
	history := s.historyLocked()
	s.messages = append(s.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	payload := chatPayload{
		Message:             text,
		ConversationHistory: history,
		IncludeContext:      true,
	}
	var out chatResponse
	err := s.backend.Do(ctx, api.Request{
		Operation: "chat.send",
		Method:    "POST",
		Path:      "/api/chat/",
		Body:      payload,
		Timeout:   s.timeout,
	}, &out)
	if err != nil {
		s.appendError(err)
		return err
	}

	s.mu.Lock()
	s.messages = append(s.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   out.Message,
		Timestamp: time.Now(),
		Sources:   out.Sources,
	})
	s.mu.Unlock()

	ctx = s.log.WithSessionID(ctx, s.SessionID())
	s.log.Debug(s.log.WithField(ctx, "sources", len(out.Sources)), "assistant replied")
	return nil
}

// appendError records exactly one error bubble for the failed turn, worded by
// failure kind so the user knows whether to retry.
func (s *Store) appendError(err error) {
	content := "Something went wrong. Please try again."
	if appErr := pkgerrors.As(err); appErr != nil {
		switch appErr.Code() {
		case pkgerrors.CodeTimeout:
			content = "The assistant took too long to reply. Please try again."
		case pkgerrors.CodeNetwork:
			content = "Could not reach the assistant. Check your connection and try again."
		case pkgerrors.CodeBackend:
			if msg := appErr.Message(); msg != "" {
				content = msg
			}
		}
	}
	s.mu.Lock()
	s.messages = append(s.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
		IsError:   true,
	})
	s.mu.Unlock()
}

// historyLocked collects the last turns for the request payload, skipping
// error bubbles. Callers hold the mutex.
func (s *Store) historyLocked() []historyMessage {
	history := make([]historyMessage, 0, historyWindow)
	for i := len(s.messages) - 1; i >= 0 && len(history) < historyWindow; i-- {
		msg := s.messages[i]
		if msg.IsError {
			continue
		}
		history = append(history, historyMessage{Role: msg.Role, Content: msg.Content})
	}
	// Walked backwards; restore chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history
}

// Messages returns a copy of the transcript.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Loading reports whether a reply is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SessionID identifies this conversation.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Clear wipes the transcript and starts a new session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.sessionID = uuid.NewString()
	s.mu.Unlock()
}
