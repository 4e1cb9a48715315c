package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/veloura/storefront-go/internal/api"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

type stubBackend struct {
	reply   string
	sources []Source
	err     error

	lastPayload chatPayload
	calls       int
}

func (s *stubBackend) Do(ctx context.Context, req api.Request, out any) error {
	s.calls++
	s.lastPayload = req.Body.(chatPayload)
	if s.err != nil {
		return s.err
	}
	resp := out.(*chatResponse)
	resp.Success = true
	resp.Message = s.reply
	resp.Sources = s.sources
	resp.Timestamp = time.Now()
	return nil
}

func newTestStore(t *testing.T, backend *stubBackend) *Store {
	t.Helper()
	store, err := NewStore(Params{
		Backend: backend,
		Logger:  logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestBlankMessageIsNoOp(t *testing.T) {
	backend := &stubBackend{}
	store := newTestStore(t, backend)

	if err := store.Send(context.Background(), "   "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if backend.calls != 0 {
		t.Fatalf("blank message must not reach the backend, got %d calls", backend.calls)
	}
	if len(store.Messages()) != 0 {
		t.Fatal("blank message must not join the transcript")
	}
}

func TestOverlongMessageIsRejectedIntact(t *testing.T) {
	backend := &stubBackend{}
	store := newTestStore(t, backend)

	long := strings.Repeat("é", maxMessageLen+1)
	err := store.Send(context.Background(), long)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if backend.calls != 0 {
		t.Fatalf("over-length message must not reach the backend, got %d calls", backend.calls)
	}
	if len(store.Messages()) != 0 {
		t.Fatal("rejected message must not join the transcript, truncated or otherwise")
	}
}

func TestSendAppendsBothBubbles(t *testing.T) {
	backend := &stubBackend{
		reply:   "We carry three cotton tees.",
		sources: []Source{{Collection: "products", ID: "p1", Title: "Basic Tee", Score: 0.9}},
	}
	store := newTestStore(t, backend)

	if err := store.Send(context.Background(), "any cotton tees?"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant bubbles, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "any cotton tees?" {
		t.Fatalf("unexpected user bubble: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].IsError {
		t.Fatalf("unexpected assistant bubble: %+v", msgs[1])
	}
	if len(msgs[1].Sources) != 1 || msgs[1].Sources[0].ID != "p1" {
		t.Fatalf("expected sources carried over, got %+v", msgs[1].Sources)
	}
	if store.Loading() {
		t.Fatal("loading must be false after a completed turn")
	}
}

func TestTimeoutProducesExactlyOneErrorBubble(t *testing.T) {
	backend := &stubBackend{err: pkgerrors.New(pkgerrors.CodeTimeout, "deadline exceeded")}
	store := newTestStore(t, backend)

	err := store.Send(context.Background(), "hello?")
	if err == nil {
		t.Fatal("expected error")
	}
	msgs := store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user bubble plus one error bubble, got %d", len(msgs))
	}
	errors := 0
	for _, msg := range msgs {
		if msg.IsError {
			errors++
		}
	}
	if errors != 1 {
		t.Fatalf("expected exactly one error bubble, got %d", errors)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content == "" {
		t.Fatalf("error bubble must explain the failure: %+v", msgs[1])
	}
	if store.Loading() {
		t.Fatal("loading must reset after a failed turn")
	}
}

func TestHistoryWindowSkipsErrorsAndCaps(t *testing.T) {
	backend := &stubBackend{reply: "ok"}
	store := newTestStore(t, backend)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := store.Send(ctx, "question"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	// One failed turn in the middle of the transcript.
	backend.err = pkgerrors.New(pkgerrors.CodeNetwork, "offline")
	_ = store.Send(ctx, "dropped")
	backend.err = nil

	if err := store.Send(ctx, "final"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	history := backend.lastPayload.ConversationHistory
	if len(history) != historyWindow {
		t.Fatalf("expected %d history turns, got %d", historyWindow, len(history))
	}
	for _, turn := range history {
		if turn.Content == "" {
			t.Fatalf("history contains an empty turn: %+v", history)
		}
	}
	// The failed turn's user bubble is the newest non-error message.
	if history[len(history)-1].Content != "dropped" {
		t.Fatalf("expected chronological history ending before the new question, got %+v", history)
	}
	if !backend.lastPayload.IncludeContext {
		t.Fatal("catalog context must be requested")
	}
}

func TestClearResetsTranscriptAndSession(t *testing.T) {
	backend := &stubBackend{reply: "ok"}
	store := newTestStore(t, backend)

	if err := store.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	before := store.SessionID()
	store.Clear()
	if len(store.Messages()) != 0 {
		t.Fatal("expected empty transcript after clear")
	}
	if store.SessionID() == before {
		t.Fatal("expected a new session id after clear")
	}
}
