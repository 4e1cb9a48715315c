package wishlist

import (
	"context"
	"strings"
	"testing"

	"github.com/veloura/storefront-go/internal/catalog"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

type stubPersister struct {
	saved    []string
	restored []string
}

func (s *stubPersister) SaveWishlistIDs(ids []string) error {
	s.saved = ids
	return nil
}

func (s *stubPersister) LoadWishlistIDs() ([]string, error) {
	return s.restored, nil
}

// stubBackend keeps a fake server-side wishlist so add/remove/check round-trips
// behave like the real API.
type stubBackend struct {
	authed bool
	err    error
	liked  map[string]bool
	calls  []string
}

func (s *stubBackend) Authenticated() bool {
	return s.authed
}

func (s *stubBackend) Get(ctx context.Context, operation, path string, out any) error {
	s.calls = append(s.calls, operation)
	if s.err != nil {
		return s.err
	}
	switch {
	case operation == "wishlist.fetch":
		resp := out.(*listResponse)
		resp.Success = true
		for id := range s.liked {
			resp.Products = append(resp.Products, Entry{Product: catalog.Product{ID: id}})
		}
		resp.Count = len(resp.Products)
	case operation == "wishlist.check":
		resp := out.(*checkResponse)
		resp.Success = true
		productID := path[strings.LastIndex(path, "/")+1:]
		resp.InWishlist = s.liked[productID]
	}
	return nil
}

func (s *stubBackend) Post(ctx context.Context, operation, path string, body any, out any) error {
	s.calls = append(s.calls, operation)
	if s.err != nil {
		return s.err
	}
	if s.liked == nil {
		s.liked = map[string]bool{}
	}
	s.liked[body.(mutatePayload).ProductID] = true
	if resp, ok := out.(*mutateResponse); ok {
		resp.Success = true
		resp.Count = len(s.liked)
	}
	return nil
}

func (s *stubBackend) Delete(ctx context.Context, operation, path string, body any, out any) error {
	s.calls = append(s.calls, operation)
	if s.err != nil {
		return s.err
	}
	delete(s.liked, body.(mutatePayload).ProductID)
	if resp, ok := out.(*mutateResponse); ok {
		resp.Success = true
		resp.Count = len(s.liked)
	}
	return nil
}

func newTestStore(t *testing.T, backend *stubBackend, persister *stubPersister) *Store {
	t.Helper()
	if backend == nil {
		backend = &stubBackend{authed: true}
	}
	if persister == nil {
		persister = &stubPersister{}
	}
	store, err := NewStore(Params{
		Backend:   backend,
		Persister: persister,
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestGuestCallsShortCircuit(t *testing.T) {
	backend := &stubBackend{authed: false}
	store := newTestStore(t, backend, nil)
	ctx := context.Background()

	if err := store.Add(ctx, "p1"); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := store.Remove(ctx, "p1"); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := store.Contains(ctx, "p1"); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("guest calls must not reach the backend, got %v", backend.calls)
	}
}

func TestAddRemoveRoundTrip(t *testing.T) {
	store := newTestStore(t, &stubBackend{authed: true}, nil)
	ctx := context.Background()

	before, err := store.Contains(ctx, "p1")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if before {
		t.Fatal("expected product absent before add")
	}

	if err := store.Add(ctx, "p1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	liked, err := store.Contains(ctx, "p1")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !liked {
		t.Fatal("expected product present after add")
	}
	if store.Count() != 1 {
		t.Fatalf("expected cached count 1, got %d", store.Count())
	}

	if err := store.Remove(ctx, "p1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	after, err := store.Contains(ctx, "p1")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if after {
		t.Fatal("expected product absent after remove, matching pre-add state")
	}
	if store.Count() != 0 {
		t.Fatalf("expected cached count 0, got %d", store.Count())
	}
}

func TestAddIsIdempotentInCache(t *testing.T) {
	store := newTestStore(t, &stubBackend{authed: true}, nil)
	ctx := context.Background()

	if err := store.Add(ctx, "p1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, "p1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if store.Count() != 1 {
		t.Fatalf("duplicate add should not grow the cache, got %d", store.Count())
	}
}

func TestFetchReplacesCacheAndPersists(t *testing.T) {
	persister := &stubPersister{restored: []string{"stale"}}
	backend := &stubBackend{authed: true, liked: map[string]bool{"p1": true, "p2": true}}
	store := newTestStore(t, backend, persister)

	if store.Count() != 1 {
		t.Fatalf("expected restored cache of 1, got %d", store.Count())
	}
	if err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if store.Count() != 2 {
		t.Fatalf("expected fetched count 2, got %d", store.Count())
	}
	if len(persister.saved) != 2 {
		t.Fatalf("expected ids persisted, got %v", persister.saved)
	}
	if len(store.Entries()) != 2 {
		t.Fatalf("expected entries cached, got %d", len(store.Entries()))
	}
}

func TestBackendFailureLeavesCacheUntouched(t *testing.T) {
	backend := &stubBackend{authed: true, err: pkgerrors.New(pkgerrors.CodeNetwork, "down")}
	store := newTestStore(t, backend, nil)

	if err := store.Add(context.Background(), "p1"); err == nil {
		t.Fatal("expected error")
	}
	if store.Count() != 0 {
		t.Fatalf("failed add must not populate the cache, got %d", store.Count())
	}
}

func TestClearLocal(t *testing.T) {
	persister := &stubPersister{restored: []string{"p1", "p2"}}
	store := newTestStore(t, &stubBackend{authed: true}, persister)

	if err := store.ClearLocal(); err != nil {
		t.Fatalf("ClearLocal: %v", err)
	}
	if store.Count() != 0 {
		t.Fatalf("expected empty cache, got %d", store.Count())
	}
	if persister.saved == nil || len(persister.saved) != 0 {
		t.Fatalf("expected empty ids persisted, got %v", persister.saved)
	}
}
