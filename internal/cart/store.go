// Package cart owns the client-side cart state: a product → size → quantity
// map persisted locally and synchronized to the backend when a session is
// active. Mutations are optimistic: local state applies first, a failed sync
// surfaces as a SyncError the caller decides what to do with.
package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/veloura/storefront-go/internal/catalog"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

// Lines maps productID → size → quantity. No entry ever carries a quantity
// of zero or less; removal deletes the entry.
type Lines map[string]map[string]int

// Clone deep-copies the cart map.
func (l Lines) Clone() Lines {
	out := make(Lines, len(l))
	for productID, sizes := range l {
		inner := make(map[string]int, len(sizes))
		for size, qty := range sizes {
			inner[size] = qty
		}
		out[productID] = inner
	}
	return out
}

// Persister is the slice of the local state bridge the cart needs.
type Persister interface {
	SaveCart(lines map[string]map[string]int) error
	LoadCart() (map[string]map[string]int, error)
}

// Backend is the slice of the API client the cart needs.
type Backend interface {
	Authenticated() bool
	Get(ctx context.Context, operation, path string, out any) error
	Post(ctx context.Context, operation, path string, body any, out any) error
	Delete(ctx context.Context, operation, path string, body any, out any) error
}

// Resolver looks up loaded products for amount computation.
type Resolver interface {
	Lookup(productID string) (catalog.Product, bool)
}

// SyncError reports that a mutation applied locally but did not reach the
// backend. The local state is the source of truth until the next sync.
type SyncError struct {
	cause error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("cart updated locally but backend sync failed: %v", e.cause)
}

func (e *SyncError) Unwrap() error {
	return e.cause
}

// Store is the cart state container. Safe for concurrent use; no lock is held
// across a backend call.
type Store struct {
	persister Persister
	backend   Backend
	products  Resolver
	log       *logger.Logger

	mu    sync.RWMutex
	lines Lines
}

// Params groups the store dependencies.
type Params struct {
	Persister Persister
	Backend   Backend
	Products  Resolver
	Logger    *logger.Logger
}

// NewStore builds the cart store and restores any persisted cart.
func NewStore(params Params) (*Store, error) {
	if params.Persister == nil {
		return nil, fmt.Errorf("persister required")
	}
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product resolver required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	restored, err := params.Persister.LoadCart()
	if err != nil {
		return nil, fmt.Errorf("restoring cart: %w", err)
	}
	lines := Lines(restored)
	if lines == nil {
		lines = Lines{}
	}
	return &Store{
		persister: params.Persister,
		backend:   params.Backend,
		products:  params.Products,
		log:       params.Logger,
		lines:     lines,
	}, nil
}

type addPayload struct {
	ItemID string `json:"itemId" validate:"required"`
	Size   string `json:"size" validate:"required"`
}

type updatePayload struct {
	ItemID   string `json:"itemId" validate:"required"`
	Size     string `json:"size" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

type cartResponse struct {
	Success  bool                      `json:"success"`
	Message  string                    `json:"message"`
	CartData map[string]map[string]int `json:"cartData"`
}

func (r cartResponse) Status() (bool, string) {
	return r.Success, r.Message
}

// Add increments the quantity for (productID, size) by one, creating the line
// when absent. A size must be selected before calling.
func (s *Store) Add(ctx context.Context, productID, size string) error {
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if size == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "please select a size")
	}

	s.mu.Lock()
	if s.lines[productID] == nil {
		s.lines[productID] = map[string]int{}
	}
	s.lines[productID][size]++
	snapshot := s.lines.Clone()
	s.mu.Unlock()

	if err := s.persister.SaveCart(snapshot); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting cart")
	}
	if !s.backend.Authenticated() {
		return nil
	}
	if err := s.backend.Post(ctx, "cart.add", "/api/cart/add", addPayload{ItemID: productID, Size: size}, nil); err != nil {
		s.log.Warn(s.log.WithOperation(ctx, "cart.add"), "cart change kept locally, sync failed")
		return &SyncError{cause: err}
	}
	return nil
}

// UpdateQuantity sets the quantity directly; zero or less removes the line.
// Callers clamp negative input before calling.
func (s *Store) UpdateQuantity(ctx context.Context, productID, size string, quantity int) error {
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if size == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "size is required")
	}
	if quantity < 0 {
		quantity = 0
	}

	s.mu.Lock()
	if quantity == 0 {
		if sizes, ok := s.lines[productID]; ok {
			delete(sizes, size)
			if len(sizes) == 0 {
				delete(s.lines, productID)
			}
		}
	} else {
		if s.lines[productID] == nil {
			s.lines[productID] = map[string]int{}
		}
		s.lines[productID][size] = quantity
	}
	snapshot := s.lines.Clone()
	s.mu.Unlock()

	if err := s.persister.SaveCart(snapshot); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting cart")
	}
	if !s.backend.Authenticated() {
		return nil
	}
	payload := updatePayload{ItemID: productID, Size: size, Quantity: quantity}
	if err := s.backend.Post(ctx, "cart.update", "/api/cart/update", payload, nil); err != nil {
		s.log.Warn(s.log.WithOperation(ctx, "cart.update"), "cart change kept locally, sync failed")
		return &SyncError{cause: err}
	}
	return nil
}

// Count returns the sum of all quantities across all lines.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, sizes := range s.lines {
		for _, qty := range sizes {
			total += qty
		}
	}
	return total
}

// Amount returns Σ offerPrice × quantity over all lines, resolving product ids
// against the loaded catalog. Lines referencing unknown products are skipped;
// a stale cart must not break the totals display.
func (s *Store) Amount() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for productID, sizes := range s.lines {
		product, ok := s.products.Lookup(productID)
		if !ok {
			continue
		}
		for _, qty := range sizes {
			total = total.Add(product.OfferPrice.Mul(decimal.NewFromInt(int64(qty))))
		}
	}
	return total
}

// Lines returns a copy of the current cart map.
func (s *Store) Lines() Lines {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lines.Clone()
}

// Fetch replaces the local cart with the backend's copy, used after login.
func (s *Store) Fetch(ctx context.Context) error {
	var out cartResponse
	if err := s.backend.Get(ctx, "cart.fetch", "/api/cart/get", &out); err != nil {
		return err
	}
	lines := Lines(out.CartData)
	if lines == nil {
		lines = Lines{}
	}
	prune(lines)

	s.mu.Lock()
	s.lines = lines
	snapshot := s.lines.Clone()
	s.mu.Unlock()

	if err := s.persister.SaveCart(snapshot); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting cart")
	}
	return nil
}

// Clear empties the cart locally and, when a session is active, remotely.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ClearLocal(); err != nil {
		return err
	}
	if !s.backend.Authenticated() {
		return nil
	}
	if err := s.backend.Delete(ctx, "cart.clear", "/api/cart/clear", nil, nil); err != nil {
		return &SyncError{cause: err}
	}
	return nil
}

// ClearLocal empties the cart without touching the backend; the logout path
// uses it so another user's cart never leaks into the next session.
func (s *Store) ClearLocal() error {
	s.mu.Lock()
	s.lines = Lines{}
	s.mu.Unlock()
	if err := s.persister.SaveCart(map[string]map[string]int{}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting cart")
	}
	return nil
}

// prune drops non-positive quantities a stale backend copy may carry.
func prune(lines Lines) {
	for productID, sizes := range lines {
		for size, qty := range sizes {
			if qty <= 0 {
				delete(sizes, size)
			}
		}
		if len(sizes) == 0 {
			delete(lines, productID)
		}
	}
}
