// Package wishlist mirrors the authenticated user's wishlist: backend is the
// source of truth, a local id cache keeps counts and heart icons cheap.
package wishlist

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/veloura/storefront-go/internal/api"
	"github.com/veloura/storefront-go/internal/catalog"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

// Entry is one wishlist row: the product projection plus when it was liked.
type Entry struct {
	catalog.Product
	AddedAt time.Time `json:"addedAt"`
}

// Persister is the slice of the local state bridge the wishlist needs.
type Persister interface {
	SaveWishlistIDs(ids []string) error
	LoadWishlistIDs() ([]string, error)
}

// Backend is the slice of the API client the wishlist needs.
type Backend interface {
	Authenticated() bool
	Get(ctx context.Context, operation, path string, out any) error
	Post(ctx context.Context, operation, path string, body any, out any) error
	Delete(ctx context.Context, operation, path string, body any, out any) error
}

type listResponse struct {
	api.Envelope
	Count    int     `json:"count"`
	Products []Entry `json:"products"`
}

type checkResponse struct {
	api.Envelope
	InWishlist bool `json:"inWishlist"`
}

type mutatePayload struct {
	ProductID string `json:"productId" validate:"required"`
}

type mutateResponse struct {
	api.Envelope
	Count int `json:"count"`
}

// Store caches the wishlist for the active session.
type Store struct {
	backend   Backend
	persister Persister
	log       *logger.Logger

	mu      sync.RWMutex
	entries []Entry
	ids     []string
}

// Params groups the store dependencies.
type Params struct {
	Backend   Backend
	Persister Persister
	Logger    *logger.Logger
}

// NewStore builds the wishlist store and restores the cached product ids.
func NewStore(params Params) (*Store, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Persister == nil {
		return nil, fmt.Errorf("persister required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ids, err := params.Persister.LoadWishlistIDs()
	if err != nil {
		return nil, fmt.Errorf("restoring wishlist cache: %w", err)
	}
	return &Store{
		backend:   params.Backend,
		persister: params.Persister,
		log:       params.Logger,
		ids:       ids,
	}, nil
}

func (s *Store) requireSession() error {
	if !s.backend.Authenticated() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "please sign in to use the wishlist")
	}
	return nil
}

// Fetch replaces the cached list with the backend's copy; called on wishlist
// page mount and after login.
func (s *Store) Fetch(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	var out listResponse
	if err := s.backend.Get(ctx, "wishlist.fetch", "/api/wishlist", &out); err != nil {
		return err
	}

	ids := make([]string, 0, len(out.Products))
	for _, entry := range out.Products {
		ids = append(ids, entry.ID)
	}

	s.mu.Lock()
	s.entries = out.Products
	s.ids = ids
	s.mu.Unlock()

	s.log.Debug(s.log.WithField(ctx, "count", len(ids)), "wishlist refreshed")
	return s.persistIDs(ids)
}

// Add puts the product on the wishlist and refreshes the local id cache.
func (s *Store) Add(ctx context.Context, productID string) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	var out mutateResponse
	if err := s.backend.Post(ctx, "wishlist.add", "/api/wishlist/add", mutatePayload{ProductID: productID}, &out); err != nil {
		return err
	}
	return s.persistIDs(s.cacheAdd(productID))
}

// Remove drops the product from the wishlist and the local cache.
func (s *Store) Remove(ctx context.Context, productID string) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	var out mutateResponse
	if err := s.backend.Delete(ctx, "wishlist.remove", "/api/wishlist/remove", mutatePayload{ProductID: productID}, &out); err != nil {
		return err
	}
	return s.persistIDs(s.cacheRemove(productID))
}

// Contains asks the backend whether the product is on the wishlist; the detail
// page renders the heart icon from this, uncached.
func (s *Store) Contains(ctx context.Context, productID string) (bool, error) {
	if err := s.requireSession(); err != nil {
		return false, err
	}
	if productID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	var out checkResponse
	if err := s.backend.Get(ctx, "wishlist.check", "/api/wishlist/check/"+url.PathEscape(productID), &out); err != nil {
		return false, err
	}
	return out.InWishlist, nil
}

// Entries returns the last fetched wishlist rows.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ProductIDs returns the cached liked product ids.
func (s *Store) ProductIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Count returns the cached wishlist size.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// ClearLocal drops the cached list; the logout path uses it.
func (s *Store) ClearLocal() error {
	s.mu.Lock()
	s.entries = nil
	s.ids = nil
	s.mu.Unlock()
	if err := s.persister.SaveWishlistIDs([]string{}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting wishlist cache")
	}
	return nil
}

func (s *Store) cacheAdd(productID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	present := false
	for _, id := range s.ids {
		if id == productID {
			present = true
			break
		}
	}
	if !present {
		s.ids = append(s.ids, productID)
	}
	snapshot := make([]string, len(s.ids))
	copy(snapshot, s.ids)
	return snapshot
}

func (s *Store) cacheRemove(productID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.ids[:0]
	for _, id := range s.ids {
		if id != productID {
			kept = append(kept, id)
		}
	}
	s.ids = kept
	filtered := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.ID != productID {
			filtered = append(filtered, entry)
		}
	}
	s.entries = filtered
	snapshot := make([]string, len(s.ids))
	copy(snapshot, s.ids)
	return snapshot
}

func (s *Store) persistIDs(ids []string) error {
	if err := s.persister.SaveWishlistIDs(ids); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting wishlist cache")
	}
	return nil
}
