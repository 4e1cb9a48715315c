// Package settings caches the per-year fee configuration the storefront needs
// to price an order before checkout.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloura/storefront-go/internal/api"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

// FeeSettings is one year's fee document. The current-settings endpoint
// returns it bare, without the usual response envelope.
type FeeSettings struct {
	ID          string          `json:"_id,omitempty"`
	Year        int             `json:"year"`
	ShippingFee decimal.Decimal `json:"shippingFee"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	IsActive    bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitempty"`
}

// Snapshot is the fee capture attached to an order at submit time. Orders keep
// the values they were priced with even if an admin changes the settings
// afterwards.
type Snapshot struct {
	ShippingFee decimal.Decimal `json:"shippingFee"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	Year        int             `json:"year"`
}

// Defaults mirror the backend's fallback when no year document exists.
var (
	defaultShippingFee = decimal.NewFromInt(10)
	defaultTaxRate     = decimal.NewFromFloat(0.02)
)

// Backend is the slice of the API client the settings store needs.
type Backend interface {
	Get(ctx context.Context, operation, path string, out any) error
	Post(ctx context.Context, operation, path string, body any, out any) error
	Put(ctx context.Context, operation, path string, body any, out any) error
	Delete(ctx context.Context, operation, path string, body any, out any) error
}

// CreateInput carries a new fee document.
type CreateInput struct {
	Year        int             `json:"year" validate:"required,gte=2000,lte=2100"`
	ShippingFee decimal.Decimal `json:"shippingFee"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	IsActive    bool            `json:"isActive"`
}

// UpdateInput carries a partial fee update; nil fields stay untouched.
type UpdateInput struct {
	ShippingFee *decimal.Decimal `json:"shippingFee,omitempty"`
	TaxRate     *decimal.Decimal `json:"taxRate,omitempty"`
	IsActive    *bool            `json:"isActive,omitempty"`
}

type listResponse struct {
	api.Envelope
	Settings []FeeSettings `json:"settings"`
	Total    int           `json:"total"`
}

type mutateResponse struct {
	api.Envelope
	Settings *FeeSettings `json:"settings"`
}

// Store caches the active fee settings.
type Store struct {
	backend Backend
	log     *logger.Logger

	mu      sync.RWMutex
	current *FeeSettings
}

// Params groups the store dependencies.
type Params struct {
	Backend Backend
	Logger  *logger.Logger
}

// NewStore builds the settings store. The cache starts empty and fills on the
// first Fetch.
func NewStore(params Params) (*Store, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Store{backend: params.Backend, log: params.Logger}, nil
}

// Fetch loads the active year's settings and caches them.
func (s *Store) Fetch(ctx context.Context) (*FeeSettings, error) {
	var out FeeSettings
	if err := s.backend.Get(ctx, "settings.current", "/api/settings/current", &out); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current = &out
	s.mu.Unlock()

	ctx = s.log.WithFields(ctx, map[string]any{
		"year":        out.Year,
		"shippingFee": out.ShippingFee.String(),
		"taxRate":     out.TaxRate.String(),
	})
	s.log.Debug(ctx, "fee settings refreshed")
	copied := out
	return &copied, nil
}

// ForYear loads a specific year's settings without touching the cache.
func (s *Store) ForYear(ctx context.Context, year int) (*FeeSettings, error) {
	var out FeeSettings
	path := "/api/settings/" + strconv.Itoa(year)
	if err := s.backend.Get(ctx, "settings.year", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Current returns the cached settings, nil before the first successful Fetch.
func (s *Store) Current() *FeeSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	copied := *s.current
	return &copied
}

// ShippingFee returns the cached fee, falling back to the backend default.
func (s *Store) ShippingFee() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return defaultShippingFee
	}
	return s.current.ShippingFee
}

// TaxRate returns the cached rate, falling back to the backend default.
func (s *Store) TaxRate() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return defaultTaxRate
	}
	return s.current.TaxRate
}

// Capture re-fetches the fees and returns an immutable snapshot for the order
// being placed. When the refresh fails, the cached values stand in so a blip
// does not block checkout; with no cache either, the defaults apply.
func (s *Store) Capture(ctx context.Context) Snapshot {
	if fresh, err := s.Fetch(ctx); err == nil {
		return Snapshot{ShippingFee: fresh.ShippingFee, TaxRate: fresh.TaxRate, Year: fresh.Year}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current != nil {
		return Snapshot{ShippingFee: s.current.ShippingFee, TaxRate: s.current.TaxRate, Year: s.current.Year}
	}
	return Snapshot{ShippingFee: defaultShippingFee, TaxRate: defaultTaxRate, Year: time.Now().Year()}
}

// List fetches every year's settings, newest first. Staff and admin only.
func (s *Store) List(ctx context.Context) ([]FeeSettings, error) {
	var out listResponse
	if err := s.backend.Get(ctx, "settings.list", "/api/admin/settings", &out); err != nil {
		return nil, err
	}
	return out.Settings, nil
}

// Create adds a fee document for a new year. Admin only; years are unique.
func (s *Store) Create(ctx context.Context, input CreateInput) (*FeeSettings, error) {
	var out mutateResponse
	if err := s.backend.Post(ctx, "settings.create", "/api/admin/settings", input, &out); err != nil {
		return nil, err
	}
	if out.Settings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDecode, "create response carried no settings")
	}
	s.refreshIfCurrent(out.Settings)
	return out.Settings, nil
}

// Update patches a year's fee document. Admin only.
func (s *Store) Update(ctx context.Context, year int, input UpdateInput) (*FeeSettings, error) {
	var out mutateResponse
	path := "/api/admin/settings/" + strconv.Itoa(year)
	if err := s.backend.Put(ctx, "settings.update", path, input, &out); err != nil {
		return nil, err
	}
	if out.Settings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDecode, "update response carried no settings")
	}
	s.refreshIfCurrent(out.Settings)
	return out.Settings, nil
}

// Deactivate soft-deletes a year's settings. The backend keeps the record for
// orders priced under it.
func (s *Store) Deactivate(ctx context.Context, year int) error {
	var out api.Envelope
	path := "/api/admin/settings/" + strconv.Itoa(year)
	if err := s.backend.Delete(ctx, "settings.deactivate", path, nil, &out); err != nil {
		return err
	}
	s.mu.Lock()
	if s.current != nil && s.current.Year == year {
		s.current = nil
	}
	s.mu.Unlock()
	return nil
}

// refreshIfCurrent keeps the cache in step when an admin edits the year the
// storefront is pricing with.
func (s *Store) refreshIfCurrent(doc *FeeSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Year == doc.Year {
		copied := *doc
		s.current = &copied
	}
}
