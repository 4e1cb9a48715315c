package settings

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

type stubBackend struct {
	current FeeSettings
	err     error
	calls   []string
}

func (s *stubBackend) Get(ctx context.Context, operation, path string, out any) error {
	s.calls = append(s.calls, operation)
	if s.err != nil {
		return s.err
	}
	if operation == "settings.current" || operation == "settings.year" {
		*out.(*FeeSettings) = s.current
	}
	return nil
}

func (s *stubBackend) Post(ctx context.Context, operation, path string, body any, out any) error {
	s.calls = append(s.calls, operation)
	if s.err != nil {
		return s.err
	}
	in := body.(CreateInput)
	resp := out.(*mutateResponse)
	resp.Success = true
	resp.Settings = &FeeSettings{
		Year:        in.Year,
		ShippingFee: in.ShippingFee,
		TaxRate:     in.TaxRate,
		IsActive:    in.IsActive,
	}
	return nil
}

func (s *stubBackend) Put(ctx context.Context, operation, path string, body any, out any) error {
	s.calls = append(s.calls, operation)
	if s.err != nil {
		return s.err
	}
	in := body.(UpdateInput)
	updated := s.current
	if in.ShippingFee != nil {
		updated.ShippingFee = *in.ShippingFee
	}
	if in.TaxRate != nil {
		updated.TaxRate = *in.TaxRate
	}
	if in.IsActive != nil {
		updated.IsActive = *in.IsActive
	}
	resp := out.(*mutateResponse)
	resp.Success = true
	resp.Settings = &updated
	return nil
}

func (s *stubBackend) Delete(ctx context.Context, operation, path string, body any, out any) error {
	s.calls = append(s.calls, operation)
	return s.err
}

func activeSettings() FeeSettings {
	return FeeSettings{
		Year:        2026,
		ShippingFee: decimal.NewFromInt(10),
		TaxRate:     decimal.NewFromFloat(0.02),
		IsActive:    true,
	}
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

func TestFetchCaches(t *testing.T) {
	backend := &stubBackend{current: activeSettings()}
	store := newTestStore(t, backend)

	if store.Current() != nil {
		t.Fatal("cache must start empty")
	}
	got, err := store.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Year != 2026 {
		t.Fatalf("unexpected year %d", got.Year)
	}
	cached := store.Current()
	if cached == nil || !cached.ShippingFee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected cached settings: %+v", cached)
	}
}

func TestDefaultsBeforeFirstFetch(t *testing.T) {
	store := newTestStore(t, &stubBackend{})

	if !store.ShippingFee().Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected default shipping fee %s", store.ShippingFee())
	}
	if !store.TaxRate().Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("unexpected default tax rate %s", store.TaxRate())
	}
}

func TestCaptureRefetchesAtSubmit(t *testing.T) {
	backend := &stubBackend{current: activeSettings()}
	store := newTestStore(t, backend)
	if _, err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	// An admin raises the fee between page load and checkout.
	backend.current.ShippingFee = decimal.NewFromInt(25)

	snap := store.Capture(context.Background())
	if !snap.ShippingFee.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("capture must price with the latest fee, got %s", snap.ShippingFee)
	}
}

func TestCaptureIsImmutable(t *testing.T) {
	backend := &stubBackend{current: activeSettings()}
	store := newTestStore(t, backend)

	snap := store.Capture(context.Background())

	// Mutating the backend afterwards must not reach into the snapshot.
	backend.current.ShippingFee = decimal.NewFromInt(99)
	if _, err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !snap.ShippingFee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("snapshot changed after capture: %s", snap.ShippingFee)
	}
	if snap.Year != 2026 {
		t.Fatalf("unexpected snapshot year %d", snap.Year)
	}
}

func TestCaptureFallsBackToCacheThenDefaults(t *testing.T) {
	backend := &stubBackend{current: activeSettings()}
	store := newTestStore(t, backend)
	if _, err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	backend.err = pkgerrors.New(pkgerrors.CodeNetwork, "offline")
	snap := store.Capture(context.Background())
	if !snap.ShippingFee.Equal(decimal.NewFromInt(10)) || snap.Year != 2026 {
		t.Fatalf("expected cached values, got %+v", snap)
	}

	empty := newTestStore(t, &stubBackend{err: pkgerrors.New(pkgerrors.CodeNetwork, "offline")})
	snap = empty.Capture(context.Background())
	if !snap.TaxRate.Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("expected default tax rate, got %s", snap.TaxRate)
	}
}

func TestUpdateRefreshesCacheForCurrentYear(t *testing.T) {
	backend := &stubBackend{current: activeSettings()}
	store := newTestStore(t, backend)
	if _, err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	fee := decimal.NewFromInt(15)
	updated, err := store.Update(context.Background(), 2026, UpdateInput{ShippingFee: &fee})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.ShippingFee.Equal(fee) {
		t.Fatalf("unexpected updated fee %s", updated.ShippingFee)
	}
	if !store.ShippingFee().Equal(fee) {
		t.Fatalf("cache must follow an edit to the active year, got %s", store.ShippingFee())
	}
}

func TestDeactivateDropsCurrentCache(t *testing.T) {
	backend := &stubBackend{current: activeSettings()}
	store := newTestStore(t, backend)
	if _, err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if err := store.Deactivate(context.Background(), 2026); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if store.Current() != nil {
		t.Fatal("deactivating the active year must clear the cache")
	}
}
