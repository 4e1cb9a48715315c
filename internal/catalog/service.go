// Package catalog fetches product and category projections and keeps the last
// loaded product list around for cart amount resolution.
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/veloura/storefront-go/internal/api"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
)

type productListResponse struct {
	api.Envelope
	Products []Product `json:"products"`
}

type productResponse struct {
	api.Envelope
	Product Product `json:"product"`
}

type categoryListResponse struct {
	api.Envelope
	Categories []Category `json:"categories"`
}

// Service exposes catalog reads against the backend.
type Service struct {
	client *api.Client

	mu     sync.RWMutex
	loaded []Product
}

// NewService builds a catalog service backed by the provided client.
func NewService(client *api.Client) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("api client required")
	}
	return &Service{client: client}, nil
}

// ListProducts fetches in-stock products, applies the optional filter and
// caches the result for local lookups.
func (s *Service) ListProducts(ctx context.Context, filter ListFilter) ([]Product, error) {
	path := "/api/product/list"
	query := url.Values{}
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	if filter.Popular != nil {
		query.Set("popular", strconv.FormatBool(*filter.Popular))
	}
	if filter.Search != "" {
		query.Set("search", filter.Search)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out productListResponse
	if err := s.client.Get(ctx, "catalog.list", path, &out); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.loaded = out.Products
	s.mu.Unlock()
	return out.Products, nil
}

// GetProduct fetches a single product by id.
func (s *Service) GetProduct(ctx context.Context, productID string) (Product, error) {
	if productID == "" {
		return Product{}, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	var out productResponse
	if err := s.client.Get(ctx, "catalog.get", "/api/product/"+url.PathEscape(productID), &out); err != nil {
		return Product{}, err
	}
	return out.Product, nil
}

// ListByCategory fetches products belonging to the named category.
func (s *Service) ListByCategory(ctx context.Context, category string) ([]Product, error) {
	if category == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category is required")
	}
	var out productListResponse
	if err := s.client.Get(ctx, "catalog.by_category", "/api/product/category/"+url.PathEscape(category), &out); err != nil {
		return nil, err
	}
	return out.Products, nil
}

// ListCategories fetches the category taxonomy.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	var out categoryListResponse
	if err := s.client.Get(ctx, "catalog.categories", "/api/category/list", &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

// Loaded returns the most recently fetched product list; cart amount
// computation resolves ids against it.
func (s *Service) Loaded() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, len(s.loaded))
	copy(out, s.loaded)
	return out
}

// Lookup finds a loaded product by id.
func (s *Service) Lookup(productID string) (Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.loaded {
		if p.ID == productID {
			return p, true
		}
	}
	return Product{}, false
}
