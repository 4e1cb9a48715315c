package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductDetails carries the descriptive attributes shown on the detail page.
type ProductDetails struct {
	Material string   `json:"material"`
	Fit      string   `json:"fit"`
	Care     string   `json:"care"`
	Features []string `json:"features"`
	Weight   string   `json:"weight"`
	Origin   string   `json:"origin"`
}

// Product is the read-only projection the backend serves; the client never
// mutates it outside admin round-trips.
type Product struct {
	ID              string          `json:"_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Images          []string        `json:"image"`
	Price           decimal.Decimal `json:"price"`
	OfferPrice      decimal.Decimal `json:"offerPrice"`
	Category        string          `json:"category"`
	Sizes           []string        `json:"sizes"`
	Colors          []string        `json:"colors"`
	Details         *ProductDetails `json:"details,omitempty"`
	Popular         bool            `json:"popular"`
	InStock         bool            `json:"inStock"`
	HasDiscount     bool            `json:"hasDiscount"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Category is the navigation taxonomy entry.
type Category struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Image       string `json:"image"`
	IsActive    bool   `json:"isActive"`
}

// ListFilter narrows a product list request; zero value lists everything in stock.
type ListFilter struct {
	Category string
	Popular  *bool
	Search   string
}
