// Package orders turns the cart into a placed order and reads back order
// history. Every order carries a fee snapshot so later settings edits never
// reprice it.
package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloura/storefront-go/internal/api"
	"github.com/veloura/storefront-go/internal/catalog"
	"github.com/veloura/storefront-go/internal/settings"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

// PaymentMethod selects the checkout flow.
type PaymentMethod string

const (
	MethodCOD    PaymentMethod = "cod"
	MethodStripe PaymentMethod = "stripe"
	MethodVNPay  PaymentMethod = "vnpay"
)

// Order lifecycle statuses as the backend records them.
const (
	StatusPlaced     = "Order Placed"
	StatusProcessing = "Processing"
	StatusShipped    = "Shipped"
	StatusDelivered  = "Delivered"
	StatusCancelled  = "Cancelled"
)

// Item is one order line in the submit payload: a product reference, not the
// full document.
type Item struct {
	Product  string `json:"product" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
	Size     string `json:"size" validate:"required"`
}

// Address is the delivery address block.
type Address struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Street    string `json:"street" validate:"required"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state" validate:"required"`
	Zipcode   string `json:"zipcode" validate:"required"`
	Country   string `json:"country" validate:"required"`
	Phone     string `json:"phone" validate:"required"`
}

// ProductSnapshot is the product projection the backend embeds in stored
// orders.
type ProductSnapshot struct {
	ID         string          `json:"_id"`
	Name       string          `json:"name"`
	Image      []string        `json:"image"`
	OfferPrice decimal.Decimal `json:"offerPrice"`
}

// Line is one stored order line.
type Line struct {
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
	Size     string          `json:"size"`
}

// Order is a stored order as the history endpoints return it.
type Order struct {
	ID            string            `json:"_id"`
	UserID        string            `json:"userId"`
	Items         []Line            `json:"items"`
	Amount        decimal.Decimal   `json:"amount"`
	Address       Address           `json:"address"`
	Fees          settings.Snapshot `json:"fees"`
	Status        string            `json:"status"`
	PaymentMethod string            `json:"paymentMethod"`
	IsPaid        bool              `json:"isPaid"`
	PaidAt        *time.Time        `json:"paidAt"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// PlaceResult reports a placed order. RedirectURL is set for hosted payment
// flows and empty for cash on delivery.
type PlaceResult struct {
	OrderID     string
	RedirectURL string
	Method      PaymentMethod
}

type placePayload struct {
	Items   []Item            `json:"items" validate:"required,min=1,dive"`
	Address Address           `json:"address"`
	Fees    settings.Snapshot `json:"fees"`
}

type placeResponse struct {
	api.Envelope
	OrderID   string `json:"orderId"`
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

type listResponse struct {
	api.Envelope
	Orders []Order `json:"orders"`
}

type statusPayload struct {
	OrderID string `json:"orderId" validate:"required"`
	Status  string `json:"status" validate:"required"`
}

// Backend is the slice of the API client the order service needs.
type Backend interface {
	Post(ctx context.Context, operation, path string, body any, out any) error
}

// FeeSource provides the fee snapshot captured at submit time. The settings
// store satisfies it.
type FeeSource interface {
	Capture(ctx context.Context) settings.Snapshot
}

// Resolver maps product ids onto catalog documents. The catalog service
// satisfies it.
type Resolver interface {
	Lookup(productID string) (catalog.Product, bool)
}

// Service places and reads orders.
type Service struct {
	backend Backend
	fees    FeeSource
	log     *logger.Logger
}

// Params groups the service dependencies.
type Params struct {
	Backend Backend
	Fees    FeeSource
	Logger  *logger.Logger
}

// NewService builds the order service.
func NewService(params Params) (*Service, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Fees == nil {
		return nil, fmt.Errorf("fee source required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{backend: params.Backend, fees: params.Fees, log: params.Logger}, nil
}

// BuildItems flattens cart lines into order items, skipping products the
// catalog no longer knows. Output order is stable.
func BuildItems(lines map[string]map[string]int, products Resolver) []Item {
	items := make([]Item, 0, len(lines))
	for productID, sizes := range lines {
		if _, ok := products.Lookup(productID); !ok {
			continue
		}
		for size, qty := range sizes {
			if qty <= 0 {
				continue
			}
			items = append(items, Item{Product: productID, Quantity: qty, Size: size})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Product != items[j].Product {
			return items[i].Product < items[j].Product
		}
		return items[i].Size < items[j].Size
	})
	return items
}

// Place submits the order. The fee snapshot is captured here, immediately
// before the request, so the order is priced with the latest settings.
func (s *Service) Place(ctx context.Context, method PaymentMethod, items []Item, address Address) (*PlaceResult, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	var path string
	switch method {
	case MethodCOD:
		path = "/api/order/cod"
	case MethodStripe:
		path = "/api/order/stripe"
	case MethodVNPay:
		path = "/api/order/vnpay"
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment method %q", method))
	}

	payload := placePayload{
		Items:   items,
		Address: address,
		Fees:    s.fees.Capture(ctx),
	}
	var out placeResponse
	if err := s.backend.Post(ctx, "orders.place."+string(method), path, payload, &out); err != nil {
		return nil, err
	}

	result := &PlaceResult{OrderID: out.OrderID, RedirectURL: out.URL, Method: method}
	ctx = s.log.WithFields(ctx, map[string]any{
		"orderId": result.OrderID,
		"method":  string(method),
		"items":   len(items),
	})
	s.log.Info(ctx, "order placed")
	return result, nil
}

// ListMine returns the signed-in user's orders, newest first.
func (s *Service) ListMine(ctx context.Context) ([]Order, error) {
	var out listResponse
	if err := s.backend.Post(ctx, "orders.mine", "/api/order/userorders", nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// ListAll returns every order. Staff and admin only.
func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	var out listResponse
	if err := s.backend.Post(ctx, "orders.all", "/api/order/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// Track finds one of the user's orders by id.
func (s *Service) Track(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orders, err := s.ListMine(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].ID == orderID {
			return &orders[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order %s not found", orderID))
}

// UpdateStatus moves an order through its lifecycle. Staff and admin only.
func (s *Service) UpdateStatus(ctx context.Context, orderID, status string) error {
	switch status {
	case StatusPlaced, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", status))
	}
	var out api.Envelope
	payload := statusPayload{OrderID: orderID, Status: status}
	return s.backend.Post(ctx, "orders.status", "/api/order/status", payload, &out)
}
