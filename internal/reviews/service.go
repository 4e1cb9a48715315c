// Package reviews manages verified-purchase product reviews: writing one,
// browsing a product's reviews and rating stats, and maintaining your own.
// The backend only accepts a review from a user with a delivered order for
// the product, and at most one per product.
package reviews

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/veloura/storefront-go/internal/api"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

// Sort orders for a product's review list.
const (
	SortNewest     = "newest"
	SortOldest     = "oldest"
	SortRatingDesc = "rating_desc"
	SortRatingAsc  = "rating_asc"
)

// Review is a stored review as the list endpoints return it. Verified is
// always true for reviews created through the storefront; the purchase check
// happens server side. ProductName and ProductImage are only populated on the
// my-reviews endpoint.
type Review struct {
	ID           string     `json:"_id"`
	ProductID    string     `json:"productId"`
	UserID       string     `json:"userId"`
	Rating       int        `json:"rating"`
	Title        string     `json:"title"`
	Comment      string     `json:"comment"`
	UserName     string     `json:"userName"`
	UserAvatar   string     `json:"userAvatar"`
	Verified     bool       `json:"verified"`
	PurchaseDate *time.Time `json:"purchaseDate"`
	ProductName  string     `json:"productName,omitempty"`
	ProductImage string     `json:"productImage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Stats aggregates a product's reviews. Distribution keys are the rating
// values "1" through "5".
type Stats struct {
	AverageRating float64        `json:"averageRating"`
	TotalReviews  int            `json:"totalReviews"`
	Distribution  map[string]int `json:"ratingDistribution"`
}

// CreateInput is a new review. Field bounds mirror the backend's request
// validation so an empty title or comment never reaches the wire.
type CreateInput struct {
	ProductID string `json:"productId" validate:"required"`
	Rating    int    `json:"rating" validate:"required,gte=1,lte=5"`
	Title     string `json:"title" validate:"required,min=5,max=100"`
	Comment   string `json:"comment" validate:"required,min=20,max=1000"`
}

// UpdateInput patches an existing review. Nil fields are left unchanged.
type UpdateInput struct {
	Rating  *int    `json:"rating,omitempty" validate:"omitempty,gte=1,lte=5"`
	Title   *string `json:"title,omitempty" validate:"omitempty,min=5,max=100"`
	Comment *string `json:"comment,omitempty" validate:"omitempty,min=20,max=1000"`
}

// ListOptions pages and sorts a review list. Zero values fall back to the
// backend defaults (newest first, first page).
type ListOptions struct {
	SortBy string
	Limit  int
	Skip   int
}

type createResponse struct {
	api.Envelope
	ReviewID string `json:"reviewId"`
}

type listResponse struct {
	api.Envelope
	Reviews []Review `json:"reviews"`
	Total   int      `json:"total"`
}

type statsResponse struct {
	api.Envelope
	Stats
}

// Backend is the slice of the API client the review service needs.
type Backend interface {
	Get(ctx context.Context, operation, path string, out any) error
	Post(ctx context.Context, operation, path string, body any, out any) error
	Put(ctx context.Context, operation, path string, body any, out any) error
	Delete(ctx context.Context, operation, path string, body any, out any) error
}

// Service reads and writes product reviews.
type Service struct {
	backend Backend
	log     *logger.Logger
}

// Params groups the service dependencies.
type Params struct {
	Backend Backend
	Logger  *logger.Logger
}

// NewService builds the review service.
func NewService(params Params) (*Service, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{backend: params.Backend, log: params.Logger}, nil
}

// Create submits a review and returns its id. The backend rejects users
// without a delivered order for the product and users who already reviewed
// it; both come back as typed errors, no local pre-check is possible.
func (s *Service) Create(ctx context.Context, input CreateInput) (string, error) {
	if err := api.ValidatePayload(input); err != nil {
		return "", err
	}
	var out createResponse
	if err := s.backend.Post(ctx, "reviews.create", "/api/review/create", input, &out); err != nil {
		return "", err
	}
	ctx = s.log.WithFields(ctx, map[string]any{
		"reviewId":  out.ReviewID,
		"productId": input.ProductID,
		"rating":    input.Rating,
	})
	s.log.Info(ctx, "review created")
	return out.ReviewID, nil
}

// ListForProduct returns one page of a product's reviews plus the total
// count across all pages.
func (s *Service) ListForProduct(ctx context.Context, productID string, opts ListOptions) ([]Review, int, error) {
	if productID == "" {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if opts.SortBy != "" {
		switch opts.SortBy {
		case SortNewest, SortOldest, SortRatingDesc, SortRatingAsc:
		default:
			return nil, 0, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("unknown sort order %q", opts.SortBy))
		}
	}
	path := "/api/review/product/" + url.PathEscape(productID) + listQuery(opts)
	var out listResponse
	if err := s.backend.Get(ctx, "reviews.list", path, &out); err != nil {
		return nil, 0, err
	}
	return out.Reviews, out.Total, nil
}

// Stats returns a product's average rating, review count, and per-star
// distribution. A product with no reviews yields zeros, not an error.
func (s *Service) Stats(ctx context.Context, productID string) (*Stats, error) {
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	var out statsResponse
	path := "/api/review/product/" + url.PathEscape(productID) + "/stats"
	if err := s.backend.Get(ctx, "reviews.stats", path, &out); err != nil {
		return nil, err
	}
	stats := out.Stats
	return &stats, nil
}

// Update patches the caller's own review. The ownership check is server
// side; editing someone else's review comes back FORBIDDEN.
func (s *Service) Update(ctx context.Context, reviewID string, input UpdateInput) error {
	if reviewID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "review id is required")
	}
	if err := api.ValidatePayload(input); err != nil {
		return err
	}
	var out struct{ api.Envelope }
	path := "/api/review/" + url.PathEscape(reviewID)
	if err := s.backend.Put(ctx, "reviews.update", path, input, &out); err != nil {
		return err
	}
	s.log.Info(s.log.WithField(ctx, "reviewId", reviewID), "review updated")
	return nil
}

// Delete removes a review. Users may delete their own; staff may delete any.
func (s *Service) Delete(ctx context.Context, reviewID string) error {
	if reviewID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "review id is required")
	}
	var out struct{ api.Envelope }
	path := "/api/review/" + url.PathEscape(reviewID)
	if err := s.backend.Delete(ctx, "reviews.delete", path, nil, &out); err != nil {
		return err
	}
	s.log.Info(s.log.WithField(ctx, "reviewId", reviewID), "review deleted")
	return nil
}

// MyReviews returns the signed-in user's reviews, newest first, with the
// product name and image joined in.
func (s *Service) MyReviews(ctx context.Context, opts ListOptions) ([]Review, int, error) {
	path := "/api/review/user/my-reviews" + listQuery(opts)
	var out listResponse
	if err := s.backend.Get(ctx, "reviews.mine", path, &out); err != nil {
		return nil, 0, err
	}
	return out.Reviews, out.Total, nil
}

func listQuery(opts ListOptions) string {
	q := url.Values{}
	if opts.SortBy != "" {
		q.Set("sort_by", opts.SortBy)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	if opts.Skip > 0 {
		q.Set("skip", fmt.Sprint(opts.Skip))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
