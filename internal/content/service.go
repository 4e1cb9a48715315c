// Package content serves the storefront's editorial surfaces: blog posts and
// the site-wide testimonials shown on the landing page. Blogs are read only
// from the client; a customer may keep exactly one testimonial, which sits in
// a pending state until staff approve it.
package content

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/veloura/storefront-go/internal/api"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

// Blog is a published article.
type Blog struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	Image       string    `json:"image"`
	IsPublished bool      `json:"isPublished"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Testimonial statuses as the backend records them.
const (
	TestimonialPending  = "pending"
	TestimonialApproved = "approved"
	TestimonialRejected = "rejected"
)

// Testimonial is one customer's site review. The backend fills the user name
// and avatar from the account, so the submit payload carries neither.
type Testimonial struct {
	ID         string    `json:"_id"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	UserAvatar string    `json:"userAvatar"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TestimonialInput is a new or edited testimonial. Bounds mirror the
// backend's request validation.
type TestimonialInput struct {
	Rating  int    `json:"rating" validate:"required,gte=1,lte=5"`
	Comment string `json:"comment" validate:"required,min=10,max=500"`
}

type blogListResponse struct {
	api.Envelope
	Blogs []Blog `json:"blogs"`
}

type blogResponse struct {
	api.Envelope
	Blog Blog `json:"blog"`
}

type testimonialListResponse struct {
	api.Envelope
	Testimonials []Testimonial `json:"testimonials"`
}

type testimonialResponse struct {
	api.Envelope
	Testimonial *Testimonial `json:"testimonial"`
}

type submitResponse struct {
	api.Envelope
	TestimonialID string `json:"testimonialId"`
}

// Backend is the slice of the API client the content service needs.
type Backend interface {
	Get(ctx context.Context, operation, path string, out any) error
	Post(ctx context.Context, operation, path string, body any, out any) error
	Put(ctx context.Context, operation, path string, body any, out any) error
	Delete(ctx context.Context, operation, path string, body any, out any) error
}

// Service reads editorial content and manages the caller's testimonial.
type Service struct {
	backend Backend
	log     *logger.Logger
}

// Params groups the service dependencies.
type Params struct {
	Backend Backend
	Logger  *logger.Logger
}

// NewService builds the content service.
func NewService(params Params) (*Service, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("backend required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{backend: params.Backend, log: params.Logger}, nil
}

// ListBlogs returns published articles, newest first.
func (s *Service) ListBlogs(ctx context.Context) ([]Blog, error) {
	var out blogListResponse
	if err := s.backend.Get(ctx, "content.blogs", "/api/blog/list", &out); err != nil {
		return nil, err
	}
	return out.Blogs, nil
}

// GetBlog returns one article by id.
func (s *Service) GetBlog(ctx context.Context, blogID string) (*Blog, error) {
	if blogID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "blog id is required")
	}
	var out blogResponse
	if err := s.backend.Get(ctx, "content.blog", "/api/blog/"+url.PathEscape(blogID), &out); err != nil {
		return nil, err
	}
	return &out.Blog, nil
}

// ListTestimonials returns the approved testimonials shown site wide.
func (s *Service) ListTestimonials(ctx context.Context) ([]Testimonial, error) {
	var out testimonialListResponse
	if err := s.backend.Get(ctx, "content.testimonials", "/api/testimonial/list", &out); err != nil {
		return nil, err
	}
	return out.Testimonials, nil
}

// MyTestimonial returns the caller's testimonial in any status, or nil if
// they have not written one.
func (s *Service) MyTestimonial(ctx context.Context) (*Testimonial, error) {
	var out testimonialResponse
	if err := s.backend.Get(ctx, "content.testimonial.mine", "/api/testimonial/my-testimonial", &out); err != nil {
		return nil, err
	}
	return out.Testimonial, nil
}

// SubmitTestimonial creates the caller's testimonial, pending staff
// approval. A second submission comes back as a backend error; use
// UpdateTestimonial to edit the existing one.
func (s *Service) SubmitTestimonial(ctx context.Context, input TestimonialInput) (string, error) {
	if err := api.ValidatePayload(input); err != nil {
		return "", err
	}
	var out submitResponse
	if err := s.backend.Post(ctx, "content.testimonial.create", "/api/testimonial/create", input, &out); err != nil {
		return "", err
	}
	s.log.Info(s.log.WithField(ctx, "testimonialId", out.TestimonialID), "testimonial submitted")
	return out.TestimonialID, nil
}

// UpdateTestimonial edits the caller's testimonial. Only a pending one can
// be edited; the backend rejects edits after moderation.
func (s *Service) UpdateTestimonial(ctx context.Context, input TestimonialInput) error {
	if err := api.ValidatePayload(input); err != nil {
		return err
	}
	var out struct{ api.Envelope }
	if err := s.backend.Put(ctx, "content.testimonial.update", "/api/testimonial/update", input, &out); err != nil {
		return err
	}
	s.log.Info(ctx, "testimonial updated")
	return nil
}

// DeleteTestimonial removes the caller's testimonial.
func (s *Service) DeleteTestimonial(ctx context.Context) error {
	var out struct{ api.Envelope }
	if err := s.backend.Delete(ctx, "content.testimonial.delete", "/api/testimonial/delete", nil, &out); err != nil {
		return err
	}
	s.log.Info(ctx, "testimonial deleted")
	return nil
}
