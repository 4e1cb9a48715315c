package apitest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloura/storefront-go/internal/api"
	"github.com/veloura/storefront-go/internal/cart"
	"github.com/veloura/storefront-go/internal/catalog"
	"github.com/veloura/storefront-go/internal/chat"
	"github.com/veloura/storefront-go/internal/localstore"
	"github.com/veloura/storefront-go/internal/orders"
	"github.com/veloura/storefront-go/internal/reviews"
	"github.com/veloura/storefront-go/internal/session"
	"github.com/veloura/storefront-go/internal/settings"
	"github.com/veloura/storefront-go/internal/wishlist"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
)

func seedProducts() []catalog.Product {
	return []catalog.Product{
		{
			ID:         "p1",
			Name:       "Basic Tee",
			Price:      decimal.NewFromInt(300000),
			OfferPrice: decimal.NewFromInt(250000),
			Category:   "Men",
			Sizes:      []string{"M", "L"},
			InStock:    true,
		},
		{
			ID:         "p2",
			Name:       "Linen Shirt",
			Price:      decimal.NewFromInt(500000),
			OfferPrice: decimal.NewFromInt(450000),
			Category:   "Men",
			Sizes:      []string{"S", "M"},
			InStock:    true,
		},
	}
}

func testAddress() orders.Address {
	return orders.Address{
		FirstName: "An", LastName: "Nguyen", Email: "an@example.com",
		Street: "12 Hang Bac", City: "Hanoi", State: "HN",
		Zipcode: "100000", Country: "VN", Phone: "0900000000",
	}
}

// harness wires every store against the fake backend the way the CLI does.
type harness struct {
	server   *Server
	client   *api.Client
	state    *localstore.Store
	catalog  *catalog.Service
	session  *session.Store
	cart     *cart.Store
	wishlist *wishlist.Store
	settings *settings.Store
	orders   *orders.Service
	reviews  *reviews.Service
	chat     *chat.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	server := New(seedProducts())
	t.Cleanup(server.Close)
	server.Seed("An Nguyen", "an@example.com", "Passw0rd!", "customer")

	log := logger.New(logger.Options{ServiceName: "apitest"})
	client, err := api.NewClient(api.Options{BaseURL: server.URL(), Logger: log})
	if err != nil {
		t.Fatalf("api.NewClient: %v", err)
	}
	state, err := localstore.Open(filepath.Join(t.TempDir(), "state.db"), true)
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = state.Close() })

	catalogSvc, err := catalog.NewService(client)
	if err != nil {
		t.Fatalf("catalog.NewService: %v", err)
	}
	if _, err := catalogSvc.ListProducts(context.Background(), catalog.ListFilter{}); err != nil {
		t.Fatalf("ListProducts: %v", err)
	}

	cartStore, err := cart.NewStore(cart.Params{Persister: state, Backend: client, Products: catalogSvc, Logger: log})
	if err != nil {
		t.Fatalf("cart.NewStore: %v", err)
	}
	wishStore, err := wishlist.NewStore(wishlist.Params{Backend: client, Persister: state, Logger: log})
	if err != nil {
		t.Fatalf("wishlist.NewStore: %v", err)
	}
	sessionStore, err := session.NewStore(session.Params{
		Backend:   client,
		Persister: state,
		Locals:    []session.LocalState{cartStore, wishStore},
		Logger:    log,
	})
	if err != nil {
		t.Fatalf("session.NewStore: %v", err)
	}
	settingsStore, err := settings.NewStore(settings.Params{Backend: client, Logger: log})
	if err != nil {
		t.Fatalf("settings.NewStore: %v", err)
	}
	orderSvc, err := orders.NewService(orders.Params{Backend: client, Fees: settingsStore, Logger: log})
	if err != nil {
		t.Fatalf("orders.NewService: %v", err)
	}
	reviewSvc, err := reviews.NewService(reviews.Params{Backend: client, Logger: log})
	if err != nil {
		t.Fatalf("reviews.NewService: %v", err)
	}
	chatStore, err := chat.NewStore(chat.Params{Backend: client, Logger: log, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("chat.NewStore: %v", err)
	}

	return &harness{
		server: server, client: client, state: state,
		catalog: catalogSvc, session: sessionStore, cart: cartStore,
		wishlist: wishStore, settings: settingsStore, orders: orderSvc,
		reviews: reviewSvc, chat: chatStore,
	}
}

func TestLoginCartCheckoutFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.session.Login(ctx, "an@example.com", "Passw0rd!"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := h.cart.Add(ctx, "p1", "M"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := h.cart.Add(ctx, "p1", "M"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := h.cart.Add(ctx, "p2", "S"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got := h.cart.Count(); got != 3 {
		t.Fatalf("expected 3 units, got %d", got)
	}
	want := decimal.NewFromInt(250000*2 + 450000)
	if !h.cart.Amount().Equal(want) {
		t.Fatalf("expected amount %s, got %s", want, h.cart.Amount())
	}

	// The backend mirrors the optimistic local state.
	if err := h.cart.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := h.cart.Count(); got != 3 {
		t.Fatalf("backend cart out of step, got %d units", got)
	}

	items := orders.BuildItems(h.cart.Lines(), h.catalog)
	result, err := h.orders.Place(ctx, orders.MethodCOD, items, testAddress())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if result.OrderID == "" || result.RedirectURL != "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	mine, err := h.orders.ListMine(ctx)
	if err != nil {
		t.Fatalf("ListMine: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != result.OrderID {
		t.Fatalf("unexpected orders: %+v", mine)
	}
	if !mine[0].Fees.ShippingFee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("order must carry the fee snapshot, got %+v", mine[0].Fees)
	}

	// The backend cleared the cart on checkout.
	if err := h.cart.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := h.cart.Count(); got != 0 {
		t.Fatalf("expected empty cart after checkout, got %d", got)
	}
}

func TestFeeSnapshotTracksAdminEdit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.settings.Capture(ctx)
	if !first.ShippingFee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected initial fee %s", first.ShippingFee)
	}

	h.server.SetFees(decimal.NewFromInt(25), decimal.NewFromFloat(0.05), 2026)
	second := h.settings.Capture(ctx)
	if !second.ShippingFee.Equal(decimal.NewFromInt(25)) || !second.TaxRate.Equal(decimal.NewFromFloat(0.05)) {
		t.Fatalf("capture must reprice with the new settings, got %+v", second)
	}
	// Earlier snapshot keeps its values.
	if !first.ShippingFee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("first snapshot mutated: %s", first.ShippingFee)
	}
}

func TestWishlistRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.session.Login(ctx, "an@example.com", "Passw0rd!"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.wishlist.Add(ctx, "p2"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	liked, err := h.wishlist.Contains(ctx, "p2")
	if err != nil || !liked {
		t.Fatalf("expected product liked, got %v %v", liked, err)
	}
	if err := h.wishlist.Fetch(ctx); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	entries := h.wishlist.Entries()
	if len(entries) != 1 || entries[0].Name != "Linen Shirt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if err := h.wishlist.Remove(ctx, "p2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	liked, err = h.wishlist.Contains(ctx, "p2")
	if err != nil || liked {
		t.Fatalf("expected product unliked, got %v %v", liked, err)
	}
}

func TestLogoutWipesLocalState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.session.Login(ctx, "an@example.com", "Passw0rd!"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.cart.Add(ctx, "p1", "L"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := h.session.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if h.cart.Count() != 0 {
		t.Fatal("cart must be wiped on logout")
	}
	if h.client.Authenticated() {
		t.Fatal("token must be cleared on logout")
	}
	if token, err := h.state.LoadToken(); err != nil || token != "" {
		t.Fatalf("persisted token must be gone, got %q %v", token, err)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.session.Login(ctx, "an@example.com", "Passw0rd!"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// A second store over the same state file plays the part of a restart.
	log := logger.New(logger.Options{ServiceName: "apitest"})
	client, err := api.NewClient(api.Options{BaseURL: h.server.URL(), Logger: log})
	if err != nil {
		t.Fatalf("api.NewClient: %v", err)
	}
	restored, err := session.NewStore(session.Params{
		Backend:   client,
		Persister: h.state,
		Logger:    log,
	})
	if err != nil {
		t.Fatalf("session.NewStore: %v", err)
	}
	if !restored.Authenticated() {
		t.Fatal("expected session restored from the persisted token")
	}
	ok, err := restored.Check(ctx)
	if err != nil || !ok {
		t.Fatalf("expected live session, got %v %v", ok, err)
	}
	user := restored.Current()
	if user == nil || user.Name != "An Nguyen" {
		t.Fatalf("unexpected identity: %+v", user)
	}
}

func TestChatAgainstBackend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.server.SetChat("We have two cotton tees in stock.", 0)
	if err := h.chat.Send(ctx, "what tees do you have?"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := h.chat.Messages()
	if len(msgs) != 2 || msgs[1].Content != "We have two cotton tees in stock." {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}

	// A reply slower than the per-turn deadline becomes an error bubble.
	h.server.SetChat("too slow", 300*time.Millisecond)
	slow, err := chat.NewStore(chat.Params{Backend: h.client, Logger: logger.New(logger.Options{ServiceName: "apitest"}), Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("chat.NewStore: %v", err)
	}
	if err := slow.Send(ctx, "hello"); err == nil {
		t.Fatal("expected timeout")
	}
	msgs = slow.Messages()
	if len(msgs) != 2 || !msgs[1].IsError {
		t.Fatalf("expected one error bubble, got %+v", msgs)
	}
}

func TestReviewRequiresDeliveredOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.session.Login(ctx, "an@example.com", "Passw0rd!"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.cart.Add(ctx, "p2", "S"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	items := orders.BuildItems(h.cart.Lines(), h.catalog)
	if _, err := h.orders.Place(ctx, orders.MethodCOD, items, testAddress()); err != nil {
		t.Fatalf("Place: %v", err)
	}

	input := reviews.CreateInput{
		ProductID: "p2",
		Rating:    5,
		Title:     "Great shirt",
		Comment:   "Fits well and the fabric held up after washing.",
	}

	// Until the order is delivered the backend refuses the review.
	_, err := h.reviews.Create(ctx, input)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden before delivery, got %v", err)
	}

	h.server.MarkDelivered("an@example.com")
	id, err := h.reviews.Create(ctx, input)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected a review id")
	}

	list, total, err := h.reviews.ListForProduct(ctx, "p2", reviews.ListOptions{})
	if err != nil {
		t.Fatalf("ListForProduct: %v", err)
	}
	if total != 1 || len(list) != 1 || !list[0].Verified || list[0].Title != "Great shirt" {
		t.Fatalf("unexpected reviews: total=%d list=%+v", total, list)
	}

	stats, err := h.reviews.Stats(ctx, "p2")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalReviews != 1 || stats.AverageRating != 5 || stats.Distribution["5"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	mine, _, err := h.reviews.MyReviews(ctx, reviews.ListOptions{})
	if err != nil {
		t.Fatalf("MyReviews: %v", err)
	}
	if len(mine) != 1 || mine[0].ProductName != "Linen Shirt" {
		t.Fatalf("unexpected my-reviews: %+v", mine)
	}

	// One review per product per user.
	_, err = h.reviews.Create(ctx, input)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}
