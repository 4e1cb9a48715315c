// velctl drives the Veloura storefront API from the terminal: browse the
// catalog, manage the cart and wishlist, sign in, place orders, and talk to
// the shopping assistant. Local state (cart, token, wishlist cache) lives in
// a SQLite file so sessions survive restarts.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veloura/storefront-go/internal/api"
	"github.com/veloura/storefront-go/internal/cart"
	"github.com/veloura/storefront-go/internal/catalog"
	"github.com/veloura/storefront-go/internal/chat"
	"github.com/veloura/storefront-go/internal/content"
	"github.com/veloura/storefront-go/internal/localstore"
	"github.com/veloura/storefront-go/internal/orders"
	"github.com/veloura/storefront-go/internal/reviews"
	"github.com/veloura/storefront-go/internal/session"
	"github.com/veloura/storefront-go/internal/settings"
	"github.com/veloura/storefront-go/internal/wishlist"
	"github.com/veloura/storefront-go/pkg/config"
	pkgerrors "github.com/veloura/storefront-go/pkg/errors"
	"github.com/veloura/storefront-go/pkg/logger"
	"github.com/veloura/storefront-go/pkg/metrics"
	"github.com/veloura/storefront-go/pkg/money"
)

const usage = `usage: velctl <command> [args]

  products [category]        list products, optionally one category
  product <id>               show one product
  cart                       show the cart
  cart-add <id> <size>       add one unit
  cart-set <id> <size> <qty> set a line's quantity (0 removes it)
  cart-clear                 empty the cart
  wishlist                   show the wishlist
  wish <id> / unwish <id>    add to or remove from the wishlist
  login <email>              sign in (password read from stdin)
  logout                     sign out and wipe local state
  whoami                     show the active session
  order                      place a COD order from the whole cart
  orders                     list your orders
  reviews <product-id>       show a product's rating stats and reviews
  my-reviews                 list reviews you have written
  blogs                      list published blog posts
  blog <id>                  show one blog post
  testimonials               show approved customer testimonials
  fees                       show current shipping fee and tax rate
  chat <message>             ask the shopping assistant
`

type app struct {
	cfg      *config.Config
	log      *logger.Logger
	client   *api.Client
	state    *localstore.Store
	catalog  *catalog.Service
	session  *session.Store
	cart     *cart.Store
	wishlist *wishlist.Store
	settings *settings.Store
	orders   *orders.Service
	reviews  *reviews.Service
	content  *content.Service
	chat     *chat.Store
	format   *money.Formatter
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "velctl"})

	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "velctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	a, err := bootstrap(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.state.Close(); err != nil {
			logg.Error(context.Background(), "error closing local state", err)
		}
	}()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := a.run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "velctl:", pkgerrors.UserMessage(err))
		os.Exit(1)
	}
}

func bootstrap(cfg *config.Config, logg *logger.Logger) (*app, error) {
	state, err := localstore.Open(cfg.State.Path, cfg.State.AutoMigrate)
	if err != nil {
		return nil, fmt.Errorf("opening local state: %w", err)
	}

	client, err := api.NewClient(api.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		UserAgent: cfg.API.UserAgent,
		Logger:    logg,
		Metrics:   metrics.NewRequestMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return nil, err
	}

	catalogSvc, err := catalog.NewService(client)
	if err != nil {
		return nil, err
	}
	cartStore, err := cart.NewStore(cart.Params{Persister: state, Backend: client, Products: catalogSvc, Logger: logg})
	if err != nil {
		return nil, err
	}
	wishStore, err := wishlist.NewStore(wishlist.Params{Backend: client, Persister: state, Logger: logg})
	if err != nil {
		return nil, err
	}
	sessionStore, err := session.NewStore(session.Params{
		Backend:   client,
		Persister: state,
		Locals:    []session.LocalState{cartStore, wishStore},
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}
	settingsStore, err := settings.NewStore(settings.Params{Backend: client, Logger: logg})
	if err != nil {
		return nil, err
	}
	orderSvc, err := orders.NewService(orders.Params{Backend: client, Fees: settingsStore, Logger: logg})
	if err != nil {
		return nil, err
	}
	reviewSvc, err := reviews.NewService(reviews.Params{Backend: client, Logger: logg})
	if err != nil {
		return nil, err
	}
	contentSvc, err := content.NewService(content.Params{Backend: client, Logger: logg})
	if err != nil {
		return nil, err
	}
	chatStore, err := chat.NewStore(chat.Params{Backend: client, Logger: logg, Timeout: cfg.API.ChatTimeout})
	if err != nil {
		return nil, err
	}
	format, err := money.NewFormatter(cfg.Locale.Tag, cfg.Locale.Currency)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg: cfg, log: logg, client: client, state: state,
		catalog: catalogSvc, session: sessionStore, cart: cartStore,
		wishlist: wishStore, settings: settingsStore, orders: orderSvc,
		reviews: reviewSvc, content: contentSvc, chat: chatStore, format: format,
	}, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "products":
		return a.listProducts(ctx, args)
	case "product":
		return a.showProduct(ctx, args)
	case "cart":
		return a.showCart(ctx)
	case "cart-add":
		return a.cartAdd(ctx, args)
	case "cart-set":
		return a.cartSet(ctx, args)
	case "cart-clear":
		return a.cart.Clear(ctx)
	case "wishlist":
		return a.showWishlist(ctx)
	case "wish":
		return a.wish(ctx, args, true)
	case "unwish":
		return a.wish(ctx, args, false)
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.session.Logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "order":
		return a.placeOrder(ctx)
	case "orders":
		return a.listOrders(ctx)
	case "reviews":
		return a.showReviews(ctx, args)
	case "my-reviews":
		return a.myReviews(ctx)
	case "blogs":
		return a.listBlogs(ctx)
	case "blog":
		return a.showBlog(ctx, args)
	case "testimonials":
		return a.listTestimonials(ctx)
	case "fees":
		return a.showFees(ctx)
	case "chat":
		return a.ask(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) listProducts(ctx context.Context, args []string) error {
	filter := catalog.ListFilter{}
	if len(args) > 0 {
		filter.Category = args[0]
	}
	products, err := a.catalog.ListProducts(ctx, filter)
	if err != nil {
		return err
	}
	for _, p := range products {
		label := ""
		if p.HasDiscount {
			label = " " + catalog.DiscountLabel(p)
		}
		fmt.Printf("%-26s %-30s %s%s\n", p.ID, p.Name, a.format.Format(p.OfferPrice), label)
	}
	return nil
}

func (a *app) showProduct(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: velctl product <id>")
	}
	p, err := a.catalog.GetProduct(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n", p.Name, p.Description)
	fmt.Printf("price: %s", a.format.Format(p.OfferPrice))
	if p.HasDiscount {
		fmt.Printf(" (was %s, %s)", a.format.Format(p.Price), catalog.DiscountLabel(p))
	}
	fmt.Printf("\nsizes: %s\n", strings.Join(p.Sizes, ", "))
	return nil
}

func (a *app) showCart(ctx context.Context) error {
	if a.client.Authenticated() {
		if err := a.cart.Fetch(ctx); err != nil {
			a.log.Warn(a.log.WithField(ctx, "error", err.Error()), "cart refresh failed, showing local copy")
		}
	}
	if _, err := a.catalog.ListProducts(ctx, catalog.ListFilter{}); err != nil {
		return err
	}
	for productID, sizes := range a.cart.Lines() {
		name := productID
		if p, ok := a.catalog.Lookup(productID); ok {
			name = p.Name
		}
		for size, qty := range sizes {
			fmt.Printf("%-30s %-4s x%d\n", name, size, qty)
		}
	}
	fmt.Printf("%d units, subtotal %s\n", a.cart.Count(), a.format.Format(a.cart.Amount()))
	return nil
}

func (a *app) cartAdd(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: velctl cart-add <id> <size>")
	}
	return a.cart.Add(ctx, args[0], args[1])
}

func (a *app) cartSet(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: velctl cart-set <id> <size> <qty>")
	}
	qty, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("quantity must be a number: %w", err)
	}
	return a.cart.UpdateQuantity(ctx, args[0], args[1], qty)
}

func (a *app) showWishlist(ctx context.Context) error {
	if err := a.wishlist.Fetch(ctx); err != nil {
		return err
	}
	for _, entry := range a.wishlist.Entries() {
		fmt.Printf("%-26s %-30s %s\n", entry.ID, entry.Name, a.format.Format(entry.OfferPrice))
	}
	fmt.Printf("%d items\n", a.wishlist.Count())
	return nil
}

func (a *app) wish(ctx context.Context, args []string, add bool) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: velctl wish|unwish <id>")
	}
	if add {
		return a.wishlist.Add(ctx, args[0])
	}
	return a.wishlist.Remove(ctx, args[0])
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: velctl login <email>")
	}
	fmt.Fprint(os.Stderr, "password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if err := a.session.Login(ctx, args[0], strings.TrimSpace(password)); err != nil {
		return err
	}
	// Pull the server-side cart and wishlist into the local caches.
	if err := a.cart.Fetch(ctx); err != nil {
		a.log.Warn(a.log.WithField(ctx, "error", err.Error()), "cart sync after login failed")
	}
	if err := a.wishlist.Fetch(ctx); err != nil {
		a.log.Warn(a.log.WithField(ctx, "error", err.Error()), "wishlist sync after login failed")
	}
	fmt.Println("signed in")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	ok, err := a.session.Check(ctx)
	if err != nil && !ok {
		return err
	}
	user := a.session.Current()
	if user == nil {
		fmt.Println("guest")
		return nil
	}
	fmt.Printf("%s <%s> role=%s\n", user.Name, user.Email, a.session.Role())
	return nil
}

func (a *app) placeOrder(ctx context.Context) error {
	if _, err := a.catalog.ListProducts(ctx, catalog.ListFilter{}); err != nil {
		return err
	}
	items := orders.BuildItems(a.cart.Lines(), a.catalog)
	address, err := readAddress()
	if err != nil {
		return err
	}
	result, err := a.orders.Place(ctx, orders.MethodCOD, items, address)
	if err != nil {
		return err
	}
	if err := a.cart.ClearLocal(); err != nil {
		a.log.Warn(a.log.WithField(ctx, "error", err.Error()), "clearing local cart after order")
	}
	fmt.Printf("order placed: %s\n", result.OrderID)
	return nil
}

func readAddress() (orders.Address, error) {
	reader := bufio.NewReader(os.Stdin)
	ask := func(prompt string) (string, error) {
		fmt.Fprintf(os.Stderr, "%s: ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", prompt, err)
		}
		return strings.TrimSpace(line), nil
	}
	var addr orders.Address
	fields := []struct {
		prompt string
		dst    *string
	}{
		{"first name", &addr.FirstName},
		{"last name", &addr.LastName},
		{"email", &addr.Email},
		{"street", &addr.Street},
		{"city", &addr.City},
		{"state", &addr.State},
		{"zipcode", &addr.Zipcode},
		{"country", &addr.Country},
		{"phone", &addr.Phone},
	}
	for _, f := range fields {
		value, err := ask(f.prompt)
		if err != nil {
			return orders.Address{}, err
		}
		*f.dst = value
	}
	return addr, nil
}

func (a *app) listOrders(ctx context.Context) error {
	mine, err := a.orders.ListMine(ctx)
	if err != nil {
		return err
	}
	for _, o := range mine {
		fmt.Printf("%-26s %-14s %-8s %s\n", o.ID, o.Status, o.PaymentMethod, a.format.Format(o.Amount))
	}
	return nil
}

func (a *app) showReviews(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: velctl reviews <product-id>")
	}
	stats, err := a.reviews.Stats(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%.1f stars across %d reviews\n", stats.AverageRating, stats.TotalReviews)
	list, _, err := a.reviews.ListForProduct(ctx, args[0], reviews.ListOptions{SortBy: reviews.SortNewest})
	if err != nil {
		return err
	}
	for _, r := range list {
		badge := ""
		if r.Verified {
			badge = " [verified]"
		}
		fmt.Printf("%d/5 %s%s\n  %s\n", r.Rating, r.Title, badge, r.Comment)
	}
	return nil
}

func (a *app) myReviews(ctx context.Context) error {
	list, total, err := a.reviews.MyReviews(ctx, reviews.ListOptions{})
	if err != nil {
		return err
	}
	for _, r := range list {
		fmt.Printf("%-30s %d/5 %s\n", r.ProductName, r.Rating, r.Title)
	}
	fmt.Printf("%d reviews\n", total)
	return nil
}

func (a *app) listBlogs(ctx context.Context) error {
	blogs, err := a.content.ListBlogs(ctx)
	if err != nil {
		return err
	}
	for _, b := range blogs {
		fmt.Printf("%-26s %-12s %s\n", b.ID, b.Category, b.Title)
	}
	return nil
}

func (a *app) showBlog(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: velctl blog <id>")
	}
	blog, err := a.content.GetBlog(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s\nby %s\n\n%s\n", blog.Title, blog.Author, blog.Content)
	return nil
}

func (a *app) listTestimonials(ctx context.Context) error {
	list, err := a.content.ListTestimonials(ctx)
	if err != nil {
		return err
	}
	for _, tm := range list {
		fmt.Printf("%d/5 %s: %s\n", tm.Rating, tm.UserName, tm.Comment)
	}
	return nil
}

func (a *app) showFees(ctx context.Context) error {
	fees, err := a.settings.Fetch(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("year %d: shipping %s, tax %s\n",
		fees.Year, a.format.Format(fees.ShippingFee), money.FormatPercent(fees.TaxRate))
	return nil
}

func (a *app) ask(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: velctl chat <message>")
	}
	if err := a.chat.Send(ctx, strings.Join(args, " ")); err != nil {
		// The transcript carries the error bubble; show it like any reply.
		a.log.Debug(a.log.WithField(ctx, "error", err.Error()), "assistant turn failed")
	}
	msgs := a.chat.Messages()
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	fmt.Println(last.Content)
	for _, src := range last.Sources {
		fmt.Printf("  source: %s (%s)\n", src.Title, src.Collection)
	}
	return nil
}
