package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/tallerverde/shop-go/internal/cart"
	"github.com/tallerverde/shop-go/internal/db"
	"github.com/tallerverde/shop-go/internal/metrics"
	"github.com/tallerverde/shop-go/internal/middleware"
	"github.com/tallerverde/shop-go/internal/models"
	"github.com/tallerverde/shop-go/internal/pricing"
	"github.com/tallerverde/shop-go/internal/services"
	"github.com/tallerverde/shop-go/pkg/config"
)

// App holds application dependencies
type App struct {
	config            *config.Config
	db                *db.DB
	metrics           *metrics.AppMetrics
	logger            zerolog.Logger
	cartStore         *cart.Store
	pricing           *pricing.Resolver
	productService    *services.ProductService
	orderService      *services.OrderService
	userService       *services.UserService
	newsletterService *services.NewsletterService
}

// NewApp creates a new application instance
func NewApp(
	cfg *config.Config,
	database *db.DB,
	m *metrics.AppMetrics,
	logger zerolog.Logger,
	cs *cart.Store,
	pr *pricing.Resolver,
	ps *services.ProductService,
	os *services.OrderService,
	us *services.UserService,
	ns *services.NewsletterService,
) *App {
	return &App{
		config:            cfg,
		db:                database,
		metrics:           m,
		logger:            logger,
		cartStore:         cs,
		pricing:           pr,
		productService:    ps,
		orderService:      os,
		userService:       us,
		newsletterService: ns,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	// Middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RecoverMiddleware(a.logger))
	r.Use(middleware.MetricsMiddleware(a.metrics, a.logger))

	// API Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Products
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products/{id}", a.GetProductHandler).Methods("GET")
	api.HandleFunc("/products/{id}/price", a.GetProductPriceHandler).Methods("GET")

	// Cart
	api.HandleFunc("/cart", a.GetCartHandler).Methods("GET")
	api.HandleFunc("/cart/add", a.AddToCartHandler).Methods("POST")
	api.HandleFunc("/cart/remove", a.RemoveFromCartHandler).Methods("POST")
	api.HandleFunc("/cart/quantity", a.UpdateQuantityHandler).Methods("POST")
	api.HandleFunc("/cart/clear", a.ClearCartHandler).Methods("POST")
	api.HandleFunc("/cart/open", a.OpenCartHandler).Methods("POST")
	api.HandleFunc("/cart/close", a.CloseCartHandler).Methods("POST")

	// Checkout and orders
	api.HandleFunc("/checkout", a.CheckoutHandler).Methods("POST")
	api.HandleFunc("/payments/webhook", a.PaymentWebhookHandler).Methods("POST")
	api.HandleFunc("/orders", a.ListOrdersHandler).Methods("GET")
	api.HandleFunc("/orders/{id}", a.GetOrderHandler).Methods("GET")

	// Auth
	api.HandleFunc("/auth/signup", a.SignUpHandler).Methods("POST")
	api.HandleFunc("/auth/signin", a.SignInHandler).Methods("POST")
	api.HandleFunc("/auth/oauth", a.OAuthSignInHandler).Methods("POST")

	// Newsletter
	api.HandleFunc("/newsletter/subscribe", a.SubscribeHandler).Methods("POST")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// sessionID reads the session id header, minting one for new sessions. The id
// is echoed back so the client can persist it.
func (a *App) sessionID(w http.ResponseWriter, r *http.Request) string {
	sid := r.Header.Get("X-Session-ID")
	if sid == "" {
		sid = uuid.NewString()
	}
	w.Header().Set("X-Session-ID", sid)
	return sid
}

// ListProductsHandler handles GET /api/v1/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil {
			offset = parsed
		}
	}
	kind := models.Kind(r.URL.Query().Get("kind"))

	products, err := a.productService.ListProducts(r.Context(), kind, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

// GetProductHandler handles GET /api/v1/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	product, err := a.productService.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

// GetProductPriceHandler handles GET /api/v1/products/{id}/price.
// The viewer's currency derives from the coarse country signal header.
func (a *App) GetProductPriceHandler(w http.ResponseWriter, r *http.Request) {
	product, err := a.productService.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	viewer := a.pricing.ResolveViewerCurrency(r.Header.Get("X-Country-Code"))

	native := pricing.Money{Amount: product.PriceCLP, Currency: models.CLP}
	var alt *pricing.Money
	if product.PriceUSD != nil {
		alt = &pricing.Money{Amount: *product.PriceUSD, Currency: models.USD}
	}

	quote := a.pricing.ResolvePrice(r.Context(), native, alt, viewer)
	writeJSON(w, http.StatusOK, quote)
}

// GetCartHandler handles GET /api/v1/cart
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request) {
	sid := a.sessionID(w, r)
	writeJSON(w, http.StatusOK, a.cartStore.Get(r.Context(), sid))
}

// AddToCartHandler handles POST /api/v1/cart/add
func (a *App) AddToCartHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AddToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	product, err := a.productService.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if product.Kind == models.KindWorkshop && req.ScheduledDate == "" {
		http.Error(w, "scheduled_date is required for workshops", http.StatusBadRequest)
		return
	}

	candidate := cart.Line{
		ProductID:     product.ID,
		Kind:          product.Kind,
		Name:          product.Name,
		UnitPrice:     product.PriceCLP,
		Currency:      models.CLP,
		Quantity:      req.Quantity,
		Size:          req.Size,
		ScheduledDate: req.ScheduledDate,
		MaxQuantity:   services.MaxQuantityFor(product),
		Available:     !product.Stockable || product.Stock > 0,
	}

	sid := a.sessionID(w, r)
	outcome := a.cartStore.AddItem(r.Context(), sid, candidate)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": outcome.Accepted,
		"reason":   outcome.Reason,
		"cart":     a.cartStore.Get(r.Context(), sid),
	})
}

// RemoveFromCartHandler handles POST /api/v1/cart/remove
func (a *App) RemoveFromCartHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RemoveLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sid := a.sessionID(w, r)
	a.cartStore.RemoveItem(r.Context(), sid, req.LineID)
	writeJSON(w, http.StatusOK, a.cartStore.Get(r.Context(), sid))
}

// UpdateQuantityHandler handles POST /api/v1/cart/quantity
func (a *App) UpdateQuantityHandler(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sid := a.sessionID(w, r)
	a.cartStore.UpdateQuantity(r.Context(), sid, req.LineID, req.Quantity)
	writeJSON(w, http.StatusOK, a.cartStore.Get(r.Context(), sid))
}

// ClearCartHandler handles POST /api/v1/cart/clear
func (a *App) ClearCartHandler(w http.ResponseWriter, r *http.Request) {
	sid := a.sessionID(w, r)
	a.cartStore.ClearCart(r.Context(), sid)
	writeJSON(w, http.StatusOK, a.cartStore.Get(r.Context(), sid))
}

// OpenCartHandler handles POST /api/v1/cart/open
func (a *App) OpenCartHandler(w http.ResponseWriter, r *http.Request) {
	sid := a.sessionID(w, r)
	a.cartStore.OpenCart(r.Context(), sid)
	writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

// CloseCartHandler handles POST /api/v1/cart/close
func (a *App) CloseCartHandler(w http.ResponseWriter, r *http.Request) {
	sid := a.sessionID(w, r)
	a.cartStore.CloseCart(r.Context(), sid)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// CheckoutHandler handles POST /api/v1/checkout. Snapshots the session cart
// into a pending order and clears the cart. Guest checkouts leave the order
// unowned until the buyer authenticates.
func (a *App) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	var userID *int64
	if uid := r.URL.Query().Get("user_id"); uid != "" {
		if parsed, err := strconv.ParseInt(uid, 10, 64); err == nil {
			userID = &parsed
		}
	}

	sid := a.sessionID(w, r)
	state := a.cartStore.Get(r.Context(), sid)

	order, err := a.orderService.CreateOrder(r.Context(), req.Email, userID, state.Lines)
	if err != nil {
		if err.Error() == "cart is empty" {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.cartStore.ClearCart(r.Context(), sid)

	writeJSON(w, http.StatusCreated, order)
}

// PaymentWebhookHandler handles POST /api/v1/payments/webhook
func (a *App) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.Status == "" {
		http.Error(w, "token and status are required", http.StatusBadRequest)
		return
	}

	if err := a.orderService.UpdatePaymentStatus(r.Context(), req.Token, req.Status); err != nil {
		if err.Error() == "order not found" {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ListOrdersHandler handles GET /api/v1/orders
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	orders, err := a.orderService.ListUserOrders(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// GetOrderHandler handles GET /api/v1/orders/{id}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}

	order, items, err := a.orderService.GetOrder(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order": order,
		"items": items,
	})
}

// SignUpHandler handles POST /api/v1/auth/signup
func (a *App) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	user, err := a.userService.CreateUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if err.Error() == "user already exists" {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// SignInHandler handles POST /api/v1/auth/signin
func (a *App) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := a.userService.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// OAuthSignInHandler handles POST /api/v1/auth/oauth
func (a *App) OAuthSignInHandler(w http.ResponseWriter, r *http.Request) {
	var req models.OAuthSignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Provider == "" {
		http.Error(w, "email and provider are required", http.StatusBadRequest)
		return
	}

	user, err := a.userService.OAuthSignIn(r.Context(), req.Email, req.Name, req.Provider, req.ProviderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// SubscribeHandler handles POST /api/v1/newsletter/subscribe
func (a *App) SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.newsletterService.Subscribe(r.Context(), req.Email); err != nil {
		if err.Error() == "invalid email" {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
