package models

import "time"

// Currency is an ISO 4217 currency code. The shop prices everything in CLP and
// optionally in USD.
type Currency string

const (
	CLP Currency = "CLP"
	USD Currency = "USD"
)

// Kind is the closed set of product categories the shop sells.
type Kind string

const (
	KindGood     Kind = "good"     // physical good (terrariums, supplies)
	KindCourse   Kind = "course"   // online course, a single access grant
	KindWorkshop Kind = "workshop" // in-person workshop with scheduled dates
)

// Product represents a catalog product synced from the CMS
type Product struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Description  string    `json:"description" db:"description"`
	Kind         Kind      `json:"kind" db:"kind"`
	PriceCLP     float64   `json:"price_clp" db:"price_clp"`
	PriceUSD     *float64  `json:"price_usd,omitempty" db:"price_usd"`
	Stock        int       `json:"stock" db:"stock"`
	Stockable    bool      `json:"stockable" db:"stockable"`
	Sizes        []string  `json:"sizes,omitempty"`
	SessionDates []string  `json:"session_dates,omitempty"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// User represents a user account
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Provider     string    `json:"provider,omitempty" db:"provider"`
	ProviderID   string    `json:"-" db:"provider_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Order represents a placed order. UserID is nil for guest checkouts until the
// order-linking flow adopts the order into an account.
type Order struct {
	ID            int64     `json:"id" db:"id"`
	BuyerEmail    string    `json:"buyer_email" db:"buyer_email"`
	UserID        *int64    `json:"user_id,omitempty" db:"user_id"`
	Status        string    `json:"status" db:"status"` // pending, completed, cancelled
	PaymentStatus string    `json:"payment_status" db:"payment_status"`
	GatewayToken  string    `json:"-" db:"gateway_token"`
	TotalAmount   float64   `json:"total_amount" db:"total_amount"`
	Currency      Currency  `json:"currency" db:"currency"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// OrderItem represents an item in an order
type OrderItem struct {
	ID            int64     `json:"id" db:"id"`
	OrderID       int64     `json:"order_id" db:"order_id"`
	ProductID     string    `json:"product_id" db:"product_id"`
	Kind          Kind      `json:"kind" db:"kind"`
	Name          string    `json:"name" db:"name"`
	Quantity      int       `json:"quantity" db:"quantity"`
	UnitPrice     float64   `json:"unit_price" db:"unit_price"`
	Currency      Currency  `json:"currency" db:"currency"`
	Size          string    `json:"size,omitempty" db:"size"`
	ScheduledDate string    `json:"scheduled_date,omitempty" db:"scheduled_date"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// PriceQuote is the outcome of resolving a product price for a viewer
type PriceQuote struct {
	Amount           float64  `json:"amount"`
	Currency         Currency `json:"currency"`
	OriginalCurrency Currency `json:"original_currency"`
}

// AddToCartRequest represents a request to add a product to the cart
type AddToCartRequest struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Size          string `json:"size,omitempty"`
	ScheduledDate string `json:"scheduled_date,omitempty"`
}

// UpdateQuantityRequest represents a request to change a cart line's quantity
type UpdateQuantityRequest struct {
	LineID   string `json:"line_id"`
	Quantity int    `json:"quantity"`
}

// RemoveLineRequest represents a request to remove a cart line
type RemoveLineRequest struct {
	LineID string `json:"line_id"`
}

// SignUpRequest represents a credentials account creation request
type SignUpRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// SignInRequest represents a credentials sign-in request
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// OAuthSignInRequest represents an OAuth sign-in callback payload
type OAuthSignInRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
}

// CheckoutRequest represents a checkout of the current session cart
type CheckoutRequest struct {
	Email string `json:"email"`
}

// PaymentWebhookRequest represents a payment gateway status notification
type PaymentWebhookRequest struct {
	Token  string `json:"token"`
	Status string `json:"status"`
}

// SubscribeRequest represents a newsletter signup
type SubscribeRequest struct {
	Email string `json:"email"`
}
