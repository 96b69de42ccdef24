package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tallerverde/shop-go/internal/db"
	"github.com/tallerverde/shop-go/internal/metrics"
	"github.com/tallerverde/shop-go/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// UserService handles accounts: credentials signup/sign-in and OAuth sign-in.
// Every account creation and every OAuth sign-in triggers the order-linking
// flow; linking failures are logged and never fail authentication.
type UserService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	linker  *OrderLinkService
	logger  zerolog.Logger
}

// NewUserService creates a new user service
func NewUserService(db *db.DB, metrics *metrics.AppMetrics, linker *OrderLinkService, logger zerolog.Logger) *UserService {
	return &UserService{
		db:      db,
		metrics: metrics,
		linker:  linker,
		logger:  logger,
	}
}

// CreateUser creates a credentials account and adopts any guest orders placed
// with the same email
func (s *UserService) CreateUser(ctx context.Context, email, name, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	email = strings.ToLower(email)

	start := time.Now()
	query := "INSERT INTO users (email, name, password_hash) VALUES (?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, email, name, string(hash))
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		// MySQL Error 1062
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil, fmt.Errorf("user already exists")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	s.linkOrders(ctx, email, id)

	return &models.User{
		ID:        id,
		Email:     email,
		Name:      name,
		CreatedAt: time.Now(),
	}, nil
}

// SignIn verifies credentials and returns the account
func (s *UserService) SignIn(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetUserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, err
	}

	if user.PasswordHash == "" {
		return nil, fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	return user, nil
}

// OAuthSignIn gets or creates the account for an OAuth identity. Runs on every
// OAuth sign-in, so orders placed between sign-ins get adopted too.
func (s *UserService) OAuthSignIn(ctx context.Context, email, name, provider, providerID string) (*models.User, error) {
	email = strings.ToLower(email)

	user, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		s.linkOrders(ctx, email, user.ID)
		return user, nil
	}
	if err.Error() != "user not found" {
		return nil, err
	}

	start := time.Now()
	query := "INSERT INTO users (email, name, provider, provider_id) VALUES (?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, email, name, provider, providerID)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	s.linkOrders(ctx, email, id)

	return &models.User{
		ID:         id,
		Email:      email,
		Name:       name,
		Provider:   provider,
		ProviderID: providerID,
		CreatedAt:  time.Now(),
	}, nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()
	query := "SELECT id, email, name, COALESCE(password_hash, ''), COALESCE(provider, ''), COALESCE(provider_id, ''), created_at FROM users WHERE id = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Provider, &user.ProviderID, &user.CreatedAt,
	)

	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, false)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetUserByEmail returns a user by email
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	start := time.Now()
	query := "SELECT id, email, name, COALESCE(password_hash, ''), COALESCE(provider, ''), COALESCE(provider_id, ''), created_at FROM users WHERE email = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, strings.ToLower(email)).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.Provider, &user.ProviderID, &user.CreatedAt,
	)

	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, false)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// linkOrders runs the order-linking flow without letting it affect the auth
// outcome
func (s *UserService) linkOrders(ctx context.Context, email string, userID int64) {
	if s.linker == nil {
		return
	}
	linked, err := s.linker.LinkOrdersToUser(ctx, email, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("email", email).Int64("user_id", userID).Msg("order linking failed")
		return
	}
	if linked > 0 {
		s.logger.Info().Str("email", email).Int64("user_id", userID).Int("linked", linked).Msg("guest orders linked to account")
	}
}
