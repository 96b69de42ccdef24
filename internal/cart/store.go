package cart

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tallerverde/shop-go/internal/metrics"
	"github.com/tallerverde/shop-go/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Store maintains the session carts. Each session owns exactly one cart; carts
// are never shared across sessions. Mutations are serialized by the store mutex
// and accepted mutations persist the line list through Storage.
type Store struct {
	mu      sync.Mutex
	carts   map[string]*State
	storage Storage
	metrics *metrics.AppMetrics
	logger  zerolog.Logger
}

// NewStore creates a cart store backed by the given storage
func NewStore(storage Storage, m *metrics.AppMetrics, logger zerolog.Logger) *Store {
	return &Store{
		carts:   make(map[string]*State),
		storage: storage,
		metrics: m,
		logger:  logger,
	}
}

// state returns the cart for a session, restoring it from storage on first
// access. Derived totals are recomputed from the restored lines, never trusted
// from storage. Caller must hold the store mutex.
func (s *Store) state(ctx context.Context, sessionID string) *State {
	if st, ok := s.carts[sessionID]; ok {
		return st
	}

	st := &State{}
	lines, err := s.storage.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSnapshotMiss) {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cart snapshot load failed, starting empty")
	}
	st.Lines = lines
	st.recompute()
	s.carts[sessionID] = st
	return st
}

// persist saves the line list. Persistence failure does not roll back the
// in-memory mutation; the cart must never lose accepted lines.
func (s *Store) persist(ctx context.Context, sessionID string, st *State) {
	if err := s.storage.Save(ctx, sessionID, st.Lines); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cart snapshot save failed")
	}
}

// AddItem adds a candidate line to the session cart, applying the per-kind
// stacking rules. Rejections leave the cart unchanged and are reported through
// the returned Outcome, never as an error.
func (s *Store) AddItem(ctx context.Context, sessionID string, candidate Line) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(ctx, sessionID)

	if !candidate.Available {
		return s.reject(ctx, sessionID, candidate, RejectUnavailable)
	}

	requested := candidate.Quantity
	if requested < 1 {
		requested = 1
	}

	key := candidate.identityKey()
	for i := range st.Lines {
		if st.Lines[i].identityKey() != key {
			continue
		}

		// A course is a single access grant, never a countable unit
		if candidate.Kind == models.KindCourse {
			return s.reject(ctx, sessionID, candidate, RejectDuplicateCourse)
		}

		ceiling := candidate.MaxQuantity
		newQty := st.Lines[i].Quantity + requested
		if ceiling > 0 && newQty > ceiling {
			return s.reject(ctx, sessionID, candidate, RejectStockCeiling)
		}

		st.Lines[i].Quantity = newQty
		st.Lines[i].MaxQuantity = ceiling
		s.accept(ctx, sessionID, st, candidate)
		return accepted()
	}

	if candidate.Kind == models.KindCourse {
		requested = 1
	}
	if candidate.MaxQuantity > 0 && requested > candidate.MaxQuantity {
		return s.reject(ctx, sessionID, candidate, RejectStockCeiling)
	}

	line := candidate
	line.LineID = uuid.NewString()
	line.Quantity = requested
	st.Lines = append(st.Lines, line)

	s.accept(ctx, sessionID, st, candidate)
	return accepted()
}

// RemoveItem deletes the line with the given id if present
func (s *Store) RemoveItem(ctx context.Context, sessionID, lineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(ctx, sessionID)
	for i := range st.Lines {
		if st.Lines[i].LineID == lineID {
			st.Lines = append(st.Lines[:i], st.Lines[i+1:]...)
			st.recompute()
			s.recordItemCount(ctx, sessionID, st)
			s.persist(ctx, sessionID, st)
			return
		}
	}
}

// UpdateQuantity overwrites a line's quantity, clamped to its stock ceiling.
// A quantity of zero or below removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, sessionID, lineID string, quantity int) {
	if quantity <= 0 {
		s.RemoveItem(ctx, sessionID, lineID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(ctx, sessionID)
	for i := range st.Lines {
		if st.Lines[i].LineID == lineID {
			if st.Lines[i].MaxQuantity > 0 && quantity > st.Lines[i].MaxQuantity {
				quantity = st.Lines[i].MaxQuantity
			}
			st.Lines[i].Quantity = quantity
			st.recompute()
			s.recordItemCount(ctx, sessionID, st)
			s.persist(ctx, sessionID, st)
			return
		}
	}
}

// ClearCart empties all lines and closes the cart view
func (s *Store) ClearCart(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(ctx, sessionID)
	st.Lines = nil
	st.Open = false
	st.recompute()
	s.recordItemCount(ctx, sessionID, st)
	if err := s.storage.Delete(ctx, sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cart snapshot delete failed")
	}
}

// OpenCart marks the cart view open. UI state only, not persisted.
func (s *Store) OpenCart(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(ctx, sessionID).Open = true
}

// CloseCart marks the cart view closed
func (s *Store) CloseCart(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(ctx, sessionID).Open = false
}

// Get returns a copy of the session cart
func (s *Store) Get(ctx context.Context, sessionID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state(ctx, sessionID))
}

// FindLine returns the line matching a product id and kind, if any. For
// workshops the first matching date wins; use LinesByKind to enumerate dates.
func (s *Store) FindLine(ctx context.Context, sessionID, productID string, kind models.Kind) (Line, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(ctx, sessionID)
	for _, l := range st.Lines {
		if l.ProductID == productID && l.Kind == kind {
			return l, true
		}
	}
	return Line{}, false
}

// LinesByKind returns all lines of a given kind
func (s *Store) LinesByKind(ctx context.Context, sessionID string, kind models.Kind) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(ctx, sessionID)
	var lines []Line
	for _, l := range st.Lines {
		if l.Kind == kind {
			lines = append(lines, l)
		}
	}
	return lines
}

func (s *Store) accept(ctx context.Context, sessionID string, st *State, candidate Line) {
	st.Open = true
	st.recompute()
	s.recordItemCount(ctx, sessionID, st)
	if s.metrics != nil {
		s.metrics.CartAddsTotal.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("kind", string(candidate.Kind)),
		})...))
	}
	s.persist(ctx, sessionID, st)
}

func (s *Store) reject(ctx context.Context, sessionID string, candidate Line, reason RejectReason) Outcome {
	s.logger.Debug().
		Str("session_id", sessionID).
		Str("product_id", candidate.ProductID).
		Str("reason", string(reason)).
		Msg("cart mutation rejected")
	if s.metrics != nil {
		s.metrics.CartRejectionsTotal.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("kind", string(candidate.Kind)),
			attribute.String("reason", string(reason)),
		})...))
	}
	return rejected(reason)
}

func (s *Store) recordItemCount(ctx context.Context, sessionID string, st *State) {
	if s.metrics == nil {
		return
	}
	s.metrics.CartItemsCount.Record(ctx, int64(st.ItemCount), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("session_id", sessionID),
	})...))
}

func copyState(st *State) State {
	out := State{
		ItemCount: st.ItemCount,
		Open:      st.Open,
		Subtotals: make(map[models.Currency]float64, len(st.Subtotals)),
	}
	out.Lines = append(out.Lines, st.Lines...)
	for c, v := range st.Subtotals {
		out.Subtotals[c] = v
	}
	return out
}
