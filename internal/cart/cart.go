package cart

import (
	"fmt"

	"github.com/tallerverde/shop-go/internal/models"
)

// Line represents one product entry in a session cart
type Line struct {
	LineID        string          `json:"line_id"`
	ProductID     string          `json:"product_id"`
	Kind          models.Kind     `json:"kind"`
	Name          string          `json:"name"`
	UnitPrice     float64         `json:"unit_price"`
	Currency      models.Currency `json:"currency"`
	Quantity      int             `json:"quantity"`
	Size          string          `json:"size,omitempty"`
	ScheduledDate string          `json:"scheduled_date,omitempty"`
	MaxQuantity   int             `json:"max_quantity"`
	Available     bool            `json:"available"`
}

// identityKey is the uniqueness key for a line: product id alone for goods and
// courses, product id plus scheduled date for workshops (the same workshop on
// two dates is two independent lines).
func (l Line) identityKey() string {
	if l.Kind == models.KindWorkshop {
		return fmt.Sprintf("%s@%s", l.ProductID, l.ScheduledDate)
	}
	return l.ProductID
}

// State is the aggregate cart for one session. ItemCount, Subtotals and Open
// are derived and never persisted.
type State struct {
	Lines     []Line                      `json:"lines"`
	ItemCount int                         `json:"item_count"`
	Subtotals map[models.Currency]float64 `json:"subtotals"`
	Open      bool                        `json:"open"`
}

// recompute refreshes the derived totals from the lines
func (s *State) recompute() {
	s.ItemCount = 0
	s.Subtotals = make(map[models.Currency]float64)
	for _, l := range s.Lines {
		s.ItemCount += l.Quantity
		s.Subtotals[l.Currency] += l.UnitPrice * float64(l.Quantity)
	}
}

// RejectReason explains why a cart mutation was refused
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectStockCeiling    RejectReason = "stock_ceiling"
	RejectDuplicateCourse RejectReason = "duplicate_course"
	RejectUnavailable     RejectReason = "unavailable"
)

// Outcome is the result of a cart mutation. Rejections are expected business
// outcomes, not errors: prior state is always left untouched.
type Outcome struct {
	Accepted bool
	Reason   RejectReason
}

func accepted() Outcome {
	return Outcome{Accepted: true}
}

func rejected(reason RejectReason) Outcome {
	return Outcome{Reason: reason}
}
