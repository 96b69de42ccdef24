package cart

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallerverde/shop-go/internal/models"
)

func newTestStore() *Store {
	return NewStore(NewMemoryStorage(), nil, zerolog.Nop())
}

func terrariumLine() Line {
	return Line{
		ProductID:   "terrarium-classic",
		Kind:        models.KindGood,
		Name:        "Classic Terrarium",
		UnitPrice:   20000,
		Currency:    models.CLP,
		Quantity:    1,
		Size:        "M",
		MaxQuantity: 3,
		Available:   true,
	}
}

func courseLine() Line {
	return Line{
		ProductID:   "course-terrarium-101",
		Kind:        models.KindCourse,
		Name:        "Terrarium Building 101",
		UnitPrice:   35000,
		Currency:    models.CLP,
		Quantity:    1,
		MaxQuantity: 1,
		Available:   true,
	}
}

func workshopLine(date string) Line {
	return Line{
		ProductID:     "workshop-moss",
		Kind:          models.KindWorkshop,
		Name:          "Moss Workshop",
		UnitPrice:     25000,
		Currency:      models.CLP,
		Quantity:      1,
		ScheduledDate: date,
		MaxQuantity:   8,
		Available:     true,
	}
}

func TestAddItem_StacksGoodsUpToCeiling(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		outcome := store.AddItem(ctx, "s1", terrariumLine())
		require.True(t, outcome.Accepted)
	}

	st := store.Get(ctx, "s1")
	require.Len(t, st.Lines, 1)
	assert.Equal(t, 3, st.Lines[0].Quantity)
	assert.Equal(t, 3, st.ItemCount)
	assert.Equal(t, float64(60000), st.Subtotals[models.CLP])

	// Fourth add exceeds the stock ceiling and leaves the cart untouched
	outcome := store.AddItem(ctx, "s1", terrariumLine())
	assert.False(t, outcome.Accepted)
	assert.Equal(t, RejectStockCeiling, outcome.Reason)

	st = store.Get(ctx, "s1")
	assert.Equal(t, 3, st.Lines[0].Quantity)
	assert.Equal(t, float64(60000), st.Subtotals[models.CLP])
}

func TestAddItem_RejectsOverCeilingRequestOnNewLine(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	line := terrariumLine()
	line.Quantity = 5

	outcome := store.AddItem(ctx, "s1", line)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, RejectStockCeiling, outcome.Reason)
	assert.Empty(t, store.Get(ctx, "s1").Lines)
}

func TestAddItem_CourseIsSingleAccessGrant(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	outcome := store.AddItem(ctx, "s1", courseLine())
	require.True(t, outcome.Accepted)

	// Requested quantity on a course is ignored, it is always one grant
	bulk := courseLine()
	bulk.ProductID = "course-terrarium-201"
	bulk.Quantity = 4
	require.True(t, store.AddItem(ctx, "s1", bulk).Accepted)

	outcome = store.AddItem(ctx, "s1", courseLine())
	assert.False(t, outcome.Accepted)
	assert.Equal(t, RejectDuplicateCourse, outcome.Reason)

	st := store.Get(ctx, "s1")
	require.Len(t, st.Lines, 2)
	assert.Equal(t, 1, st.Lines[0].Quantity)
	assert.Equal(t, 1, st.Lines[1].Quantity)
}

func TestAddItem_WorkshopDatesAreIndependentLines(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.True(t, store.AddItem(ctx, "s1", workshopLine("2026-09-12")).Accepted)
	require.True(t, store.AddItem(ctx, "s1", workshopLine("2026-09-19")).Accepted)
	require.True(t, store.AddItem(ctx, "s1", workshopLine("2026-09-12")).Accepted)

	st := store.Get(ctx, "s1")
	require.Len(t, st.Lines, 2)
	assert.Equal(t, 3, st.ItemCount)

	byDate := make(map[string]int)
	for _, l := range st.Lines {
		byDate[l.ScheduledDate] = l.Quantity
	}
	assert.Equal(t, 2, byDate["2026-09-12"])
	assert.Equal(t, 1, byDate["2026-09-19"])
}

func TestAddItem_RejectsUnavailableProduct(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	line := terrariumLine()
	line.Available = false

	outcome := store.AddItem(ctx, "s1", line)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, RejectUnavailable, outcome.Reason)
	assert.Empty(t, store.Get(ctx, "s1").Lines)
}

func TestAddItem_OpensCart(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	assert.False(t, store.Get(ctx, "s1").Open)
	require.True(t, store.AddItem(ctx, "s1", terrariumLine()).Accepted)
	assert.True(t, store.Get(ctx, "s1").Open)

	store.CloseCart(ctx, "s1")
	assert.False(t, store.Get(ctx, "s1").Open)
	store.OpenCart(ctx, "s1")
	assert.True(t, store.Get(ctx, "s1").Open)
}

func TestAddItem_CartsAreIsolatedPerSession(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.True(t, store.AddItem(ctx, "s1", terrariumLine()).Accepted)

	assert.Len(t, store.Get(ctx, "s1").Lines, 1)
	assert.Empty(t, store.Get(ctx, "s2").Lines)
}

func TestUpdateQuantity_ClampsToCeiling(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.True(t, store.AddItem(ctx, "s1", terrariumLine()).Accepted)
	lineID := store.Get(ctx, "s1").Lines[0].LineID

	store.UpdateQuantity(ctx, "s1", lineID, 10)

	st := store.Get(ctx, "s1")
	require.Len(t, st.Lines, 1)
	assert.Equal(t, 3, st.Lines[0].Quantity)
}

func TestUpdateQuantity_ZeroRemovesLine(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.True(t, store.AddItem(ctx, "s1", terrariumLine()).Accepted)
	lineID := store.Get(ctx, "s1").Lines[0].LineID

	store.UpdateQuantity(ctx, "s1", lineID, 0)

	st := store.Get(ctx, "s1")
	assert.Empty(t, st.Lines)
	assert.Equal(t, 0, st.ItemCount)
	assert.Equal(t, float64(0), st.Subtotals[models.CLP])
}

func TestRemoveItem_UnknownLineIsNoop(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.True(t, store.AddItem(ctx, "s1", terrariumLine()).Accepted)
	store.RemoveItem(ctx, "s1", "no-such-line")

	assert.Len(t, store.Get(ctx, "s1").Lines, 1)
}

func TestClearCart_EmptiesAndCloses(t *testing.T) {
	storage := NewMemoryStorage()
	store := NewStore(storage, nil, zerolog.Nop())
	ctx := context.Background()

	require.True(t, store.AddItem(ctx, "s1", terrariumLine()).Accepted)
	require.True(t, store.AddItem(ctx, "s1", courseLine()).Accepted)

	store.ClearCart(ctx, "s1")

	st := store.Get(ctx, "s1")
	assert.Empty(t, st.Lines)
	assert.False(t, st.Open)
	assert.Equal(t, 0, st.ItemCount)

	_, err := storage.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrSnapshotMiss)
}

func TestStore_RestoresPersistedCart(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	first := NewStore(storage, nil, zerolog.Nop())
	require.True(t, first.AddItem(ctx, "s1", terrariumLine()).Accepted)
	require.True(t, first.AddItem(ctx, "s1", workshopLine("2026-09-12")).Accepted)

	// A fresh store over the same storage sees the persisted lines with the
	// derived totals recomputed
	second := NewStore(storage, nil, zerolog.Nop())
	st := second.Get(ctx, "s1")
	require.Len(t, st.Lines, 2)
	assert.Equal(t, 2, st.ItemCount)
	assert.Equal(t, float64(45000), st.Subtotals[models.CLP])
}

func TestStore_VersionMismatchResetsCart(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	stale, err := json.Marshal(snapshot{Version: snapshotVersion + 1, Lines: []Line{terrariumLine()}})
	require.NoError(t, err)
	storage.mu.Lock()
	storage.snaps["s1"] = stale
	storage.mu.Unlock()

	store := NewStore(storage, nil, zerolog.Nop())
	assert.Empty(t, store.Get(ctx, "s1").Lines)
}

func TestStore_CorruptSnapshotResetsCart(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	storage.mu.Lock()
	storage.snaps["s1"] = []byte("{not json")
	storage.mu.Unlock()

	store := NewStore(storage, nil, zerolog.Nop())
	assert.Empty(t, store.Get(ctx, "s1").Lines)
}

func TestFindLine(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.True(t, store.AddItem(ctx, "s1", terrariumLine()).Accepted)

	line, ok := store.FindLine(ctx, "s1", "terrarium-classic", models.KindGood)
	require.True(t, ok)
	assert.Equal(t, "Classic Terrarium", line.Name)

	_, ok = store.FindLine(ctx, "s1", "terrarium-classic", models.KindCourse)
	assert.False(t, ok)
}

func TestLinesByKind(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	require.True(t, store.AddItem(ctx, "s1", terrariumLine()).Accepted)
	require.True(t, store.AddItem(ctx, "s1", workshopLine("2026-09-12")).Accepted)
	require.True(t, store.AddItem(ctx, "s1", workshopLine("2026-09-19")).Accepted)

	workshops := store.LinesByKind(ctx, "s1", models.KindWorkshop)
	assert.Len(t, workshops, 2)
	assert.Empty(t, store.LinesByKind(ctx, "s1", models.KindCourse))
}
