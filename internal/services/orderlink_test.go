package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGuestOrderStore struct {
	owners     map[int64]int64
	unlinked   map[string][]int64
	queryErr   error
	claimErrs  map[int64]error
	queriedFor []string
}

func newFakeGuestOrderStore() *fakeGuestOrderStore {
	return &fakeGuestOrderStore{
		owners:    make(map[int64]int64),
		unlinked:  make(map[string][]int64),
		claimErrs: make(map[int64]error),
	}
}

func (f *fakeGuestOrderStore) UnlinkedOrderIDs(_ context.Context, email string) ([]int64, error) {
	f.queriedFor = append(f.queriedFor, email)
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	var ids []int64
	for _, id := range f.unlinked[email] {
		if _, owned := f.owners[id]; !owned {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeGuestOrderStore) ClaimOrder(_ context.Context, orderID, userID int64) (bool, error) {
	if err := f.claimErrs[orderID]; err != nil {
		return false, err
	}
	if _, owned := f.owners[orderID]; owned {
		return false, nil
	}
	f.owners[orderID] = userID
	return true, nil
}

func newTestOrderLinkService(store GuestOrderStore) *OrderLinkService {
	return NewOrderLinkService(store, nil, zerolog.Nop())
}

func TestLinkOrdersToUser_LinksAllGuestOrders(t *testing.T) {
	store := newFakeGuestOrderStore()
	store.unlinked["maria@example.com"] = []int64{10, 11, 12}
	svc := newTestOrderLinkService(store)

	linked, err := svc.LinkOrdersToUser(context.Background(), "maria@example.com", 7)
	require.NoError(t, err)
	assert.Equal(t, 3, linked)
	assert.Equal(t, map[int64]int64{10: 7, 11: 7, 12: 7}, store.owners)
}

func TestLinkOrdersToUser_IsIdempotent(t *testing.T) {
	store := newFakeGuestOrderStore()
	store.unlinked["maria@example.com"] = []int64{10, 11}
	svc := newTestOrderLinkService(store)
	ctx := context.Background()

	linked, err := svc.LinkOrdersToUser(ctx, "maria@example.com", 7)
	require.NoError(t, err)
	require.Equal(t, 2, linked)

	// Re-running the flow finds nothing left to claim
	linked, err = svc.LinkOrdersToUser(ctx, "maria@example.com", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, linked)
}

func TestLinkOrdersToUser_MatchesEmailCaseInsensitively(t *testing.T) {
	store := newFakeGuestOrderStore()
	store.unlinked["maria@example.com"] = []int64{10}
	svc := newTestOrderLinkService(store)

	linked, err := svc.LinkOrdersToUser(context.Background(), "Maria@Example.COM", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, linked)
	assert.Equal(t, []string{"maria@example.com"}, store.queriedFor)
}

func TestLinkOrdersToUser_SkipsFailedClaimAndContinues(t *testing.T) {
	store := newFakeGuestOrderStore()
	store.unlinked["maria@example.com"] = []int64{10, 11, 12}
	store.claimErrs[11] = errors.New("deadlock")
	svc := newTestOrderLinkService(store)

	linked, err := svc.LinkOrdersToUser(context.Background(), "maria@example.com", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, linked)
	assert.NotContains(t, store.owners, int64(11))
}

func TestLinkOrdersToUser_QueryFailure(t *testing.T) {
	store := newFakeGuestOrderStore()
	store.queryErr = errors.New("connection refused")
	svc := newTestOrderLinkService(store)

	linked, err := svc.LinkOrdersToUser(context.Background(), "maria@example.com", 7)
	assert.Error(t, err)
	assert.Equal(t, 0, linked)
}

func TestLinkOrdersToUser_DoesNotStealOwnedOrders(t *testing.T) {
	store := newFakeGuestOrderStore()
	store.unlinked["maria@example.com"] = []int64{10, 11}
	store.owners[10] = 3
	svc := newTestOrderLinkService(store)

	linked, err := svc.LinkOrdersToUser(context.Background(), "maria@example.com", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, linked)
	assert.Equal(t, int64(3), store.owners[10])
	assert.Equal(t, int64(7), store.owners[11])
}
