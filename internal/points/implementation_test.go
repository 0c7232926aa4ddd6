package points

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"memberledger/internal/tiers"
	"memberledger/pkg/ledgerstore"
)

type recordingNotifier struct {
	events chan TierChangedEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan TierChangedEvent, 16)}
}

func (n *recordingNotifier) NotifyTierChanged(ctx context.Context, ev TierChangedEvent) error {
	n.events <- ev
	return nil
}

func newTestService(notifier Notifier) Service {
	tierStore := tiers.NewMemoryStore()
	tierStore.Seed(tiers.DefaultTable())
	return NewService(ledgerstore.NewMemoryStore(), tierStore, notifier)
}

func TestRecordEventScenario(t *testing.T) {
	svc := newTestService(nil)
	userID := uuid.New()

	// Check-in awards 50 points: Bronze.
	result, err := svc.RecordEvent(t.Context(), userID, 50, TypeCheckIn, "daily check-in", "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), result.NewBalance)
	assert.Equal(t, "Bronze", result.Tier.Name)
	assert.False(t, result.TierChanged)

	// Spending more than the balance is rejected with no side effect.
	_, err = svc.RecordEvent(t.Context(), userID, -60, TypeConsumption, "order", "")
	require.ErrorIs(t, err, ledgerstore.ErrInsufficientPoints)

	view, err := svc.GetBalance(t.Context(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), view.CurrentPoints)

	// Crossing 100 promotes to Silver.
	result, err = svc.RecordEvent(t.Context(), userID, 60, TypeExchange, "promo", "promo1")
	require.NoError(t, err)
	assert.Equal(t, int64(110), result.NewBalance)
	assert.Equal(t, "Silver", result.Tier.Name)
	assert.True(t, result.TierChanged)
}

func TestRecordEventIdempotent(t *testing.T) {
	svc := newTestService(nil)
	userID := uuid.New()

	_, err := svc.RecordEvent(t.Context(), userID, 200, TypeCheckIn, "", "")
	require.NoError(t, err)

	first, err := svc.RecordEvent(t.Context(), userID, -10, TypeConsumption, "order #1", "order#1")
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.RecordEvent(t.Context(), userID, -10, TypeConsumption, "order #1", "order#1")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.EntryID, second.EntryID)
	assert.Equal(t, first.NewBalance, second.NewBalance)
	assert.False(t, second.TierChanged)

	entries, err := svc.ListEntries(t.Context(), userID, 1, 50)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRecordEventValidation(t *testing.T) {
	svc := newTestService(nil)
	userID := uuid.New()

	_, err := svc.RecordEvent(t.Context(), userID, 0, TypeCheckIn, "", "")
	assert.ErrorIs(t, err, ErrZeroDelta)

	_, err = svc.RecordEvent(t.Context(), userID, 10, EntryType("BOGUS"), "", "")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestRecordEventConcurrentSameUser(t *testing.T) {
	svc := newTestService(nil)
	userID := uuid.New()

	deltas := []int64{5, 12, 7, 30, 1, 9, 22, 4, 16, 8, 3, 11, 6, 14, 2}
	var want int64
	for _, d := range deltas {
		want += d
	}

	var wg sync.WaitGroup
	for _, d := range deltas {
		wg.Add(1)
		go func(delta int64) {
			defer wg.Done()
			_, err := svc.RecordEvent(context.Background(), userID, delta, TypeCheckIn, "", "")
			assert.NoError(t, err)
		}(d)
	}
	wg.Wait()

	view, err := svc.GetBalance(t.Context(), userID)
	require.NoError(t, err)
	assert.Equal(t, want, view.CurrentPoints)

	entries, err := svc.ListEntries(t.Context(), userID, 1, 50)
	require.NoError(t, err)
	assert.Len(t, entries, len(deltas))
}

func TestBalanceEqualsSumOfAcceptedDeltas(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		svc := newTestService(nil)
		userID := uuid.New()

		deltas := rapid.SliceOfN(rapid.Int64Range(-100, 100), 1, 40).Draw(rt, "deltas")

		var accepted int64
		for _, d := range deltas {
			if d == 0 {
				continue
			}
			result, err := svc.RecordEvent(context.Background(), userID, d, TypeSystemAdjustment, "", "")
			if accepted+d < 0 {
				require.ErrorIs(rt, err, ledgerstore.ErrInsufficientPoints)
				continue
			}
			require.NoError(rt, err)
			accepted += d
			require.Equal(rt, accepted, result.NewBalance)
			require.GreaterOrEqual(rt, result.NewBalance, int64(0))
		}

		view, err := svc.GetBalance(context.Background(), userID)
		require.NoError(rt, err)
		require.Equal(rt, accepted, view.CurrentPoints)
	})
}

func TestTierChangeNotifiesCollaborator(t *testing.T) {
	notifier := newRecordingNotifier()
	svc := newTestService(notifier)
	userID := uuid.New()

	_, err := svc.RecordEvent(t.Context(), userID, 150, TypeCheckIn, "", "")
	require.NoError(t, err)

	select {
	case ev := <-notifier.events:
		assert.Equal(t, userID, ev.UserID)
		assert.Equal(t, "Bronze", ev.FromTier)
		assert.Equal(t, "Silver", ev.ToTier)
		assert.Equal(t, int64(150), ev.NewBalance)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a tier change notification")
	}

	// Staying inside a tier must not notify.
	_, err = svc.RecordEvent(t.Context(), userID, 10, TypeCheckIn, "", "")
	require.NoError(t, err)

	select {
	case ev := <-notifier.events:
		t.Fatalf("unexpected notification: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMisconfiguredTableSurfacesNoMatchingTier(t *testing.T) {
	tierStore := tiers.NewMemoryStore()
	table := tiers.DefaultTable()
	tierStore.Seed(table[:1]) // only Bronze [0, 100): balances above are uncovered
	svc := NewService(ledgerstore.NewMemoryStore(), tierStore, nil)

	_, err := svc.RecordEvent(t.Context(), uuid.New(), 150, TypeCheckIn, "", "")
	assert.ErrorIs(t, err, tiers.ErrNoMatchingTier)
}

func TestGetBalanceForUnknownUser(t *testing.T) {
	svc := newTestService(nil)

	view, err := svc.GetBalance(t.Context(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.CurrentPoints)
	assert.Equal(t, "Bronze", view.Tier.Name)
}
