package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ring0.store/fulfillment/models"
	"ring0.store/fulfillment/storage"
)

// RunStorageContract runs the behaviour every Storage implementation must
// share against stores produced by newStore.
func RunStorageContract(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	t.Run("OrderLookups", func(t *testing.T) { testOrderLookups(t, newStore(t)) })
	t.Run("DuplicateOrders", func(t *testing.T) { testDuplicateOrders(t, newStore(t)) })
	t.Run("FindOrdersByEmail", func(t *testing.T) { testFindOrdersByEmail(t, newStore(t)) })
	t.Run("ConditionalTransition", func(t *testing.T) { testConditionalTransition(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ClaimScopes", func(t *testing.T) { testClaimScopes(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("StockAndRevocation", func(t *testing.T) { testStockAndRevocation(t, newStore(t)) })
	t.Run("ReconciliationAndNotificationLog", func(t *testing.T) { testReconciliation(t, newStore(t)) })
}

func testOrderLookups(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	missing, err := store.GetOrder(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	order := CreateOrder(t, store, PendingOrder("STORRIK-0001", models.MethodStorrik, "txn_1", "buyer@example.com", 2999))

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, order.OrderNumber, got.OrderNumber)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.Equal(t, "txn_1", got.CorrelationID())
	assert.True(t, got.CreatedAt.Equal(order.CreatedAt))

	byNumber, err := store.FindOrderByNumber(ctx, "STORRIK-0001")
	require.NoError(t, err)
	require.NotNil(t, byNumber)
	assert.Equal(t, order.ID, byNumber.ID)

	byCorrelation, err := store.FindOrderByCorrelation(ctx, models.MethodStorrik, "txn_1")
	require.NoError(t, err)
	require.NotNil(t, byCorrelation)
	assert.Equal(t, order.ID, byCorrelation.ID)

	otherMethod, err := store.FindOrderByCorrelation(ctx, models.MethodKomerza, "txn_1")
	require.NoError(t, err)
	assert.Nil(t, otherMethod)
}

func testDuplicateOrders(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	CreateOrder(t, store, PendingOrder("STRIPE-AAAA0001", models.MethodStripe, "cs_1", "a@example.com", 100))

	err := store.CreateOrder(ctx, PendingOrder("STRIPE-AAAA0001", models.MethodStripe, "cs_2", "a@example.com", 100))
	assert.ErrorIs(t, err, storage.ErrDuplicateOrderNumber)

	err = store.CreateOrder(ctx, PendingOrder("STRIPE-AAAA0002", models.MethodStripe, "cs_1", "a@example.com", 100))
	assert.ErrorIs(t, err, storage.ErrDuplicateCorrelation)
}

func testFindOrdersByEmail(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	older := PendingOrder("MM-1", models.MethodMoneyMotion, "", "Buyer@Example.com", 1000)
	newer := PendingOrder("MM-2", models.MethodMoneyMotion, "", "buyer@example.com", 1000)
	newer.CreatedAt = BaseTime.Add(time.Minute)
	otherMethod := PendingOrder("KZ-1", models.MethodKomerza, "", "buyer@example.com", 1000)
	completed := PendingOrder("MM-3", models.MethodMoneyMotion, "", "buyer@example.com", 1000)
	completed.Status = models.OrderCompleted

	for _, o := range []*models.Order{older, newer, otherMethod, completed} {
		CreateOrder(t, store, o)
	}

	orders, err := store.FindOrdersByEmail(ctx, "buyer@example.com", models.MethodMoneyMotion, models.OrderPending)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "MM-2", orders[0].OrderNumber, "newest first")
	assert.Equal(t, "MM-1", orders[1].OrderNumber)

	done, err := store.FindOrdersByEmail(ctx, "BUYER@example.com", models.MethodMoneyMotion, models.OrderCompleted)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "MM-3", done[0].OrderNumber)
}

func testConditionalTransition(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	order := CreateOrder(t, store, PendingOrder("MM-10", models.MethodMoneyMotion, "", "c@example.com", 500))
	at := BaseTime.Add(time.Hour)

	transition := storage.Transition{
		OrderID:       order.ID,
		From:          models.OrderPending,
		To:            models.OrderCompleted,
		Method:        models.MethodMoneyMotion,
		CorrelationID: "mm_sess_1",
		At:            at,
	}

	var first, second bool
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		first, err = tx.TransitionOrder(ctx, transition)
		return err
	}))
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		second, err = tx.TransitionOrder(ctx, transition)
		return err
	}))

	assert.True(t, first)
	assert.False(t, second, "second transition from pending must not apply")

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, got.Status)
	assert.Equal(t, "mm_sess_1", got.CorrelationID())
	assert.True(t, got.UpdatedAt.Equal(at))

	byCorrelation, err := store.FindOrderByCorrelation(ctx, models.MethodMoneyMotion, "mm_sess_1")
	require.NoError(t, err)
	require.NotNil(t, byCorrelation)
	assert.Equal(t, order.ID, byCorrelation.ID)
}

func testRollback(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	order := CreateOrder(t, store, PendingOrder("STORRIK-20", models.MethodStorrik, "txn_20", "d@example.com", 500))
	AddStock(t, store, StockLicense("STOCK-ROLLBACK", Ptr(order.ProductID), nil, BaseTime))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.TransitionOrder(ctx, storage.Transition{
			OrderID: order.ID, From: models.OrderPending, To: models.OrderCompleted,
			Method: order.PaymentMethod, At: BaseTime,
		}); err != nil {
			return err
		}
		l, err := tx.ClaimLicense(ctx, storage.ProductStock(order.ProductID), storage.Assignment{
			OrderID: order.ID, CustomerEmail: order.CustomerEmail, ProductID: order.ProductID, At: BaseTime,
		})
		if err != nil {
			return err
		}
		if l == nil {
			return fmt.Errorf("expected stock")
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)

	n, err := store.CountStock(ctx, storage.ProductStock(order.ProductID))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "claimed stock must return to the pool on rollback")
}

func testClaimScopes(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	var orders []*models.Order
	for i := 0; i < 3; i++ {
		orders = append(orders, CreateOrder(t, store,
			PendingOrder(fmt.Sprintf("KZ-3%d", i), models.MethodKomerza, fmt.Sprintf("kz_3%d", i), "e@example.com", 500)))
	}

	AddStock(t, store, StockLicense("VARIANT-1", Ptr("prod_spoofer"), Ptr("var_30d"), BaseTime))
	AddStock(t, store, StockLicense("PRODUCT-2", Ptr("prod_spoofer"), nil, BaseTime.Add(time.Second)))
	AddStock(t, store, StockLicense("PRODUCT-1", Ptr("prod_spoofer"), nil, BaseTime))
	AddStock(t, store, StockLicense("GENERAL-1", nil, nil, BaseTime))
	AddStock(t, store, StockLicense("OTHER-1", Ptr("prod_other"), nil, BaseTime))

	expires := BaseTime.Add(30 * 24 * time.Hour)
	claim := func(order *models.Order, scope storage.StockScope) *models.License {
		var l *models.License
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			l, err = tx.ClaimLicense(ctx, scope, storage.Assignment{
				OrderID: order.ID, CustomerEmail: order.CustomerEmail, ProductID: "prod_spoofer",
				ExpiresAt: &expires, At: BaseTime,
			})
			return err
		}))
		return l
	}

	variant := claim(orders[0], storage.VariantStock("prod_spoofer", "var_30d"))
	require.NotNil(t, variant)
	assert.Equal(t, "VARIANT-1", variant.Key)
	require.NotNil(t, variant.OrderID)
	assert.Equal(t, orders[0].ID, *variant.OrderID)
	require.NotNil(t, variant.ExpiresAt)
	assert.True(t, variant.ExpiresAt.Equal(expires))

	assert.Nil(t, claim(orders[1], storage.VariantStock("prod_spoofer", "var_30d")), "variant stock is exhausted")

	product := claim(orders[1], storage.ProductStock("prod_spoofer"))
	require.NotNil(t, product)
	assert.Equal(t, "PRODUCT-1", product.Key, "oldest stock goes first")

	general := claim(orders[2], storage.GeneralStock())
	require.NotNil(t, general)
	assert.Equal(t, "GENERAL-1", general.Key)
	require.NotNil(t, general.ProductID)
	assert.Equal(t, "prod_spoofer", *general.ProductID, "general stock takes the order's product")
}

func testConcurrentClaims(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	const buyers = 8

	orders := make([]*models.Order, buyers)
	for i := range orders {
		orders[i] = CreateOrder(t, store, PendingOrder(fmt.Sprintf("STRIPE-RACE%04d", i), models.MethodStripe,
			fmt.Sprintf("cs_race_%d", i), "race@example.com", 2999))
	}
	AddStock(t, store, StockLicense("LAST-ONE", Ptr("prod_spoofer"), nil, BaseTime))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, o := range orders {
		wg.Add(1)
		go func(o *models.Order) {
			defer wg.Done()
			err := store.WithTx(ctx, func(tx storage.Tx) error {
				l, err := tx.ClaimLicense(ctx, storage.ProductStock("prod_spoofer"), storage.Assignment{
					OrderID: o.ID, CustomerEmail: o.CustomerEmail, ProductID: o.ProductID, At: BaseTime,
				})
				if err != nil {
					return err
				}
				if l != nil {
					mu.Lock()
					winners = append(winners, o.ID)
					mu.Unlock()
				}
				return nil
			})
			assert.NoError(t, err)
		}(o)
	}
	wg.Wait()

	assert.Len(t, winners, 1, "exactly one order may receive the last key")
}

func testStockAndRevocation(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	order := CreateOrder(t, store, PendingOrder("STORRIK-40", models.MethodStorrik, "txn_40", "f@example.com", 500))

	added, err := store.AddStock(ctx, StockLicense("DUP-KEY", Ptr("prod_spoofer"), nil, BaseTime))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.AddStock(ctx, StockLicense("DUP-KEY", Ptr("prod_spoofer"), nil, BaseTime))
	require.NoError(t, err)
	assert.False(t, added, "duplicate key must be skipped")

	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.ClaimLicense(ctx, storage.ProductStock("prod_spoofer"), storage.Assignment{
			OrderID: order.ID, CustomerEmail: order.CustomerEmail, ProductID: order.ProductID, At: BaseTime,
		}); err != nil {
			return err
		}
		return tx.SetOrderLicenseKey(ctx, order.ID, "DUP-KEY")
	}))

	licenses, err := store.FindLicensesByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, models.LicenseActive, licenses[0].Status)

	var revoked int64
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		revoked, err = tx.RevokeOrderLicenses(ctx, order.ID)
		return err
	}))
	assert.Equal(t, int64(1), revoked)

	l, err := store.FindLicenseByKey(ctx, "DUP-KEY")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, models.LicenseRevoked, l.Status)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LicenseKey)
	assert.Equal(t, "DUP-KEY", *got.LicenseKey)
}

func testReconciliation(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	for i, reason := range []string{models.ReasonUnmatched, models.ReasonAmbiguous} {
		require.NoError(t, store.SaveReconciliationEvent(ctx, &models.ReconciliationEvent{
			ID:               fmt.Sprintf("rec-%d", i),
			Provider:         models.MethodKomerza,
			EventType:        "order.completed",
			Kind:             models.EventSucceeded,
			CustomerEmail:    "g@example.com",
			AmountMinorUnits: Ptr(int64(1500)),
			Reason:           reason,
			CreatedAt:        BaseTime.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := store.ListReconciliationEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.ReasonAmbiguous, events[0].Reason, "newest first")
	require.NotNil(t, events[1].AmountMinorUnits)
	assert.Equal(t, int64(1500), *events[1].AmountMinorUnits)

	limited, err := store.ListReconciliationEvents(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.SaveNotificationLog(ctx, &models.NotificationLog{
		ID: "n-1", OrderID: "o-1", Channel: "email", Recipient: "g@example.com",
		Status: "sent", Attempt: 1, CreatedAt: BaseTime,
	}))
}
