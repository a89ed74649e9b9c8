package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/branchledger/pkg/inventory"
)

// runStorageContract exercises the behaviour every Storage implementation shares
func runStorageContract(t *testing.T, newStore func(t *testing.T) inventory.Storage) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("item lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		item := contractItem("item-1", "SN-1", base)
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.CreateItem(ctx, item))
		assert.ErrorIs(t, tx.CreateItem(ctx, item), inventory.ErrDuplicateItem)
		require.NoError(t, tx.Rollback())

		// ロールバック後は見えない
		_, err = store.GetItem(ctx, "item-1")
		assert.ErrorIs(t, err, inventory.ErrItemNotFound)

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.CreateItem(ctx, item))
		require.NoError(t, tx.CreateItem(ctx, contractItem("item-2", "", base.Add(time.Minute))))
		require.NoError(t, tx.Commit())
		assert.ErrorIs(t, tx.Commit(), inventory.ErrTxDone)
		assert.NoError(t, tx.Rollback())

		got, err := store.GetItem(ctx, "item-1")
		require.NoError(t, err)
		assert.Equal(t, "ThinkPad", got.Name)
		assert.Equal(t, int64(4), got.Quantity)
		require.NotNil(t, got.WarrantyExpiryDate)

		items, err := store.ListItems(ctx)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "item-2", items[0].ID)

		byID, err := store.GetItemsByIDs(ctx, []string{"item-1", "missing"})
		require.NoError(t, err)
		assert.Len(t, byID, 1)
		assert.Contains(t, byID, "item-1")

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		withSerials, err := tx.ListItemsWithSerials(ctx)
		require.NoError(t, err)
		require.Len(t, withSerials, 1)
		assert.Equal(t, "item-1", withSerials[0].ID)

		locked, err := tx.GetItemForUpdate(ctx, "item-1")
		require.NoError(t, err)
		locked.Quantity = 1
		require.NoError(t, tx.UpdateItem(ctx, locked))
		require.NoError(t, tx.DeleteItem(ctx, "item-2"))
		assert.ErrorIs(t, tx.DeleteItem(ctx, "item-2"), inventory.ErrItemNotFound)
		require.NoError(t, tx.Commit())

		got, err = store.GetItem(ctx, "item-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Quantity)
		_, err = store.GetItem(ctx, "item-2")
		assert.ErrorIs(t, err, inventory.ErrItemNotFound)
	})

	t.Run("ledger ordering and filters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		entries := []*inventory.Transaction{
			contractEntry("t-1", inventory.TransactionTypeTransfer, "Osaka", "item-1", "CRE-1", base),
			// 同時刻のエントリは追記順
			contractEntry("t-2", inventory.TransactionTypeTransfer, "Osaka", "item-1", "CRE-2", base),
			contractEntry("t-3", inventory.TransactionTypeOut, "Kobe", "item-2", "", base.Add(time.Minute)),
			contractEntry("t-4", inventory.TransactionTypeOut, "Akita", "item-1", "", base.Add(2*time.Minute)),
			contractEntry("t-5", inventory.TransactionTypeReturn, "Osaka", "item-1", "CRE-1", base.Add(3*time.Minute)),
		}
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		for _, e := range entries {
			require.NoError(t, tx.CreateTransaction(ctx, e))
		}
		require.NoError(t, tx.Commit())

		all, err := store.ListTransactions(ctx, inventory.TransactionFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"t-5", "t-4", "t-3", "t-2", "t-1"}, entryIDs(all))

		asc, err := store.ListTransactions(ctx, inventory.TransactionFilter{
			Types:     []inventory.TransactionType{inventory.TransactionTypeTransfer, inventory.TransactionTypeReturn},
			Ascending: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"t-1", "t-2", "t-5"}, entryIDs(asc))

		byItem, err := store.ListTransactions(ctx, inventory.TransactionFilter{ItemID: "item-2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"t-3"}, entryIDs(byItem))

		byBranch, err := store.ListTransactions(ctx, inventory.TransactionFilter{Branch: "Osaka"})
		require.NoError(t, err)
		assert.Equal(t, []string{"t-5", "t-2", "t-1"}, entryIDs(byBranch))

		branches, err := store.ListBranches(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Akita", "Kobe"}, branches)

		got, err := store.GetTransaction(ctx, "t-3")
		require.NoError(t, err)
		assert.Equal(t, "Kobe", got.Branch)

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		latest, err := tx.FindLatestTransfer(ctx, "item-1", "")
		require.NoError(t, err)
		assert.Equal(t, "t-2", latest.ID)
		latest, err = tx.FindLatestTransfer(ctx, "item-1", "CRE-1")
		require.NoError(t, err)
		assert.Equal(t, "t-1", latest.ID)
		_, err = tx.FindLatestTransfer(ctx, "item-2", "")
		assert.ErrorIs(t, err, inventory.ErrTransactionNotFound)

		latest, err = tx.FindLatestTransaction(ctx, "item-1", []inventory.TransactionType{
			inventory.TransactionTypeTransfer,
			inventory.TransactionTypeOut,
		})
		require.NoError(t, err)
		assert.Equal(t, "t-4", latest.ID)
		latest, err = tx.FindLatestTransaction(ctx, "item-1", nil)
		require.NoError(t, err)
		assert.Equal(t, "t-5", latest.ID)
		_, err = tx.FindLatestTransaction(ctx, "item-2", []inventory.TransactionType{inventory.TransactionTypeTransfer})
		assert.ErrorIs(t, err, inventory.ErrTransactionNotFound)

		require.NoError(t, tx.LockItemKey(ctx, "item-9"))
		require.NoError(t, tx.Rollback())

		require.NoError(t, store.DeleteTransaction(ctx, "t-3"))
		assert.ErrorIs(t, store.DeleteTransaction(ctx, "t-3"), inventory.ErrTransactionNotFound)
		_, err = store.GetTransaction(ctx, "t-3")
		assert.ErrorIs(t, err, inventory.ErrTransactionNotFound)
	})

	t.Run("pending replacements", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		for i, id := range []string{"p-1", "p-2"} {
			require.NoError(t, tx.CreatePendingReplacement(ctx, &inventory.PendingReplacement{
				ID:             id,
				TransactionID:  "t-" + id,
				ItemID:         "item-1",
				ItemName:       "ThinkPad",
				Branch:         "Kobe",
				ItemTrackingID: "CRE-1",
				Reason:         "Replacement Equipment",
				Status:         inventory.PendingReplacementStatusPending,
				CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			}))
		}
		require.NoError(t, tx.Commit())

		pending, err := store.ListPendingReplacements(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "p-2", pending[0].ID)

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		p, err := tx.GetPendingReplacementForUpdate(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, inventory.PendingReplacementStatusPending, p.Status)
		require.NoError(t, tx.DeletePendingReplacement(ctx, "p-1"))
		assert.ErrorIs(t, tx.DeletePendingReplacement(ctx, "p-1"), inventory.ErrPendingReplacementNotFound)
		_, err = tx.GetPendingReplacementForUpdate(ctx, "p-1")
		assert.ErrorIs(t, err, inventory.ErrPendingReplacementNotFound)
		require.NoError(t, tx.Commit())

		pending, err = store.ListPendingReplacements(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "p-2", pending[0].ID)
	})

	t.Run("concurrent returns recreate a transferred item once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		m := inventory.NewManager(store, nil, zap.NewNop(), nil)

		items, err := m.CreateItem(ctx, inventory.CreateItemRequest{
			Name:     "ThinkPad",
			Category: "Laptop",
			Quantity: 2,
			Location: "Main Inventory",
		})
		require.NoError(t, err)
		itemID := items[0].ID

		result, err := m.Transfer(ctx, inventory.TransferRequest{
			ItemID:         itemID,
			Quantity:       2,
			Branch:         "Osaka",
			ItemTrackingID: "CRE-1",
		})
		require.NoError(t, err)
		require.True(t, result.ItemDeleted)

		const workers = 4
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = m.StockMove(ctx, inventory.StockMoveRequest{
					ItemID:         itemID,
					Type:           inventory.TransactionTypeReturn,
					Quantity:       1,
					Branch:         "Osaka",
					ItemTrackingID: "CRE-1",
				})
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		item, err := store.GetItem(ctx, itemID)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), item.Quantity)
	})
}

func contractItem(id, serial string, createdAt time.Time) *inventory.InventoryItem {
	expiry := createdAt.AddDate(1, 0, 0)
	return &inventory.InventoryItem{
		ID:                 id,
		Name:               "ThinkPad",
		Category:           "Laptop",
		Quantity:           4,
		SerialNumber:       serial,
		Location:           "Main Inventory",
		Warranty:           "1 year",
		WarrantyExpiryDate: &expiry,
		PurchaseDate:       createdAt,
		Status:             inventory.ItemStatusInStock,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
}

func contractEntry(id string, t inventory.TransactionType, branch, itemID, trackingID string, at time.Time) *inventory.Transaction {
	return &inventory.Transaction{
		ID:             id,
		ItemID:         itemID,
		ItemName:       "ThinkPad",
		ItemCategory:   "Laptop",
		Type:           t,
		Quantity:       1,
		Branch:         branch,
		ItemTrackingID: trackingID,
		CreatedAt:      at,
	}
}

func entryIDs(entries []inventory.Transaction) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
