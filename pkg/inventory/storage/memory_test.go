package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/branchledger/pkg/inventory"
)

func TestMemoryStorage_Contract(t *testing.T) {
	runStorageContract(t, func(t *testing.T) inventory.Storage {
		return NewMemoryStorage(zap.NewNop())
	})
}

func TestMemoryStorage_UncommittedWritesAreInvisible(t *testing.T) {
	store := NewMemoryStorage(nil)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateItem(ctx, contractItem("item-1", "", time.Now())))

	_, err = store.GetItem(ctx, "item-1")
	assert.ErrorIs(t, err, inventory.ErrItemNotFound)

	require.NoError(t, tx.Commit())
	_, err = store.GetItem(ctx, "item-1")
	assert.NoError(t, err)
}

func TestMemoryStorage_WritersAreSerialised(t *testing.T) {
	store := NewMemoryStorage(nil)
	ctx := context.Background()

	first, err := store.Begin(ctx)
	require.NoError(t, err)

	// 書き込み中は次のBeginが待たされる
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = store.Begin(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	started := make(chan inventory.Tx)
	go func() {
		tx, err := store.Begin(ctx)
		if err != nil {
			close(started)
			return
		}
		started <- tx
	}()

	select {
	case <-started:
		t.Fatal("second transaction started while the first was open")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, first.Rollback())

	select {
	case second, ok := <-started:
		require.True(t, ok)
		require.NoError(t, second.Rollback())
	case <-time.After(time.Second):
		t.Fatal("second transaction did not start after rollback")
	}
}

func TestMemoryStorage_TxDone(t *testing.T) {
	store := NewMemoryStorage(nil)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = tx.GetItemForUpdate(ctx, "item-1")
	assert.ErrorIs(t, err, inventory.ErrTxDone)
	assert.ErrorIs(t, tx.CreateTransaction(ctx, &inventory.Transaction{ID: "t"}), inventory.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(), inventory.ErrTxDone)
}
