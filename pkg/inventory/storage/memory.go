package storage

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nemonet1337/branchledger/pkg/inventory"
)

// ledgerRow keeps the insertion sequence next to the entry so equal
// timestamps keep append order.
type ledgerRow struct {
	seq   int64
	entry inventory.Transaction
}

type memoryState struct {
	items   map[string]inventory.InventoryItem
	ledger  []ledgerRow
	pending map[string]inventory.PendingReplacement
	seq     int64
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		items:   make(map[string]inventory.InventoryItem, len(st.items)),
		ledger:  make([]ledgerRow, len(st.ledger)),
		pending: make(map[string]inventory.PendingReplacement, len(st.pending)),
		seq:     st.seq,
	}
	for k, v := range st.items {
		c.items[k] = v
	}
	copy(c.ledger, st.ledger)
	for k, v := range st.pending {
		c.pending[k] = v
	}
	return c
}

// MemoryStorage implements inventory.Storage in process memory. Writers are
// serialised: a Tx holds the write slot from Begin until Commit or Rollback
// and works on a private copy that Commit publishes.
// インメモリのStorage実装（開発モード・テスト用）
type MemoryStorage struct {
	mu     sync.RWMutex
	state  *memoryState
	writer chan struct{}
	logger *zap.Logger
}

var _ inventory.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory store
// 新しいインメモリストレージを作成
func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStorage{
		state: &memoryState{
			items:   make(map[string]inventory.InventoryItem),
			pending: make(map[string]inventory.PendingReplacement),
		},
		writer: make(chan struct{}, 1),
		logger: logger,
	}
}

// Begin waits for the write slot and starts a transaction
// 書き込み権を取得してトランザクションを開始
func (s *MemoryStorage) Begin(ctx context.Context) (inventory.Tx, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	return &memoryTx{store: s, work: work}, nil
}

// GetItem retrieves an item by ID
func (s *MemoryStorage) GetItem(ctx context.Context, itemID string) (*inventory.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.state.items[itemID]
	if !ok {
		return nil, inventory.ErrItemNotFound
	}
	return &item, nil
}

// GetItemsByIDs returns the items that exist among itemIDs, keyed by ID
func (s *MemoryStorage) GetItemsByIDs(ctx context.Context, itemIDs []string) (map[string]inventory.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]inventory.InventoryItem, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := s.state.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

// ListItems returns all items, newest first
func (s *MemoryStorage) ListItems(ctx context.Context) ([]inventory.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]inventory.InventoryItem, 0, len(s.state.items))
	for _, item := range s.state.items {
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// GetTransaction retrieves a ledger entry by ID
func (s *MemoryStorage) GetTransaction(ctx context.Context, transactionID string) (*inventory.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getTransaction(transactionID)
}

// ListTransactions returns the ledger entries matching filter, ordered by
// createdAt then insertion order, newest first unless filter.Ascending
func (s *MemoryStorage) ListTransactions(ctx context.Context, filter inventory.TransactionFilter) ([]inventory.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var types map[inventory.TransactionType]bool
	if len(filter.Types) > 0 {
		types = make(map[inventory.TransactionType]bool, len(filter.Types))
		for _, t := range filter.Types {
			types[t] = true
		}
	}

	rows := make([]ledgerRow, 0, len(s.state.ledger))
	for _, row := range s.state.ledger {
		e := row.entry
		if types != nil && !types[e.Type] {
			continue
		}
		if filter.ItemID != "" && e.ItemID != filter.ItemID {
			continue
		}
		if filter.Branch != "" && e.Branch != filter.Branch {
			continue
		}
		rows = append(rows, row)
	}
	sortLedger(rows, filter.Ascending)

	entries := make([]inventory.Transaction, len(rows))
	for i, row := range rows {
		entries[i] = row.entry
	}
	return entries, nil
}

// ListBranches returns the distinct branches of "out" entries, sorted
func (s *MemoryStorage) ListBranches(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	branches := []string{}
	for _, row := range s.state.ledger {
		b := row.entry.Branch
		if row.entry.Type != inventory.TransactionTypeOut || b == "" || seen[b] {
			continue
		}
		seen[b] = true
		branches = append(branches, b)
	}
	sort.Strings(branches)
	return branches, nil
}

// DeleteTransaction prunes a ledger entry
func (s *MemoryStorage) DeleteTransaction(ctx context.Context, transactionID string) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	mtx := tx.(*memoryTx)
	idx := mtx.work.indexOf(transactionID)
	if idx < 0 {
		return inventory.ErrTransactionNotFound
	}
	mtx.work.ledger = append(mtx.work.ledger[:idx], mtx.work.ledger[idx+1:]...)
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("台帳エントリを削除しました", zap.String("transaction_id", transactionID))
	return nil
}

// ListPendingReplacements returns pending replacements, newest first
func (s *MemoryStorage) ListPendingReplacements(ctx context.Context) ([]inventory.PendingReplacement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]inventory.PendingReplacement, 0, len(s.state.pending))
	for _, p := range s.state.pending {
		pending = append(pending, p)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})
	return pending, nil
}

// Ping always succeeds
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close releases nothing
func (s *MemoryStorage) Close() error {
	return nil
}

func (st *memoryState) indexOf(transactionID string) int {
	for i, row := range st.ledger {
		if row.entry.ID == transactionID {
			return i
		}
	}
	return -1
}

func (st *memoryState) getTransaction(transactionID string) (*inventory.Transaction, error) {
	idx := st.indexOf(transactionID)
	if idx < 0 {
		return nil, inventory.ErrTransactionNotFound
	}
	entry := st.ledger[idx].entry
	return &entry, nil
}

// latestEntry returns the newest entry of itemID accepted by match;
// equal timestamps fall back to insertion order
func (st *memoryState) latestEntry(itemID string, match func(inventory.Transaction) bool) (*inventory.Transaction, error) {
	var latest *ledgerRow
	for i := range st.ledger {
		row := &st.ledger[i]
		if row.entry.ItemID != itemID || !match(row.entry) {
			continue
		}
		if latest == nil || row.entry.CreatedAt.After(latest.entry.CreatedAt) ||
			(row.entry.CreatedAt.Equal(latest.entry.CreatedAt) && row.seq > latest.seq) {
			latest = row
		}
	}
	if latest == nil {
		return nil, inventory.ErrTransactionNotFound
	}
	entry := latest.entry
	return &entry, nil
}

func sortLedger(rows []ledgerRow, ascending bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			if ascending {
				return a.entry.CreatedAt.Before(b.entry.CreatedAt)
			}
			return a.entry.CreatedAt.After(b.entry.CreatedAt)
		}
		if ascending {
			return a.seq < b.seq
		}
		return a.seq > b.seq
	})
}

// memoryTx is a unit of work over a private copy of the store state
type memoryTx struct {
	store *MemoryStorage
	work  *memoryState
	done  bool
}

func (t *memoryTx) GetItemForUpdate(ctx context.Context, itemID string) (*inventory.InventoryItem, error) {
	if t.done {
		return nil, inventory.ErrTxDone
	}
	item, ok := t.work.items[itemID]
	if !ok {
		return nil, inventory.ErrItemNotFound
	}
	return &item, nil
}

func (t *memoryTx) ListItemsWithSerials(ctx context.Context) ([]inventory.InventoryItem, error) {
	if t.done {
		return nil, inventory.ErrTxDone
	}
	var items []inventory.InventoryItem
	for _, item := range t.work.items {
		if item.SerialNumber != "" {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (t *memoryTx) CreateItem(ctx context.Context, item *inventory.InventoryItem) error {
	if t.done {
		return inventory.ErrTxDone
	}
	if _, exists := t.work.items[item.ID]; exists {
		return inventory.ErrDuplicateItem
	}
	t.work.items[item.ID] = *item
	return nil
}

func (t *memoryTx) UpdateItem(ctx context.Context, item *inventory.InventoryItem) error {
	if t.done {
		return inventory.ErrTxDone
	}
	if _, exists := t.work.items[item.ID]; !exists {
		return inventory.ErrItemNotFound
	}
	t.work.items[item.ID] = *item
	return nil
}

func (t *memoryTx) DeleteItem(ctx context.Context, itemID string) error {
	if t.done {
		return inventory.ErrTxDone
	}
	if _, exists := t.work.items[itemID]; !exists {
		return inventory.ErrItemNotFound
	}
	delete(t.work.items, itemID)
	return nil
}

func (t *memoryTx) CreateTransaction(ctx context.Context, entry *inventory.Transaction) error {
	if t.done {
		return inventory.ErrTxDone
	}
	t.work.seq++
	t.work.ledger = append(t.work.ledger, ledgerRow{seq: t.work.seq, entry: *entry})
	return nil
}

func (t *memoryTx) GetTransaction(ctx context.Context, transactionID string) (*inventory.Transaction, error) {
	if t.done {
		return nil, inventory.ErrTxDone
	}
	return t.work.getTransaction(transactionID)
}

func (t *memoryTx) FindLatestTransfer(ctx context.Context, itemID, trackingID string) (*inventory.Transaction, error) {
	if t.done {
		return nil, inventory.ErrTxDone
	}
	return t.work.latestEntry(itemID, func(e inventory.Transaction) bool {
		return e.Type == inventory.TransactionTypeTransfer && (trackingID == "" || e.ItemTrackingID == trackingID)
	})
}

func (t *memoryTx) FindLatestTransaction(ctx context.Context, itemID string, types []inventory.TransactionType) (*inventory.Transaction, error) {
	if t.done {
		return nil, inventory.ErrTxDone
	}
	return t.work.latestEntry(itemID, func(e inventory.Transaction) bool {
		return len(types) == 0 || containsType(types, e.Type)
	})
}

// LockItemKey is a no-op: writers already hold the store-wide write slot
func (t *memoryTx) LockItemKey(ctx context.Context, itemID string) error {
	if t.done {
		return inventory.ErrTxDone
	}
	return nil
}

func (t *memoryTx) CreatePendingReplacement(ctx context.Context, pending *inventory.PendingReplacement) error {
	if t.done {
		return inventory.ErrTxDone
	}
	t.work.pending[pending.ID] = *pending
	return nil
}

func (t *memoryTx) GetPendingReplacementForUpdate(ctx context.Context, pendingID string) (*inventory.PendingReplacement, error) {
	if t.done {
		return nil, inventory.ErrTxDone
	}
	p, ok := t.work.pending[pendingID]
	if !ok {
		return nil, inventory.ErrPendingReplacementNotFound
	}
	return &p, nil
}

func (t *memoryTx) DeletePendingReplacement(ctx context.Context, pendingID string) error {
	if t.done {
		return inventory.ErrTxDone
	}
	if _, ok := t.work.pending[pendingID]; !ok {
		return inventory.ErrPendingReplacementNotFound
	}
	delete(t.work.pending, pendingID)
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return inventory.ErrTxDone
	}
	t.done = true

	t.store.mu.Lock()
	t.store.state = t.work
	t.store.mu.Unlock()

	<-t.store.writer
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	<-t.store.writer
	return nil
}

func containsType(types []inventory.TransactionType, t inventory.TransactionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
