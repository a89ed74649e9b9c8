package inventory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Manager implements the transfer, projection, replacement, audit and item
// interfaces on top of a Storage.
// 在庫移動・射影・交換確認・監査・商品管理の実装
type Manager struct {
	storage   Storage         // ストレージ層
	publisher EventPublisher  // イベント発行者
	cache     ProjectionCache // 射影キャッシュ
	metrics   *Metrics        // メトリクス
	logger    *zap.Logger     // ログ
	config    *Config         // 設定
	now       func() time.Time
}

// すべてのインターフェースを実装することを明示
var (
	_ TransferEngine                = (*Manager)(nil)
	_ BranchLedgerProjector         = (*Manager)(nil)
	_ ReplacementConfirmationEngine = (*Manager)(nil)
	_ AuditLog                      = (*Manager)(nil)
	_ ItemManager                   = (*Manager)(nil)
)

// Config holds configuration for the inventory manager
// 在庫マネージャーの設定を保持
type Config struct {
	TrackingIDPrefix string `yaml:"tracking_id_prefix"` // 追跡IDの接頭辞
	MainLocation     string `yaml:"main_location"`      // 中央在庫のロケーション名
}

// DefaultConfig returns the configuration used when none is supplied
func DefaultConfig() *Config {
	return &Config{
		TrackingIDPrefix: DefaultTrackingIDPrefix,
		MainLocation:     "Main Inventory",
	}
}

// Option customises a Manager
type Option func(*Manager)

// WithProjectionCache sets the cache used by ListTransferredItems
func WithProjectionCache(cache ProjectionCache) Option {
	return func(m *Manager) {
		if cache != nil {
			m.cache = cache
		}
	}
}

// WithMetrics sets the prometheus collectors
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new inventory manager. publisher may be nil.
// 新しい在庫マネージャーを作成
func NewManager(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TrackingIDPrefix == "" {
		config.TrackingIDPrefix = DefaultTrackingIDPrefix
	}
	if config.MainLocation == "" {
		config.MainLocation = DefaultConfig().MainLocation
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		storage:   storage,
		publisher: publisher,
		cache:     noopProjectionCache{},
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transfer moves quantity units of an item to a branch. When ItemID is empty
// a transient item is created for the transferred quantity and immediately
// zeroed (direct transfer). The item write, the ledger append and the
// optional pending replacement commit as one unit.
// 支店へ在庫を移動
func (m *Manager) Transfer(ctx context.Context, req TransferRequest) (*MovementResult, error) {
	result, err := m.transfer(ctx, req)
	if err != nil {
		m.metrics.operationFailed("transfer", err)
		return nil, err
	}
	return result, nil
}

func (m *Manager) transfer(ctx context.Context, req TransferRequest) (*MovementResult, error) {
	reason, err := ValidateTransferRequest(req, m.config.TrackingIDPrefix)
	if err != nil {
		return nil, err
	}

	userID := UserFromContext(ctx)
	now := m.now()
	isDirect := req.IsDirect()

	tx, err := m.storage.Begin(ctx)
	if err != nil {
		return nil, NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	var item *InventoryItem
	if isDirect {
		// 移動数量で一時レコードを作成し、直後の減算でちょうど0になるようにする
		item = &InventoryItem{
			ID:            NewID(),
			Name:          req.ItemName,
			Category:      req.ItemCategory,
			Quantity:      req.Quantity,
			SerialNumber:  req.SerialNumber,
			Model:         req.Model,
			Location:      m.config.MainLocation,
			PurchaseDate:  now,
			Status:        ItemStatusInStock,
			CreatedBy:     userID,
			LastUpdatedBy: userID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateItem(ctx, item); err != nil {
			return nil, NewStorageError("create_item", "直接移動用の商品作成に失敗しました", err)
		}
	} else {
		item, err = m.lockItem(ctx, tx, "transfer", req.ItemID, req.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if item.Quantity < req.Quantity {
		return nil, NewInsufficientStockError("transfer", item.ID, item.Quantity, req.Quantity)
	}

	item.Quantity -= req.Quantity
	view, deleted, err := m.applyDecrement(ctx, tx, item, userID, now, ItemStatusTransferred)
	if err != nil {
		return nil, err
	}

	// 商品行は削除される可能性があるため、商品情報は値として記録する
	entry := &Transaction{
		ID:             NewID(),
		ItemID:         item.ID,
		ItemName:       item.Name,
		ItemCategory:   item.Category,
		Type:           TransactionTypeTransfer,
		Quantity:       req.Quantity,
		Branch:         req.Branch,
		AssetNumber:    req.AssetNumber,
		Model:          req.Model,
		SerialNumber:   req.SerialNumber,
		ItemTrackingID: req.ItemTrackingID,
		Reason:         reason.String(),
		ReasonKind:     reason.Kind,
		PerformedBy:    userID,
		CreatedAt:      now,
	}
	if err := tx.CreateTransaction(ctx, entry); err != nil {
		return nil, NewStorageError("create_transaction", "移動記録に失敗しました", err)
	}

	if reason.OpensPendingReplacement() {
		pending := &PendingReplacement{
			ID:             NewID(),
			TransactionID:  entry.ID,
			ItemID:         item.ID,
			ItemName:       item.Name,
			Branch:         req.Branch,
			ItemTrackingID: req.ItemTrackingID,
			Reason:         entry.Reason,
			Status:         PendingReplacementStatusPending,
			CreatedAt:      now,
		}
		if err := tx.CreatePendingReplacement(ctx, pending); err != nil {
			return nil, NewStorageError("create_pending_replacement", "交換確認待ちの作成に失敗しました", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, NewStorageError("commit", "コミットに失敗しました", err)
	}

	m.afterWrite(ctx)
	m.metrics.transferCommitted(reason.Kind, isDirect)
	if m.publisher != nil {
		event := ItemTransferredEvent{
			ItemID:           entry.ItemID,
			Branch:           entry.Branch,
			Quantity:         entry.Quantity,
			ItemTrackingID:   entry.ItemTrackingID,
			ReasonKind:       string(reason.Kind),
			IsDirectTransfer: isDirect,
			ItemDeleted:      deleted,
			TransactionID:    entry.ID,
			Timestamp:        now,
			UserID:           userID,
		}
		if err := m.publisher.PublishItemTransferred(ctx, event); err != nil {
			m.logger.Error("移動イベント発行に失敗しました", zap.String("transaction_id", entry.ID), zap.Error(err))
		}
	}

	m.logger.Info("支店への移動完了",
		zap.String("item_id", entry.ItemID),
		zap.String("branch", entry.Branch),
		zap.String("item_tracking_id", entry.ItemTrackingID),
		zap.Int64("quantity", entry.Quantity),
		zap.Bool("item_deleted", deleted),
		zap.Bool("direct", isDirect),
	)

	return &MovementResult{
		Transaction:      entry,
		Item:             view,
		ItemDeleted:      deleted,
		IsDirectTransfer: &isDirect,
	}, nil
}

// StockMove applies an in, out or return movement to an existing item. A
// return against an item that was fully transferred out recreates it from the
// newest matching transfer entry.
// 入庫・出庫・返却を処理
func (m *Manager) StockMove(ctx context.Context, req StockMoveRequest) (*MovementResult, error) {
	result, err := m.stockMove(ctx, req)
	if err != nil {
		m.metrics.operationFailed("stock_move", err)
		return nil, err
	}
	return result, nil
}

func (m *Manager) stockMove(ctx context.Context, req StockMoveRequest) (*MovementResult, error) {
	if err := ValidateStockMoveRequest(req); err != nil {
		return nil, err
	}

	userID := UserFromContext(ctx)
	now := m.now()

	tx, err := m.storage.Begin(ctx)
	if err != nil {
		return nil, NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	recreated := false
	var item *InventoryItem
	switch req.Type {
	case TransactionTypeReturn:
		item, err = tx.GetItemForUpdate(ctx, req.ItemID)
		if errors.Is(err, ErrItemNotFound) {
			// 行が無いためIDでロックし、並行する復元がコミットされた後に再取得する
			if err := tx.LockItemKey(ctx, req.ItemID); err != nil {
				return nil, NewStorageError("lock_item", "商品ロックの取得に失敗しました", err)
			}
			item, err = tx.GetItemForUpdate(ctx, req.ItemID)
		}
		switch {
		case errors.Is(err, ErrItemNotFound):
			item, err = m.recoverTransferredItem(ctx, tx, req, userID, now)
			if err != nil {
				return nil, err
			}
			recreated = true
		case err != nil:
			return nil, NewStorageError("get_item", "商品取得に失敗しました", err)
		}
	case TransactionTypeOut:
		item, err = m.lockItem(ctx, tx, "transaction", req.ItemID, req.Quantity)
		if err != nil {
			return nil, err
		}
	default:
		item, err = tx.GetItemForUpdate(ctx, req.ItemID)
		switch {
		case errors.Is(err, ErrItemNotFound):
			return nil, NewNotFoundError("item", req.ItemID, "Inventory item not found")
		case err != nil:
			return nil, NewStorageError("get_item", "商品取得に失敗しました", err)
		}
	}

	oldQuantity := item.Quantity
	var (
		view    *InventoryItem
		deleted bool
	)
	if req.Type == TransactionTypeOut {
		if item.Quantity < req.Quantity {
			return nil, NewInsufficientStockError("transaction", item.ID, item.Quantity, req.Quantity)
		}
		item.Quantity -= req.Quantity
		view, deleted, err = m.applyDecrement(ctx, tx, item, userID, now, ItemStatusOutOfStock)
		if err != nil {
			return nil, err
		}
	} else {
		item.Quantity += req.Quantity
		item.Status = StatusForQuantity(item.Quantity)
		item.LastUpdatedBy = userID
		item.UpdatedAt = now
		if recreated {
			err = tx.CreateItem(ctx, item)
		} else {
			err = tx.UpdateItem(ctx, item)
		}
		if err != nil {
			return nil, NewStorageError("save_item", "商品保存に失敗しました", err)
		}
		view = item
	}

	entry := &Transaction{
		ID:             NewID(),
		ItemID:         req.ItemID,
		ItemName:       item.Name,
		ItemCategory:   item.Category,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Branch:         req.Branch,
		ItemTrackingID: req.ItemTrackingID,
		PerformedBy:    userID,
		CreatedAt:      now,
	}
	if err := tx.CreateTransaction(ctx, entry); err != nil {
		return nil, NewStorageError("create_transaction", "台帳記録に失敗しました", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, NewStorageError("commit", "コミットに失敗しました", err)
	}

	m.afterWrite(ctx)
	m.metrics.stockMoveCommitted(req.Type)
	if m.publisher != nil {
		event := StockChangedEvent{
			ItemID:         entry.ItemID,
			Branch:         entry.Branch,
			OldQuantity:    oldQuantity,
			NewQuantity:    item.Quantity,
			ChangeType:     string(req.Type),
			ItemTrackingID: entry.ItemTrackingID,
			ItemDeleted:    deleted,
			TransactionID:  entry.ID,
			Timestamp:      now,
			UserID:         userID,
		}
		if err := m.publisher.PublishStockChanged(ctx, event); err != nil {
			m.logger.Error("イベント発行に失敗しました", zap.String("transaction_id", entry.ID), zap.Error(err))
		}
	}

	m.logger.Info("在庫移動完了",
		zap.String("item_id", entry.ItemID),
		zap.String("type", string(entry.Type)),
		zap.String("branch", entry.Branch),
		zap.Int64("quantity", entry.Quantity),
		zap.Bool("item_deleted", deleted),
		zap.Bool("item_recreated", recreated),
	)

	return &MovementResult{
		Transaction: entry,
		Item:        view,
		ItemDeleted: deleted,
	}, nil
}

// ヘルパーメソッド

// lockItem loads an item for update. A miss on an item emptied by an earlier
// stock movement is reported as InsufficientStockError with nothing available;
// any other miss is NotFoundError.
// 更新用に商品を取得
func (m *Manager) lockItem(ctx context.Context, tx Tx, op, itemID string, requested int64) (*InventoryItem, error) {
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, ErrItemNotFound) {
		return nil, NewStorageError("get_item", "商品取得に失敗しました", err)
	}

	latest, err := tx.FindLatestTransaction(ctx, itemID, []TransactionType{
		TransactionTypeIn,
		TransactionTypeOut,
		TransactionTypeReturn,
		TransactionTypeTransfer,
		TransactionTypeDeleteItem,
	})
	switch {
	case errors.Is(err, ErrTransactionNotFound):
	case err != nil:
		return nil, NewStorageError("find_transaction", "台帳検索に失敗しました", err)
	case latest.Type.IsStockAffecting():
		return nil, NewInsufficientStockError(op, itemID, 0, requested)
	}
	return nil, NewNotFoundError("item", itemID, "Inventory item not found")
}

// applyDecrement persists an already decremented item. At zero the record is
// deleted and a copy carrying depletedStatus is returned for the response.
// 減算済みの商品を保存（0になった場合は削除）
func (m *Manager) applyDecrement(ctx context.Context, tx Tx, item *InventoryItem, userID string, now time.Time, depletedStatus ItemStatus) (*InventoryItem, bool, error) {
	if item.Quantity == 0 {
		if err := tx.DeleteItem(ctx, item.ID); err != nil {
			return nil, false, NewStorageError("delete_item", "在庫切れ商品の削除に失敗しました", err)
		}
		view := *item
		view.Status = depletedStatus
		return &view, true, nil
	}

	item.Status = StatusForQuantity(item.Quantity)
	item.LastUpdatedBy = userID
	item.UpdatedAt = now
	if err := tx.UpdateItem(ctx, item); err != nil {
		return nil, false, NewStorageError("update_item", "商品更新に失敗しました", err)
	}
	return item, false, nil
}

// recoverTransferredItem rebuilds an item deleted by a transfer from the newest
// matching transfer entry. The returned item has quantity 0 and is not yet stored.
// 移動で削除された商品を移動記録から復元
func (m *Manager) recoverTransferredItem(ctx context.Context, tx Tx, req StockMoveRequest, userID string, now time.Time) (*InventoryItem, error) {
	transfer, err := tx.FindLatestTransfer(ctx, req.ItemID, req.ItemTrackingID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, NewNotFoundError("transaction", req.ItemID, "Original transfer transaction not found")
		}
		return nil, NewStorageError("find_transfer", "移動記録の検索に失敗しました", err)
	}

	m.logger.Info("返却のため商品を復元します",
		zap.String("item_id", req.ItemID),
		zap.String("transfer_id", transfer.ID),
	)

	return &InventoryItem{
		ID:            req.ItemID,
		Name:          transfer.ItemName,
		Category:      transfer.ItemCategory,
		Quantity:      0,
		Model:         transfer.Model,
		SerialNumber:  transfer.SerialNumber,
		Location:      m.config.MainLocation,
		PurchaseDate:  now,
		Status:        ItemStatusInStock,
		CreatedBy:     userID,
		LastUpdatedBy: userID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// afterWrite drops the cached projection after a committed write
// 書き込み後に射影キャッシュを破棄
func (m *Manager) afterWrite(ctx context.Context) {
	if err := m.cache.Invalidate(ctx); err != nil {
		m.logger.Error("射影キャッシュの破棄に失敗しました", zap.Error(err))
	}
}
