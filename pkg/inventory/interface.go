package inventory

import (
	"context"
	"time"
)

// TransferEngine moves stock from the central inventory to branches
// 中央在庫から支店への在庫移動を定義
type TransferEngine interface {
	Transfer(ctx context.Context, req TransferRequest) (*MovementResult, error)
	StockMove(ctx context.Context, req StockMoveRequest) (*MovementResult, error)
}

// BranchLedgerProjector derives branch net positions from the ledger
// 台帳から支店別の正味在庫を導出
type BranchLedgerProjector interface {
	ListTransferredItems(ctx context.Context) ([]BranchInventory, error)
}

// ReplacementConfirmationEngine manages the pending replacement queue
// 交換確認待ちキューを管理
type ReplacementConfirmationEngine interface {
	ListPendingReplacements(ctx context.Context) ([]PendingReplacement, error)
	ConfirmReplacement(ctx context.Context, pendingID string, req ConfirmRequest) (*Transaction, error)
	ListConfirmedReplacements(ctx context.Context) ([]Transaction, error)
}

// AuditLog exposes the full ledger for privileged users
// 監査ログ（台帳全体）へのアクセスを定義
type AuditLog interface {
	ListAuditLogs(ctx context.Context) ([]Transaction, error)
	DeleteAuditLog(ctx context.Context, transactionID string) error
	GetItemHistory(ctx context.Context, itemID string) ([]Transaction, error)
	ListBranches(ctx context.Context) ([]string, error)
	ListBranchStock(ctx context.Context, branch string) ([]BranchStockItem, error)
}

// ItemManager defines interface for item management
// 商品管理のインターフェースを定義
type ItemManager interface {
	CreateItem(ctx context.Context, req CreateItemRequest) ([]InventoryItem, error)
	GetItem(ctx context.Context, itemID string) (*InventoryItem, error)
	UpdateItem(ctx context.Context, itemID string, req UpdateItemRequest) (*InventoryItem, error)
	DeleteItem(ctx context.Context, itemID string) error
	ListItems(ctx context.Context) ([]InventoryItem, error)
}

// Storage defines the interface for data persistence layer.
// Reads outside Begin see only committed state.
// データ永続化層のインターフェースを定義
type Storage interface {
	// Transaction management
	Begin(ctx context.Context) (Tx, error)

	// Item reads
	GetItem(ctx context.Context, itemID string) (*InventoryItem, error)
	GetItemsByIDs(ctx context.Context, itemIDs []string) (map[string]InventoryItem, error)
	ListItems(ctx context.Context) ([]InventoryItem, error)

	// Ledger reads and pruning
	GetTransaction(ctx context.Context, transactionID string) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	// ListBranches returns the distinct branches of "out" entries, sorted
	ListBranches(ctx context.Context) ([]string, error)
	DeleteTransaction(ctx context.Context, transactionID string) error

	// Pending replacement reads
	ListPendingReplacements(ctx context.Context) ([]PendingReplacement, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Tx is a unit of work. Writes become visible to other readers only after
// Commit. Rollback after Commit is a no-op.
// ストレージトランザクション
type Tx interface {
	// GetItemForUpdate reads an item and holds it against concurrent writers until the Tx ends
	GetItemForUpdate(ctx context.Context, itemID string) (*InventoryItem, error)
	ListItemsWithSerials(ctx context.Context) ([]InventoryItem, error)
	CreateItem(ctx context.Context, item *InventoryItem) error
	UpdateItem(ctx context.Context, item *InventoryItem) error
	DeleteItem(ctx context.Context, itemID string) error

	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, transactionID string) (*Transaction, error)
	// FindLatestTransfer returns the newest transfer entry for the item; an
	// empty trackingID matches any tracking ID.
	FindLatestTransfer(ctx context.Context, itemID, trackingID string) (*Transaction, error)
	// FindLatestTransaction returns the newest entry for the item whose type is
	// in types; an empty types matches every type.
	FindLatestTransaction(ctx context.Context, itemID string, types []TransactionType) (*Transaction, error)
	// LockItemKey holds the item id against concurrent writers until the Tx
	// ends, even when no item row exists.
	LockItemKey(ctx context.Context, itemID string) error

	CreatePendingReplacement(ctx context.Context, pending *PendingReplacement) error
	GetPendingReplacementForUpdate(ctx context.Context, pendingID string) (*PendingReplacement, error)
	DeletePendingReplacement(ctx context.Context, pendingID string) error

	Commit() error
	Rollback() error
}

// ProjectionCache caches the branch projection between ledger writes.
// Invalidate bumps a generation counter; Set stores the value only while the
// generation still equals the one read by Generation before the ledger replay.
// 支店別在庫の射影キャッシュ
type ProjectionCache interface {
	Get(ctx context.Context) ([]BranchInventory, bool, error)
	Generation(ctx context.Context) (int64, error)
	Set(ctx context.Context, generation int64, value []BranchInventory) error
	Invalidate(ctx context.Context) error
}

// EventPublisher defines interface for publishing inventory events
// 在庫イベント発行のインターフェースを定義
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event StockChangedEvent) error
	PublishItemTransferred(ctx context.Context, event ItemTransferredEvent) error
	PublishReplacementConfirmed(ctx context.Context, event ReplacementConfirmedEvent) error
}

// StockChangedEvent represents a stock level change caused by in/out/return
// 在庫レベル変更イベントを表現
type StockChangedEvent struct {
	ItemID         string    `json:"item_id"`
	Branch         string    `json:"branch,omitempty"`
	OldQuantity    int64     `json:"old_quantity"`
	NewQuantity    int64     `json:"new_quantity"`
	ChangeType     string    `json:"change_type"`
	ItemTrackingID string    `json:"item_tracking_id,omitempty"`
	ItemDeleted    bool      `json:"item_deleted"`
	TransactionID  string    `json:"transaction_id"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id"`
}

// ItemTransferredEvent represents a transfer to a branch
// 支店への移動イベントを表現
type ItemTransferredEvent struct {
	ItemID           string    `json:"item_id"`
	Branch           string    `json:"branch"`
	Quantity         int64     `json:"quantity"`
	ItemTrackingID   string    `json:"item_tracking_id"`
	ReasonKind       string    `json:"reason_kind,omitempty"`
	IsDirectTransfer bool      `json:"is_direct_transfer"`
	ItemDeleted      bool      `json:"item_deleted"`
	TransactionID    string    `json:"transaction_id"`
	Timestamp        time.Time `json:"timestamp"`
	UserID           string    `json:"user_id"`
}

// ReplacementConfirmedEvent represents a confirmed replacement
// 交換確認イベントを表現
type ReplacementConfirmedEvent struct {
	PendingID            string    `json:"pending_id"`
	ItemID               string    `json:"item_id"`
	Branch               string    `json:"branch"`
	ItemTrackingID       string    `json:"item_tracking_id"`
	AssetNumber          string    `json:"asset_number,omitempty"`
	SerialNumber         string    `json:"serial_number,omitempty"`
	ReplacedAssetNumber  string    `json:"replaced_asset_number,omitempty"`
	ReplacedSerialNumber string    `json:"replaced_serial_number,omitempty"`
	TransactionID        string    `json:"transaction_id"`
	Timestamp            time.Time `json:"timestamp"`
	UserID               string    `json:"user_id"`
}
