// Package inventory provides the branch transfer, stock movement and
// replacement confirmation workflow over an append-only transaction ledger.
package inventory

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the stock status of an inventory item
// 商品の在庫ステータス
type ItemStatus string

const (
	ItemStatusInStock    ItemStatus = "in-stock"
	ItemStatusOutOfStock ItemStatus = "out-of-stock"
	// ItemStatusLowStock is only ever read from legacy rows; no writer sets it.
	ItemStatusLowStock ItemStatus = "low-stock"
	// ItemStatusTransferred marks the synthesized projection returned when a
	// transfer removed the last unit of an item.
	ItemStatusTransferred ItemStatus = "transferred"
)

// StatusForQuantity derives the item status from its quantity
// 数量から在庫ステータスを算出
func StatusForQuantity(quantity int64) ItemStatus {
	if quantity == 0 {
		return ItemStatusOutOfStock
	}
	return ItemStatusInStock
}

// InventoryItem represents a record in the central inventory
// 中央在庫の商品レコードを表現
type InventoryItem struct {
	ID                 string     `json:"id" db:"id"`                                             // 商品ID
	Name               string     `json:"name" db:"name"`                                         // 商品名
	Category           string     `json:"category" db:"category"`                                 // カテゴリ名
	Quantity           int64      `json:"quantity" db:"quantity"`                                 // 在庫数量
	MaxStock           int64      `json:"maxStock" db:"max_stock"`                                // 最大在庫
	SerialNumber       string     `json:"serialNumber" db:"serial_number"`                        // シリアル番号（カンマ区切り）
	Model              string     `json:"model" db:"model"`                                       // 型番
	Supplier           string     `json:"supplier" db:"supplier"`                                 // 仕入先
	Location           string     `json:"location" db:"location"`                                 // 保管場所
	Warranty           string     `json:"warranty" db:"warranty"`                                 // 保証内容
	WarrantyExpiryDate *time.Time `json:"warrantyExpiryDate,omitempty" db:"warranty_expiry_date"` // 保証期限
	PurchaseDate       time.Time  `json:"purchaseDate" db:"purchase_date"`                        // 購入日
	Description        string     `json:"description" db:"description"`                           // 説明
	Status             ItemStatus `json:"status" db:"status"`                                     // ステータス
	CreatedBy          string     `json:"createdBy" db:"created_by"`                              // 作成者
	LastUpdatedBy      string     `json:"lastUpdatedBy" db:"last_updated_by"`                     // 最終更新者
	CreatedAt          time.Time  `json:"createdAt" db:"created_at"`                              // 作成日時
	UpdatedAt          time.Time  `json:"updatedAt" db:"updated_at"`                              // 更新日時
}

// Serials returns the distinct serial numbers of the item
// 商品のシリアル番号一覧を返す
func (i *InventoryItem) Serials() []string {
	return SplitSerials(i.SerialNumber)
}

// TransactionType defines the kind of ledger entry
// 台帳エントリの種別を定義
type TransactionType string

const (
	TransactionTypeIn             TransactionType = "in"
	TransactionTypeOut            TransactionType = "out"
	TransactionTypeReturn         TransactionType = "return"
	TransactionTypeTransfer       TransactionType = "transfer"
	TransactionTypeConfirmation   TransactionType = "confirmation"
	TransactionTypeCreateItem     TransactionType = "create_item"
	TransactionTypeUpdateItem     TransactionType = "update_item"
	TransactionTypeDeleteItem     TransactionType = "delete_item"
	TransactionTypeCreateCategory TransactionType = "create_category"
	TransactionTypeDeleteCategory TransactionType = "delete_category"
	TransactionTypeCreateUser     TransactionType = "create_user"
	TransactionTypeDeleteUser     TransactionType = "delete_user"
	TransactionTypeSystemChange   TransactionType = "system_change"
)

// IsStockAffecting reports whether entries of this type change the quantity
// of the central item
// 中央在庫の数量を変更する種別かどうか
func (t TransactionType) IsStockAffecting() bool {
	switch t {
	case TransactionTypeIn, TransactionTypeOut, TransactionTypeReturn, TransactionTypeTransfer:
		return true
	}
	return false
}

// RequiresBranch reports whether entries of this type must name a branch
// 支店指定が必須の種別かどうか
func (t TransactionType) RequiresBranch() bool {
	return t == TransactionTypeOut || t == TransactionTypeReturn || t == TransactionTypeTransfer
}

// Transaction is an immutable ledger entry
// 不変の台帳エントリを表現
type Transaction struct {
	ID                   string          `json:"id" db:"id"`                                                 // トランザクションID
	ItemID               string          `json:"itemId,omitempty" db:"item_id"`                              // 商品ID
	ItemName             string          `json:"itemName,omitempty" db:"item_name"`                          // 商品名（記録時点）
	ItemCategory         string          `json:"itemCategory,omitempty" db:"item_category"`                  // カテゴリ（記録時点）
	Type                 TransactionType `json:"type" db:"type"`                                             // 種別
	Quantity             int64           `json:"quantity" db:"quantity"`                                     // 数量
	Branch               string          `json:"branch,omitempty" db:"branch"`                               // 支店
	AssetNumber          string          `json:"assetNumber,omitempty" db:"asset_number"`                    // 資産番号
	Model                string          `json:"model,omitempty" db:"model"`                                 // 型番
	SerialNumber         string          `json:"serialNumber,omitempty" db:"serial_number"`                  // シリアル番号
	ItemTrackingID       string          `json:"itemTrackingId,omitempty" db:"item_tracking_id"`             // 追跡ID
	Reason               string          `json:"reason,omitempty" db:"reason"`                               // 理由（表示用）
	ReasonKind           ReasonKind      `json:"reasonKind,omitempty" db:"reason_kind"`                      // 理由種別
	ReplacedAssetNumber  string          `json:"replacedAssetNumber,omitempty" db:"replaced_asset_number"`   // 交換前資産番号
	ReplacedSerialNumber string          `json:"replacedSerialNumber,omitempty" db:"replaced_serial_number"` // 交換前シリアル番号
	PerformedBy          string          `json:"performedBy,omitempty" db:"performed_by"`                    // 実行者
	CreatedAt            time.Time       `json:"createdAt" db:"created_at"`                                  // 作成日時
}

// PendingReplacementStatus is the state of a pending replacement row
type PendingReplacementStatus string

const (
	PendingReplacementStatusPending PendingReplacementStatus = "Pending"
	// PendingReplacementStatusCompleted is never persisted: confirmation deletes the row.
	PendingReplacementStatusCompleted PendingReplacementStatus = "Completed"
)

// PendingReplacement is an outstanding replacement awaiting confirmation
// 確認待ちの交換機器を表現
type PendingReplacement struct {
	ID             string                   `json:"id" db:"id"`
	TransactionID  string                   `json:"transactionId" db:"transaction_id"`
	ItemID         string                   `json:"itemId" db:"item_id"`
	ItemName       string                   `json:"itemName" db:"item_name"`
	Branch         string                   `json:"branch" db:"branch"`
	ItemTrackingID string                   `json:"itemTrackingId" db:"item_tracking_id"`
	Reason         string                   `json:"reason" db:"reason"`
	Status         PendingReplacementStatus `json:"status" db:"status"`
	CreatedAt      time.Time                `json:"createdAt" db:"created_at"`
}

// BranchItem is the net position of one tracked unit group at a branch
// 支店における追跡ID単位の正味在庫を表現
type BranchItem struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Quantity       int64     `json:"quantity"`
	AssetNumber    string    `json:"assetNumber"`
	Model          string    `json:"model"`
	SerialNumber   string    `json:"serialNumber"`
	ItemTrackingID string    `json:"itemTrackingId"`
	Reason         string    `json:"reason"`
	TransferDate   time.Time `json:"transferDate"`
}

// BranchInventory groups net positions by branch
// 支店ごとの正味在庫一覧
type BranchInventory struct {
	Branch string       `json:"branch"`
	Items  []BranchItem `json:"items"`
}

// TransferRequest carries the input of a transfer to a branch
// 支店への移動リクエスト
type TransferRequest struct {
	ItemID         string `json:"itemId"`
	ItemName       string `json:"itemName"`
	ItemCategory   string `json:"itemCategory"`
	Quantity       int64  `json:"quantity"`
	Branch         string `json:"branch"`
	ItemTrackingID string `json:"itemTrackingId"`
	AssetNumber    string `json:"assetNumber"`
	Model          string `json:"model"`
	SerialNumber   string `json:"serialNumber"`
	Reason         string `json:"reason"`
}

// IsDirect reports whether the request targets stock not tracked centrally
func (r TransferRequest) IsDirect() bool {
	return r.ItemID == ""
}

// StockMoveRequest carries the input of an in/out/return movement
// 入庫・出庫・返却リクエスト
type StockMoveRequest struct {
	ItemID         string          `json:"itemId"`
	Type           TransactionType `json:"type"`
	Quantity       int64           `json:"quantity"`
	Branch         string          `json:"branch"`
	ItemTrackingID string          `json:"itemTrackingId"`
}

// ConfirmRequest carries the identifiers of the unit taken out of service
// 交換確認リクエスト
type ConfirmRequest struct {
	ReplacementAssetNumber  string `json:"replacementAssetNumber"`
	ReplacementSerialNumber string `json:"replacementSerialNumber"`
}

// MovementResult is the outcome of a transfer or stock movement
// 在庫移動の結果
type MovementResult struct {
	Transaction      *Transaction   `json:"transaction"`
	Item             *InventoryItem `json:"item"`
	ItemDeleted      bool           `json:"itemDeleted"`
	IsDirectTransfer *bool          `json:"isDirectTransfer,omitempty"`
}

// TransactionFilter narrows ledger queries
// 台帳検索条件
type TransactionFilter struct {
	Types     []TransactionType
	ItemID    string
	Branch    string
	Ascending bool
}

// BranchStockItem is the total quantity of an item sent out to one branch
// 支店への出庫合計
type BranchStockItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Location string `json:"location"`
	Supplier string `json:"supplier"`
	Quantity int64  `json:"quantity"`
}

// NewID generates a new entity ID
// 新しいIDを生成
func NewID() string {
	return uuid.New().String()
}
