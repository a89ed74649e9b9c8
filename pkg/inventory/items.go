package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	reasonItemCreated      = "Item created"
	reasonItemCreatedBatch = "Item created via batch upload/entry"
	reasonItemDeleted      = "Item deleted permanently"
)

// CreateItemRequest carries the input of an item creation
// 商品作成リクエスト
type CreateItemRequest struct {
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	Quantity        int64      `json:"quantity"`
	MaxStock        int64      `json:"maxStock"`
	Supplier        string     `json:"supplier"`
	Model           string     `json:"model"`
	SerialNumber    string     `json:"serialNumber"`
	Warranty        string     `json:"warranty"`
	PurchaseDate    *time.Time `json:"purchaseDate"`
	Location        string     `json:"location"`
	Description     string     `json:"description"`
	AllowDuplicates bool       `json:"allowDuplicates"`
}

// UpdateItemRequest carries a partial item update; nil fields are left unchanged
// 商品更新リクエスト（nilの項目は変更しない）
type UpdateItemRequest struct {
	Name            *string    `json:"name"`
	Category        *string    `json:"category"`
	Quantity        *int64     `json:"quantity"`
	MaxStock        *int64     `json:"maxStock"`
	Supplier        *string    `json:"supplier"`
	Model           *string    `json:"model"`
	SerialNumber    *string    `json:"serialNumber"`
	Warranty        *string    `json:"warranty"`
	PurchaseDate    *time.Time `json:"purchaseDate"`
	Location        *string    `json:"location"`
	Description     *string    `json:"description"`
	AllowDuplicates bool       `json:"allowDuplicates"`
}

// CreateItem creates one item, or one quantity-1 item per serial when a
// comma separated serial list is given. Each record gets a create_item audit
// entry in the same storage transaction.
// 商品を作成（複数シリアルの場合は1件ずつ作成）
func (m *Manager) CreateItem(ctx context.Context, req CreateItemRequest) ([]InventoryItem, error) {
	items, err := m.createItem(ctx, req)
	if err != nil {
		m.metrics.operationFailed("create_item", err)
		return nil, err
	}
	return items, nil
}

func (m *Manager) createItem(ctx context.Context, req CreateItemRequest) ([]InventoryItem, error) {
	userID := UserFromContext(ctx)
	now := m.now()

	purchaseDate := now
	if req.PurchaseDate != nil {
		purchaseDate = *req.PurchaseDate
	}

	template := InventoryItem{
		Name:               req.Name,
		Category:           req.Category,
		Quantity:           req.Quantity,
		MaxStock:           req.MaxStock,
		Supplier:           req.Supplier,
		Model:              req.Model,
		Warranty:           req.Warranty,
		WarrantyExpiryDate: WarrantyExpiry(req.Warranty, now),
		PurchaseDate:       purchaseDate,
		Location:           req.Location,
		Description:        req.Description,
		CreatedBy:          userID,
		LastUpdatedBy:      userID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := ValidateItem(&template); err != nil {
		return nil, err
	}

	serials := SplitSerials(req.SerialNumber)
	var records []InventoryItem
	reason := reasonItemCreated
	switch {
	case len(serials) == 0:
		records = []InventoryItem{template}
	case len(serials) == 1:
		item := template
		item.Quantity = 1
		item.SerialNumber = serials[0]
		records = []InventoryItem{item}
	default:
		reason = reasonItemCreatedBatch
		for _, sn := range serials {
			item := template
			item.Quantity = 1
			item.SerialNumber = sn
			records = append(records, item)
		}
	}

	tx, err := m.storage.Begin(ctx)
	if err != nil {
		return nil, NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	if !req.AllowDuplicates && len(serials) > 0 {
		if err := m.checkDuplicateSerials(ctx, tx, serials, ""); err != nil {
			return nil, err
		}
	}

	for i := range records {
		item := &records[i]
		item.ID = NewID()
		item.Status = StatusForQuantity(item.Quantity)
		if err := tx.CreateItem(ctx, item); err != nil {
			return nil, NewStorageError("create_item", "商品作成に失敗しました", err)
		}
		if err := tx.CreateTransaction(ctx, m.itemAuditEntry(item, TransactionTypeCreateItem, reason, userID, now)); err != nil {
			return nil, NewStorageError("create_transaction", "監査ログ記録に失敗しました", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, NewStorageError("commit", "コミットに失敗しました", err)
	}

	m.logger.Info("商品作成完了",
		zap.String("name", template.Name),
		zap.String("category", template.Category),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// GetItem retrieves an item by ID
// IDで商品を取得
func (m *Manager) GetItem(ctx context.Context, itemID string) (*InventoryItem, error) {
	item, err := m.storage.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, NewNotFoundError("item", itemID, "Item not found")
		}
		return nil, NewStorageError("get_item", "商品取得に失敗しました", err)
	}
	return item, nil
}

// ListItems returns all items, newest first
// 商品一覧を取得
func (m *Manager) ListItems(ctx context.Context) ([]InventoryItem, error) {
	items, err := m.storage.ListItems(ctx)
	if err != nil {
		return nil, NewStorageError("list_items", "商品一覧取得に失敗しました", err)
	}
	return items, nil
}

// UpdateItem applies a partial update. When name, category, quantity,
// maxStock, supplier or location change, an update_item audit entry lists
// the changed fields.
// 商品を更新
func (m *Manager) UpdateItem(ctx context.Context, itemID string, req UpdateItemRequest) (*InventoryItem, error) {
	item, err := m.updateItem(ctx, itemID, req)
	if err != nil {
		m.metrics.operationFailed("update_item", err)
		return nil, err
	}
	return item, nil
}

func (m *Manager) updateItem(ctx context.Context, itemID string, req UpdateItemRequest) (*InventoryItem, error) {
	userID := UserFromContext(ctx)
	now := m.now()

	tx, err := m.storage.Begin(ctx)
	if err != nil {
		return nil, NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, NewNotFoundError("item", itemID, "Item not found")
		}
		return nil, NewStorageError("get_item", "商品取得に失敗しました", err)
	}

	if req.SerialNumber != nil && !req.AllowDuplicates {
		if err := m.checkDuplicateSerials(ctx, tx, SplitSerials(*req.SerialNumber), itemID); err != nil {
			return nil, err
		}
	}

	var changes []string
	if req.Name != nil && *req.Name != item.Name {
		changes = append(changes, "name")
		item.Name = *req.Name
	}
	if req.Category != nil && *req.Category != item.Category {
		changes = append(changes, "category")
		item.Category = *req.Category
	}
	if req.Quantity != nil && *req.Quantity != item.Quantity {
		changes = append(changes, "quantity")
		item.Quantity = *req.Quantity
	}
	if req.MaxStock != nil && *req.MaxStock != item.MaxStock {
		changes = append(changes, "maxStock")
		item.MaxStock = *req.MaxStock
	}
	if req.Supplier != nil && *req.Supplier != item.Supplier {
		changes = append(changes, "supplier")
		item.Supplier = *req.Supplier
	}
	if req.Location != nil && *req.Location != item.Location {
		changes = append(changes, "location")
		item.Location = *req.Location
	}
	if req.Model != nil {
		item.Model = *req.Model
	}
	if req.SerialNumber != nil {
		item.SerialNumber = *req.SerialNumber
	}
	if req.Warranty != nil {
		// 保証期限は作成日を起点に再計算する
		item.Warranty = *req.Warranty
		item.WarrantyExpiryDate = WarrantyExpiry(item.Warranty, item.CreatedAt)
	}
	if req.PurchaseDate != nil {
		item.PurchaseDate = *req.PurchaseDate
	}
	if req.Description != nil {
		item.Description = *req.Description
	}

	if err := ValidateItem(item); err != nil {
		return nil, err
	}

	item.Status = StatusForQuantity(item.Quantity)
	item.LastUpdatedBy = userID
	item.UpdatedAt = now
	if err := tx.UpdateItem(ctx, item); err != nil {
		return nil, NewStorageError("update_item", "商品更新に失敗しました", err)
	}

	if len(changes) > 0 {
		reason := "Updated: " + strings.Join(changes, ", ")
		if err := tx.CreateTransaction(ctx, m.itemAuditEntry(item, TransactionTypeUpdateItem, reason, userID, now)); err != nil {
			return nil, NewStorageError("create_transaction", "監査ログ記録に失敗しました", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, NewStorageError("commit", "コミットに失敗しました", err)
	}

	m.afterWrite(ctx)
	m.logger.Info("商品更新完了",
		zap.String("item_id", item.ID),
		zap.Strings("changes", changes),
	)
	return item, nil
}

// DeleteItem removes an item after recording a delete_item audit entry
// 商品を削除
func (m *Manager) DeleteItem(ctx context.Context, itemID string) error {
	if err := m.deleteItem(ctx, itemID); err != nil {
		m.metrics.operationFailed("delete_item", err)
		return err
	}
	return nil
}

func (m *Manager) deleteItem(ctx context.Context, itemID string) error {
	userID := UserFromContext(ctx)
	now := m.now()

	tx, err := m.storage.Begin(ctx)
	if err != nil {
		return NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return NewNotFoundError("item", itemID, "Item not found")
		}
		return NewStorageError("get_item", "商品取得に失敗しました", err)
	}

	if err := tx.CreateTransaction(ctx, m.itemAuditEntry(item, TransactionTypeDeleteItem, reasonItemDeleted, userID, now)); err != nil {
		return NewStorageError("create_transaction", "監査ログ記録に失敗しました", err)
	}
	if err := tx.DeleteItem(ctx, itemID); err != nil {
		return NewStorageError("delete_item", "商品削除に失敗しました", err)
	}
	if err := tx.Commit(); err != nil {
		return NewStorageError("commit", "コミットに失敗しました", err)
	}

	m.afterWrite(ctx)
	m.logger.Info("商品削除完了", zap.String("item_id", itemID), zap.String("user_id", userID))
	return nil
}

// checkDuplicateSerials rejects serials already used by another item
// 他の商品とのシリアル番号重複を確認
func (m *Manager) checkDuplicateSerials(ctx context.Context, tx Tx, serials []string, excludeItemID string) error {
	if len(serials) == 0 {
		return nil
	}
	existing, err := tx.ListItemsWithSerials(ctx)
	if err != nil {
		return NewStorageError("list_items", "シリアル番号の確認に失敗しました", err)
	}
	if serial, owner := FindDuplicateSerial(serials, existing, excludeItemID); owner != nil {
		return NewValidationError("serialNumber",
			fmt.Sprintf("Serial number '%s' already exists in item '%s'.", serial, owner.Name), serial)
	}
	return nil
}

// itemAuditEntry builds the audit row of an item lifecycle event. The branch
// column carries the item's storage location.
func (m *Manager) itemAuditEntry(item *InventoryItem, t TransactionType, reason, userID string, now time.Time) *Transaction {
	return &Transaction{
		ID:           NewID(),
		ItemID:       item.ID,
		ItemName:     item.Name,
		ItemCategory: item.Category,
		Type:         t,
		Quantity:     item.Quantity,
		Branch:       item.Location,
		Reason:       reason,
		PerformedBy:  userID,
		CreatedAt:    now,
	}
}
