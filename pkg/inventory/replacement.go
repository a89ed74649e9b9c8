package inventory

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// fallbackReplacementCategory is recorded when neither the live item nor the
// original transfer knows the category.
const fallbackReplacementCategory = "Replacement"

// ListPendingReplacements returns open replacements, newest first
// 交換確認待ち一覧を取得
func (m *Manager) ListPendingReplacements(ctx context.Context) ([]PendingReplacement, error) {
	pending, err := m.storage.ListPendingReplacements(ctx)
	if err != nil {
		m.metrics.operationFailed("list_pending_replacements", err)
		return nil, NewStorageError("list_pending_replacements", "交換確認待ち一覧の取得に失敗しました", err)
	}
	return pending, nil
}

// ConfirmReplacement closes a pending replacement. It appends a confirmation
// entry carrying the installed unit's identifiers (from the originating
// transfer) and the replaced unit's identifiers (from req), then deletes the
// pending row. Both writes commit together.
// 交換を確認し確認記録を追加
func (m *Manager) ConfirmReplacement(ctx context.Context, pendingID string, req ConfirmRequest) (*Transaction, error) {
	entry, err := m.confirmReplacement(ctx, pendingID, req)
	if err != nil {
		m.metrics.operationFailed("confirm_replacement", err)
		return nil, err
	}
	return entry, nil
}

func (m *Manager) confirmReplacement(ctx context.Context, pendingID string, req ConfirmRequest) (*Transaction, error) {
	if pendingID == "" {
		return nil, NewValidationError("id", "Pending replacement id is required", "")
	}

	userID := UserFromContext(ctx)
	now := m.now()

	tx, err := m.storage.Begin(ctx)
	if err != nil {
		return nil, NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}
	defer tx.Rollback()

	pending, err := tx.GetPendingReplacementForUpdate(ctx, pendingID)
	if err != nil {
		if errors.Is(err, ErrPendingReplacementNotFound) {
			return nil, NewNotFoundError("pending_replacement", pendingID, "Pending replacement not found")
		}
		return nil, NewStorageError("get_pending_replacement", "交換確認待ちの取得に失敗しました", err)
	}

	// 移動時に記録された新しい機器の資産番号・シリアル番号
	var original *Transaction
	original, err = tx.GetTransaction(ctx, pending.TransactionID)
	if err != nil && !errors.Is(err, ErrTransactionNotFound) {
		return nil, NewStorageError("get_transaction", "元の移動記録の取得に失敗しました", err)
	}

	category := fallbackReplacementCategory
	item, err := tx.GetItemForUpdate(ctx, pending.ItemID)
	switch {
	case err == nil:
		category = item.Category
	case errors.Is(err, ErrItemNotFound):
		if original != nil && original.ItemCategory != "" {
			category = original.ItemCategory
		}
	default:
		return nil, NewStorageError("get_item", "商品取得に失敗しました", err)
	}

	entry := &Transaction{
		ID:                   NewID(),
		ItemID:               pending.ItemID,
		ItemName:             pending.ItemName,
		ItemCategory:         category,
		Type:                 TransactionTypeConfirmation,
		Quantity:             1,
		Branch:               pending.Branch,
		ItemTrackingID:       pending.ItemTrackingID,
		Reason:               ConfirmationReason(pending.Reason, req.ReplacementAssetNumber, req.ReplacementSerialNumber),
		ReasonKind:           ReasonKindReplacementEquipment,
		ReplacedAssetNumber:  req.ReplacementAssetNumber,
		ReplacedSerialNumber: req.ReplacementSerialNumber,
		PerformedBy:          userID,
		CreatedAt:            now,
	}
	if original != nil {
		entry.AssetNumber = original.AssetNumber
		entry.SerialNumber = original.SerialNumber
	}

	if err := tx.CreateTransaction(ctx, entry); err != nil {
		return nil, NewStorageError("create_transaction", "交換確認記録に失敗しました", err)
	}
	if err := tx.DeletePendingReplacement(ctx, pending.ID); err != nil {
		return nil, NewStorageError("delete_pending_replacement", "交換確認待ちの削除に失敗しました", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, NewStorageError("commit", "コミットに失敗しました", err)
	}

	m.metrics.replacementConfirmed()
	if m.publisher != nil {
		event := ReplacementConfirmedEvent{
			PendingID:            pending.ID,
			ItemID:               entry.ItemID,
			Branch:               entry.Branch,
			ItemTrackingID:       entry.ItemTrackingID,
			AssetNumber:          entry.AssetNumber,
			SerialNumber:         entry.SerialNumber,
			ReplacedAssetNumber:  entry.ReplacedAssetNumber,
			ReplacedSerialNumber: entry.ReplacedSerialNumber,
			TransactionID:        entry.ID,
			Timestamp:            now,
			UserID:               userID,
		}
		if err := m.publisher.PublishReplacementConfirmed(ctx, event); err != nil {
			m.logger.Error("交換確認イベント発行に失敗しました", zap.String("transaction_id", entry.ID), zap.Error(err))
		}
	}

	m.logger.Info("交換確認完了",
		zap.String("pending_id", pending.ID),
		zap.String("item_id", entry.ItemID),
		zap.String("branch", entry.Branch),
		zap.String("item_tracking_id", entry.ItemTrackingID),
	)

	return entry, nil
}

// ListConfirmedReplacements returns confirmation entries, newest first
// 確認済み交換一覧を取得
func (m *Manager) ListConfirmedReplacements(ctx context.Context) ([]Transaction, error) {
	entries, err := m.storage.ListTransactions(ctx, TransactionFilter{
		Types: []TransactionType{TransactionTypeConfirmation},
	})
	if err != nil {
		m.metrics.operationFailed("list_confirmed_replacements", err)
		return nil, NewStorageError("list_transactions", "確認済み交換一覧の取得に失敗しました", err)
	}
	return entries, nil
}
