package inventory

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ListAuditLogs returns the full ledger, newest first
// 監査ログ（全台帳）を取得
func (m *Manager) ListAuditLogs(ctx context.Context) ([]Transaction, error) {
	entries, err := m.storage.ListTransactions(ctx, TransactionFilter{})
	if err != nil {
		m.metrics.operationFailed("list_audit_logs", err)
		return nil, NewStorageError("list_transactions", "監査ログ取得に失敗しました", err)
	}
	return entries, nil
}

// DeleteAuditLog prunes one ledger entry. This is the only mutation the
// ledger allows.
// 監査ログを1件削除
func (m *Manager) DeleteAuditLog(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		err := NewValidationError("id", "Audit log id is required", "")
		m.metrics.operationFailed("delete_audit_log", err)
		return err
	}

	if err := m.storage.DeleteTransaction(ctx, transactionID); err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			nf := NewNotFoundError("transaction", transactionID, "Audit log not found")
			m.metrics.operationFailed("delete_audit_log", nf)
			return nf
		}
		se := NewStorageError("delete_transaction", "監査ログ削除に失敗しました", err)
		m.metrics.operationFailed("delete_audit_log", se)
		return se
	}

	m.afterWrite(ctx)
	m.logger.Info("監査ログ削除完了",
		zap.String("transaction_id", transactionID),
		zap.String("user_id", UserFromContext(ctx)),
	)
	return nil
}

// GetItemHistory returns the ledger entries of one item, newest first
// 商品の台帳履歴を取得
func (m *Manager) GetItemHistory(ctx context.Context, itemID string) ([]Transaction, error) {
	if itemID == "" {
		return nil, NewValidationError("itemId", "Item id is required", "")
	}
	entries, err := m.storage.ListTransactions(ctx, TransactionFilter{ItemID: itemID})
	if err != nil {
		return nil, NewStorageError("list_transactions", "商品履歴の取得に失敗しました", err)
	}
	return entries, nil
}

// ListBranches returns the distinct branch names that received stock via "out"
// 出庫先の支店名一覧を取得
func (m *Manager) ListBranches(ctx context.Context) ([]string, error) {
	branches, err := m.storage.ListBranches(ctx)
	if err != nil {
		return nil, NewStorageError("list_branches", "支店一覧の取得に失敗しました", err)
	}
	return branches, nil
}

// ListBranchStock sums the "out" entries sent to branch per item. Items that
// no longer exist are omitted.
// 支店ごとの出庫数量を商品別に集計
func (m *Manager) ListBranchStock(ctx context.Context, branch string) ([]BranchStockItem, error) {
	if err := ValidateBranch(branch); err != nil {
		return nil, err
	}
	entries, err := m.storage.ListTransactions(ctx, TransactionFilter{
		Types:     []TransactionType{TransactionTypeOut},
		Branch:    branch,
		Ascending: true,
	})
	if err != nil {
		return nil, NewStorageError("list_transactions", "台帳取得に失敗しました", err)
	}

	totals := make(map[string]int64)
	var ids []string
	for _, e := range entries {
		if _, ok := totals[e.ItemID]; !ok {
			ids = append(ids, e.ItemID)
		}
		totals[e.ItemID] += e.Quantity
	}

	live, err := m.storage.GetItemsByIDs(ctx, ids)
	if err != nil {
		return nil, NewStorageError("get_items", "商品取得に失敗しました", err)
	}

	result := make([]BranchStockItem, 0, len(ids))
	for _, id := range ids {
		item, ok := live[id]
		if !ok {
			continue
		}
		result = append(result, BranchStockItem{
			ID:       item.ID,
			Name:     item.Name,
			Category: item.Category,
			Location: item.Location,
			Supplier: item.Supplier,
			Quantity: totals[id],
		})
	}
	return result, nil
}
