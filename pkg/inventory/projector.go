package inventory

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

type noopProjectionCache struct{}

func (noopProjectionCache) Get(context.Context) ([]BranchInventory, bool, error) {
	return nil, false, nil
}

func (noopProjectionCache) Generation(context.Context) (int64, error) {
	return 0, nil
}

func (noopProjectionCache) Set(context.Context, int64, []BranchInventory) error {
	return nil
}

func (noopProjectionCache) Invalidate(context.Context) error {
	return nil
}

// ListTransferredItems replays every transfer and return entry and returns
// the positive net positions grouped by branch.
// 移動・返却記録を再生し支店別の正味在庫を返す
func (m *Manager) ListTransferredItems(ctx context.Context) ([]BranchInventory, error) {
	if cached, ok, err := m.cache.Get(ctx); err != nil {
		m.logger.Warn("射影キャッシュの取得に失敗しました", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	// 台帳を読む前の世代。再生中に書き込みがあれば保存はスキップされる
	generation, genErr := m.cache.Generation(ctx)
	if genErr != nil {
		m.logger.Warn("射影キャッシュの世代取得に失敗しました", zap.Error(genErr))
	}

	entries, err := m.storage.ListTransactions(ctx, TransactionFilter{
		Types:     []TransactionType{TransactionTypeTransfer, TransactionTypeReturn},
		Ascending: true,
	})
	if err != nil {
		m.metrics.operationFailed("list_transferred_items", err)
		return nil, NewStorageError("list_transactions", "台帳取得に失敗しました", err)
	}

	ids := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ItemID != "" && !seen[e.ItemID] {
			seen[e.ItemID] = true
			ids = append(ids, e.ItemID)
		}
	}
	live, err := m.storage.GetItemsByIDs(ctx, ids)
	if err != nil {
		m.metrics.operationFailed("list_transferred_items", err)
		return nil, NewStorageError("get_items", "商品取得に失敗しました", err)
	}

	result := ProjectBranches(entries, live)
	m.metrics.projectionReplayed()

	if genErr == nil {
		if err := m.cache.Set(ctx, generation, result); err != nil {
			m.logger.Warn("射影キャッシュの保存に失敗しました", zap.Error(err))
		}
	}
	return result, nil
}

type positionKey struct {
	branch     string
	itemID     string
	trackingID string
}

type position struct {
	key  positionKey
	net  int64
	last Transaction
}

// ProjectBranches folds ledger entries into branch net positions.
//
// Entries are processed in createdAt order; transfer adds and return
// subtracts. Groups are keyed by (branch, itemId, itemTrackingId) and take
// their display fields from the last entry of the group. Groups with a net
// quantity <= 0 are dropped. Name and category come from the live item when
// present in live, otherwise from the ledger. Branches are sorted by name and
// items keep the order in which their group first appeared.
// 台帳エントリを支店別の正味在庫に集約
func ProjectBranches(entries []Transaction, live map[string]InventoryItem) []BranchInventory {
	ordered := make([]Transaction, 0, len(entries))
	for _, e := range entries {
		if e.Type == TransactionTypeTransfer || e.Type == TransactionTypeReturn {
			ordered = append(ordered, e)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	groups := make(map[positionKey]*position)
	var order []positionKey
	for _, e := range ordered {
		signed := e.Quantity
		if e.Type == TransactionTypeReturn {
			signed = -signed
		}
		key := positionKey{branch: e.Branch, itemID: e.ItemID, trackingID: e.ItemTrackingID}
		p, ok := groups[key]
		if !ok {
			p = &position{key: key}
			groups[key] = p
			order = append(order, key)
		}
		p.net += signed
		p.last = e
	}

	byBranch := make(map[string][]BranchItem)
	var branches []string
	for _, key := range order {
		p := groups[key]
		if p.net <= 0 {
			continue
		}
		name, category := p.last.ItemName, p.last.ItemCategory
		if item, ok := live[key.itemID]; ok {
			name, category = item.Name, item.Category
		}
		if _, ok := byBranch[key.branch]; !ok {
			branches = append(branches, key.branch)
		}
		byBranch[key.branch] = append(byBranch[key.branch], BranchItem{
			ID:             key.itemID,
			Name:           name,
			Category:       category,
			Quantity:       p.net,
			AssetNumber:    p.last.AssetNumber,
			Model:          p.last.Model,
			SerialNumber:   p.last.SerialNumber,
			ItemTrackingID: key.trackingID,
			Reason:         p.last.Reason,
			TransferDate:   p.last.CreatedAt,
		})
	}

	sort.Strings(branches)
	result := make([]BranchInventory, 0, len(branches))
	for _, b := range branches {
		result = append(result, BranchInventory{Branch: b, Items: byBranch[b]})
	}
	return result
}
