package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/branchledger/pkg/inventory"
)

// PostgreSQLStorage implements the Storage interface using PostgreSQL
// PostgreSQLを使用したStorageインターフェースの実装
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ inventory.Storage = (*PostgreSQLStorage)(nil)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const (
	itemColumns = `id, name, category, quantity, max_stock, serial_number, model, supplier, location,
		warranty, warranty_expiry_date, purchase_date, description, status, created_by, last_updated_by,
		created_at, updated_at`

	transactionColumns = `id, item_id, item_name, item_category, type, quantity, branch, asset_number,
		model, serial_number, item_tracking_id, reason, reason_kind, replaced_asset_number,
		replaced_serial_number, performed_by, created_at`

	pendingColumns = `id, transaction_id, item_id, item_name, branch, item_tracking_id, reason, status, created_at`
)

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if logger == nil {
		logger = zap.NewNop()
	}

	return &PostgreSQLStorage{
		db:     db,
		logger: logger,
	}, nil
}

// Begin starts a new database transaction
// 新しいデータベーストランザクションを開始
func (s *PostgreSQLStorage) Begin(ctx context.Context) (inventory.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

// GetItem retrieves an item by ID
// IDで商品を取得
func (s *PostgreSQLStorage) GetItem(ctx context.Context, itemID string) (*inventory.InventoryItem, error) {
	return getItem(ctx, s.db, itemID, false)
}

// GetItemsByIDs returns the existing items among itemIDs
// 複数IDで商品を取得
func (s *PostgreSQLStorage) GetItemsByIDs(ctx context.Context, itemIDs []string) (map[string]inventory.InventoryItem, error) {
	result := make(map[string]inventory.InventoryItem, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("商品取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = *item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("商品取得に失敗しました: %w", err)
	}
	return result, nil
}

// ListItems returns all items, newest first
// 商品一覧を取得
func (s *PostgreSQLStorage) ListItems(ctx context.Context) ([]inventory.InventoryItem, error) {
	return listItems(ctx, s.db, `SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id`)
}

// GetTransaction retrieves a ledger entry by ID
// IDで台帳エントリを取得
func (s *PostgreSQLStorage) GetTransaction(ctx context.Context, transactionID string) (*inventory.Transaction, error) {
	return getTransaction(ctx, s.db, transactionID)
}

// ListTransactions returns ledger entries matching filter
// 条件に一致する台帳エントリを取得
func (s *PostgreSQLStorage) ListTransactions(ctx context.Context, filter inventory.TransactionFilter) ([]inventory.Transaction, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, pq.Array(types))
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		conditions = append(conditions, fmt.Sprintf("item_id = $%d", len(args)))
	}
	if filter.Branch != "" {
		args = append(args, filter.Branch)
		conditions = append(conditions, fmt.Sprintf("branch = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	if filter.Ascending {
		query += ` ORDER BY created_at ASC, seq ASC`
	} else {
		query += ` ORDER BY created_at DESC, seq DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("台帳取得に失敗しました: %w", err)
	}
	defer rows.Close()

	transactions := []inventory.Transaction{}
	for rows.Next() {
		entry, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("台帳取得に失敗しました: %w", err)
	}
	return transactions, nil
}

// ListBranches returns the distinct branches of "out" entries, sorted
// 出庫先の支店名一覧を取得
func (s *PostgreSQLStorage) ListBranches(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT branch FROM transactions WHERE type = $1 AND branch <> '' ORDER BY branch`
	rows, err := s.db.QueryContext(ctx, query, string(inventory.TransactionTypeOut))
	if err != nil {
		return nil, fmt.Errorf("支店一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	branches := []string{}
	for rows.Next() {
		var branch string
		if err := rows.Scan(&branch); err != nil {
			return nil, fmt.Errorf("支店スキャンに失敗しました: %w", err)
		}
		branches = append(branches, branch)
	}
	return branches, rows.Err()
}

// DeleteTransaction prunes a ledger entry
// 台帳エントリを削除
func (s *PostgreSQLStorage) DeleteTransaction(ctx context.Context, transactionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, transactionID)
	if err != nil {
		return fmt.Errorf("台帳エントリ削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return inventory.ErrTransactionNotFound
	}
	s.logger.Debug("台帳エントリを削除しました", zap.String("transaction_id", transactionID))
	return nil
}

// ListPendingReplacements returns pending replacements, newest first
// 交換確認待ち一覧を取得
func (s *PostgreSQLStorage) ListPendingReplacements(ctx context.Context) ([]inventory.PendingReplacement, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_replacements ORDER BY created_at DESC, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("交換確認待ち一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	pending := []inventory.PendingReplacement{}
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *p)
	}
	return pending, rows.Err()
}

// Ping checks database connectivity
// データベース接続をチェック
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// postgresTx implements inventory.Tx over *sql.Tx
type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) GetItemForUpdate(ctx context.Context, itemID string) (*inventory.InventoryItem, error) {
	return getItem(ctx, t.tx, itemID, true)
}

func (t *postgresTx) ListItemsWithSerials(ctx context.Context) ([]inventory.InventoryItem, error) {
	return listItems(ctx, t.tx, `SELECT `+itemColumns+` FROM items WHERE serial_number <> '' ORDER BY id`)
}

func (t *postgresTx) CreateItem(ctx context.Context, item *inventory.InventoryItem) error {
	query := `INSERT INTO items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := t.tx.ExecContext(ctx, query,
		item.ID,
		item.Name,
		item.Category,
		item.Quantity,
		item.MaxStock,
		item.SerialNumber,
		item.Model,
		item.Supplier,
		item.Location,
		item.Warranty,
		item.WarrantyExpiryDate,
		item.PurchaseDate,
		item.Description,
		string(item.Status),
		item.CreatedBy,
		item.LastUpdatedBy,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return inventory.ErrDuplicateItem
		}
		return fmt.Errorf("商品作成に失敗しました: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateItem(ctx context.Context, item *inventory.InventoryItem) error {
	query := `
		UPDATE items
		SET name = $2, category = $3, quantity = $4, max_stock = $5, serial_number = $6, model = $7,
			supplier = $8, location = $9, warranty = $10, warranty_expiry_date = $11, purchase_date = $12,
			description = $13, status = $14, last_updated_by = $15, updated_at = $16
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query,
		item.ID,
		item.Name,
		item.Category,
		item.Quantity,
		item.MaxStock,
		item.SerialNumber,
		item.Model,
		item.Supplier,
		item.Location,
		item.Warranty,
		item.WarrantyExpiryDate,
		item.PurchaseDate,
		item.Description,
		string(item.Status),
		item.LastUpdatedBy,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("商品更新に失敗しました: %w", err)
	}
	return requireRow(result, inventory.ErrItemNotFound)
}

func (t *postgresTx) DeleteItem(ctx context.Context, itemID string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("商品削除に失敗しました: %w", err)
	}
	return requireRow(result, inventory.ErrItemNotFound)
}

func (t *postgresTx) CreateTransaction(ctx context.Context, entry *inventory.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := t.tx.ExecContext(ctx, query,
		entry.ID,
		entry.ItemID,
		entry.ItemName,
		entry.ItemCategory,
		string(entry.Type),
		entry.Quantity,
		entry.Branch,
		entry.AssetNumber,
		entry.Model,
		entry.SerialNumber,
		entry.ItemTrackingID,
		entry.Reason,
		string(entry.ReasonKind),
		entry.ReplacedAssetNumber,
		entry.ReplacedSerialNumber,
		entry.PerformedBy,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("台帳記録に失敗しました: %w", err)
	}
	return nil
}

func (t *postgresTx) GetTransaction(ctx context.Context, transactionID string) (*inventory.Transaction, error) {
	return getTransaction(ctx, t.tx, transactionID)
}

func (t *postgresTx) FindLatestTransfer(ctx context.Context, itemID, trackingID string) (*inventory.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE type = $1 AND item_id = $2 AND ($3::text = '' OR item_tracking_id = $3::text)
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`

	entry, err := scanTransaction(t.tx.QueryRowContext(ctx, query, string(inventory.TransactionTypeTransfer), itemID, trackingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrTransactionNotFound
	}
	return entry, err
}

func (t *postgresTx) FindLatestTransaction(ctx context.Context, itemID string, types []inventory.TransactionType) (*inventory.Transaction, error) {
	names := make([]string, len(types))
	for i, typ := range types {
		names[i] = string(typ)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE item_id = $1 AND (cardinality($2::text[]) = 0 OR type = ANY($2::text[]))
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`

	entry, err := scanTransaction(t.tx.QueryRowContext(ctx, query, itemID, pq.Array(names)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrTransactionNotFound
	}
	return entry, err
}

// LockItemKey serialises writers on an item id that may have no row yet
func (t *postgresTx) LockItemKey(ctx context.Context, itemID string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, itemID); err != nil {
		return fmt.Errorf("商品ロックの取得に失敗しました: %w", err)
	}
	return nil
}

func (t *postgresTx) CreatePendingReplacement(ctx context.Context, pending *inventory.PendingReplacement) error {
	query := `INSERT INTO pending_replacements (` + pendingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.ExecContext(ctx, query,
		pending.ID,
		pending.TransactionID,
		pending.ItemID,
		pending.ItemName,
		pending.Branch,
		pending.ItemTrackingID,
		pending.Reason,
		string(pending.Status),
		pending.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("交換確認待ちの作成に失敗しました: %w", err)
	}
	return nil
}

func (t *postgresTx) GetPendingReplacementForUpdate(ctx context.Context, pendingID string) (*inventory.PendingReplacement, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_replacements WHERE id = $1 FOR UPDATE`
	p, err := scanPending(t.tx.QueryRowContext(ctx, query, pendingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrPendingReplacementNotFound
	}
	return p, err
}

func (t *postgresTx) DeletePendingReplacement(ctx context.Context, pendingID string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM pending_replacements WHERE id = $1`, pendingID)
	if err != nil {
		return fmt.Errorf("交換確認待ちの削除に失敗しました: %w", err)
	}
	return requireRow(result, inventory.ErrPendingReplacementNotFound)
}

func (t *postgresTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return inventory.ErrTxDone
		}
		return fmt.Errorf("コミットに失敗しました: %w", err)
	}
	return nil
}

func (t *postgresTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("ロールバックに失敗しました: %w", err)
	}
	return nil
}

// ヘルパー関数

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func getItem(ctx context.Context, q queryer, itemID string, forUpdate bool) (*inventory.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	item, err := scanItem(q.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrItemNotFound
	}
	return item, err
}

func listItems(ctx context.Context, q queryer, query string, args ...interface{}) ([]inventory.InventoryItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("商品一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := []inventory.InventoryItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("商品一覧取得に失敗しました: %w", err)
	}
	return items, nil
}

func getTransaction(ctx context.Context, q queryer, transactionID string) (*inventory.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	entry, err := scanTransaction(q.QueryRowContext(ctx, query, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrTransactionNotFound
	}
	return entry, err
}

func scanItem(row rowScanner) (*inventory.InventoryItem, error) {
	var (
		item   inventory.InventoryItem
		status string
		expiry sql.NullTime
	)
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Category,
		&item.Quantity,
		&item.MaxStock,
		&item.SerialNumber,
		&item.Model,
		&item.Supplier,
		&item.Location,
		&item.Warranty,
		&expiry,
		&item.PurchaseDate,
		&item.Description,
		&status,
		&item.CreatedBy,
		&item.LastUpdatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("商品スキャンに失敗しました: %w", err)
	}
	item.Status = inventory.ItemStatus(status)
	if expiry.Valid {
		t := expiry.Time
		item.WarrantyExpiryDate = &t
	}
	return &item, nil
}

func scanTransaction(row rowScanner) (*inventory.Transaction, error) {
	var (
		entry      inventory.Transaction
		txType     string
		reasonKind string
	)
	err := row.Scan(
		&entry.ID,
		&entry.ItemID,
		&entry.ItemName,
		&entry.ItemCategory,
		&txType,
		&entry.Quantity,
		&entry.Branch,
		&entry.AssetNumber,
		&entry.Model,
		&entry.SerialNumber,
		&entry.ItemTrackingID,
		&entry.Reason,
		&reasonKind,
		&entry.ReplacedAssetNumber,
		&entry.ReplacedSerialNumber,
		&entry.PerformedBy,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("台帳エントリスキャンに失敗しました: %w", err)
	}
	entry.Type = inventory.TransactionType(txType)
	entry.ReasonKind = inventory.ReasonKind(reasonKind)
	return &entry, nil
}

func scanPending(row rowScanner) (*inventory.PendingReplacement, error) {
	var (
		p      inventory.PendingReplacement
		status string
	)
	err := row.Scan(
		&p.ID,
		&p.TransactionID,
		&p.ItemID,
		&p.ItemName,
		&p.Branch,
		&p.ItemTrackingID,
		&p.Reason,
		&status,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("交換確認待ちスキャンに失敗しました: %w", err)
	}
	p.Status = inventory.PendingReplacementStatus(status)
	return &p, nil
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
