package inventory

import (
	"errors"
	"fmt"
	"net/http"
)

// Storage level sentinel errors
// ストレージ層のセンチネルエラー定義

var (
	// ErrItemNotFound is returned when an item doesn't exist
	// 商品が存在しない場合のエラー
	ErrItemNotFound = errors.New("inventory item not found")

	// ErrTransactionNotFound is returned when a ledger entry doesn't exist
	// 台帳エントリが存在しない場合のエラー
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrPendingReplacementNotFound is returned when a pending replacement doesn't exist
	// 交換確認待ちが存在しない場合のエラー
	ErrPendingReplacementNotFound = errors.New("pending replacement not found")

	// ErrDuplicateItem is returned when trying to create an item that already exists
	// 既に存在する商品を作成しようとした場合のエラー
	ErrDuplicateItem = errors.New("inventory item already exists")

	// ErrTxDone is returned when a storage transaction is used after commit or rollback
	ErrTxDone = errors.New("storage transaction already finished")
)

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e ValidationError) Error() string {
	return e.Message
}

// NotFoundError represents a missing item, pending replacement or ledger entry
// 対象が見つからない場合のエラーを表現
type NotFoundError struct {
	Resource string `json:"resource"` // リソース種別
	ID       string `json:"id"`       // 識別子
	Message  string `json:"message"`  // エラーメッセージ
}

func (e NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InsufficientStockError is returned when a decrement exceeds on-hand quantity
// 在庫不足エラーを表現
type InsufficientStockError struct {
	ItemID    string `json:"itemId"`
	Available int64  `json:"available"`
	Requested int64  `json:"requested"`
	Operation string `json:"operation"`
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for this %s (available: %d, requested: %d)", e.Operation, e.Available, e.Requested)
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage error [%s]: %s (cause: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("storage error [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewNotFoundError creates a new not found error
// 新しい未検出エラーを作成
func NewNotFoundError(resource, id, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
		Message:  message,
	}
}

// NewInsufficientStockError creates a new insufficient stock error
// 新しい在庫不足エラーを作成
func NewInsufficientStockError(operation, itemID string, available, requested int64) *InsufficientStockError {
	return &InsufficientStockError{
		ItemID:    itemID,
		Available: available,
		Requested: requested,
		Operation: operation,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// ErrorKind classifies an error for metrics and logging
// エラー種別を返す
func ErrorKind(err error) string {
	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		stockErr      *InsufficientStockError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	default:
		return "persistence"
	}
}

// HTTPStatus maps an error to its HTTP status code
// エラーをHTTPステータスコードに変換
func HTTPStatus(err error) int {
	switch ErrorKind(err) {
	case "none":
		return http.StatusOK
	case "validation", "insufficient_stock":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
