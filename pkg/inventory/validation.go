package inventory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTrackingIDPrefix is the literal prefix every item tracking ID carries
const DefaultTrackingIDPrefix = "CRE"

// ValidateQuantity 数量をバリデーション
func ValidateQuantity(quantity int64) error {
	if quantity <= 0 {
		return NewValidationError("quantity", "Quantity must be a positive number", fmt.Sprintf("%d", quantity))
	}
	if quantity > 999999999 {
		return NewValidationError("quantity", "Quantity is out of range", fmt.Sprintf("%d", quantity))
	}
	return nil
}

// ValidateBranch 支店名をバリデーション
func ValidateBranch(branch string) error {
	if strings.TrimSpace(branch) == "" {
		return NewValidationError("branch", "Branch is required", branch)
	}
	if len(branch) > 255 {
		return NewValidationError("branch", "Branch name is too long", branch)
	}
	return nil
}

// ValidateTrackingID 追跡IDの形式をバリデーション（大文字小文字を区別）
func ValidateTrackingID(trackingID, prefix string) error {
	if trackingID == "" {
		return NewValidationError("itemTrackingId", "Item Tracking ID is required", trackingID)
	}
	if !strings.HasPrefix(trackingID, prefix) {
		return NewValidationError("itemTrackingId", fmt.Sprintf("Item Tracking ID must start with %q", prefix), trackingID)
	}
	return nil
}

// ValidateTransferRequest 移動リクエスト全体をバリデーションし、解析済みの理由を返す
func ValidateTransferRequest(req TransferRequest, trackingPrefix string) (Reason, error) {
	if req.ItemID == "" && (strings.TrimSpace(req.ItemName) == "" || strings.TrimSpace(req.ItemCategory) == "") {
		return Reason{}, NewValidationError("itemId",
			"Missing required fields. Provide either itemId OR (itemName and itemCategory), plus quantity, branch, and itemTrackingId.", "")
	}
	if err := ValidateQuantity(req.Quantity); err != nil {
		return Reason{}, err
	}
	if err := ValidateBranch(req.Branch); err != nil {
		return Reason{}, err
	}
	if err := ValidateTrackingID(req.ItemTrackingID, trackingPrefix); err != nil {
		return Reason{}, err
	}
	return ParseReason(req.Reason)
}

// ValidateStockMoveRequest 入出庫リクエストをバリデーション
func ValidateStockMoveRequest(req StockMoveRequest) error {
	if req.ItemID == "" {
		return NewValidationError("itemId", "Missing required fields", "")
	}
	switch req.Type {
	case TransactionTypeIn, TransactionTypeOut, TransactionTypeReturn:
	default:
		return NewValidationError("type", "Type must be one of in, out, return", string(req.Type))
	}
	if err := ValidateQuantity(req.Quantity); err != nil {
		return err
	}
	if req.Type.RequiresBranch() && strings.TrimSpace(req.Branch) == "" {
		return NewValidationError("branch", `Branch is required for "out" and "return" transactions`, "")
	}
	return nil
}

// ValidateItemName 商品名をバリデーション
func ValidateItemName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "Item name is required", name)
	}
	if len(name) > 500 {
		return NewValidationError("name", "Item name is too long", name)
	}
	return nil
}

// ValidateCategory カテゴリをバリデーション
func ValidateCategory(category string) error {
	if strings.TrimSpace(category) == "" {
		return NewValidationError("category", "Category is required", category)
	}
	if len(category) > 255 {
		return NewValidationError("category", "Category is too long", category)
	}
	return nil
}

// ValidateItem 商品全体をバリデーション
func ValidateItem(item *InventoryItem) error {
	if item == nil {
		return NewValidationError("item", "Item is required", "nil")
	}
	if err := ValidateItemName(item.Name); err != nil {
		return err
	}
	if err := ValidateCategory(item.Category); err != nil {
		return err
	}
	if item.Quantity < 0 {
		return NewValidationError("quantity", "Quantity cannot be negative", fmt.Sprintf("%d", item.Quantity))
	}
	if strings.TrimSpace(item.Location) == "" {
		return NewValidationError("location", "Location is required", item.Location)
	}
	return nil
}

// SplitSerials splits a comma-joined serial list, trimming blanks
// カンマ区切りのシリアル番号を分割
func SplitSerials(serialNumber string) []string {
	if serialNumber == "" {
		return nil
	}
	parts := strings.Split(serialNumber, ",")
	serials := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			serials = append(serials, s)
		}
	}
	return serials
}

// FindDuplicateSerial returns the first candidate serial already used by
// another item, compared case-insensitively.
// 重複シリアル番号を検出
func FindDuplicateSerial(candidates []string, items []InventoryItem, excludeItemID string) (serial string, owner *InventoryItem) {
	if len(candidates) == 0 {
		return "", nil
	}
	for i := range items {
		if items[i].ID == excludeItemID {
			continue
		}
		for _, existing := range items[i].Serials() {
			for _, c := range candidates {
				if strings.EqualFold(existing, c) {
					return c, &items[i]
				}
			}
		}
	}
	return "", nil
}

var warrantyPattern = regexp.MustCompile(`(?i)(\d+)\s*(year|month|day|week)s?`)

// WarrantyExpiry derives the warranty expiry from strings like "2 years" or
// "18 months"; it returns nil when the text carries no duration.
// 保証期限を算出
func WarrantyExpiry(warranty string, start time.Time) *time.Time {
	m := warrantyPattern.FindStringSubmatch(warranty)
	if m == nil {
		return nil
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	var expiry time.Time
	switch strings.ToLower(m[2]) {
	case "year":
		expiry = start.AddDate(amount, 0, 0)
	case "month":
		expiry = start.AddDate(0, amount, 0)
	case "week":
		expiry = start.AddDate(0, 0, amount*7)
	default:
		expiry = start.AddDate(0, 0, amount)
	}
	return &expiry
}
