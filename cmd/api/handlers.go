package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/branchledger/pkg/inventory"
)

// InventoryService is everything the HTTP layer calls on the domain
// HTTP層が利用するドメインサービス
type InventoryService interface {
	inventory.TransferEngine
	inventory.BranchLedgerProjector
	inventory.ReplacementConfirmationEngine
	inventory.AuditLog
	inventory.ItemManager
}

// pinger reports storage health
type pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handlers for the inventory API
// 在庫API用のHTTPハンドラーを保持
type Handlers struct {
	service InventoryService
	health  pinger
	metrics *inventory.Metrics
	logger  *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(service InventoryService, health pinger, metrics *inventory.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		service: service,
		health:  health,
		metrics: metrics,
		logger:  logger,
	}
}

// messageResponse is the body of failures and message-only successes
type messageResponse struct {
	Message string `json:"message"`
}

// confirmResponse is the body of a successful confirmation
type confirmResponse struct {
	Message     string                 `json:"message"`
	Transaction *inventory.Transaction `json:"transaction"`
}

// createItemsResponse is returned when a serial list created several items
type createItemsResponse struct {
	Message string                    `json:"message"`
	Items   []inventory.InventoryItem `json:"items"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Error("ヘルスチェックに失敗しました", zap.Error(err))
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}

	h.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"service":   "branchledger",
	})
}

// StockMove handles in/out/return requests
// 入庫・出庫・返却リクエストを処理
func (h *Handlers) StockMove(w http.ResponseWriter, r *http.Request) {
	var req inventory.StockMoveRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.StockMove(r.Context(), req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// Transfer handles transfer-to-branch requests
// 支店への移動リクエストを処理
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	var req inventory.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ListTransferredItems returns net positions grouped by branch
// 支店別の移動済み在庫を取得
func (h *Handlers) ListTransferredItems(w http.ResponseWriter, r *http.Request) {
	branches, err := h.service.ListTransferredItems(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, branches)
}

// ListBranches returns the branches that received stock
// 支店一覧を取得
func (h *Handlers) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.service.ListBranches(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, branches)
}

// ListBranchStock returns the "out" totals of one branch
// 支店ごとの出庫合計を取得
func (h *Handlers) ListBranchStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListBranchStock(r.Context(), mux.Vars(r)["branchName"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

// GetItemHistory returns the ledger entries of one item
// 商品の台帳履歴を取得
func (h *Handlers) GetItemHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.GetItemHistory(r.Context(), mux.Vars(r)["itemId"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// ListPendingReplacements returns open replacements
// 交換確認待ち一覧を取得
func (h *Handlers) ListPendingReplacements(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.ListPendingReplacements(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pending)
}

// ConfirmReplacement confirms a pending replacement
// 交換確認を処理
func (h *Handlers) ConfirmReplacement(w http.ResponseWriter, r *http.Request) {
	// ボディは任意
	var req inventory.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := h.service.ConfirmReplacement(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, confirmResponse{
		Message:     "Pending replacement confirmed and removed",
		Transaction: entry,
	})
}

// ListConfirmedReplacements returns confirmation entries
// 確認済み交換一覧を取得
func (h *Handlers) ListConfirmedReplacements(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListConfirmedReplacements(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// ListAuditLogs returns the full ledger
// 監査ログを取得
func (h *Handlers) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListAuditLogs(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// DeleteAuditLog prunes one ledger entry
// 監査ログを削除
func (h *Handlers) DeleteAuditLog(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAuditLog(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Audit log removed"})
}

// ListItems returns all inventory items
// 商品一覧を取得
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

// CreateItem creates one item or one item per serial number
// 商品を作成
func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req inventory.CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	items, err := h.service.CreateItem(r.Context(), req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if len(items) == 1 {
		h.writeJSON(w, http.StatusCreated, items[0])
		return
	}
	h.writeJSON(w, http.StatusCreated, createItemsResponse{
		Message: itemsCreatedMessage(len(items)),
		Items:   items,
	})
}

// GetItem returns one inventory item
// 商品を取得
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

// UpdateItem applies a partial update
// 商品を更新
func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req inventory.UpdateItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.service.UpdateItem(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

// DeleteItem removes an inventory item
// 商品を削除
func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteItem(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.sendError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Item removed"})
}

// ヘルパーメソッド

func itemsCreatedMessage(n int) string {
	return strconv.Itoa(n) + " items created successfully"
}

// decode reads a JSON body, answering 400 on failure
// リクエストボディをデコード
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeJSON sends a JSON response
// JSONレスポンスを送信
func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// sendError maps a domain error to its status and sends {"message": ...}
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, err error) {
	status := inventory.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
	}
	writeMessage(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(messageResponse{Message: message})
}
