package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/branchledger/internal/auth"
	"github.com/nemonet1337/branchledger/pkg/inventory"
	"github.com/nemonet1337/branchledger/pkg/inventory/storage"
)

const testSecret = "handler-test-secret"

type testServer struct {
	handler    http.Handler
	superToken string
	subToken   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := storage.NewMemoryStorage(logger)

	metrics, err := inventory.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	manager := inventory.NewManager(store, nil, logger, nil, inventory.WithMetrics(metrics))
	handlers := NewHandlers(manager, store, metrics, logger)

	superToken, err := auth.GenerateToken(testSecret, "u-super", "root", auth.RoleSuperAdmin, time.Hour)
	require.NoError(t, err)
	subToken, err := auth.GenerateToken(testSecret, "u-sub", "clerk", auth.RoleSubAdmin, time.Hour)
	require.NoError(t, err)

	return &testServer{
		handler:    setupRouter(handlers, routerOptions{jwtSecret: testSecret, enableCORS: true}),
		superToken: superToken,
		subToken:   subToken,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func messageOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body messageResponse
	decodeBody(t, rec, &body)
	return body.Message
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/inventory", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authorized, no token", messageOf(t, rec))

	rec = s.do(t, http.MethodGet, "/api/inventory", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authorized, token failed", messageOf(t, rec))

	rec = s.do(t, http.MethodGet, "/api/inventory", s.subToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditLogsRequireSuperAdmin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/transactions/audit-logs", s.subToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not authorized as a superadmin", messageOf(t, rec))

	rec = s.do(t, http.MethodGet, "/api/transactions/audit-logs", s.superToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/transactions/audit-logs/missing", s.superToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Audit log not found", messageOf(t, rec))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodOptions, "/api/transactions/transfer", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTransferFlow(t *testing.T) {
	s := newTestServer(t)

	// 商品作成
	rec := s.do(t, http.MethodPost, "/api/inventory", s.subToken, map[string]interface{}{
		"name":     "ThinkPad",
		"category": "Laptop",
		"quantity": 3,
		"location": "Main Inventory",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item inventory.InventoryItem
	decodeBody(t, rec, &item)
	assert.Equal(t, "u-sub", item.CreatedBy)

	// 支店への移動
	rec = s.do(t, http.MethodPost, "/api/transactions/transfer", s.subToken, inventory.TransferRequest{
		ItemID:         item.ID,
		Quantity:       1,
		Branch:         "Osaka",
		ItemTrackingID: "CRE-100",
		Reason:         "Replacement Equipment - broken hinge",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var moved inventory.MovementResult
	decodeBody(t, rec, &moved)
	assert.Equal(t, int64(2), moved.Item.Quantity)
	assert.Equal(t, "u-sub", moved.Transaction.PerformedBy)

	rec = s.do(t, http.MethodGet, "/api/transactions/transferred-items", s.subToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var branches []inventory.BranchInventory
	decodeBody(t, rec, &branches)
	require.Len(t, branches, 1)
	assert.Equal(t, "Osaka", branches[0].Branch)

	// 交換確認（ボディなし）
	rec = s.do(t, http.MethodGet, "/api/transactions/pending-replacements", s.subToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []inventory.PendingReplacement
	decodeBody(t, rec, &pending)
	require.Len(t, pending, 1)

	rec = s.do(t, http.MethodPut, "/api/transactions/pending-replacements/"+pending[0].ID+"/confirm", s.subToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var confirmed confirmResponse
	decodeBody(t, rec, &confirmed)
	assert.Equal(t, "Pending replacement confirmed and removed", confirmed.Message)
	assert.Equal(t, "Confirmed replacement: Replacement Equipment - broken hinge", confirmed.Transaction.Reason)

	rec = s.do(t, http.MethodGet, "/api/transactions/confirmed-replacements", s.subToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []inventory.Transaction
	decodeBody(t, rec, &entries)
	assert.Len(t, entries, 1)

	// 商品履歴
	rec = s.do(t, http.MethodGet, "/api/transactions/"+item.ID, s.subToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &entries)
	assert.Len(t, entries, 3)
}

func TestStockMoveAndBranches(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/inventory", s.subToken, map[string]interface{}{
		"name":     "Monitor",
		"category": "Display",
		"quantity": 5,
		"location": "Main Inventory",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var item inventory.InventoryItem
	decodeBody(t, rec, &item)

	rec = s.do(t, http.MethodPost, "/api/transactions", s.subToken, inventory.StockMoveRequest{
		ItemID: item.ID, Type: inventory.TransactionTypeOut, Quantity: 2, Branch: "Kobe",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/transactions/branches", s.subToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var branches []string
	decodeBody(t, rec, &branches)
	assert.Equal(t, []string{"Kobe"}, branches)

	rec = s.do(t, http.MethodGet, "/api/transactions/branch/Kobe", s.subToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stock []inventory.BranchStockItem
	decodeBody(t, rec, &stock)
	require.Len(t, stock, 1)
	assert.Equal(t, int64(2), stock[0].Quantity)

	rec = s.do(t, http.MethodPost, "/api/transactions", s.subToken, inventory.StockMoveRequest{
		ItemID: item.ID, Type: inventory.TransactionTypeOut, Quantity: 9, Branch: "Kobe",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Insufficient stock for this transaction (available: 3, requested: 9)", messageOf(t, rec))
}

func TestCreateItemWithSerialList(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/inventory", s.subToken, map[string]interface{}{
		"name":         "Scanner",
		"category":     "Peripheral",
		"quantity":     1,
		"serialNumber": "A1,A2,A3",
		"location":     "Main Inventory",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body createItemsResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "3 items created successfully", body.Message)
	assert.Len(t, body.Items, 3)
}

func TestItemEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/inventory", s.subToken, map[string]interface{}{
		"name":     "Router",
		"category": "Network",
		"quantity": 2,
		"location": "Main Inventory",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var item inventory.InventoryItem
	decodeBody(t, rec, &item)

	rec = s.do(t, http.MethodPut, "/api/inventory/"+item.ID, s.subToken, map[string]interface{}{"supplier": "ACME"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &item)
	assert.Equal(t, "ACME", item.Supplier)
	assert.Equal(t, "u-sub", item.LastUpdatedBy)

	rec = s.do(t, http.MethodDelete, "/api/inventory/"+item.ID, s.subToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Item removed", messageOf(t, rec))

	rec = s.do(t, http.MethodGet, "/api/inventory/"+item.ID, s.subToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Item not found", messageOf(t, rec))
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/transactions/transfer", s.subToken, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", messageOf(t, rec))

	rec = s.do(t, http.MethodPost, "/api/transactions/transfer", s.subToken, inventory.TransferRequest{
		ItemName: "Monitor", ItemCategory: "Display", Quantity: 1, Branch: "Osaka", ItemTrackingID: "XYZ-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `Item Tracking ID must start with "CRE"`, messageOf(t, rec))

	rec = s.do(t, http.MethodPut, "/api/transactions/pending-replacements/missing/confirm", s.subToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Pending replacement not found", messageOf(t, rec))
}
