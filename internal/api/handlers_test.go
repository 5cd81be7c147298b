package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/depot/services/bagtrack/internal/cache"
	"example.com/depot/services/bagtrack/internal/db"
	"example.com/depot/services/bagtrack/internal/service"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(gdb))

	cacheClient := cache.NewDisabledClient()
	stats := service.NewStatisticsService(gdb, cacheClient)
	lockTimeout := 3 * time.Second

	handler := NewHandler(
		service.NewBagService(gdb, stats, lockTimeout),
		service.NewLinkerService(gdb, stats, 30, 1.0, lockTimeout),
		service.NewBillService(gdb, stats, cacheClient, 1.0, 30, lockTimeout),
		service.NewUndoService(gdb, stats, time.Hour, 1.0, 30, lockTimeout),
		stats,
	)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, actor string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Operator", actor)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLinkEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans/link",
		gin.H{"parent_qr": "P-001", "child_qr": "C-001"}, "alice")
	require.Equal(t, http.StatusCreated, w.Code)

	// Duplicate scan reports 200 with the existing link
	w = doJSON(t, router, http.MethodPost, "/api/v1/scans/link",
		gin.H{"parent_qr": "P-001", "child_qr": "C-001"}, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AlreadyLinked bool `json:"already_linked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.AlreadyLinked)

	// A move to a second parent is a conflict
	w = doJSON(t, router, http.MethodPost, "/api/v1/scans/link",
		gin.H{"parent_qr": "P-002", "child_qr": "C-001"}, "alice")
	require.Equal(t, http.StatusConflict, w.Code)

	var conflict struct {
		Code           string `json:"code"`
		ExistingParent string `json:"existing_parent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	require.Equal(t, "CHILD_ALREADY_LINKED", conflict.Code)
	require.Equal(t, "P-001", conflict.ExistingParent)
}

func TestLinkEndpointRequiresOperator(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans/link",
		gin.H{"parent_qr": "P-001", "child_qr": "C-001"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLinkEndpointRejectsBadBody(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans/link",
		gin.H{"parent_qr": "P-001"}, "alice")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/bills",
		gin.H{"number": "BILL-1", "target_bag_count": 2}, "alice")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/bills",
		gin.H{"number": "BILL-1", "target_bag_count": 2}, "alice")
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/scans/link",
		gin.H{"parent_qr": "P-001", "child_qr": "C-001"}, "alice")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/bills/BILL-1/bags",
		gin.H{"parent_qr": "P-001"}, "alice")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/bills/BILL-1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var bill struct {
		LinkedBagCount int     `json:"linked_bag_count"`
		ActualWeight   float64 `json:"actual_weight"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bill))
	require.Equal(t, 1, bill.LinkedBagCount)
	require.Equal(t, 1.0, bill.ActualWeight)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/bills/BILL-1/bags/P-001", nil, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/bills/BILL-1/close", nil, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/bills/BILL-1/close", nil, "alice")
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/bills/BILL-missing", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUndoEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/scans/undo", nil, "alice")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/scans/link",
		gin.H{"parent_qr": "P-001", "child_qr": "C-001"}, "alice")
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/scans/undo", nil, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/scans/undo", nil, "alice")
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestStatisticsAndHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/statistics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		TotalBags int64 `json:"total_bags"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.EqualValues(t, 0, stats.TotalBags)

	w = doJSON(t, router, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}
