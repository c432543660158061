package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blood_bank/internal/config"
	"blood_bank/internal/engine"
	"blood_bank/internal/model"
	rediskey "blood_bank/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testAdminToken = "test-admin-token"

func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB, *rd.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.BloodRequest{},
		&model.BloodInventory{},
		&model.DonationRequest{},
		&model.RequestMatch{},
		&model.BloodRequestInventory{},
		&model.Notification{},
	))

	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	eng := engine.New(db, nil, zap.NewNop())

	cfg := config.AppConfig{
		RequestRateLimit:  1000,
		RequestRateWindow: time.Second,
		FulfillStateTTL:   time.Hour,
		StaffAdminToken:   testAdminToken,
	}

	r := gin.New()
	Setup(r, db, rdb, eng, cfg)
	return r, db, rdb
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Token", testAdminToken)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Code int                    `json:"code"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Code)
	return resp.Data
}

func TestCreateBloodRequest(t *testing.T) {
	r, db, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/blood_requests", gin.H{
		"user_id": 1, "blood_type_id": 1, "blood_component_id": 1,
		"quantity": 5, "location": "hanoi_dongda_", "emergency": true,
	}, false)
	require.Equal(t, http.StatusOK, w.Code)

	var br model.BloodRequest
	require.NoError(t, db.First(&br).Error)
	assert.Equal(t, model.RequestPending, br.Status)
	assert.True(t, br.Emergency)
	assert.False(t, br.Fulfilled)
}

func TestCreateBloodRequest_RejectsMissingFields(t *testing.T) {
	r, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/blood_requests", gin.H{"user_id": 1}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateRequestStatus_RequiresAdminToken(t *testing.T) {
	r, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/blood_requests/1/status", gin.H{"status": "successful"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateRequestStatus_ApprovalTriggersFulfillment(t *testing.T) {
	r, db, _ := newTestServer(t)

	inv := &model.BloodInventory{BloodTypeID: 1, BloodComponentID: 1, Quantity: 10,
		Unit: "mL", Location: "Dong Da, Hanoi", LastUpdated: time.Now()}
	require.NoError(t, db.Create(inv).Error)
	userID := int64(1)
	br := &model.BloodRequest{UserID: &userID, BloodTypeID: 1, BloodComponentID: 1,
		Quantity: 7, Location: "hanoi_dongda_", Status: model.RequestPending}
	require.NoError(t, db.Create(br).Error)

	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/blood_requests/%d/status", br.ID),
		gin.H{"status": "successful"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "successful", data["status"])
	fulfillment, ok := data["fulfillment"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(engine.OutcomeFulfilled), fulfillment["outcome"])

	var got model.BloodRequest
	require.NoError(t, db.First(&got, br.ID).Error)
	assert.True(t, got.Fulfilled)

	// result 接口应命中 Redis 快照。
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/blood_requests/%d/result", br.ID), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeData(t, w)
	assert.Equal(t, "fulfilled", result["status"])
	assert.Equal(t, model.FulfilledSourceInventory, result["source"])
}

func TestUpdateRequestStatus_RejectsNonPending(t *testing.T) {
	r, db, _ := newTestServer(t)

	br := &model.BloodRequest{BloodTypeID: 1, BloodComponentID: 1, Quantity: 5,
		Status: model.RequestSuccessful}
	require.NoError(t, db.Create(br).Error)

	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/blood_requests/%d/status", br.ID),
		gin.H{"status": "successful"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFulfillResult_FallsBackToDatabase(t *testing.T) {
	r, db, _ := newTestServer(t)

	br := &model.BloodRequest{BloodTypeID: 1, BloodComponentID: 1, Quantity: 5,
		Status: model.RequestSuccessful}
	require.NoError(t, db.Create(br).Error)
	don := &model.DonationRequest{BloodTypeID: 1, BloodComponentID: 1, Quantity: 5,
		Status: model.DonationConfirmed}
	require.NoError(t, db.Create(don).Error)
	require.NoError(t, db.Create(&model.RequestMatch{
		BloodRequestID: br.ID, DonationRequestID: don.ID,
		MatchStatus: model.MatchPending, ScheduledDate: time.Now(),
	}).Error)

	w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/blood_requests/%d/result", br.ID), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeData(t, w)
	assert.Equal(t, "donor_matched", result["status"])
	assert.EqualValues(t, 1, result["matches"])
}

func TestGetFulfillResult_StaleSnapshotYieldsToDatabase(t *testing.T) {
	r, db, rdb := newTestServer(t)

	// 同步触发时写入 donor_matched 快照，随后后台轮询把申请真正履约：
	// 非终态快照不可信，必须回源 DB 给出 fulfilled。
	br := &model.BloodRequest{BloodTypeID: 1, BloodComponentID: 1, Quantity: 5,
		Status: model.RequestSuccessful, Fulfilled: true,
		FulfilledSource: model.FulfilledSourceDonation}
	require.NoError(t, db.Create(br).Error)
	require.NoError(t, rediskey.PutFulfillState(context.Background(), rdb, br.ID,
		rediskey.FulfillMatched, "", 2, time.Hour))

	w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/blood_requests/%d/result", br.ID), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	result := decodeData(t, w)
	assert.Equal(t, "fulfilled", result["status"])
	assert.Equal(t, model.FulfilledSourceDonation, result["source"])

	// 终态快照仍然直接命中，不回源。
	require.NoError(t, rediskey.PutFulfillState(context.Background(), rdb, br.ID,
		rediskey.FulfillFulfilled, model.FulfilledSourceInventory, 0, time.Hour))
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/blood_requests/%d/result", br.ID), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	result = decodeData(t, w)
	assert.Equal(t, model.FulfilledSourceInventory, result["source"])
}

func TestGetFulfillResult_NotFound(t *testing.T) {
	r, _, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodGet, "/api/blood_requests/999/result", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDonationLifecycle_CompletionTriggersIntake(t *testing.T) {
	r, db, _ := newTestServer(t)

	userID := int64(2)
	br := &model.BloodRequest{UserID: &userID, BloodTypeID: 1, BloodComponentID: 1,
		Quantity: 5, Status: model.RequestSuccessful}
	require.NoError(t, db.Create(br).Error)

	w := doJSON(t, r, http.MethodPost, "/api/donation_requests", gin.H{
		"user_id": 3, "blood_type_id": 1, "blood_component_id": 1, "quantity": 8,
	}, false)
	require.Equal(t, http.StatusOK, w.Code)

	var don model.DonationRequest
	require.NoError(t, db.First(&don).Error)

	for _, status := range []string{"confirmed", "completed"} {
		w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/donation_requests/%d/status", don.ID),
			gin.H{"status": status}, true)
		require.Equal(t, http.StatusOK, w.Code)
	}

	var gotReq model.BloodRequest
	require.NoError(t, db.First(&gotReq, br.ID).Error)
	assert.True(t, gotReq.Fulfilled)
	assert.Equal(t, model.FulfilledSourceDonation, gotReq.FulfilledSource)

	var inv model.BloodInventory
	require.NoError(t, db.First(&inv).Error)
	assert.Equal(t, 3, inv.Quantity)
}

func TestUpdateDonationStatus_RejectsInvalidTransition(t *testing.T) {
	r, db, _ := newTestServer(t)

	don := &model.DonationRequest{BloodTypeID: 1, BloodComponentID: 1, Quantity: 5,
		Status: model.DonationPending}
	require.NoError(t, db.Create(don).Error)

	// pending 不能直接 completed
	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/donation_requests/%d/status", don.ID),
		gin.H{"status": "completed"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateInventory_DefaultsAndAuth(t *testing.T) {
	r, db, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/inventory", gin.H{
		"blood_type_id": 1, "blood_component_id": 1, "quantity": 20,
	}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/inventory", gin.H{
		"blood_type_id": 1, "blood_component_id": 1, "quantity": 20,
	}, true)
	require.Equal(t, http.StatusOK, w.Code)

	var inv model.BloodInventory
	require.NoError(t, db.First(&inv).Error)
	assert.Equal(t, engine.DefaultUnit, inv.Unit)
	assert.Equal(t, engine.DefaultLocation, inv.Location)
	assert.Equal(t, 20, inv.Quantity)
}
