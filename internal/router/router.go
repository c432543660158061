package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"blood_bank/internal/config"
	"blood_bank/internal/engine"
	"blood_bank/internal/middleware"
	"blood_bank/internal/model"
	rediskey "blood_bank/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Setup 注册全部 HTTP 路由。
// 员工状态流转接口是履约引擎的同步触发点，与后台轮询共用同一个引擎。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, eng *engine.Engine, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	rateLimit := middleware.RedisRateLimit(rdb, cfg.RequestRateLimit, cfg.RequestRateWindow)

	// Blood requests
	r.GET("/api/blood_requests", listBloodRequests(db))
	r.POST("/api/blood_requests", rateLimit, createBloodRequest(db))
	r.POST("/api/blood_requests/:id/status", updateRequestStatus(db, rdb, eng, cfg))
	r.GET("/api/blood_requests/:id/result", getFulfillResult(db, rdb))

	// Donation requests
	r.GET("/api/donation_requests", listDonationRequests(db))
	r.POST("/api/donation_requests", rateLimit, createDonationRequest(db))
	r.POST("/api/donation_requests/:id/status", updateDonationStatus(db, eng, cfg))

	// Inventory
	r.GET("/api/inventory", listInventory(db))
	r.POST("/api/inventory", createInventory(db, cfg.StaffAdminToken))
}

// listBloodRequests 查询用血申请列表。
func listBloodRequests(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.BloodRequest
		if err := db.Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createBloodRequest 提交用血申请（Pending，待员工审核）。
func createBloodRequest(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID           int64  `json:"user_id" binding:"required,min=1"`
			BloodTypeID      uint   `json:"blood_type_id" binding:"required,min=1"`
			BloodComponentID uint   `json:"blood_component_id" binding:"required,min=1"`
			Quantity         int    `json:"quantity" binding:"required,min=1"`
			Location         string `json:"location"`
			Emergency        bool   `json:"emergency"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		br := &model.BloodRequest{
			UserID:           &req.UserID,
			BloodTypeID:      req.BloodTypeID,
			BloodComponentID: req.BloodComponentID,
			Quantity:         req.Quantity,
			Location:         req.Location,
			Emergency:        req.Emergency,
			Status:           model.RequestPending,
		}
		if err := db.Create(br).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": br})
	}
}

// updateRequestStatus 员工审核用血申请。
// 审核通过即同步触发一次履约尝试，与后台轮询共用同一引擎、同一事务契约。
func updateRequestStatus(db *gorm.DB, rdb *rd.Client, eng *engine.Engine, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != cfg.StaffAdminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}

		id, err := parseID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid request id"})
			return
		}
		var req struct {
			Status string `json:"status" binding:"required,oneof=successful cancelled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		var br model.BloodRequest
		if err := db.First(&br, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "blood request not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if br.Status != model.RequestPending {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "blood request is not pending"})
			return
		}

		next := model.RequestCancelled
		if req.Status == "successful" {
			next = model.RequestSuccessful
		}
		if err := db.Model(&br).Update("status", next).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if next != model.RequestSuccessful {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"status": "cancelled"}})
			return
		}

		// 同步触发履约；失败不回滚审核结果，留给后台轮询兜底。
		result, err := eng.FulfillRequest(c.Request.Context(), br.ID)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": gin.H{"status": "successful", "fulfillment": "deferred"},
			})
			return
		}
		cacheFulfillState(c, rdb, br.ID, result, cfg.FulfillStateTTL)
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{"status": "successful", "fulfillment": result},
		})
	}
}

// cacheFulfillState 把引擎结论写进 Redis 快照，供 result 接口快速回读。
func cacheFulfillState(c *gin.Context, rdb *rd.Client, requestID uint, result engine.Result, ttl time.Duration) {
	status := rediskey.FulfillPending
	source := ""
	switch result.Outcome {
	case engine.OutcomeFulfilled:
		status = rediskey.FulfillFulfilled
		source = model.FulfilledSourceInventory
	case engine.OutcomeMatched:
		status = rediskey.FulfillMatched
	}
	// 缓存失败只影响查询路径的命中率，不影响正确性。
	_ = rediskey.PutFulfillState(c.Request.Context(), rdb, requestID, status, source, result.MatchCount, ttl)
}

// getFulfillResult 查询申请的履约状态：优先 Redis 快照，未命中回源 DB。
func getFulfillResult(db *gorm.DB, rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid request id"})
			return
		}

		// 快照只在终态（fulfilled）可信：pending/donor_matched 写入后
		// 可能被后台轮询或献血入库推进，非终态一律回源 DB。
		if state, found, err := rediskey.GetFulfillState(c.Request.Context(), rdb, uint(id)); err == nil && found &&
			state.Status == rediskey.FulfillFulfilled {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"request_id": state.RequestID,
				"status":     state.Status,
				"source":     state.Source,
				"matches":    state.Matches,
			}})
			return
		}

		var br model.BloodRequest
		if err := db.First(&br, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "blood request not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		status := rediskey.FulfillPending
		if br.Fulfilled {
			status = rediskey.FulfillFulfilled
		}
		var matches int64
		db.Model(&model.RequestMatch{}).
			Where("blood_request_id = ? AND match_status = ?", br.ID, model.MatchPending).
			Count(&matches)
		if !br.Fulfilled && matches > 0 {
			status = rediskey.FulfillMatched
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"request_id": br.ID,
			"status":     status,
			"source":     br.FulfilledSource,
			"matches":    matches,
		}})
	}
}

// listDonationRequests 查询献血预约列表。
func listDonationRequests(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.DonationRequest
		if err := db.Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createDonationRequest 提交献血预约（Pending，待员工确认）。
func createDonationRequest(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID           int64 `json:"user_id" binding:"required,min=1"`
			BloodTypeID      uint  `json:"blood_type_id" binding:"required,min=1"`
			BloodComponentID uint  `json:"blood_component_id" binding:"required,min=1"`
			Quantity         int   `json:"quantity" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		dr := &model.DonationRequest{
			UserID:           &req.UserID,
			BloodTypeID:      req.BloodTypeID,
			BloodComponentID: req.BloodComponentID,
			Quantity:         req.Quantity,
			Status:           model.DonationPending,
		}
		if err := db.Create(dr).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": dr})
	}
}

// donationTransitions 员工可执行的献血状态流转。
var donationTransitions = map[string]struct {
	from []model.DonationStatus
	to   model.DonationStatus
}{
	"confirmed": {from: []model.DonationStatus{model.DonationPending}, to: model.DonationConfirmed},
	"completed": {from: []model.DonationStatus{model.DonationConfirmed}, to: model.DonationCompleted},
	"cancelled": {from: []model.DonationStatus{model.DonationPending, model.DonationConfirmed}, to: model.DonationCancelled},
}

// updateDonationStatus 员工流转献血状态。
// 转入 completed 即同步触发入库处理；处理失败不影响状态流转，轮询兜底。
func updateDonationStatus(db *gorm.DB, eng *engine.Engine, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != cfg.StaffAdminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}

		id, err := parseID(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid donation id"})
			return
		}
		var req struct {
			Status string `json:"status" binding:"required,oneof=confirmed completed cancelled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		var dr model.DonationRequest
		if err := db.First(&dr, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "donation request not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		transition := donationTransitions[req.Status]
		allowed := false
		for _, from := range transition.from {
			if dr.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid status transition"})
			return
		}
		if err := db.Model(&dr).Update("status", transition.to).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		if transition.to != model.DonationCompleted {
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"status": req.Status}})
			return
		}

		result, err := eng.ProcessDonation(c.Request.Context(), dr.ID)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": gin.H{"status": req.Status, "intake": "deferred"},
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"status": req.Status, "intake": result}})
	}
}

// listInventory 查询库存列表。
func listInventory(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.BloodInventory
		if err := db.Find(&list).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// createInventory 员工登记库存（初始入库/盘点调整用）。
func createInventory(db *gorm.DB, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}

		var req struct {
			BloodTypeID      uint   `json:"blood_type_id" binding:"required,min=1"`
			BloodComponentID uint   `json:"blood_component_id" binding:"required,min=1"`
			Quantity         int    `json:"quantity" binding:"required,min=1"`
			Unit             string `json:"unit"`
			Location         string `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if req.Unit == "" {
			req.Unit = engine.DefaultUnit
		}
		if req.Location == "" {
			req.Location = engine.DefaultLocation
		}

		inv := &model.BloodInventory{
			BloodTypeID:      req.BloodTypeID,
			BloodComponentID: req.BloodComponentID,
			Quantity:         req.Quantity,
			Unit:             req.Unit,
			Location:         req.Location,
			LastUpdated:      time.Now(),
		}
		if err := db.Create(inv).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": inv})
	}
}

func parseID(c *gin.Context) (uint, error) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	return uint(id), err
}
