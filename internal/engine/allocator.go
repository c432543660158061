package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blood_bank/internal/model"
	"blood_bank/internal/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome 是一次履约尝试的结论，给同步触发方（HTTP）和轮询方共用。
type Outcome string

const (
	OutcomeFulfilled  Outcome = "fulfilled"     // 已从库存扣减履约
	OutcomeMatched    Outcome = "donor_matched" // 无库存，已登记献血配对
	OutcomeNoMatch    Outcome = "no_match"      // 既无库存也无可配献血
	OutcomeSkipped    Outcome = "skipped"       // 不满足条件或已被并发触发履约
	OutcomeRetryLater Outcome = "retry_later"   // 乐观并发连续失败，留待下一轮
)

// Result 汇总一次履约尝试的产出。
type Result struct {
	Outcome     Outcome `json:"outcome"`
	InventoryID uint    `json:"inventory_id,omitempty"`
	MatchCount  int     `json:"match_count,omitempty"`
}

// 扣减冲突时重读候选集的上限；耗尽后留给下一轮扫描。
const allocationRetries = 3

var (
	errAllocationConflict = errors.New("inventory decrement conflict")
	errAlreadyFulfilled   = errors.New("request already fulfilled")
)

// Engine 血液申请履约引擎：单一实现，同步触发与后台轮询共用。
// 正确性依赖两道带条件的原子 UPDATE（库存扣减、履约置位），
// 等价于在 SQL 里复刻「读 → 判断 ≥ → 扣减」的原子纪律。
type Engine struct {
	db     *gorm.DB
	events queue.EventAppender // 可为 nil（测试或未接通知流）
	logger *zap.Logger
}

func New(db *gorm.DB, events queue.EventAppender, logger *zap.Logger) *Engine {
	return &Engine{db: db, events: events, logger: logger}
}

// FulfillRequest 对单个用血申请做一次履约尝试。
// 流程：候选库存（同血型同成分且量足）→ 就近择优 → 事务内扣减并记账；
// 无候选则降级为献血配对。任何一条路径都幂等，可被重复调用。
func (e *Engine) FulfillRequest(ctx context.Context, requestID uint) (Result, error) {
	var req model.BloodRequest
	if err := e.db.WithContext(ctx).First(&req, requestID).Error; err != nil {
		return Result{}, fmt.Errorf("load blood request %d: %w", requestID, err)
	}
	if !req.Eligible() {
		return Result{Outcome: OutcomeSkipped}, nil
	}

	for attempt := 0; attempt < allocationRetries; attempt++ {
		var candidates []model.BloodInventory
		err := e.db.WithContext(ctx).
			Where("blood_type_id = ? AND blood_component_id = ? AND quantity >= ?",
				req.BloodTypeID, req.BloodComponentID, req.Quantity).
			Order("id").
			Find(&candidates).Error
		if err != nil {
			return Result{}, fmt.Errorf("query inventory candidates: %w", err)
		}
		if len(candidates) == 0 {
			return e.matchDonors(ctx, &req)
		}

		best := pickBest(req.Location, candidates)
		err = e.allocateFrom(ctx, &req, &best)
		if errors.Is(err, errAllocationConflict) {
			// 输掉并发竞争：重读新鲜状态再试，绝不套用旧读数。
			e.logger.Warn("inventory decrement conflict, rereading candidates",
				zap.Uint("request_id", req.ID), zap.Uint("inventory_id", best.ID))
			continue
		}
		if errors.Is(err, errAlreadyFulfilled) {
			return Result{Outcome: OutcomeSkipped}, nil
		}
		if err != nil {
			return Result{}, err
		}

		e.logger.Info("blood request fulfilled from inventory",
			zap.Uint("request_id", req.ID),
			zap.Uint("inventory_id", best.ID),
			zap.Int("quantity", req.Quantity))
		e.appendEvent(ctx, req.UserID, req.ID, model.FulfilledSourceInventory,
			fmt.Sprintf("Your blood request #%d has been fulfilled from inventory.", req.ID))
		return Result{Outcome: OutcomeFulfilled, InventoryID: best.ID}, nil
	}

	e.logger.Warn("allocation retries exhausted, leaving request for next sweep",
		zap.Uint("request_id", req.ID))
	return Result{Outcome: OutcomeRetryLater}, nil
}

// pickBest 在候选里选就近分最高者；同分取 LastUpdated 最早（先进先出轮转），
// 再同则保留查询顺序里靠前的一条，保证空地址时的兜底也是确定性的。
func pickBest(location string, candidates []model.BloodInventory) model.BloodInventory {
	best := candidates[0]
	bestScore := Score(location, best.Location)
	for _, c := range candidates[1:] {
		s := Score(location, c.Location)
		if s > bestScore || (s == bestScore && c.LastUpdated.Before(best.LastUpdated)) {
			best = c
			bestScore = s
		}
	}
	return best
}

// allocateFrom 在一个事务内完成扣减、置位、台账与通知。
// 两道守卫的 RowsAffected 任一为 0 即整体回滚：
//   - 扣减 0 行：库存被并发扣走，返回 errAllocationConflict；
//   - 置位 0 行：申请已被另一触发方履约，返回 errAlreadyFulfilled。
func (e *Engine) allocateFrom(ctx context.Context, req *model.BloodRequest, inv *model.BloodInventory) error {
	now := time.Now()
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.BloodInventory{}).
			Where("id = ? AND quantity >= ?", inv.ID, req.Quantity).
			Updates(map[string]interface{}{
				"quantity":     gorm.Expr("quantity - ?", req.Quantity),
				"last_updated": now,
			})
		if res.Error != nil {
			return fmt.Errorf("decrement inventory %d: %w", inv.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return errAllocationConflict
		}

		res = tx.Model(&model.BloodRequest{}).
			Where("id = ? AND fulfilled = ?", req.ID, false).
			Updates(map[string]interface{}{
				"fulfilled":        true,
				"fulfilled_source": model.FulfilledSourceInventory,
			})
		if res.Error != nil {
			return fmt.Errorf("mark request %d fulfilled: %w", req.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return errAlreadyFulfilled
		}

		ledger := &model.BloodRequestInventory{
			BloodRequestID:    req.ID,
			InventoryID:       inv.ID,
			QuantityAllocated: req.Quantity,
			AllocatedAt:       now,
			AllocatedBy:       "allocation-engine",
		}
		if err := tx.Create(ledger).Error; err != nil {
			return fmt.Errorf("create allocation ledger: %w", err)
		}

		if req.UserID != nil {
			n := &model.Notification{
				UserID:  *req.UserID,
				Message: fmt.Sprintf("Your blood request #%d has been fulfilled from inventory.", req.ID),
				Type:    model.NotificationTypeFulfillment,
				Status:  model.NotificationUnread,
				SentAt:  now,
			}
			if err := tx.Create(n).Error; err != nil {
				return fmt.Errorf("create notification: %w", err)
			}
		}
		return nil
	})
}

// matchDonors 无库存兜底：把已确认的献血预约登记为待完成配对。
// (申请, 献血) 对上已有 Pending 配对则跳过——重复扫描不会重复建配对。
// 这里不置 Fulfilled：真正履约要等配对的献血转入 Completed 再由入库处理完成。
func (e *Engine) matchDonors(ctx context.Context, req *model.BloodRequest) (Result, error) {
	var created int
	var candidates int
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created = 0
		var donations []model.DonationRequest
		err := tx.
			Where("blood_type_id = ? AND blood_component_id = ? AND status = ?",
				req.BloodTypeID, req.BloodComponentID, model.DonationConfirmed).
			Order("id").
			Find(&donations).Error
		if err != nil {
			return fmt.Errorf("query confirmed donations: %w", err)
		}
		candidates = len(donations)
		if candidates == 0 {
			return nil
		}

		now := time.Now()
		for _, d := range donations {
			var existing int64
			err := tx.Model(&model.RequestMatch{}).
				Where("blood_request_id = ? AND donation_request_id = ? AND match_status = ?",
					req.ID, d.ID, model.MatchPending).
				Count(&existing).Error
			if err != nil {
				return fmt.Errorf("check existing match: %w", err)
			}
			if existing > 0 {
				continue
			}

			m := &model.RequestMatch{
				BloodRequestID:    req.ID,
				DonationRequestID: d.ID,
				MatchStatus:       model.MatchPending,
				ScheduledDate:     now.Add(24 * time.Hour),
				Notes:             fmt.Sprintf("Donor matched for blood request #%d, awaiting donation completion.", req.ID),
				Type:              model.NotificationTypeDonorMatch,
			}
			if err := tx.Create(m).Error; err != nil {
				return fmt.Errorf("create request match: %w", err)
			}
			created++
		}

		if created > 0 && req.UserID != nil {
			n := &model.Notification{
				UserID:  *req.UserID,
				Message: fmt.Sprintf("No inventory available for blood request #%d; %d donor(s) have been matched.", req.ID, created),
				Type:    model.NotificationTypeDonorMatch,
				Status:  model.NotificationUnread,
				SentAt:  now,
			}
			if err := tx.Create(n).Error; err != nil {
				return fmt.Errorf("create notification: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if candidates == 0 {
		e.logger.Info("no match found for blood request",
			zap.Uint("request_id", req.ID),
			zap.Uint("blood_type_id", req.BloodTypeID),
			zap.Uint("blood_component_id", req.BloodComponentID))
		return Result{Outcome: OutcomeNoMatch}, nil
	}

	if created > 0 {
		e.logger.Info("donors matched for blood request",
			zap.Uint("request_id", req.ID), zap.Int("created", created))
		e.appendEvent(ctx, req.UserID, req.ID, "DonorMatch",
			fmt.Sprintf("No inventory available for blood request #%d; %d donor(s) have been matched.", req.ID, created))
	}
	return Result{Outcome: OutcomeMatched, MatchCount: created}, nil
}

// appendEvent 事务提交后的尽力投递；失败只记日志，不影响已提交状态。
func (e *Engine) appendEvent(ctx context.Context, userID *int64, requestID uint, source, message string) {
	if e.events == nil || userID == nil {
		return
	}
	msg := queue.NotifyMessage{
		EventID:   uuid.New().String(),
		UserID:    *userID,
		RequestID: requestID,
		Source:    source,
		Message:   message,
	}
	if err := e.events.Append(ctx, msg); err != nil {
		e.logger.Error("append notify event", zap.Uint("request_id", requestID), zap.Error(err))
	}
}
