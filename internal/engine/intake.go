package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blood_bank/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 入库默认值：原系统对新建库存行的约定。
const (
	DefaultLocation = "Default Location"
	DefaultUnit     = "mL"
)

// IntakeResult 汇总一次献血入库处理的产出。
type IntakeResult struct {
	Skipped           bool   `json:"skipped"`
	InventoryID       uint   `json:"inventory_id,omitempty"`
	StockedQuantity   int    `json:"stocked_quantity,omitempty"`
	FulfilledRequests []uint `json:"fulfilled_requests,omitempty"`
}

// ProcessDonation 把一条 Completed 状态的献血转成库存，并顺手履约能满足的申请。
//
// 幂等守卫（有意保守，保持原有语义，勿"修正"）：该献血已被任何配对记录引用，
// 或同（血型, 成分）已存在库存行，都整体跳过。后者是粗粒度判断，
// 可能误跳过合法的再次入库——已知产品层面待澄清的局限。
func (e *Engine) ProcessDonation(ctx context.Context, donationID uint) (IntakeResult, error) {
	var donation model.DonationRequest
	if err := e.db.WithContext(ctx).First(&donation, donationID).Error; err != nil {
		return IntakeResult{}, fmt.Errorf("load donation request %d: %w", donationID, err)
	}
	if donation.Status != model.DonationCompleted {
		return IntakeResult{Skipped: true}, nil
	}

	var matchRefs int64
	if err := e.db.WithContext(ctx).Model(&model.RequestMatch{}).
		Where("donation_request_id = ?", donation.ID).
		Count(&matchRefs).Error; err != nil {
		return IntakeResult{}, fmt.Errorf("check match references: %w", err)
	}
	var existingStock int64
	if err := e.db.WithContext(ctx).Model(&model.BloodInventory{}).
		Where("blood_type_id = ? AND blood_component_id = ?",
			donation.BloodTypeID, donation.BloodComponentID).
		Count(&existingStock).Error; err != nil {
		return IntakeResult{}, fmt.Errorf("check existing inventory: %w", err)
	}
	if matchRefs > 0 || existingStock > 0 {
		e.logger.Info("donation intake skipped by already-processed guard",
			zap.Uint("donation_id", donation.ID),
			zap.Int64("match_refs", matchRefs),
			zap.Int64("existing_stock_rows", existingStock))
		return IntakeResult{Skipped: true}, nil
	}

	out := IntakeResult{StockedQuantity: donation.Quantity}
	type fulfilled struct {
		requestID uint
		userID    *int64
	}
	var done []fulfilled

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		done = done[:0]
		now := time.Now()

		// 定位或新建该（血型, 成分）的库存行。守卫之下这里总是新建，
		// 但保留定位分支，语义与原实现一致。
		var inv model.BloodInventory
		err := tx.
			Where("blood_type_id = ? AND blood_component_id = ?",
				donation.BloodTypeID, donation.BloodComponentID).
			Order("id").
			First(&inv).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			inv = model.BloodInventory{
				BloodTypeID:      donation.BloodTypeID,
				BloodComponentID: donation.BloodComponentID,
				Quantity:         donation.Quantity,
				Unit:             DefaultUnit,
				Location:         DefaultLocation,
				LastUpdated:      now,
			}
			if err := tx.Create(&inv).Error; err != nil {
				return fmt.Errorf("create inventory row: %w", err)
			}
		case err != nil:
			return fmt.Errorf("locate inventory row: %w", err)
		default:
			res := tx.Model(&model.BloodInventory{}).
				Where("id = ?", inv.ID).
				Updates(map[string]interface{}{
					"quantity":     gorm.Expr("quantity + ?", donation.Quantity),
					"last_updated": now,
				})
			if res.Error != nil {
				return fmt.Errorf("restock inventory %d: %w", inv.ID, res.Error)
			}
		}
		out.InventoryID = inv.ID

		// 严格按仓库顺序做 first-fit：装不下的申请跳过，不重排、不换小的优先。
		var requests []model.BloodRequest
		err = tx.
			Where("blood_type_id = ? AND blood_component_id = ? AND status = ? AND fulfilled = ?",
				donation.BloodTypeID, donation.BloodComponentID, model.RequestSuccessful, false).
			Order("id").
			Find(&requests).Error
		if err != nil {
			return fmt.Errorf("query pending requests: %w", err)
		}

		remaining := donation.Quantity
		for _, req := range requests {
			if remaining < req.Quantity {
				continue
			}

			// 先抢履约位：被并发触发方抢走的申请直接跳过，不动库存。
			res := tx.Model(&model.BloodRequest{}).
				Where("id = ? AND fulfilled = ?", req.ID, false).
				Updates(map[string]interface{}{
					"fulfilled":        true,
					"fulfilled_source": model.FulfilledSourceDonation,
				})
			if res.Error != nil {
				return fmt.Errorf("mark request %d fulfilled: %w", req.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}

			res = tx.Model(&model.BloodInventory{}).
				Where("id = ? AND quantity >= ?", inv.ID, req.Quantity).
				Updates(map[string]interface{}{
					"quantity":     gorm.Expr("quantity - ?", req.Quantity),
					"last_updated": now,
				})
			if res.Error != nil {
				return fmt.Errorf("decrement inventory %d: %w", inv.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				// remaining 已保证量足，走到这里只能是不变式被破坏。
				return fmt.Errorf("inventory %d underflow for request %d: quantity guard rejected decrement", inv.ID, req.ID)
			}

			ledger := &model.BloodRequestInventory{
				BloodRequestID:    req.ID,
				InventoryID:       inv.ID,
				QuantityAllocated: req.Quantity,
				AllocatedAt:       now,
				AllocatedBy:       "donation-intake",
			}
			if err := tx.Create(ledger).Error; err != nil {
				return fmt.Errorf("create allocation ledger: %w", err)
			}

			m := &model.RequestMatch{
				BloodRequestID:    req.ID,
				DonationRequestID: donation.ID,
				MatchStatus:       model.MatchCompleted,
				ScheduledDate:     now,
				Notes:             fmt.Sprintf("Fulfilled by completed donation #%d.", donation.ID),
				Type:              model.NotificationTypeFulfillment,
			}
			if err := tx.Create(m).Error; err != nil {
				return fmt.Errorf("create request match: %w", err)
			}

			if req.UserID != nil {
				n := &model.Notification{
					UserID:  *req.UserID,
					Message: fmt.Sprintf("Your blood request #%d has been fulfilled by a completed donation.", req.ID),
					Type:    model.NotificationTypeFulfillment,
					Status:  model.NotificationUnread,
					SentAt:  now,
				}
				if err := tx.Create(n).Error; err != nil {
					return fmt.Errorf("create notification: %w", err)
				}
			}

			remaining -= req.Quantity
			done = append(done, fulfilled{requestID: req.ID, userID: req.UserID})
		}
		return nil
	})
	if err != nil {
		return IntakeResult{}, err
	}

	for _, f := range done {
		out.FulfilledRequests = append(out.FulfilledRequests, f.requestID)
		e.appendEvent(ctx, f.userID, f.requestID, model.FulfilledSourceDonation,
			fmt.Sprintf("Your blood request #%d has been fulfilled by a completed donation.", f.requestID))
	}
	e.logger.Info("donation stocked",
		zap.Uint("donation_id", donation.ID),
		zap.Uint("inventory_id", out.InventoryID),
		zap.Int("quantity", donation.Quantity),
		zap.Int("requests_fulfilled", len(done)))
	return out, nil
}
