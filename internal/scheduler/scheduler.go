package scheduler

import (
	"context"
	"time"

	"blood_bank/internal/engine"
	"blood_bank/internal/model"
	rediskey "blood_bank/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scheduler 对账轮询器：按固定间隔把履约引擎和入库处理器扫过一遍全量待办。
// 每个申请/献血各自一个事务，单项失败只记日志，绝不中断整轮扫描；
// 循环本身只被外部 ctx 取消终止。
type Scheduler struct {
	db       dbIface
	engine   *engine.Engine
	rdb      *rd.Client // 可为 nil：单实例部署不需要跨实例互斥
	interval time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger
}

// dbIface 只暴露扫描所需的查询面，方便测试。
type dbIface interface {
	ListEligibleRequestIDs(ctx context.Context) ([]uint, error)
	ListCompletedDonationIDs(ctx context.Context) ([]uint, error)
}

func New(db dbIface, eng *engine.Engine, rdb *rd.Client, interval, lockTTL time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		db:       db,
		engine:   eng,
		rdb:      rdb,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   logger,
	}
}

// Run 阻塞运行，直到 ctx 被取消。取消只拦住后续扫描，
// 正在跑的单项事务自行提交或回滚。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("reconciliation scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scheduler stopped")
			return
		case <-ticker.C:
		}
		s.Sweep(ctx)
	}
}

// Sweep 执行一轮扫描：先抢跨实例锁（配了 Redis 才抢），
// 再依次处理待履约申请与待入库献血。
func (s *Scheduler) Sweep(ctx context.Context) {
	if s.rdb != nil {
		token := uuid.New().String()
		ok, err := rediskey.AcquireSweepLock(ctx, s.rdb, token, s.lockTTL)
		if err != nil {
			// Redis 出错时放行（降级策略），单实例扫描本身是幂等的。
			s.logger.Warn("acquire sweep lock", zap.Error(err))
		} else if !ok {
			s.logger.Debug("sweep lock held elsewhere, skipping cycle")
			return
		} else {
			defer func() {
				if err := rediskey.ReleaseSweepLock(context.WithoutCancel(ctx), s.rdb, token); err != nil {
					s.logger.Warn("release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	s.sweepRequests(ctx)
	s.sweepDonations(ctx)
}

func (s *Scheduler) sweepRequests(ctx context.Context) {
	ids, err := s.db.ListEligibleRequestIDs(ctx)
	if err != nil {
		s.logger.Error("list eligible blood requests", zap.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.engine.FulfillRequest(ctx, id); err != nil {
			s.logger.Error("sweep fulfill request", zap.Uint("request_id", id), zap.Error(err))
		}
	}
}

func (s *Scheduler) sweepDonations(ctx context.Context) {
	ids, err := s.db.ListCompletedDonationIDs(ctx)
	if err != nil {
		s.logger.Error("list completed donations", zap.Error(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.engine.ProcessDonation(ctx, id); err != nil {
			s.logger.Error("sweep process donation", zap.Uint("donation_id", id), zap.Error(err))
		}
	}
}

// Store 是 dbIface 的 gorm 实现。
// 紧急申请优先、老申请优先——优先级放在取数查询里，引擎内部不排序。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) ListEligibleRequestIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.BloodRequest{}).
		Where("status = ? AND fulfilled = ?", model.RequestSuccessful, false).
		Order("emergency DESC, created_at ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) ListCompletedDonationIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.DonationRequest{}).
		Where("status = ?", model.DonationCompleted).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}
