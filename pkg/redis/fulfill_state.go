package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// FulfillPending 表示申请已通过审核，等待供给。
	FulfillPending = "pending"
	// FulfillFulfilled 表示已履约（来源见 Source）。
	FulfillFulfilled = "fulfilled"
	// FulfillMatched 表示无库存、已登记献血配对。
	FulfillMatched = "donor_matched"
)

// FulfillState 对应 Redis 内的履约状态快照。
type FulfillState struct {
	RequestID uint
	Status    string
	Source    string
	Matches   int
}

// GetFulfillState 查询申请当前履约状态。found=false 表示 key 不存在。
func GetFulfillState(ctx context.Context, rdb *rd.Client, requestID uint) (FulfillState, bool, error) {
	key := FulfillStateKey(requestID)
	m, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return FulfillState{}, false, err
	}
	if len(m) == 0 {
		return FulfillState{}, false, nil
	}

	out := FulfillState{
		RequestID: requestID,
		Status:    m["status"],
		Source:    m["source"],
	}
	if out.Status == "" {
		out.Status = FulfillPending
	}
	if v := m["matches"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			out.Matches = n
		}
	}
	return out, true, nil
}

// PutFulfillState 更新履约状态快照，并刷新 key TTL。
func PutFulfillState(ctx context.Context, rdb *rd.Client, requestID uint, status, source string, matches int, ttl time.Duration) error {
	key := FulfillStateKey(requestID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"request_id", strconv.FormatUint(uint64(requestID), 10),
		"status", status,
		"source", source,
		"matches", strconv.Itoa(matches),
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
