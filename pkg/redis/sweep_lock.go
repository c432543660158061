package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseSweepLockIfMatch 仅当锁值匹配本轮 token 时才删除，
// 避免 TTL 过期后误删其它实例新持有的锁。
const luaReleaseSweepLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireSweepLock 以 SETNX 语义抢占一轮扫描的互斥锁。
// 返回 false 表示另一实例正在扫描，本轮应整体跳过。
func AcquireSweepLock(ctx context.Context, rdb *rd.Client, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, SweepLockKey(), token, ttl).Result()
}

// ReleaseSweepLock 安全释放扫描锁（值匹配才删）。
func ReleaseSweepLock(ctx context.Context, rdb *rd.Client, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseSweepLockIfMatch, []string{SweepLockKey()}, token).Int()
	return err
}
