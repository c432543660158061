package redis

import "fmt"

// SweepLockKey 对账轮询的跨实例互斥锁键名。
func SweepLockKey() string {
	return "blood_bank:sweep:lock"
}

// FulfillStateKey 存储用血申请的履约状态快照，供查询接口回读。
func FulfillStateKey(requestID uint) string {
	return fmt.Sprintf("blood_bank:fulfill:state:%d", requestID)
}

// RateLimitUserKey 公开申请接口按用户限流的键名。
func RateLimitUserKey(userID int64) string {
	return fmt.Sprintf("rate_limit:blood_request:user:%d", userID)
}

// RateLimitIPKey 解析不出用户时按来源 IP 限流的降级键名。
func RateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:blood_request:ip:%s", ip)
}
