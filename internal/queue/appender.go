package queue

import (
	"context"

	rd "github.com/redis/go-redis/v9"
)

// EventAppender 是引擎在履约事务提交后的事件出口。
// 入流失败只记日志，绝不反推已提交的事务。
type EventAppender interface {
	Append(ctx context.Context, msg NotifyMessage) error
}

// StreamAppender 把通知事件写入 Redis Stream，由 Relay 异步转 Kafka。
type StreamAppender struct {
	rdb    *rd.Client
	stream string
}

func NewStreamAppender(rdb *rd.Client, stream string) *StreamAppender {
	return &StreamAppender{rdb: rdb, stream: stream}
}

func (a *StreamAppender) Append(ctx context.Context, msg NotifyMessage) error {
	return a.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: a.stream,
		Values: map[string]interface{}{
			"event_id":   msg.EventID,
			"user_id":    msg.UserID,
			"request_id": uint64(msg.RequestID),
			"source":     msg.Source,
			"message":    msg.Message,
		},
	}).Err()
}
