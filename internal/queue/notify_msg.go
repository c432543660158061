package queue

import "fmt"

// NotifyMessage 是写入 Kafka 的履约通知事件。
// EventID 同时充当 Kafka key 与下游幂等标识。
type NotifyMessage struct {
	EventID   string `json:"event_id"`
	UserID    int64  `json:"user_id"`
	RequestID uint   `json:"request_id"`
	Source    string `json:"source"` // Inventory / Donation / DonorMatch
	Message   string `json:"message"`
}

// Validate 做最小字段校验，防止下游处理脏消息。
func (m NotifyMessage) Validate() error {
	if m.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.RequestID == 0 {
		return fmt.Errorf("request_id is required")
	}
	if m.Source == "" {
		return fmt.Errorf("source is required")
	}
	if m.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}
