package worker

// CVCompileNotifyMessage 是编译完成/失败的 WebSocket 通知协议
// （通过 Redis Pub/Sub 转发给前端）。字段名与前端解析保持一致。
type CVCompileNotifyMessage struct {
	Status        string `json:"status"`
	CVID          uint   `json:"cv_id"`
	CompiledPath  string `json:"compiled_path,omitempty"`
	CorrelationID string `json:"correlation_id"`
	ErrorMessage  string `json:"error_message,omitempty"`
}
