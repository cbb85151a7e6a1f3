package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeCVCompile = "cv:compile"
)

// CVCompilePayload 描述编译 CV 产物所需的最小信息。
type CVCompilePayload struct {
	CVID          uint   `json:"cv_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewCVCompileTask 构造一个新的 CV 产物编译任务。
func NewCVCompileTask(id uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(CVCompilePayload{
		CVID:          id,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCVCompile, payload), nil
}
