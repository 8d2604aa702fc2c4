package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"QuantSync/pkg/errs"
)

// Kind 任务类型
type Kind string

const (
	KindKlineDaily      Kind = "kline_daily"
	KindIndustryMembers Kind = "industry_members"
	KindConceptMembers  Kind = "concept_members"
	KindStockList       Kind = "stock_list"
	KindIndustryList    Kind = "industry_list"
	KindConceptList     Kind = "concept_list"
)

// 队列名，每个队列单独配置并发数
const (
	QueueKline   = "kline"
	QueueMembers = "members"
	QueueLists   = "lists"
)

// Queue 任务类型所属队列
func (k Kind) Queue() string {
	switch k {
	case KindKlineDaily:
		return QueueKline
	case KindIndustryMembers, KindConceptMembers:
		return QueueMembers
	default:
		return QueueLists
	}
}

// ParseKind 解析任务类型
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindKlineDaily, KindIndustryMembers, KindConceptMembers,
		KindStockList, KindIndustryList, KindConceptList:
		return k, nil
	}
	return "", fmt.Errorf("未知的任务类型: %s", s)
}

// Entity 任务对应的实体，股票、板块或市场
type Entity struct {
	ID   uint
	Code string
}

// Job 队列中传递的任务消息
type Job struct {
	ID          string                 `json:"id"`
	SetID       string                 `json:"job_set_id"`
	Kind        Kind                   `json:"kind"`
	EntityID    uint                   `json:"entity_id"`
	EntityCode  string                 `json:"entity_code"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	MaxAttempts int                    `json:"max_attempts"`
}

// Result 单个任务的执行结果
type Result struct {
	Rows       int
	Checkpoint *time.Time
}

// Encode 序列化任务消息
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob 反序列化任务消息
func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return job, errs.Wrap(errs.CodeDispatch, "解析任务消息失败", err)
	}
	if job.ID == "" || job.SetID == "" {
		return job, errs.New(errs.CodeDispatch, "任务消息缺少ID")
	}
	return job, nil
}
