// Package tasks defines the jobs that are sent to Kafka.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobType 区分同一主题上的不同任务。
type JobType string

const (
	JobIngest  JobType = "ingest"
	JobReindex JobType = "reindex"
)

// ErrInvalidJob 表示消息无法解析为合法任务，这类消息直接丢弃。
var ErrInvalidJob = errors.New("tasks: invalid job")

// IngestPayload 是新上传版本的摄取任务。
type IngestPayload struct {
	VersionID        string `json:"versionID"`
	StorageKey       string `json:"storageKey"`
	OriginalFilename string `json:"originalFilename"`
}

// ReindexPayload 是对已有版本重新索引的任务。
type ReindexPayload struct {
	VersionID string `json:"versionID"`
}

// Job 是写入 Kafka 的消息体。NotBefore 用于延迟重投，消费者在此时间之前不会处理它。
type Job struct {
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	NotBefore *time.Time      `json:"notBefore,omitempty"`
}

// NewIngestJob 构造摄取任务。
func NewIngestJob(p IngestPayload) (Job, error) {
	return newJob(JobIngest, p)
}

// NewReindexJob 构造重建索引任务。
func NewReindexJob(versionID string) (Job, error) {
	return newJob(JobReindex, ReindexPayload{VersionID: versionID})
}

func newJob(t JobType, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, err
	}
	return Job{Type: t, Payload: raw}, nil
}

// Decode 解析 Kafka 消息体。
func Decode(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	switch j.Type {
	case JobIngest, JobReindex:
	default:
		return Job{}, fmt.Errorf("%w: unknown type %q", ErrInvalidJob, j.Type)
	}
	return j, nil
}

// VersionID 取出任务指向的版本 ID，两种任务的载荷都包含该字段。
func (j Job) VersionID() (string, error) {
	var p ReindexPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if p.VersionID == "" {
		return "", fmt.Errorf("%w: missing versionID", ErrInvalidJob)
	}
	return p.VersionID, nil
}

// Ingest 解析摄取任务的完整载荷。
func (j Job) Ingest() (IngestPayload, error) {
	var p IngestPayload
	if j.Type != JobIngest {
		return p, fmt.Errorf("%w: not an ingest job", ErrInvalidJob)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return p, nil
}

// Delayed 返回一个在 at 之前不应被处理的副本。
func (j Job) Delayed(at time.Time) Job {
	j.NotBefore = &at
	return j
}
