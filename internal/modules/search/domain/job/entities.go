package job

import (
	"time"
)

// 任务类型
const (
	TypeBatchIngest    = "batch_ingest"    // 批量文档入库
	TypeLevelBackfill  = "level_backfill"  // 安全等级批量回填
	TypeCollectionSync = "collection_sync" // 集合维护（epoch 递增 + 统计刷新）
)

// 任务执行状态（终态行保留，供审计与状态查询）
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Job 异步任务记录；仅由执行它的 worker 变更，永不删除
type Job struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	Type      string    `gorm:"column:type;not null;index;type:varchar(32)"`
	Payload   string    `gorm:"column:payload;type:mediumtext"` // JSON
	Status    string    `gorm:"column:status;not null;index;type:varchar(16)"`
	Progress  float64   `gorm:"column:progress;default:0"`
	Message   string    `gorm:"column:message;type:text"`
	CreatedBy string    `gorm:"column:created_by;type:varchar(64)"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Job) TableName() string {
	return "search_job"
}

// Terminal 是否已到终态
func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}
