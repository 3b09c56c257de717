package respond

import "time"

// JobRespond 任务状态
type JobRespond struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"` // 0-100
	Message   string    `json:"message,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IngestAcceptedRespond 批量入库受理结果（异步执行）
type IngestAcceptedRespond struct {
	JobID     string `json:"job_id"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
	QueuePath string `json:"queue_path"` // kafka | inline
}

// FeedbackRespond 反馈受理结果
type FeedbackRespond struct {
	Accepted bool    `json:"accepted"`
	Reward   float64 `json:"reward,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// LevelUpdateRespond 安全等级更新结果
type LevelUpdateRespond struct {
	DBID     string `json:"db_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	Updated  int64  `json:"updated"`
}

// EpochRespond epoch 变更结果
type EpochRespond struct {
	Collection string `json:"collection"`
	Epoch      int64  `json:"epoch"`
}

// HealthRespond 健康状态
type HealthRespond struct {
	Status     string                `json:"status"` // ok | degraded
	Components map[string]string     `json:"components"`
	Pool       *PoolStatusRespond `json:"pool,omitempty"`
	RowCounts  map[string]int64   `json:"row_counts,omitempty"`
	Profile    interface{}        `json:"profile,omitempty"`
}

// PoolStatusRespond 资源池状态
type PoolStatusRespond struct {
	Size      int `json:"size"`
	InUse     int `json:"in_use"`
	Available int `json:"available"`
}
