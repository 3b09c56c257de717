package reward

import (
	"time"
)

// RewardRecord 策略奖励记录（只追加，读取时取运行平均，驱动 epsilon-greedy 策略选择）
type RewardRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Strategy  string    `gorm:"column:strategy;not null;index;type:varchar(64)"`
	Reward    float64   `gorm:"column:reward;not null"`
	UserID    string    `gorm:"column:user_id;type:varchar(64)"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (RewardRecord) TableName() string {
	return "search_reward_record"
}
