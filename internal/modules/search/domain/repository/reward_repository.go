package repository

import (
	"context"
)

// RewardRepository 策略奖励仓储（只追加）
type RewardRepository interface {
	Add(ctx context.Context, strategy string, reward float64, userID string) error
	// Averages 各策略的平均奖励（无记录的策略不出现在结果里）
	Averages(ctx context.Context) (map[string]float64, error)
}
