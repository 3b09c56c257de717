package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/reward"
)

type rewardRepoImpl struct {
	db *gorm.DB
}

func NewRewardRepository(db *gorm.DB) repository.RewardRepository {
	return &rewardRepoImpl{db: db}
}

func (r *rewardRepoImpl) Add(ctx context.Context, strategy string, rewardValue float64, userID string) error {
	return r.db.WithContext(ctx).Create(&reward.RewardRecord{
		Strategy:  strategy,
		Reward:    rewardValue,
		UserID:    userID,
		CreatedAt: time.Now(),
	}).Error
}

func (r *rewardRepoImpl) Averages(ctx context.Context) (map[string]float64, error) {
	type row struct {
		Strategy string
		Avg      float64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&reward.RewardRecord{}).
		Select("strategy, AVG(reward) AS avg").
		Group("strategy").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, rr := range rows {
		out[rr.Strategy] = rr.Avg
	}
	return out, nil
}
