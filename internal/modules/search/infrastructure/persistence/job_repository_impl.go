package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"OmniSearch/internal/modules/search/domain/job"
	"OmniSearch/internal/modules/search/domain/repository"
)

type jobRepoImpl struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) repository.JobRepository {
	return &jobRepoImpl{db: db}
}

func (r *jobRepoImpl) Create(ctx context.Context, j *job.Job) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = job.StatusQueued
	}
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *jobRepoImpl) GetByID(ctx context.Context, id string) (*job.Job, error) {
	var j job.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRepoImpl) MarkRunning(ctx context.Context, id string) (bool, error) {
	// 条件更新实现抢占：只有 queued -> running 的转换会生效，
	// 重复投递的消息在这里被挡住
	res := r.db.WithContext(ctx).Model(&job.Job{}).
		Where("id = ? AND status = ?", id, job.StatusQueued).
		Updates(map[string]interface{}{
			"status":     job.StatusRunning,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepoImpl) UpdateProgress(ctx context.Context, id string, progress float64, message string) error {
	return r.db.WithContext(ctx).Model(&job.Job{}).
		Where("id = ? AND status = ?", id, job.StatusRunning).
		Updates(map[string]interface{}{
			"progress":   progress,
			"message":    message,
			"updated_at": time.Now(),
		}).Error
}

func (r *jobRepoImpl) MarkDone(ctx context.Context, id string, message string) error {
	return r.markTerminal(ctx, id, job.StatusDone, 100, message)
}

func (r *jobRepoImpl) MarkFailed(ctx context.Context, id string, message string) error {
	var j job.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return err
	}
	return r.markTerminal(ctx, id, job.StatusFailed, j.Progress, message)
}

func (r *jobRepoImpl) markTerminal(ctx context.Context, id string, status string, progress float64, message string) error {
	return r.db.WithContext(ctx).Model(&job.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"progress":   progress,
			"message":    message,
			"updated_at": time.Now(),
		}).Error
}

func (r *jobRepoImpl) ListRecent(ctx context.Context, limit int) ([]job.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []job.Job
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *jobRepoImpl) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&job.Job{}).
		Where("status IN ?", []string{job.StatusQueued, job.StatusRunning}).
		Count(&count).Error
	return count, err
}
