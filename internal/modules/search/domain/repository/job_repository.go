package repository

import (
	"context"

	"OmniSearch/internal/modules/search/domain/job"
)

// JobRepository 任务记录仓储
type JobRepository interface {
	Create(ctx context.Context, j *job.Job) error
	GetByID(ctx context.Context, id string) (*job.Job, error)
	// MarkRunning 仅当任务仍处于 queued 状态时置为 running（worker 抢占语义），返回是否抢占成功
	MarkRunning(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress float64, message string) error
	MarkDone(ctx context.Context, id string, message string) error
	MarkFailed(ctx context.Context, id string, message string) error
	ListRecent(ctx context.Context, limit int) ([]job.Job, error)
	// CountPending queued + running 的任务数（队列深度）
	CountPending(ctx context.Context) (int64, error)
}
