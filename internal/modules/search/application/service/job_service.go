package service

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"OmniSearch/internal/modules/search/application/dto/respond"
	"OmniSearch/internal/modules/search/domain/job"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/pkg/xerr"
)

// JobService 任务状态查询服务接口
type JobService interface {
	GetStatus(ctx context.Context, jobID string) (*respond.JobRespond, error)
	ListRecent(ctx context.Context, limit int) ([]respond.JobRespond, error)
}

type jobServiceImpl struct {
	jobs repository.JobRepository
}

// NewJobService 创建任务状态查询服务
func NewJobService(jobs repository.JobRepository) JobService {
	return &jobServiceImpl{jobs: jobs}
}

func (s *jobServiceImpl) GetStatus(ctx context.Context, jobID string) (*respond.JobRespond, error) {
	j, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrNotFound
		}
		return nil, err
	}
	return toJobRespond(j), nil
}

func (s *jobServiceImpl) ListRecent(ctx context.Context, limit int) ([]respond.JobRespond, error) {
	jobs, err := s.jobs.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]respond.JobRespond, 0, len(jobs))
	for i := range jobs {
		out = append(out, *toJobRespond(&jobs[i]))
	}
	return out, nil
}

func toJobRespond(j *job.Job) *respond.JobRespond {
	return &respond.JobRespond{
		JobID:     j.ID,
		Type:      j.Type,
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		CreatedBy: j.CreatedBy,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}
