package service

import (
	"context"
	"fmt"
	"time"

	"OmniSearch/internal/modules/search/application/dto/respond"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/infrastructure/pool"
	secinfra "OmniSearch/internal/modules/search/infrastructure/security"
	"OmniSearch/pkg/redis"
)

const healthProbeTimeout = 3 * time.Second

// HealthService 健康检查服务接口
type HealthService interface {
	// Liveness 轻量探活（不触达任何依赖）
	Liveness() *respond.HealthRespond
	// Status 完整健康状态：依赖探活、资源池占用、集合统计、安全档位报告
	Status(ctx context.Context) *respond.HealthRespond
}

type healthServiceImpl struct {
	store       repository.VectorStore
	jobs        repository.JobRepository
	pool        *pool.Pool
	validator   *secinfra.ProfileValidator
	collections []string
}

// NewHealthService 创建健康检查服务
func NewHealthService(store repository.VectorStore, jobs repository.JobRepository, p *pool.Pool, validator *secinfra.ProfileValidator, collections []string) HealthService {
	return &healthServiceImpl{store: store, jobs: jobs, pool: p, validator: validator, collections: collections}
}

func (s *healthServiceImpl) Liveness() *respond.HealthRespond {
	return &respond.HealthRespond{Status: "ok", Components: map[string]string{}}
}

func (s *healthServiceImpl) Status(ctx context.Context) *respond.HealthRespond {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	res := &respond.HealthRespond{
		Status:     "ok",
		Components: map[string]string{},
		RowCounts:  map[string]int64{},
	}
	degrade := func(name string, err error) {
		res.Components[name] = "down: " + err.Error()
		res.Status = "degraded"
	}

	if err := s.store.Reachable(ctx); err != nil {
		degrade("vector_store", err)
	} else {
		res.Components["vector_store"] = "ok"
		for _, coll := range s.collections {
			if count, err := s.store.RowCount(ctx, coll); err == nil {
				res.RowCounts[coll] = count
			}
		}
	}

	if redis.IsConnected() {
		if err := redis.Ping(ctx); err != nil {
			degrade("redis", err)
		} else {
			res.Components["redis"] = "ok"
		}
	} else {
		// 缓存降级为仅进程内，不算故障
		res.Components["redis"] = "disabled"
	}

	if s.jobs != nil {
		if pending, err := s.jobs.CountPending(ctx); err != nil {
			degrade("job_store", err)
		} else {
			res.Components["job_store"] = fmt.Sprintf("ok (pending=%d)", pending)
		}
	}

	if s.pool != nil {
		size, inUse, available := s.pool.Status()
		res.Pool = &respond.PoolStatusRespond{Size: size, InUse: inUse, Available: available}
	}

	if s.validator != nil {
		if report, err := s.validator.ValidateActive(ctx); err == nil {
			res.Profile = report
			if !report.Passed {
				res.Status = "degraded"
			}
		}
	}

	return res
}
