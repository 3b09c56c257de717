package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"OmniSearch/internal/modules/search/application/dto/request"
	"OmniSearch/internal/modules/search/application/dto/respond"
	"OmniSearch/internal/modules/search/domain/job"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/mq"
	"OmniSearch/internal/modules/search/infrastructure/pipeline"
	"OmniSearch/internal/modules/search/infrastructure/queue"
	secinfra "OmniSearch/internal/modules/search/infrastructure/security"
	"OmniSearch/pkg/util"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"
)

// 同步执行的批量上限；超过必须走队列
const maxSyncDocuments = 20

// IngestService 批量入库服务接口
type IngestService interface {
	// Submit 受理批量入库请求。
	// 默认异步：创建任务记录并投递 Kafka，由 worker 执行；
	// sync=true 且批量很小（或队列不可用）时退化为同步执行
	Submit(ctx context.Context, req request.IngestRequest, user *security.UserContext) (*respond.IngestAcceptedRespond, error)
	// Purge 删除逻辑文档（属主或 admin）
	Purge(ctx context.Context, collection string, dbID string, user *security.UserContext) error
}

type ingestServiceImpl struct {
	jobs      repository.JobRepository
	publisher mq.Publisher // 可为 nil（无 Kafka 的部署，全部同步执行）
	pipeline  *pipeline.IngestPipeline
	store     repository.VectorStore
	acl       *secinfra.AccessController
	jobTopic  string
}

// NewIngestService 创建批量入库服务
func NewIngestService(jobs repository.JobRepository, publisher mq.Publisher, p *pipeline.IngestPipeline, store repository.VectorStore, acl *secinfra.AccessController, jobTopic string) IngestService {
	return &ingestServiceImpl{jobs: jobs, publisher: publisher, pipeline: p, store: store, acl: acl, jobTopic: jobTopic}
}

func (s *ingestServiceImpl) Submit(ctx context.Context, req request.IngestRequest, user *security.UserContext) (*respond.IngestAcceptedRespond, error) {
	if user == nil {
		user = security.Guest()
	}
	if !canIngest(user) {
		return nil, xerr.ErrForbidden
	}
	if len(req.Documents) == 0 {
		return nil, xerr.New(xerr.BadRequest, "documents is empty")
	}

	if req.Sync && len(req.Documents) <= maxSyncDocuments {
		return s.runInline(ctx, req, user)
	}

	if s.publisher == nil || s.jobTopic == "" {
		zlog.Warn("job queue unavailable, running ingest inline",
			zap.String("collection", req.Collection), zap.Int("documents", len(req.Documents)))
		return s.runInline(ctx, req, user)
	}

	payload, err := json.Marshal(queue.BatchIngestPayload{
		Collection: req.Collection,
		Documents:  req.Documents,
		User:       user,
	})
	if err != nil {
		return nil, err
	}

	j := &job.Job{
		ID:        util.GenerateUUID(),
		Type:      job.TypeBatchIngest,
		Payload:   string(payload),
		Status:    job.StatusQueued,
		CreatedBy: user.UserID,
		CreatedAt: time.Now(),
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, err
	}

	_, err = s.publisher.Publish(ctx, mq.Message{
		Topic: s.jobTopic,
		Key:   []byte(j.ID),
		Value: []byte(j.ID),
		Headers: map[string]string{
			"job_type":   j.Type,
			"created_by": user.UserID,
		},
	})
	if err != nil {
		_ = s.jobs.MarkFailed(ctx, j.ID, "enqueue failed: "+err.Error())
		zlog.Error("publish ingest job failed", zap.String("job_id", j.ID), zap.Error(err))
		return nil, xerr.ErrQueueUnavailable
	}

	zlog.Info("ingest job enqueued",
		zap.String("job_id", j.ID),
		zap.String("collection", req.Collection),
		zap.Int("documents", len(req.Documents)),
		zap.String("created_by", user.UserID))

	return &respond.IngestAcceptedRespond{
		JobID:     j.ID,
		Accepted:  len(req.Documents),
		QueuePath: "kafka",
	}, nil
}

func (s *ingestServiceImpl) runInline(ctx context.Context, req request.IngestRequest, user *security.UserContext) (*respond.IngestAcceptedRespond, error) {
	res, err := s.pipeline.Ingest(ctx, &pipeline.IngestPipelineRequest{
		Collection: req.Collection,
		Raw:        req.Documents,
		User:       user,
	})
	if err != nil {
		return nil, err
	}
	return &respond.IngestAcceptedRespond{
		Accepted:  res.Normalized,
		Rejected:  res.Skipped,
		QueuePath: "inline",
	}, nil
}

func (s *ingestServiceImpl) Purge(ctx context.Context, collection string, dbID string, user *security.UserContext) error {
	if user == nil {
		user = security.Guest()
	}
	hits, err := s.store.FetchByDocID(ctx, collection, dbID, 1)
	if err != nil {
		return xerr.ErrStoreUnavailable
	}
	if len(hits) == 0 {
		return xerr.New(xerr.CodeDocumentMissing, "文档不存在")
	}
	// 删除权限与编辑权限一致：属主始终可删，公共文档需要 admin
	if !s.acl.CanEdit(user, &hits[0]) {
		return xerr.ErrAccessDenied
	}
	return s.pipeline.Purge(ctx, collection, hits[0].DBID)
}

// canIngest editor 以上角色或服务调用方可以写入
func canIngest(user *security.UserContext) bool {
	if user.Type == security.ContextTypeService {
		return true
	}
	return user.Role == security.RoleEditor || user.Role == security.RoleAdmin
}
