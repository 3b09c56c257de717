package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"OmniSearch/internal/modules/search/domain/job"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/cache"
	"OmniSearch/internal/modules/search/infrastructure/mq"
	"OmniSearch/internal/modules/search/infrastructure/pipeline"
	secinfra "OmniSearch/internal/modules/search/infrastructure/security"
	"OmniSearch/pkg/ws"
	"OmniSearch/pkg/zlog"
)

// BatchIngestPayload 批量入库任务载荷
type BatchIngestPayload struct {
	Collection string                   `json:"collection"`
	Documents  []map[string]interface{} `json:"documents"`
	User       *security.UserContext    `json:"user"`
}

// LevelBackfillPayload 安全等级批量回填任务载荷
type LevelBackfillPayload struct {
	Collection string                `json:"collection"`
	Items      []LevelBackfillItem   `json:"items"`
	User       *security.UserContext `json:"user"`
}

type LevelBackfillItem struct {
	DocID string `json:"doc_id"`
	Level int    `json:"level"`
}

// CollectionSyncPayload 集合维护任务载荷
type CollectionSyncPayload struct {
	Collection string `json:"collection"`
}

// jobEvent WebSocket 推送的任务状态快照
type jobEvent struct {
	JobID    string  `json:"job_id"`
	Type     string  `json:"type"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// JobConsumerWorker 从 Kafka 消费任务 ID，加载任务记录并执行。
// 抢占通过 queued -> running 的条件更新完成，重复投递的消息被自然挡住；
// 每次状态变更都会通过 WebSocket Hub 推送给订阅方
type JobConsumerWorker struct {
	consumer mq.Consumer
	jobs     repository.JobRepository
	ingest   *pipeline.IngestPipeline
	levels   *secinfra.LevelManager
	cache    *cache.Manager
	store    repository.VectorStore
	hub      *ws.Hub
}

func NewJobConsumerWorker(
	consumer mq.Consumer,
	jobs repository.JobRepository,
	ingest *pipeline.IngestPipeline,
	levels *secinfra.LevelManager,
	cacheMgr *cache.Manager,
	store repository.VectorStore,
	hub *ws.Hub,
) *JobConsumerWorker {
	return &JobConsumerWorker{
		consumer: consumer,
		jobs:     jobs,
		ingest:   ingest,
		levels:   levels,
		cache:    cacheMgr,
		store:    store,
		hub:      hub,
	}
}

func (w *JobConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.jobs == nil {
		return errors.New("job repo is nil")
	}
	if w.ingest == nil {
		return errors.New("ingest pipeline is nil")
	}
	return w.consumer.Run(ctx, w)
}

func (w *JobConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	jobID := strings.TrimSpace(string(msg.Value))
	if jobID == "" {
		zlog.Warn("job consumer got empty job id", zap.String("topic", msg.Topic))
		return nil
	}

	j, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		zlog.Warn("job consumer load job failed", zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	if j.Terminal() {
		return nil
	}

	ok, err := w.jobs.MarkRunning(ctx, jobID)
	if err != nil {
		zlog.Warn("job consumer mark running failed", zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	if !ok {
		return nil
	}
	w.publish(j.ID, j.Type, job.StatusRunning, 0, "")

	execErr := w.execute(ctx, j)
	if execErr != nil {
		_ = w.jobs.MarkFailed(ctx, j.ID, execErr.Error())
		w.publish(j.ID, j.Type, job.StatusFailed, j.Progress, execErr.Error())
		zlog.Error("job execution failed",
			zap.String("job_id", j.ID), zap.String("type", j.Type), zap.Error(execErr))
		return nil
	}

	_ = w.jobs.MarkDone(ctx, j.ID, "completed")
	w.publish(j.ID, j.Type, job.StatusDone, 100, "completed")
	zlog.Info("job execution done", zap.String("job_id", j.ID), zap.String("type", j.Type))
	return nil
}

func (w *JobConsumerWorker) execute(ctx context.Context, j *job.Job) error {
	switch j.Type {
	case job.TypeBatchIngest:
		return w.runBatchIngest(ctx, j)
	case job.TypeLevelBackfill:
		return w.runLevelBackfill(ctx, j)
	case job.TypeCollectionSync:
		return w.runCollectionSync(ctx, j)
	default:
		return fmt.Errorf("unknown job type: %s", j.Type)
	}
}

// runBatchIngest 分批执行入库，批间更新进度
func (w *JobConsumerWorker) runBatchIngest(ctx context.Context, j *job.Job) error {
	var payload BatchIngestPayload
	if err := json.Unmarshal([]byte(j.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	total := len(payload.Documents)
	if total == 0 {
		return errors.New("payload has no documents")
	}

	const batchSize = 50
	done := 0
	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		res, err := w.ingest.Ingest(ctx, &pipeline.IngestPipelineRequest{
			Collection: payload.Collection,
			Raw:        payload.Documents[start:end],
			User:       payload.User,
		})
		if err != nil {
			return fmt.Errorf("batch [%d,%d): %w", start, end, err)
		}
		done = end
		progress := float64(done) / float64(total) * 100
		msg := fmt.Sprintf("ingested %d/%d (skipped %d)", done, total, res.Skipped)
		_ = w.jobs.UpdateProgress(ctx, j.ID, progress, msg)
		w.publish(j.ID, j.Type, job.StatusRunning, progress, msg)
	}
	return nil
}

// runLevelBackfill 逐条回填安全等级；单条失败整个任务失败（已改过的条目保持生效）
func (w *JobConsumerWorker) runLevelBackfill(ctx context.Context, j *job.Job) error {
	if w.levels == nil {
		return errors.New("level manager is nil")
	}
	var payload LevelBackfillPayload
	if err := json.Unmarshal([]byte(j.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	total := len(payload.Items)
	if total == 0 {
		return errors.New("payload has no items")
	}

	for i, item := range payload.Items {
		if _, err := w.levels.UpdateLevel(ctx, payload.User, payload.Collection, item.DocID, item.Level); err != nil {
			return fmt.Errorf("item %d (%s): %w", i, item.DocID, err)
		}
		progress := float64(i+1) / float64(total) * 100
		_ = w.jobs.UpdateProgress(ctx, j.ID, progress, fmt.Sprintf("backfilled %d/%d", i+1, total))
		w.publish(j.ID, j.Type, job.StatusRunning, progress, "")
	}
	if w.cache != nil {
		w.cache.BumpEpoch(ctx, payload.Collection)
	}
	return nil
}

// runCollectionSync 集合维护：bump epoch 并刷新统计
func (w *JobConsumerWorker) runCollectionSync(ctx context.Context, j *job.Job) error {
	var payload CollectionSyncPayload
	if err := json.Unmarshal([]byte(j.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.Collection == "" {
		return errors.New("collection is empty")
	}
	if w.cache != nil {
		w.cache.BumpEpoch(ctx, payload.Collection)
	}
	if w.store != nil {
		count, err := w.store.RowCount(ctx, payload.Collection)
		if err != nil {
			return err
		}
		_ = w.jobs.UpdateProgress(ctx, j.ID, 100, fmt.Sprintf("row_count=%d", count))
	}
	return nil
}

func (w *JobConsumerWorker) publish(jobID, jobType, status string, progress float64, message string) {
	if w.hub == nil {
		return
	}
	_ = w.hub.BroadcastJSON(jobID, jobEvent{
		JobID:    jobID,
		Type:     jobType,
		Status:   status,
		Progress: progress,
		Message:  message,
	})
}
