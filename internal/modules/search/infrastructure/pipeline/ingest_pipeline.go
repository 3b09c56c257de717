package pipeline

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/compose"

	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/cache"
	"OmniSearch/internal/modules/search/infrastructure/chunking"
	"OmniSearch/internal/modules/search/infrastructure/encoder"
)

// IngestPipelineRequest 批量入库 Pipeline 的输入
type IngestPipelineRequest struct {
	Collection string
	Raw        []map[string]interface{} // 任意形状的原始 JSON 文档
	User       *security.UserContext
}

// IngestPipelineResult 入库结果统计
type IngestPipelineResult struct {
	Collection string   `json:"collection"`
	Received   int      `json:"received"`
	Normalized int      `json:"normalized"`
	Skipped    int      `json:"skipped"`
	Chunks     int      `json:"chunks"`
	Upserted   int      `json:"upserted"`
	Epoch      int64    `json:"epoch"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// IngestPipeline 批量入库管线（基于 Eino compose.Graph）
//
// 节点顺序：Normalize → Chunk → Encode → Upsert → BuildResult
// 点 ID 由 (db_id, chunk_index) 确定性派生，同一文档重复入库即幂等覆盖。
// 写入成功后 bump 集合 epoch，旧缓存结果自然失效
type IngestPipeline struct {
	store     repository.VectorStore
	embedder  embedding.Embedder
	sparseEnc encoder.SparseEncoder
	spladeEnc encoder.SparseEncoder
	chunker   *chunking.SimpleChunker
	cache     *cache.Manager
	vectorDim int

	r compose.Runnable[*IngestPipelineRequest, *IngestPipelineResult]
}

func NewIngestPipeline(
	store repository.VectorStore,
	embedder embedding.Embedder,
	sparseEnc encoder.SparseEncoder,
	spladeEnc encoder.SparseEncoder,
	chunker *chunking.SimpleChunker,
	cacheMgr *cache.Manager,
	vectorDim int,
) (*IngestPipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if sparseEnc == nil || spladeEnc == nil {
		return nil, fmt.Errorf("sparse encoder is nil")
	}
	if chunker == nil {
		return nil, fmt.Errorf("chunker is nil")
	}
	if cacheMgr == nil {
		return nil, fmt.Errorf("cache manager is nil")
	}
	p := &IngestPipeline{
		store:     store,
		embedder:  embedder,
		sparseEnc: sparseEnc,
		spladeEnc: spladeEnc,
		chunker:   chunker,
		cache:     cacheMgr,
		vectorDim: vectorDim,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Ingest 执行批量入库（封装 Eino Runnable.Invoke）
func (p *IngestPipeline) Ingest(ctx context.Context, req *IngestPipelineRequest) (*IngestPipelineResult, error) {
	if req == nil {
		return nil, fmt.Errorf("ingest request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}

// Purge 删除逻辑文档并失效该集合的缓存
func (p *IngestPipeline) Purge(ctx context.Context, collection string, dbID string) error {
	if err := p.store.DeleteByDocID(ctx, collection, dbID); err != nil {
		return err
	}
	p.cache.BumpEpoch(ctx, collection)
	return nil
}
