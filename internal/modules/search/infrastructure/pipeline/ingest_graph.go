package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"

	"OmniSearch/internal/modules/search/domain/document"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/pkg/zlog"
)

// ingestState 入库 Pipeline 的中间状态
type ingestState struct {
	Req        *IngestPipelineRequest
	Docs       []*document.Document
	Chunks     []document.Chunk
	Dense      [][]float32
	TitleDense [][]float32
	Sparse     []repository.SparseVector
	Splade     []repository.SparseVector
	Skipped    int
	Errors     []string
	Epoch      int64
	Start      time.Time
	Err        error
}

// buildGraph 构建入库 Pipeline 的 Eino Graph
//
// 节点顺序：Normalize → Chunk → Encode → Upsert → BuildResult
func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*IngestPipelineRequest, *IngestPipelineResult], error) {
	const (
		Normalize   = "Normalize"
		Chunk       = "Chunk"
		Encode      = "Encode"
		Upsert      = "Upsert"
		BuildResult = "BuildResult"
	)
	g := compose.NewGraph[*IngestPipelineRequest, *IngestPipelineResult]()
	_ = g.AddLambdaNode(Normalize, compose.InvokableLambdaWithOption(p.normalizeNode), compose.WithNodeName(Normalize))
	_ = g.AddLambdaNode(Chunk, compose.InvokableLambdaWithOption(p.chunkNode), compose.WithNodeName(Chunk))
	_ = g.AddLambdaNode(Encode, compose.InvokableLambdaWithOption(p.encodeNode), compose.WithNodeName(Encode))
	_ = g.AddLambdaNode(Upsert, compose.InvokableLambdaWithOption(p.upsertNode), compose.WithNodeName(Upsert))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))

	_ = g.AddEdge(compose.START, Normalize)
	_ = g.AddEdge(Normalize, Chunk)
	_ = g.AddEdge(Chunk, Encode)
	_ = g.AddEdge(Encode, Upsert)
	_ = g.AddEdge(Upsert, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)

	return g.Compile(ctx, compose.WithGraphName("BatchIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// normalizeNode 节点 1：原始 JSON 归一化为类型化文档
//
// 单条文档非法只跳过并记录原因，不令整批失败。
// 普通用户只能以 public 或本人 tenant 写入，伪造他人私有文档的条目被拒绝
func (p *IngestPipeline) normalizeNode(ctx context.Context, req *IngestPipelineRequest, _ ...any) (*ingestState, error) {
	_ = ctx
	st := &ingestState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = fmt.Errorf("ingest request is nil")
		return st, nil
	}
	if req.Collection == "" {
		st.Err = fmt.Errorf("collection is empty")
		return st, nil
	}
	if len(req.Raw) == 0 {
		st.Err = fmt.Errorf("documents is empty")
		return st, nil
	}

	user := req.User
	if user == nil {
		user = security.Guest()
	}

	for i, raw := range req.Raw {
		doc, err := document.Normalize(raw)
		if err != nil {
			st.Skipped++
			st.Errors = append(st.Errors, fmt.Sprintf("doc[%d]: %v", i, err))
			continue
		}
		if user.Type != security.ContextTypeService &&
			doc.TenantID != document.TenantPublic && doc.TenantID != user.UserID {
			st.Skipped++
			st.Errors = append(st.Errors, fmt.Sprintf("doc[%d]: tenant_id not allowed", i))
			continue
		}
		st.Docs = append(st.Docs, doc)
	}

	if len(st.Docs) == 0 {
		st.Err = fmt.Errorf("no valid documents after normalization")
	}
	return st, nil
}

// chunkNode 节点 2：切分为带重叠的切片
func (p *IngestPipeline) chunkNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}
	for _, doc := range st.Docs {
		chunks, err := p.chunker.ChunkDocument(ctx, doc)
		if err != nil {
			st.Err = err
			return st, nil
		}
		st.Chunks = append(st.Chunks, chunks...)
	}
	if len(st.Chunks) == 0 {
		st.Err = fmt.Errorf("no chunks produced")
	}
	return st, nil
}

// encodeNode 节点 3：四路向量编码（dense / title_dense / sparse / splade）
//
// 入库编码是硬失败：缺任何一路向量的切片不允许写入
func (p *IngestPipeline) encodeNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	contents := make([]string, len(st.Chunks))
	titles := make([]string, len(st.Chunks))
	for i, c := range st.Chunks {
		contents[i] = c.Content
		titles[i] = c.Title
	}

	dense64, err := p.embedder.EmbedStrings(ctx, contents)
	if err != nil {
		st.Err = fmt.Errorf("dense encode failed: %w", err)
		return st, nil
	}
	title64, err := p.embedder.EmbedStrings(ctx, titles)
	if err != nil {
		st.Err = fmt.Errorf("title encode failed: %w", err)
		return st, nil
	}
	if len(dense64) != len(st.Chunks) || len(title64) != len(st.Chunks) {
		st.Err = fmt.Errorf("embedding count mismatch")
		return st, nil
	}

	st.Dense = make([][]float32, len(dense64))
	st.TitleDense = make([][]float32, len(title64))
	for i := range dense64 {
		if p.vectorDim > 0 && (len(dense64[i]) != p.vectorDim || len(title64[i]) != p.vectorDim) {
			st.Err = fmt.Errorf("embedding dim mismatch at chunk %d", i)
			return st, nil
		}
		st.Dense[i] = toFloat32(dense64[i])
		st.TitleDense[i] = toFloat32(title64[i])
	}

	if st.Sparse, err = p.sparseEnc.EncodeDocuments(ctx, contents); err != nil {
		st.Err = fmt.Errorf("sparse encode failed: %w", err)
		return st, nil
	}
	if st.Splade, err = p.spladeEnc.EncodeDocuments(ctx, contents); err != nil {
		st.Err = fmt.Errorf("splade encode failed: %w", err)
		return st, nil
	}
	if len(st.Sparse) != len(st.Chunks) || len(st.Splade) != len(st.Chunks) {
		st.Err = fmt.Errorf("sparse encode count mismatch")
	}
	return st, nil
}

// upsertNode 节点 4：写入向量库并 bump 集合 epoch
func (p *IngestPipeline) upsertNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}
	if err := p.store.Upsert(ctx, st.Req.Collection, st.Chunks, st.Dense, st.TitleDense, st.Sparse, st.Splade); err != nil {
		st.Err = err
		return st, nil
	}
	st.Epoch = p.cache.BumpEpoch(ctx, st.Req.Collection)
	return st, nil
}

// buildResultNode 节点 5：组装统计结果
func (p *IngestPipeline) buildResultNode(ctx context.Context, st *ingestState, _ ...any) (*IngestPipelineResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	res := &IngestPipelineResult{
		Skipped:    st.Skipped,
		Normalized: len(st.Docs),
		Chunks:     len(st.Chunks),
		Errors:     st.Errors,
		Epoch:      st.Epoch,
		DurationMs: time.Since(st.Start).Milliseconds(),
	}
	if st.Req != nil {
		res.Collection = st.Req.Collection
		res.Received = len(st.Req.Raw)
	}
	if st.Err == nil {
		res.Upserted = len(st.Chunks)
	}

	zlog.Info("batch ingest done",
		zap.String("collection", res.Collection),
		zap.Int("received", res.Received),
		zap.Int("normalized", res.Normalized),
		zap.Int("skipped", res.Skipped),
		zap.Int("chunks", res.Chunks),
		zap.Int("upserted", res.Upserted),
		zap.Int64("epoch", res.Epoch),
		zap.Int64("duration_ms", res.DurationMs),
		zap.Error(st.Err),
	)
	return res, st.Err
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(v[i])
	}
	return out
}
