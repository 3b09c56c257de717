package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"

	"OmniSearch/internal/config"
	"OmniSearch/internal/modules/search/application/dto/respond"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/cache"
	"OmniSearch/internal/modules/search/infrastructure/encoder"
	"OmniSearch/internal/modules/search/infrastructure/fusion"
	"OmniSearch/internal/modules/search/infrastructure/pool"
	secinfra "OmniSearch/internal/modules/search/infrastructure/security"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"
)

// SearchRequest 混合检索 Pipeline 的输入
type SearchRequest struct {
	Query       string                // 查询文本（必填）
	Collections []string              // 目标集合；为空时取配置的全部集合
	TopK        int                   // 最终返回条数（默认取配置，范围 1-100）
	Strategy    string                // 显式策略名；为空时自适应选择
	Filters     map[string]string     // 元数据等值过滤（metadata[key] == value）
	BypassCache bool                  // 跳过缓存，使用调用方级别的存储侧预过滤
	NoRerank    bool                  // 跳过重排序
	User        *security.UserContext // 调用方上下文（整条管线只解析一次）
}

// SearchResult 混合检索 Pipeline 的输出。
// Hits 是权限过滤前的完整候选列表：缓存共享要求结果与调用方无关，
// 逐用户的可见性过滤由应用服务在返回前执行
type SearchResult struct {
	QueryID    string
	Query      string
	Strategy   string
	Hits       []respond.SearchHit
	CacheHit   bool
	Degraded   []string // 本次失败（软降级）的信号
	Reranked   bool
	DurationMs int64
}

// SearchPipeline 混合检索管线（基于 Eino compose.Graph）
//
// 节点顺序：Validate → ResolveWeights → CacheLookup → FanOutSearch → Fuse → Temporal → Rerank → BuildResult
//
// 设计原则：
// 1. 与 IngestPipeline 保持一致的架构风格（Eino Graph + Lambda 节点）
// 2. 信号级软降级：单个信号失败不拖垮整次查询，全部失败才报错
// 3. 缓存命中短路后续节点，但不短路权限过滤（应用服务负责）
type SearchPipeline struct {
	store     repository.VectorStore
	embedder  embedding.Embedder
	sparseEnc encoder.SparseEncoder
	spladeEnc encoder.SparseEncoder
	reranker  encoder.Reranker // 可为 nil（重排序关闭）
	cache     *cache.Manager
	pool      *pool.Pool
	acl       *secinfra.AccessController
	bandit    *fusion.Bandit // 可为 nil（启发式模式）
	engine    *fusion.Engine
	conf      *config.Config
	vectorDim int

	r compose.Runnable[*SearchRequest, *SearchResult]
}

// SearchPipelineDeps 构造参数
type SearchPipelineDeps struct {
	Store     repository.VectorStore
	Embedder  embedding.Embedder
	SparseEnc encoder.SparseEncoder
	SpladeEnc encoder.SparseEncoder
	Reranker  encoder.Reranker
	Cache     *cache.Manager
	Pool      *pool.Pool
	ACL       *secinfra.AccessController
	Bandit    *fusion.Bandit
	Engine    *fusion.Engine
	Conf      *config.Config
}

func NewSearchPipeline(deps SearchPipelineDeps) (*SearchPipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("vector store is nil")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if deps.SparseEnc == nil || deps.SpladeEnc == nil {
		return nil, fmt.Errorf("sparse encoder is nil")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("cache manager is nil")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("resource pool is nil")
	}
	if deps.ACL == nil {
		return nil, fmt.Errorf("access controller is nil")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("fusion engine is nil")
	}
	if deps.Conf == nil {
		return nil, fmt.Errorf("config is nil")
	}

	p := &SearchPipeline{
		store:     deps.Store,
		embedder:  deps.Embedder,
		sparseEnc: deps.SparseEnc,
		spladeEnc: deps.SpladeEnc,
		reranker:  deps.Reranker,
		cache:     deps.Cache,
		pool:      deps.Pool,
		acl:       deps.ACL,
		bandit:    deps.Bandit,
		engine:    deps.Engine,
		conf:      deps.Conf,
		vectorDim: deps.Conf.MilvusConfig.VectorDim,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Search 执行混合检索（封装 Eino Runnable.Invoke）。
// 带元数据过滤的查询零命中时自动去掉过滤重试一次（权限过滤不受影响，始终保留）
func (p *SearchPipeline) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	res, err := p.invoke(ctx, req)
	if err == nil && len(res.Hits) == 0 && len(req.Filters) > 0 {
		zlog.Info("zero hits with metadata filters, retrying without filters",
			zap.String("query", req.Query))
		retry := *req
		retry.Filters = nil
		return p.invoke(ctx, &retry)
	}
	return res, err
}

// invoke 单次执行 Graph，把 eino 包装过的业务错误还原为带错误码的原始错误
func (p *SearchPipeline) invoke(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	res, err := p.r.Invoke(ctx, req)
	if err != nil {
		var ce *xerr.CodeError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, err
	}
	return res, nil
}

// normalizeTopK 规范化 TopK（默认取配置，范围 1-100）
func (p *SearchPipeline) normalizeTopK(topK int) int {
	if topK <= 0 {
		if p.conf.SearchConfig.DefaultTopK > 0 {
			return p.conf.SearchConfig.DefaultTopK
		}
		return 10
	}
	if topK > 100 {
		return 100
	}
	return topK
}
