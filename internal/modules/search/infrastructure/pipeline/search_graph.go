package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"

	"OmniSearch/internal/modules/search/application/dto/respond"
	"OmniSearch/internal/modules/search/domain/document"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/encoder"
	"OmniSearch/internal/modules/search/infrastructure/fusion"
	"OmniSearch/pkg/util"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"
)

// 查询文本上限（rune）
const maxQueryLen = 1000

// 重排序候选内容截断长度（交叉编码器输入窗口有限）
const rerankContentLimit = 2000

// 单次重排序候选数上限
const maxRerankTopN = 50

// 提示注入特征（命中即拒绝，不进入检索）
var injectionPatterns = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard the above",
	"system prompt",
	"<script",
}

// searchState 检索 Pipeline 的中间状态（在节点间传递）
type searchState struct {
	Req         *SearchRequest
	User        *security.UserContext
	TopK        int
	Collections []string
	Weights     fusion.Weights
	Intent      fusion.TemporalIntent
	FilterExpr  string // 存储侧预过滤表达式（仅 bypass_cache 请求使用）
	CacheKey    string
	CacheHit    bool
	QueryVec    []float32
	Signals     map[string][]repository.VectorSearchHit
	Degraded    []string
	Candidates  []*fusion.Candidate
	Hits        []respond.SearchHit
	Reranked    bool
	Start       time.Time
	SearchMs    int64
	FuseMs      int64
	RerankMs    int64
	Err         error
}

// cachedEntry 缓存条目：权限过滤前的完整候选列表
type cachedEntry struct {
	Strategy string              `json:"strategy"`
	Reranked bool                `json:"reranked"`
	Hits     []respond.SearchHit `json:"hits"`
}

// buildGraph 构建检索 Pipeline 的 Eino Graph
//
// 节点顺序：Validate → ResolveWeights → CacheLookup → FanOutSearch → Fuse → Temporal → Rerank → BuildResult
func (p *SearchPipeline) buildGraph(ctx context.Context) (compose.Runnable[*SearchRequest, *SearchResult], error) {
	const (
		Validate       = "Validate"
		ResolveWeights = "ResolveWeights"
		CacheLookup    = "CacheLookup"
		FanOutSearch   = "FanOutSearch"
		Fuse           = "Fuse"
		Temporal       = "Temporal"
		Rerank         = "Rerank"
		BuildResult    = "BuildResult"
	)
	g := compose.NewGraph[*SearchRequest, *SearchResult]()
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(ResolveWeights, compose.InvokableLambdaWithOption(p.resolveWeightsNode), compose.WithNodeName(ResolveWeights))
	_ = g.AddLambdaNode(CacheLookup, compose.InvokableLambdaWithOption(p.cacheLookupNode), compose.WithNodeName(CacheLookup))
	_ = g.AddLambdaNode(FanOutSearch, compose.InvokableLambdaWithOption(p.fanOutSearchNode), compose.WithNodeName(FanOutSearch))
	_ = g.AddLambdaNode(Fuse, compose.InvokableLambdaWithOption(p.fuseNode), compose.WithNodeName(Fuse))
	_ = g.AddLambdaNode(Temporal, compose.InvokableLambdaWithOption(p.temporalNode), compose.WithNodeName(Temporal))
	_ = g.AddLambdaNode(Rerank, compose.InvokableLambdaWithOption(p.rerankNode), compose.WithNodeName(Rerank))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))

	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, ResolveWeights)
	_ = g.AddEdge(ResolveWeights, CacheLookup)
	_ = g.AddEdge(CacheLookup, FanOutSearch)
	_ = g.AddEdge(FanOutSearch, Fuse)
	_ = g.AddEdge(Fuse, Temporal)
	_ = g.AddEdge(Temporal, Rerank)
	_ = g.AddEdge(Rerank, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)

	return g.Compile(ctx, compose.WithGraphName("HybridSearchPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// validateNode 节点 1：清洗查询、解析调用方、确定目标集合
func (p *SearchPipeline) validateNode(ctx context.Context, req *SearchRequest, _ ...any) (*searchState, error) {
	st := &searchState{
		Req:     req,
		Start:   time.Now(),
		Signals: map[string][]repository.VectorSearchHit{},
	}
	if req == nil {
		st.Err = fmt.Errorf("search request is nil")
		return st, nil
	}

	st.User = req.User
	if st.User == nil {
		st.User = security.Guest()
	}

	query := document.CleanText(req.Query)
	if query == "" {
		st.Err = xerr.New(xerr.CodeInvalidQuery, "query is empty")
		return st, nil
	}
	if len([]rune(query)) > maxQueryLen {
		st.Err = xerr.New(xerr.CodeInvalidQuery, fmt.Sprintf("query exceeds %d characters", maxQueryLen))
		return st, nil
	}
	lower := strings.ToLower(query)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lower, pattern) {
			st.Err = xerr.New(xerr.CodeInjectionDetected, "query rejected: suspicious pattern")
			return st, nil
		}
	}
	req.Query = query

	st.TopK = p.normalizeTopK(req.TopK)
	st.Collections = req.Collections
	if len(st.Collections) == 0 {
		st.Collections = p.conf.MilvusConfig.Collections
	}
	if len(st.Collections) == 0 {
		st.Err = xerr.New(xerr.CodeCollectionMissing, "no target collections configured")
		return st, nil
	}

	// 元数据过滤参与缓存键，带过滤的结果不会串到不带过滤的请求
	st.FilterExpr = metadataFilterExpr(req.Filters)

	// bypass_cache 请求不参与跨用户缓存共享，可以用调用方级别的存储侧预过滤收窄召回。
	// 权限过滤表达式永远在元数据过滤之上叠加，不会被后者顶掉
	if req.BypassCache {
		if aclExpr := p.acl.SearchFilterExpr(st.User); aclExpr != "" {
			if st.FilterExpr != "" {
				st.FilterExpr = "(" + aclExpr + ") && (" + st.FilterExpr + ")"
			} else {
				st.FilterExpr = aclExpr
			}
		}
	}
	return st, nil
}

var exprEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// metadataFilterExpr 把调用方的元数据过滤转换为存储侧表达式。
// key 排序保证同一组过滤生成同一条表达式（缓存键稳定）
func metadataFilterExpr(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, fmt.Sprintf(`metadata["%s"] == "%s"`, exprEscaper.Replace(k), exprEscaper.Replace(filters[k])))
	}
	return strings.Join(clauses, " && ")
}

// resolveWeightsNode 节点 2：确定权重档案与时间意图
//
// 优先级：显式策略名 > epsilon-greedy 选择器 > 启发式规则；配置覆盖永远最后生效
func (p *SearchPipeline) resolveWeightsNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}

	var w fusion.Weights
	switch {
	case st.Req.Strategy != "":
		fixed, ok := fusion.StrategyWeights(st.Req.Strategy)
		if !ok {
			st.Err = xerr.New(xerr.CodeInvalidQuery, "unknown strategy: "+st.Req.Strategy)
			return st, nil
		}
		w = fixed
	case p.conf.SearchConfig.UseBandit && p.bandit != nil:
		w = p.bandit.Select(ctx)
	default:
		w = fusion.HeuristicWeights(st.Req.Query)
	}
	st.Weights = fusion.ApplyOverrides(w, &p.conf.SearchConfig)
	st.Intent = fusion.ExtractTemporalIntent(st.Req.Query)
	return st, nil
}

// cacheLookupNode 节点 3：结果缓存查找（bypass 请求直接跳过）
func (p *SearchPipeline) cacheLookupNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	if st == nil || st.Err != nil {
		return st, nil
	}
	if st.Req.BypassCache {
		return st, nil
	}

	st.CacheKey = p.cache.Key(ctx, st.Req.Query, st.Collections, st.Weights.Name, st.FilterExpr, st.TopK)
	var entry cachedEntry
	if p.cache.Get(ctx, st.CacheKey, &entry) {
		st.CacheHit = true
		st.Hits = entry.Hits
		st.Reranked = entry.Reranked
		if entry.Strategy != "" {
			st.Weights.Name = entry.Strategy
		}
	}
	return st, nil
}

// fanOutSearchNode 节点 4：四路信号并发检索
//
// 每路信号独立超时、独立失败（软降级）；全部失败才令整次查询失败。
// 通过有界资源池限制并发查询占用的存储连接
func (p *SearchPipeline) fanOutSearchNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	if st == nil || st.Err != nil || st.CacheHit {
		return st, nil
	}

	_, release, err := p.pool.Acquire(ctx)
	if err != nil {
		st.Err = err
		return st, nil
	}
	defer release()

	searchStart := time.Now()
	signalTimeout := 2 * time.Second
	if p.conf.SearchConfig.SignalTimeoutMs > 0 {
		signalTimeout = time.Duration(p.conf.SearchConfig.SignalTimeoutMs) * time.Millisecond
	}
	searchK := st.Weights.SearchK
	if searchK <= 0 {
		searchK = 60
	}

	// dense 与 title 共用同一条查询向量，向量化失败时两路一起降级
	var queryVec []float32
	embedErr := func() error {
		ectx, cancel := context.WithTimeout(ctx, signalTimeout)
		defer cancel()
		vecs, err := p.embedder.EmbedStrings(ectx, []string{st.Req.Query})
		if err != nil {
			return err
		}
		if len(vecs) == 0 {
			return fmt.Errorf("embedding result is empty")
		}
		vec64 := vecs[0]
		if p.vectorDim > 0 && len(vec64) != p.vectorDim {
			return fmt.Errorf("embedding dim mismatch: got=%d want=%d", len(vec64), p.vectorDim)
		}
		queryVec = make([]float32, len(vec64))
		for i := range vec64 {
			queryVec[i] = float32(vec64[i])
		}
		return nil
	}()
	st.QueryVec = queryVec

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(signal string, hits []repository.VectorSearchHit, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			st.Degraded = append(st.Degraded, signal)
			zlog.Warn("search signal degraded",
				zap.String("signal", signal), zap.String("query", st.Req.Query), zap.Error(err))
			return
		}
		st.Signals[signal] = hits
	}

	runDense := func(signal, field string) {
		defer wg.Done()
		if embedErr != nil {
			record(signal, nil, embedErr)
			return
		}
		sctx, cancel := context.WithTimeout(ctx, signalTimeout)
		defer cancel()
		var all []repository.VectorSearchHit
		for _, coll := range st.Collections {
			hits, err := p.store.DenseSearch(sctx, coll, field, queryVec, searchK, st.FilterExpr)
			if err != nil {
				record(signal, nil, err)
				return
			}
			all = append(all, hits...)
		}
		record(signal, all, nil)
	}

	runSparse := func(signal, field string, enc encoder.SparseEncoder) {
		defer wg.Done()
		sctx, cancel := context.WithTimeout(ctx, signalTimeout)
		defer cancel()
		vecs, err := enc.EncodeQueries(sctx, []string{st.Req.Query})
		if err != nil || len(vecs) == 0 {
			if err == nil {
				err = fmt.Errorf("sparse encode result is empty")
			}
			record(signal, nil, err)
			return
		}
		var all []repository.VectorSearchHit
		for _, coll := range st.Collections {
			hits, err := p.store.SparseSearch(sctx, coll, field, vecs[0], searchK, st.FilterExpr)
			if err != nil {
				record(signal, nil, err)
				return
			}
			all = append(all, hits...)
		}
		record(signal, all, nil)
	}

	// 权重为 0 的信号不发起检索
	if st.Weights.Dense > 0 {
		wg.Add(1)
		go runDense(fusion.SignalDense, repository.VectorFieldDense)
	}
	if st.Weights.Title > 0 {
		wg.Add(1)
		go runDense(fusion.SignalTitle, repository.VectorFieldTitle)
	}
	if st.Weights.Sparse > 0 {
		wg.Add(1)
		go runSparse(fusion.SignalSparse, repository.VectorFieldSparse, p.sparseEnc)
	}
	if st.Weights.Splade > 0 {
		wg.Add(1)
		go runSparse(fusion.SignalSplade, repository.VectorFieldSplade, p.spladeEnc)
	}
	wg.Wait()

	st.SearchMs = time.Since(searchStart).Milliseconds()
	// 全部信号失败也不报错：返回空结果加降级标记，由调用方自行决定重试
	if len(st.Signals) == 0 {
		zlog.Warn("all search signals degraded, returning empty result",
			zap.String("query", st.Req.Query), zap.Strings("degraded", st.Degraded))
	}
	return st, nil
}

// fuseNode 节点 5：多信号融合（文档级去重）
func (p *SearchPipeline) fuseNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	_ = ctx
	if st == nil || st.Err != nil || st.CacheHit {
		return st, nil
	}
	fuseStart := time.Now()
	st.Candidates = p.engine.Fuse(st.Signals, st.Weights)
	for _, c := range st.Candidates {
		c.Strategy = st.Weights.Name
	}
	st.FuseMs = time.Since(fuseStart).Milliseconds()
	return st, nil
}

// temporalNode 节点 6：时间衰减重排（显式年份时先做硬过滤）
func (p *SearchPipeline) temporalNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	_ = ctx
	if st == nil || st.Err != nil || st.CacheHit {
		return st, nil
	}
	if st.Intent.ExplicitYear != 0 {
		st.Candidates = fusion.FilterByYear(st.Candidates, st.Intent.ExplicitYear)
	}
	st.Candidates = fusion.ApplyTemporalRanking(st.Candidates, st.Intent.Alpha, st.Intent.HalfLifeDays, time.Now())
	return st, nil
}

// rerankNode 节点 7：交叉编码器重排序
//
// 跳过条件：重排序关闭 / 请求显式跳过 / 候选为空 / triage（头名得分已超阈值）。
// 重排序失败回退融合排序并记为降级，不影响结果返回
func (p *SearchPipeline) rerankNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	if st == nil || st.Err != nil || st.CacheHit {
		return st, nil
	}
	if p.reranker == nil || !p.conf.AIConfig.Rerank.Enabled || st.Req.NoRerank || len(st.Candidates) == 0 {
		return st, nil
	}

	threshold := p.conf.SearchConfig.TriageThreshold
	if threshold <= 0 {
		threshold = 0.98
	}
	if st.Candidates[0].Final >= threshold {
		zlog.Info("rerank skipped by triage",
			zap.String("query", st.Req.Query), zap.Float64("top_score", st.Candidates[0].Final))
		return st, nil
	}

	topN := p.conf.AIConfig.Rerank.TopN
	if topN <= 0 {
		topN = 20
	}
	// 交叉编码器输入窗口有限，单次最多重排 50 条
	if topN > maxRerankTopN {
		topN = maxRerankTopN
	}
	if topN > len(st.Candidates) {
		topN = len(st.Candidates)
	}

	rerankStart := time.Now()
	docs := make([]encoder.RerankDocument, topN)
	for i := 0; i < topN; i++ {
		content := st.Candidates[i].Hit.Content
		if r := []rune(content); len(r) > rerankContentLimit {
			content = string(r[:rerankContentLimit])
		}
		docs[i] = encoder.RerankDocument{ID: st.Candidates[i].DBID, Text: content}
	}

	rctx := ctx
	if p.conf.AIConfig.Rerank.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, time.Duration(p.conf.AIConfig.Rerank.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	scores, err := p.reranker.Rerank(rctx, st.Req.Query, docs, topN)
	st.RerankMs = time.Since(rerankStart).Milliseconds()
	if err != nil {
		st.Degraded = append(st.Degraded, "rerank")
		zlog.Warn("rerank failed, falling back to fusion order",
			zap.String("query", st.Req.Query), zap.Error(err))
		return st, nil
	}

	// 重排序子集按交叉编码器得分排序放到最前，其余候选保持融合顺序跟在后面
	reranked := make([]*fusion.Candidate, 0, topN)
	seen := make(map[int]bool, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= topN || seen[s.Index] {
			continue
		}
		seen[s.Index] = true
		c := st.Candidates[s.Index]
		c.Final = s.Score
		c.Breakdown["rerank"] = s.Score
		reranked = append(reranked, c)
	}
	sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].Final > reranked[j].Final })
	for i := 0; i < topN; i++ {
		if !seen[i] {
			reranked = append(reranked, st.Candidates[i])
		}
	}
	st.Candidates = append(reranked, st.Candidates[topN:]...)
	st.Reranked = true
	return st, nil
}

// buildResultNode 节点 8：组装结果并回填缓存
func (p *SearchPipeline) buildResultNode(ctx context.Context, st *searchState, _ ...any) (*SearchResult, error) {
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}

	res := &SearchResult{
		QueryID:  "q_" + util.GenerateShortUUID(),
		Strategy: st.Weights.Name,
		CacheHit: st.CacheHit,
		Degraded: st.Degraded,
		Reranked: st.Reranked,
	}
	if st.Req != nil {
		res.Query = st.Req.Query
	}

	if st.Err == nil {
		if st.CacheHit {
			res.Hits = st.Hits
		} else {
			res.Hits = make([]respond.SearchHit, 0, len(st.Candidates))
			for _, c := range st.Candidates {
				res.Hits = append(res.Hits, respond.SearchHit{
					DBID:        c.DBID,
					PointID:     c.Hit.PointID,
					Title:       c.Hit.Title,
					Content:     c.Hit.Content,
					URL:         c.Hit.URL,
					TenantID:    c.Hit.TenantID,
					AccessLevel: c.Hit.AccessLevel,
					Date:        c.Hit.Date,
					Collection:  c.Hit.Collection,
					Score:       c.Final,
					Signals:     c.Breakdown,
					Recency:     c.Recency,
					Metadata:    c.Hit.MetadataJSON,
				})
			}
			// 带降级信号的排名是残缺的，不写入共享缓存，避免瞬时故障被放大到 TTL 窗口
			if !st.Req.BypassCache && st.CacheKey != "" && len(st.Degraded) == 0 {
				p.cache.Set(ctx, st.CacheKey, cachedEntry{
					Strategy: st.Weights.Name,
					Reranked: st.Reranked,
					Hits:     res.Hits,
				})
			}
		}
	}
	res.DurationMs = time.Since(st.Start).Milliseconds()

	userID, role := "", ""
	if st.User != nil {
		userID, role = st.User.UserID, st.User.Role
	}
	zlog.Info("hybrid search done",
		zap.String("query_id", res.QueryID),
		zap.String("query", res.Query),
		zap.String("user_id", userID),
		zap.String("role", role),
		zap.String("strategy", res.Strategy),
		zap.Int("candidates", len(res.Hits)),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Bool("reranked", res.Reranked),
		zap.Strings("degraded", res.Degraded),
		zap.Int64("search_ms", st.SearchMs),
		zap.Int64("fuse_ms", st.FuseMs),
		zap.Int64("rerank_ms", st.RerankMs),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res, st.Err
}
