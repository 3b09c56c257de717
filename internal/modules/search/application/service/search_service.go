package service

import (
	"context"
	"fmt"
	"strings"

	"OmniSearch/internal/modules/search/application/dto/request"
	"OmniSearch/internal/modules/search/application/dto/respond"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/pipeline"
	secinfra "OmniSearch/internal/modules/search/infrastructure/security"
	"OmniSearch/pkg/xerr"
)

// SearchService 混合检索服务接口
type SearchService interface {
	// HybridQuery 执行混合检索
	//
	// Pipeline 返回的是与调用方无关的候选列表（缓存可跨用户共享），
	// 可见性过滤在这里逐条执行，缓存命中也不例外
	HybridQuery(ctx context.Context, req request.HybridSearchRequest, user *security.UserContext) (*respond.SearchRespond, error)
}

type searchServiceImpl struct {
	pipeline *pipeline.SearchPipeline
	acl      *secinfra.AccessController
}

// NewSearchService 创建混合检索服务
func NewSearchService(p *pipeline.SearchPipeline, acl *secinfra.AccessController) SearchService {
	return &searchServiceImpl{pipeline: p, acl: acl}
}

func (s *searchServiceImpl) HybridQuery(ctx context.Context, req request.HybridSearchRequest, user *security.UserContext) (*respond.SearchRespond, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("search pipeline is nil")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerr.New(xerr.CodeInvalidQuery, "query is required")
	}
	if user == nil {
		user = security.Guest()
	}

	result, err := s.pipeline.Search(ctx, &pipeline.SearchRequest{
		Query:       query,
		Collections: req.Collections,
		TopK:        req.TopK,
		Strategy:    req.Strategy,
		Filters:     req.Filters,
		BypassCache: req.BypassCache,
		NoRerank:    req.NoRerank,
		User:        user,
	})
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = len(result.Hits)
	} else if topK > 100 {
		topK = 100
	}

	// 逐条可见性过滤后截断到 TopK
	visible := make([]respond.SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if !s.acl.CanViewMeta(user, hit.TenantID, hit.AccessLevel) {
			continue
		}
		visible = append(visible, hit)
		if len(visible) >= topK {
			break
		}
	}

	return &respond.SearchRespond{
		QueryID:    result.QueryID,
		Query:      result.Query,
		Strategy:   result.Strategy,
		Results:    visible,
		Total:      len(visible),
		CacheHit:   result.CacheHit,
		Degraded:   result.Degraded,
		Reranked:   result.Reranked,
		DurationMs: result.DurationMs,
	}, nil
}
