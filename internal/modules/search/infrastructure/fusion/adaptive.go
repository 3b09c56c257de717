package fusion

import (
	"strings"

	"OmniSearch/internal/config"
)

// Weights 一次查询使用的权重档案与检索深度
type Weights struct {
	Name    string
	Dense   float64
	Sparse  float64
	Splade  float64
	Title   float64
	SearchK int
}

// Of 按信号名取权重
func (w Weights) Of(signal string) float64 {
	switch signal {
	case SignalDense:
		return w.Dense
	case SignalSparse:
		return w.Sparse
	case SignalSplade:
		return w.Splade
	case SignalTitle:
		return w.Title
	default:
		return 0
	}
}

// 行政/学務类关键词：标题命中优先，检索深度收窄
var adminKeywords = []string{
	"전산학부", "학사", "졸업", "이수", "교과목", "수강", "학위", "학번", "장학", "총장",
}

// 人物/联系方式类关键词
var identityKeywords = []string{
	"학과", "연락처", "교수", "누구", "전화", "이메일", "성함", "오시는",
}

// 研究/主题类关键词：SPLADE 加权，检索深度放宽
var researchKeywords = []string{
	"동향", "설명", "알려줘", "무엇", "기술", "연구", "논문", "발표",
}

// HeuristicWeights 基于查询长度与词表特征的确定性权重选择
//
// 规则（与领域调优结果一致）：
//   - 短关键词查询（≤3 词）偏向稀疏信号
//   - 长自然语言查询（≥8 词）偏向稠密 + SPLADE
//   - 行政 / 人物 / 研究关键词命中时切换到专用档案
func HeuristicWeights(query string) Weights {
	w := Weights{
		Name:    "heuristic_default",
		Dense:   0.5,
		Sparse:  0.3,
		Splade:  0.2,
		Title:   0.2,
		SearchK: 50,
	}

	words := strings.Fields(strings.TrimSpace(query))
	switch {
	case len(words) <= 3:
		w.Name = "heuristic_short"
		w.Dense, w.Sparse, w.Splade = 0.3, 0.5, 0.2
	case len(words) >= 8:
		w.Name = "heuristic_long"
		w.Dense, w.Sparse, w.Splade = 0.6, 0.15, 0.25
	default:
		lower := strings.ToLower(query)
		if strings.Contains(query, "?") || strings.Contains(lower, "how") || strings.Contains(lower, "why") {
			w.Name = "heuristic_question"
			w.Dense, w.Sparse, w.Splade = 0.6, 0.1, 0.3
		}
	}

	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, adminKeywords):
		w.Name = "heuristic_admin"
		w.Title = 0.8
		w.Dense = 0.2
		w.SearchK = 40
	case containsAny(lower, identityKeywords):
		w.Name = "heuristic_identity"
		w.Title = 0.7
		w.Dense = 0.2
		w.SearchK = 30
	case containsAny(lower, researchKeywords):
		w.Name = "heuristic_research"
		w.Splade += 0.15
		w.SearchK = 100
	}

	return w
}

// ApplyOverrides 显式配置逐字段覆盖自适应结果（配置永远赢）
func ApplyOverrides(w Weights, cfg *config.SearchConfig) Weights {
	if cfg == nil {
		return w
	}
	if cfg.DenseWeight > 0 {
		w.Dense = cfg.DenseWeight
	}
	if cfg.SparseWeight > 0 {
		w.Sparse = cfg.SparseWeight
	}
	if cfg.SpladeWeight > 0 {
		w.Splade = cfg.SpladeWeight
	}
	if cfg.TitleWeight > 0 {
		w.Title = cfg.TitleWeight
	}
	if cfg.SearchK > 0 {
		w.SearchK = cfg.SearchK
	}
	return w
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
