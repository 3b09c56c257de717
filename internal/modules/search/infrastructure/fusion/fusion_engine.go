package fusion

import (
	"sort"

	"OmniSearch/internal/modules/search/domain/repository"
)

// 检索信号名称（融合权重与得分明细的 key）
const (
	SignalDense  = "dense"
	SignalSparse = "sparse"
	SignalSplade = "splade"
	SignalTitle  = "title"
)

// DefaultRRFK RRF 平滑常数，k=60 为通用经验值
const DefaultRRFK = 60

// 融合算法
const (
	LawWeighted = "weighted"
	LawRRF      = "rrf"
)

// Candidate 融合后的文档级候选
type Candidate struct {
	DBID      string
	Hit       repository.VectorSearchHit // 该文档得分最高的切片（payload 来源）
	Final     float64
	Breakdown map[string]float64 // 各信号的归一化得分 / RRF 贡献
	Recency   float64            // 时间衰减得分（TemporalRanker 填充）
	Strategy  string             // 本次查询使用的权重策略名
}

// Engine 多信号得分融合引擎
type Engine struct {
	Law  string
	RRFK int
}

func NewEngine(law string, rrfK int) *Engine {
	if law != LawWeighted {
		law = LawRRF
	}
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	return &Engine{Law: law, RRFK: rrfK}
}

// Fuse 把各信号的候选列表融合为单一排序列表，按 db_id 去重
// （同一文档被多个信号命中时合并得分，而不是产生重复条目）
func (e *Engine) Fuse(signals map[string][]repository.VectorSearchHit, w Weights) []*Candidate {
	if e.Law == LawWeighted {
		return e.fuseWeighted(signals, w)
	}
	return e.fuseRRF(signals, w)
}

// fuseWeighted 加权和融合：每个信号按查询内 min-max 归一化到 [0,1]，
// 未返回该文档的信号贡献 0（不做惩罚）
func (e *Engine) fuseWeighted(signals map[string][]repository.VectorSearchHit, w Weights) []*Candidate {
	candidates := make(map[string]*Candidate)

	for name, hits := range signals {
		weight := w.Of(name)
		if weight == 0 || len(hits) == 0 {
			continue
		}
		docScores, byDoc := bestScorePerDoc(hits)
		normalized := normalizeScores(docScores)
		for dbID, norm := range normalized {
			c := getOrCreate(candidates, dbID, byDoc[dbID])
			c.Breakdown[name] = norm
			c.Final += weight * norm
		}
	}

	return sorted(candidates)
}

// fuseRRF 排名倒数融合：final = Σ weight_i / (rrf_k + rank_i)，
// 未出现在某信号里的文档直接跳过该项
func (e *Engine) fuseRRF(signals map[string][]repository.VectorSearchHit, w Weights) []*Candidate {
	candidates := make(map[string]*Candidate)

	for name, hits := range signals {
		weight := w.Of(name)
		if weight == 0 || len(hits) == 0 {
			continue
		}
		seen := make(map[string]bool, len(hits))
		rank := 0
		for _, h := range hits {
			if h.DBID == "" || seen[h.DBID] {
				continue
			}
			seen[h.DBID] = true
			rank++
			c := getOrCreate(candidates, h.DBID, h)
			contribution := weight / float64(e.RRFK+rank)
			c.Breakdown[name] += contribution
			c.Final += contribution
			if h.Score > c.Hit.Score {
				c.Hit = h
			}
		}
	}

	return sorted(candidates)
}

// bestScorePerDoc 把切片级命中折叠为文档级：每个 db_id 保留最高原始得分的切片
func bestScorePerDoc(hits []repository.VectorSearchHit) (map[string]float64, map[string]repository.VectorSearchHit) {
	scores := make(map[string]float64, len(hits))
	byDoc := make(map[string]repository.VectorSearchHit, len(hits))
	for _, h := range hits {
		if h.DBID == "" {
			continue
		}
		s := float64(h.Score)
		if prev, ok := scores[h.DBID]; !ok || s > prev {
			scores[h.DBID] = s
			byDoc[h.DBID] = h
		}
	}
	return scores, byDoc
}

// normalizeScores min-max 归一化到 [0,1]；全部得分相同时统一取 0.5，避免除零
func normalizeScores(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return map[string]float64{}
	}
	minV, maxV := scores[firstKey(scores)], scores[firstKey(scores)]
	for _, v := range scores {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	out := make(map[string]float64, len(scores))
	if maxV-minV < 1e-8 {
		for k := range scores {
			out[k] = 0.5
		}
		return out
	}
	for k, v := range scores {
		out[k] = (v - minV) / (maxV - minV)
	}
	return out
}

func firstKey(m map[string]float64) string {
	for k := range m {
		return k
	}
	return ""
}

func getOrCreate(m map[string]*Candidate, dbID string, hit repository.VectorSearchHit) *Candidate {
	if c, ok := m[dbID]; ok {
		return c
	}
	c := &Candidate{
		DBID:      dbID,
		Hit:       hit,
		Breakdown: make(map[string]float64, 4),
	}
	m[dbID] = c
	return c
}

// sorted 稳定排序：得分降序，同分按 db_id 升序（测试可复现）
func sorted(m map[string]*Candidate) []*Candidate {
	out := make([]*Candidate, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Final != out[j].Final {
			return out[i].Final > out[j].Final
		}
		return out[i].DBID < out[j].DBID
	})
	return out
}
