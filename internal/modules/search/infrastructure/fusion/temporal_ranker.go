package fusion

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"OmniSearch/internal/modules/search/domain/document"
)

// 无日期文档的中性时间得分
const neutralRecency = 0.3

// TemporalIntent 查询的时间意图
type TemporalIntent struct {
	HasRecentIntent bool
	ExplicitYear    int
	Alpha           float64
	HalfLifeDays    float64
}

var recentKeywords = []string{"최신", "최근", "오늘", "뉴스", "올해", "last week", "recent", "latest"}

var yearPattern = regexp.MustCompile(`(20[12]\d)`)

// ExtractTemporalIntent 识别查询的时间意图：显式年份或最新类关键词
// 命中时 alpha / half-life 收紧（最新内容权重上升）
func ExtractTemporalIntent(query string) TemporalIntent {
	lower := strings.ToLower(query)

	year := 0
	if m := yearPattern.FindStringSubmatch(query); m != nil {
		year, _ = strconv.Atoi(m[1])
	}

	hasIntent := year != 0 || containsAny(lower, recentKeywords)

	intent := TemporalIntent{
		HasRecentIntent: hasIntent,
		ExplicitYear:    year,
		Alpha:           0.8,
		HalfLifeDays:    730,
	}
	if hasIntent {
		intent.Alpha = 0.5
		intent.HalfLifeDays = 365
	}
	return intent
}

// RecencyScore 指数时间衰减：exp(-ln2 * age_days / half_life)，当前时刻为 1，半衰期处为 0.5
func RecencyScore(docDate time.Time, now time.Time, halfLifeDays float64) float64 {
	ageDays := now.Sub(docDate).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 * ageDays / halfLifeDays)
}

// ApplyTemporalRanking 融合得分与时间衰减得分的线性组合：
// final = alpha * 归一化融合得分 + (1-alpha) * recency
// 无法解析日期的文档取中性 recency（不剔除）；原地改写 Final 后重新稳定排序
func ApplyTemporalRanking(candidates []*Candidate, alpha float64, halfLifeDays float64, now time.Time) []*Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.DBID] = c.Final
	}
	normalized := normalizeScores(scores)

	for _, c := range candidates {
		recency := neutralRecency
		if t, ok := document.ParseDate(c.Hit.Date); ok {
			recency = RecencyScore(t, now, halfLifeDays)
		}
		c.Recency = recency
		c.Breakdown["recency"] = recency
		c.Final = alpha*normalized[c.DBID] + (1-alpha)*recency
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Final != candidates[j].Final {
			return candidates[i].Final > candidates[j].Final
		}
		return candidates[i].DBID < candidates[j].DBID
	})
	return candidates
}

// FilterByYear 显式年份的硬过滤；全部被滤掉时返回原列表（避免零结果）
func FilterByYear(candidates []*Candidate, year int) []*Candidate {
	if year == 0 {
		return candidates
	}
	yearStr := strconv.Itoa(year)
	filtered := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		if strings.Contains(c.Hit.Date, yearStr) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return candidates
	}
	return filtered
}
