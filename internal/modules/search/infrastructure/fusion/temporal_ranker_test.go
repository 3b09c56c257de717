package fusion

import (
	"testing"
	"time"

	"OmniSearch/internal/modules/search/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTemporalIntentRecentKeyword(t *testing.T) {
	intent := ExtractTemporalIntent("최신 입학 공지")
	assert.True(t, intent.HasRecentIntent)
	assert.Equal(t, 0.5, intent.Alpha)
	assert.Equal(t, 365.0, intent.HalfLifeDays)
	assert.Equal(t, 0, intent.ExplicitYear)
}

func TestExtractTemporalIntentExplicitYear(t *testing.T) {
	intent := ExtractTemporalIntent("2024 졸업 요건")
	assert.True(t, intent.HasRecentIntent)
	assert.Equal(t, 2024, intent.ExplicitYear)
}

func TestExtractTemporalIntentNeutral(t *testing.T) {
	intent := ExtractTemporalIntent("교과목 소개")
	assert.False(t, intent.HasRecentIntent)
	assert.Equal(t, 0.8, intent.Alpha)
	assert.Equal(t, 730.0, intent.HalfLifeDays)
}

func TestRecencyScoreDecay(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 1.0, RecencyScore(now, now, 365), 1e-9)
	// 半衰期处正好 0.5
	halfLifeAgo := now.AddDate(0, 0, -365)
	assert.InDelta(t, 0.5, RecencyScore(halfLifeAgo, now, 365), 1e-3)
	// 未来日期不会超过 1
	future := now.AddDate(0, 0, 30)
	assert.InDelta(t, 1.0, RecencyScore(future, now, 365), 1e-9)
}

func candidateWithDate(dbID string, final float64, date string) *Candidate {
	return &Candidate{
		DBID:      dbID,
		Final:     final,
		Hit:       repository.VectorSearchHit{DBID: dbID, Date: date},
		Breakdown: map[string]float64{},
	}
}

func TestApplyTemporalRankingPrefersFresh(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	// 融合得分接近，新文档应凭时间得分反超
	old := candidateWithDate("old", 1.0, "2020-01-01")
	fresh := candidateWithDate("fresh", 0.95, "2026-08-01")
	stale := candidateWithDate("stale", 0.2, "2019-01-01")

	out := ApplyTemporalRanking([]*Candidate{old, fresh, stale}, 0.5, 365, now)
	require.Len(t, out, 3)
	assert.Equal(t, "fresh", out[0].DBID)
	assert.Greater(t, fresh.Recency, old.Recency)
	assert.Contains(t, fresh.Breakdown, "recency")
}

func TestApplyTemporalRankingUndatedNeutral(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	undated := candidateWithDate("undated", 0.9, "")
	dated := candidateWithDate("dated", 0.9, "2026-08-29")

	ApplyTemporalRanking([]*Candidate{undated, dated}, 0.5, 365, now)
	assert.InDelta(t, 0.3, undated.Recency, 1e-9)
	assert.Greater(t, dated.Recency, 0.9)
}

func TestFilterByYear(t *testing.T) {
	c2024 := candidateWithDate("a", 1, "2024-03-01")
	c2023 := candidateWithDate("b", 1, "2023-03-01")

	out := FilterByYear([]*Candidate{c2024, c2023}, 2024)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].DBID)

	// 全部被滤掉时回退到原始列表
	out = FilterByYear([]*Candidate{c2024, c2023}, 2021)
	assert.Len(t, out, 2)

	// 年份为 0 表示无显式年份
	out = FilterByYear([]*Candidate{c2024, c2023}, 0)
	assert.Len(t, out, 2)
}
