package fusion

import (
	"testing"

	"OmniSearch/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicWeightsShortQuery(t *testing.T) {
	w := HeuristicWeights("장학금 신청")
	// 短查询且命中行政词表，切到 admin 档案
	assert.Equal(t, "heuristic_admin", w.Name)
	assert.Equal(t, 0.8, w.Title)
	assert.Equal(t, 40, w.SearchK)
	// 短查询偏向稀疏
	assert.Equal(t, 0.5, w.Sparse)
}

func TestHeuristicWeightsLongQuery(t *testing.T) {
	w := HeuristicWeights("please give me a detailed summary of the deep learning research trends")
	assert.Equal(t, "heuristic_long", w.Name)
	assert.Equal(t, 0.6, w.Dense)
	assert.Equal(t, 0.25, w.Splade)
}

func TestHeuristicWeightsQuestion(t *testing.T) {
	w := HeuristicWeights("why does this happen here")
	assert.Equal(t, "heuristic_question", w.Name)
	assert.Equal(t, 0.6, w.Dense)
	assert.Equal(t, 0.1, w.Sparse)
}

func TestHeuristicWeightsIdentity(t *testing.T) {
	w := HeuristicWeights("김 교수 이메일 주소")
	assert.Equal(t, "heuristic_identity", w.Name)
	assert.Equal(t, 0.7, w.Title)
	assert.Equal(t, 30, w.SearchK)
}

func TestHeuristicWeightsResearch(t *testing.T) {
	w := HeuristicWeights("인공지능 연구 동향 정리해 주세요")
	assert.Equal(t, "heuristic_research", w.Name)
	assert.Equal(t, 100, w.SearchK)
	assert.Greater(t, w.Splade, 0.2)
}

func TestHeuristicWeightsDefault(t *testing.T) {
	w := HeuristicWeights("hello there general hybrid system")
	assert.Equal(t, "heuristic_default", w.Name)
	assert.Equal(t, 0.5, w.Dense)
	assert.Equal(t, 0.3, w.Sparse)
	assert.Equal(t, 0.2, w.Splade)
}

func TestApplyOverrides(t *testing.T) {
	base := Weights{Name: "balanced", Dense: 0.4, Sparse: 0.2, Splade: 0.2, Title: 0.2, SearchK: 60}

	got := ApplyOverrides(base, nil)
	assert.Equal(t, base, got)

	cfg := &config.SearchConfig{DenseWeight: 0.9, SearchK: 20}
	got = ApplyOverrides(base, cfg)
	assert.Equal(t, 0.9, got.Dense)
	assert.Equal(t, 20, got.SearchK)
	// 未配置的字段保持自适应结果
	assert.Equal(t, 0.2, got.Sparse)
	assert.Equal(t, "balanced", got.Name)
}

func TestWeightsOf(t *testing.T) {
	w := Weights{Dense: 1, Sparse: 2, Splade: 3, Title: 4}
	assert.Equal(t, 1.0, w.Of(SignalDense))
	assert.Equal(t, 2.0, w.Of(SignalSparse))
	assert.Equal(t, 3.0, w.Of(SignalSplade))
	assert.Equal(t, 4.0, w.Of(SignalTitle))
	assert.Equal(t, 0.0, w.Of("unknown"))
}
