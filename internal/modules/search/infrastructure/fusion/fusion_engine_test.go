package fusion

import (
	"testing"

	"OmniSearch/internal/modules/search/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(dbID string, score float32) repository.VectorSearchHit {
	return repository.VectorSearchHit{DBID: dbID, PointID: dbID + ":0", Score: score}
}

func TestFuseWeightedNormalizesPerSignal(t *testing.T) {
	e := NewEngine(LawWeighted, 0)
	signals := map[string][]repository.VectorSearchHit{
		SignalDense:  {hit("a", 0.9), hit("b", 0.5), hit("c", 0.1)},
		SignalSparse: {hit("b", 12.0), hit("a", 4.0)},
	}
	w := Weights{Dense: 0.5, Sparse: 0.5}

	out := e.Fuse(signals, w)
	require.Len(t, out, 3)

	byID := map[string]*Candidate{}
	for _, c := range out {
		byID[c.DBID] = c
	}

	// dense 归一化: a=1, b=0.5, c=0; sparse: b=1, a=0
	assert.InDelta(t, 0.5*1.0+0.5*0.0, byID["a"].Final, 1e-9)
	assert.InDelta(t, 0.5*0.5+0.5*1.0, byID["b"].Final, 1e-9)
	assert.InDelta(t, 0.0, byID["c"].Final, 1e-9)
	assert.Equal(t, "b", out[0].DBID)
}

func TestFuseWeightedMissingSignalNoPenalty(t *testing.T) {
	e := NewEngine(LawWeighted, 0)
	signals := map[string][]repository.VectorSearchHit{
		SignalDense:  {hit("only_dense", 0.8), hit("both", 0.4)},
		SignalSparse: {hit("both", 3.0)},
	}
	out := e.Fuse(signals, Weights{Dense: 1.0, Sparse: 1.0})

	byID := map[string]*Candidate{}
	for _, c := range out {
		byID[c.DBID] = c
	}
	// sparse 只有一个文档，全同得分归一化为 0.5
	assert.InDelta(t, 0.5, byID["both"].Breakdown[SignalSparse], 1e-9)
	// 未命中 sparse 的文档不产生该信号的负贡献
	_, has := byID["only_dense"].Breakdown[SignalSparse]
	assert.False(t, has)
}

func TestFuseWeightedAllEqualScores(t *testing.T) {
	e := NewEngine(LawWeighted, 0)
	signals := map[string][]repository.VectorSearchHit{
		SignalDense: {hit("a", 0.7), hit("b", 0.7)},
	}
	out := e.Fuse(signals, Weights{Dense: 1.0})
	require.Len(t, out, 2)
	for _, c := range out {
		assert.InDelta(t, 0.5, c.Final, 1e-9)
	}
	// 同分按 db_id 升序，排序可复现
	assert.Equal(t, "a", out[0].DBID)
}

func TestFuseWeightedDedupesChunksOfSameDoc(t *testing.T) {
	e := NewEngine(LawWeighted, 0)
	h1 := repository.VectorSearchHit{DBID: "doc", PointID: "doc:0", Score: 0.3, Content: "low"}
	h2 := repository.VectorSearchHit{DBID: "doc", PointID: "doc:4", Score: 0.9, Content: "high"}
	signals := map[string][]repository.VectorSearchHit{
		SignalDense: {h1, h2, hit("other", 0.1)},
	}
	out := e.Fuse(signals, Weights{Dense: 1.0})
	require.Len(t, out, 2)
	assert.Equal(t, "doc", out[0].DBID)
	// 文档级去重保留得分最高的切片
	assert.Equal(t, "high", out[0].Hit.Content)
}

func TestFuseRRFContributions(t *testing.T) {
	e := NewEngine(LawRRF, 60)
	signals := map[string][]repository.VectorSearchHit{
		SignalDense:  {hit("a", 0.9), hit("b", 0.8)},
		SignalSparse: {hit("b", 5.0), hit("a", 4.0)},
	}
	out := e.Fuse(signals, Weights{Dense: 1.0, Sparse: 1.0})
	require.Len(t, out, 2)

	byID := map[string]*Candidate{}
	for _, c := range out {
		byID[c.DBID] = c
	}
	assert.InDelta(t, 1.0/61+1.0/62, byID["a"].Final, 1e-9)
	assert.InDelta(t, 1.0/62+1.0/61, byID["b"].Final, 1e-9)
}

func TestFuseZeroWeightSignalSkipped(t *testing.T) {
	e := NewEngine(LawWeighted, 0)
	signals := map[string][]repository.VectorSearchHit{
		SignalDense:  {hit("a", 0.9)},
		SignalSplade: {hit("z", 99.0)},
	}
	out := e.Fuse(signals, Weights{Dense: 1.0, Splade: 0})
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].DBID)
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine("bogus", -1)
	assert.Equal(t, LawRRF, e.Law)
	assert.Equal(t, DefaultRRFK, e.RRFK)
}
