package fusion

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/pkg/zlog"

	"go.uber.org/zap"
)

// DefaultEpsilon 探索概率缺省值
const DefaultEpsilon = 0.1

// unknownStrategyReward 没有任何奖励记录的策略按中性均值参与比较
const unknownStrategyReward = 0.5

// 固定策略集（名称 → 权重档案）
var strategies = map[string]Weights{
	"admin_priority": {
		Name: "admin_priority", Title: 0.8, Dense: 0.2, Sparse: 0.1, Splade: 0.1, SearchK: 40,
	},
	"research_priority": {
		Name: "research_priority", Title: 0.1, Dense: 0.4, Sparse: 0.15, Splade: 0.35, SearchK: 100,
	},
	"identity_lookup": {
		Name: "identity_lookup", Title: 0.7, Dense: 0.2, Sparse: 0.05, Splade: 0.05, SearchK: 30,
	},
	"balanced": {
		Name: "balanced", Title: 0.2, Dense: 0.4, Sparse: 0.2, Splade: 0.2, SearchK: 60,
	},
}

// StrategyWeights 按名称取固定策略的权重档案
func StrategyWeights(name string) (Weights, bool) {
	w, ok := strategies[name]
	return w, ok
}

// StrategyNames 按字典序返回全部策略名（遍历顺序确定，测试可复现）
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bandit epsilon-greedy 策略选择器：
// 概率 1-ε 按历史平均奖励取最优策略，概率 ε 均匀随机探索
type Bandit struct {
	epsilon float64
	rewards repository.RewardRepository

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBandit 创建选择器；rewards 为 nil 时所有策略按中性均值比较
func NewBandit(epsilon float64, rewards repository.RewardRepository, seed int64) *Bandit {
	if epsilon <= 0 || epsilon >= 1 {
		epsilon = DefaultEpsilon
	}
	return &Bandit{
		epsilon: epsilon,
		rewards: rewards,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Select 选择本次查询的策略
func (b *Bandit) Select(ctx context.Context) Weights {
	names := StrategyNames()

	b.mu.Lock()
	explore := b.rng.Float64() < b.epsilon
	var pick string
	if explore {
		pick = names[b.rng.Intn(len(names))]
	}
	b.mu.Unlock()

	if explore {
		zlog.Info("bandit exploration", zap.String("strategy", pick))
		return strategies[pick]
	}

	averages := map[string]float64{}
	if b.rewards != nil {
		if avg, err := b.rewards.Averages(ctx); err == nil {
			averages = avg
		} else {
			zlog.Warn("bandit load rewards failed", zap.Error(err))
		}
	}

	best := names[0]
	bestAvg := avgOf(averages, best)
	for _, name := range names[1:] {
		if a := avgOf(averages, name); a > bestAvg {
			best, bestAvg = name, a
		}
	}
	zlog.Info("bandit exploitation", zap.String("strategy", best), zap.Float64("avg_reward", bestAvg))
	return strategies[best]
}

// KnownStrategy 策略名是否属于固定策略集或启发式档案（feedback 校验用）
func KnownStrategy(name string) bool {
	if _, ok := strategies[name]; ok {
		return true
	}
	return strings.HasPrefix(name, "heuristic_")
}

func avgOf(averages map[string]float64, name string) float64 {
	if v, ok := averages[name]; ok {
		return v
	}
	return unknownStrategyReward
}
