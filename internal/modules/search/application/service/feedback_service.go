package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"OmniSearch/internal/modules/search/application/dto/request"
	"OmniSearch/internal/modules/search/application/dto/respond"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/fusion"
	"OmniSearch/pkg/redis"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"
)

// 有效停留时长窗口（秒）：低于下限按误触处理，高于上限按挂机处理
const (
	minDwellSeconds = 2.0
	maxDwellSeconds = 3600.0
)

// 质量检查通过率门槛：低于该比例的反馈按机器噪声丢弃
const feedbackPassRatio = 0.75

const feedbackDedupTTL = 24 * time.Hour

// FeedbackService 检索反馈服务接口。
// 通过质量检查的反馈折算为策略奖励，驱动 epsilon-greedy 策略选择收敛
type FeedbackService interface {
	Submit(ctx context.Context, req request.FeedbackRequest, user *security.UserContext) (*respond.FeedbackRespond, error)
}

type feedbackServiceImpl struct {
	rewards repository.RewardRepository

	// Redis 不可用时的进程内去重兜底
	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewFeedbackService 创建反馈服务
func NewFeedbackService(rewards repository.RewardRepository) FeedbackService {
	return &feedbackServiceImpl{
		rewards: rewards,
		seen:    make(map[string]time.Time),
	}
}

func (s *feedbackServiceImpl) Submit(ctx context.Context, req request.FeedbackRequest, user *security.UserContext) (*respond.FeedbackRespond, error) {
	if user == nil {
		user = security.Guest()
	}
	queryID := strings.TrimSpace(req.QueryID)
	strategy := strings.TrimSpace(req.Strategy)
	if queryID == "" || strategy == "" {
		return nil, xerr.ErrParam
	}

	// 质量检查：策略可识别 / 停留时长合理 / 非重复提交 / 点击排名合理，
	// 通过率达不到门槛的反馈按噪声丢弃（不计奖励，但正常返回）
	passed, total := 0, 4
	if fusion.KnownStrategy(strategy) {
		passed++
	}
	dwellOK := req.DwellTime > minDwellSeconds && req.DwellTime < maxDwellSeconds
	if dwellOK {
		passed++
	}
	fresh := s.markSeen(ctx, queryID)
	if fresh {
		passed++
	}
	if req.ClickedRank >= 0 && req.ClickedRank <= 100 {
		passed++
	}

	ratio := float64(passed) / float64(total)
	if ratio < feedbackPassRatio || !fusion.KnownStrategy(strategy) {
		reason := "quality checks failed"
		if !fresh {
			reason = "duplicate feedback"
		}
		zlog.Info("feedback rejected",
			zap.String("query_id", queryID),
			zap.String("strategy", strategy),
			zap.String("user_id", user.UserID),
			zap.Float64("pass_ratio", ratio))
		return &respond.FeedbackRespond{Accepted: false, Reason: reason}, nil
	}

	reward := computeReward(req)
	if err := s.rewards.Add(ctx, strategy, reward, user.UserID); err != nil {
		return nil, err
	}

	zlog.Info("feedback accepted",
		zap.String("query_id", queryID),
		zap.String("strategy", strategy),
		zap.String("user_id", user.UserID),
		zap.Int("clicked_rank", req.ClickedRank),
		zap.Float64("dwell_time", req.DwellTime),
		zap.Float64("reward", reward))

	return &respond.FeedbackRespond{Accepted: true, Reward: reward}, nil
}

// computeReward 把反馈折算为 [0,1] 奖励：
// 点击排名越靠前奖励越高，停留时长与显式 helpful 作为修正项
func computeReward(req request.FeedbackRequest) float64 {
	reward := 0.0
	if req.ClickedRank > 0 {
		reward = 1.0 / float64(req.ClickedRank)
	}
	if req.DwellTime > minDwellSeconds {
		bonus := req.DwellTime / 600.0
		if bonus > 1 {
			bonus = 1
		}
		reward += 0.3 * bonus
	}
	if req.Helpful != nil {
		if *req.Helpful {
			reward += 0.2
		} else {
			reward *= 0.5
		}
	}
	if reward > 1 {
		reward = 1
	}
	if reward < 0 {
		reward = 0
	}
	return reward
}

// markSeen 按 query_id 去重（首见返回 true）；Redis 不可用时退化为进程内 map
func (s *feedbackServiceImpl) markSeen(ctx context.Context, queryID string) bool {
	key := "feedback:seen:" + queryID
	if redis.IsConnected() {
		ok, err := redis.SetNX(ctx, key, 1, feedbackDedupTTL)
		if err == nil {
			return ok
		}
		zlog.Warn("feedback dedup via redis failed", zap.Error(err))
	}

	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	now := time.Now()
	// 顺带清理过期条目，map 不会无限增长
	for id, t := range s.seen {
		if now.Sub(t) > feedbackDedupTTL {
			delete(s.seen, id)
		}
	}
	if _, dup := s.seen[queryID]; dup {
		return false
	}
	s.seen[queryID] = now
	return true
}
