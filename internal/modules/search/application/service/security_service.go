package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"OmniSearch/internal/modules/search/application/dto/request"
	"OmniSearch/internal/modules/search/application/dto/respond"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/cache"
	secinfra "OmniSearch/internal/modules/search/infrastructure/security"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"
)

// SecurityService 安全管理服务接口：等级变更、缓存失效、档位管理
type SecurityService interface {
	// UpdateLevel 变更逻辑文档的安全等级（属主或 admin），成功后失效集合缓存
	UpdateLevel(ctx context.Context, req request.LevelUpdateRequest, user *security.UserContext) (*respond.LevelUpdateRespond, error)
	// BumpEpoch 手动失效集合缓存（admin / 服务调用方）
	BumpEpoch(ctx context.Context, req request.EpochBumpRequest, user *security.UserContext) (*respond.EpochRespond, error)
	// ProfileReport 当前激活安全档位的校验报告
	ProfileReport(ctx context.Context) (*secinfra.ProfileReport, error)
	// ActivateProfile 激活指定档位（admin / 服务调用方），激活前必须通过校验
	ActivateProfile(ctx context.Context, req request.ProfileActivateRequest, user *security.UserContext) (*secinfra.ProfileReport, error)
}

type securityServiceImpl struct {
	levels    *secinfra.LevelManager
	validator *secinfra.ProfileValidator
	profiles  repository.SecurityProfileRepository
	cache     *cache.Manager
}

// NewSecurityService 创建安全管理服务
func NewSecurityService(levels *secinfra.LevelManager, validator *secinfra.ProfileValidator, profiles repository.SecurityProfileRepository, cacheMgr *cache.Manager) SecurityService {
	return &securityServiceImpl{levels: levels, validator: validator, profiles: profiles, cache: cacheMgr}
}

func (s *securityServiceImpl) UpdateLevel(ctx context.Context, req request.LevelUpdateRequest, user *security.UserContext) (*respond.LevelUpdateRespond, error) {
	result, err := s.levels.UpdateLevel(ctx, user, req.Collection, strings.TrimSpace(req.DocID), req.Level)
	if err != nil {
		return nil, err
	}
	// 等级变更影响可见性，旧缓存结果必须失效
	s.cache.BumpEpoch(ctx, req.Collection)
	return &respond.LevelUpdateRespond{
		DBID:     result.DBID,
		OldLevel: result.OldLevel,
		NewLevel: result.NewLevel,
		Updated:  result.Updated,
	}, nil
}

func (s *securityServiceImpl) BumpEpoch(ctx context.Context, req request.EpochBumpRequest, user *security.UserContext) (*respond.EpochRespond, error) {
	if !isAdmin(user) {
		return nil, xerr.ErrForbidden
	}
	epoch := s.cache.BumpEpoch(ctx, req.Collection)
	zlog.Info("manual epoch bump",
		zap.String("collection", req.Collection),
		zap.Int64("epoch", epoch),
		zap.String("operator", user.UserID))
	return &respond.EpochRespond{Collection: req.Collection, Epoch: epoch}, nil
}

func (s *securityServiceImpl) ProfileReport(ctx context.Context) (*secinfra.ProfileReport, error) {
	return s.validator.ValidateActive(ctx)
}

func (s *securityServiceImpl) ActivateProfile(ctx context.Context, req request.ProfileActivateRequest, user *security.UserContext) (*secinfra.ProfileReport, error) {
	if !isAdmin(user) {
		return nil, xerr.ErrForbidden
	}
	report, err := s.validator.ValidateByName(ctx, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, xerr.ErrNotFound
	}
	if !report.Passed {
		return report, xerr.New(xerr.BadRequest, "档位未通过校验，不能激活")
	}
	profile, err := s.profiles.GetByName(ctx, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, xerr.ErrNotFound
	}
	if err := s.profiles.Activate(ctx, profile); err != nil {
		return nil, err
	}
	zlog.Info("security profile activated",
		zap.String("profile", profile.Name),
		zap.String("operator", user.UserID))
	return report, nil
}

func isAdmin(user *security.UserContext) bool {
	if user == nil {
		return false
	}
	return user.Type == security.ContextTypeService || user.Role == security.RoleAdmin
}
