package repository

import (
	"context"

	"OmniSearch/internal/modules/search/domain/security"
)

// SecurityProfileRepository 安全档位配置仓储
type SecurityProfileRepository interface {
	GetActive(ctx context.Context) (*security.SecurityProfile, error)
	GetByName(ctx context.Context, name string) (*security.SecurityProfile, error)
	// Activate 保存并激活档位（同时取消其他档位的激活状态）
	Activate(ctx context.Context, profile *security.SecurityProfile) error
}
