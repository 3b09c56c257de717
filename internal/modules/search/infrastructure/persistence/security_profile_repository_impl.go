package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
)

type securityProfileRepoImpl struct {
	db *gorm.DB
}

func NewSecurityProfileRepository(db *gorm.DB) repository.SecurityProfileRepository {
	return &securityProfileRepoImpl{db: db}
}

func (r *securityProfileRepoImpl) GetActive(ctx context.Context) (*security.SecurityProfile, error) {
	var p security.SecurityProfile
	err := r.db.WithContext(ctx).Where("active = ?", true).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *securityProfileRepoImpl) GetByName(ctx context.Context, name string) (*security.SecurityProfile, error) {
	var p security.SecurityProfile
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *securityProfileRepoImpl) Activate(ctx context.Context, profile *security.SecurityProfile) error {
	now := time.Now()
	// 同一时刻只允许一个激活档位
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&security.SecurityProfile{}).
			Where("active = ?", true).
			Updates(map[string]interface{}{"active": false, "updated_at": now}).Error; err != nil {
			return err
		}
		profile.Active = true
		profile.UpdatedAt = now
		if profile.CreatedAt.IsZero() {
			profile.CreatedAt = now
		}
		return tx.Save(profile).Error
	})
}
