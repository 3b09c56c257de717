package security

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/pkg/zlog"
)

// 安全档位的硬性要求：increased tier 必须开启 MFA
const minEnhancedTier = 2

// ProfileCheck 单项检查结果
type ProfileCheck struct {
	Requirement string `json:"requirement"`
	Passed      bool   `json:"passed"`
	Waived      bool   `json:"waived"`
	Detail      string `json:"detail,omitempty"`
}

// ProfileReport 档位校验报告
type ProfileReport struct {
	Profile string         `json:"profile"`
	Passed  bool           `json:"passed"`
	Checks  []ProfileCheck `json:"checks"`
}

// ProfileValidator 校验当前激活的安全档位是否满足其层级要求，
// 豁免需同时具备 reason / approved_by / expires 且未过期
type ProfileValidator struct {
	profiles repository.SecurityProfileRepository
}

func NewProfileValidator(profiles repository.SecurityProfileRepository) *ProfileValidator {
	return &ProfileValidator{profiles: profiles}
}

// ValidateActive 校验当前激活档位
func (v *ProfileValidator) ValidateActive(ctx context.Context) (*ProfileReport, error) {
	profile, err := v.profiles.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	return v.validate(profile), nil
}

// ValidateByName 校验指定档位
func (v *ProfileValidator) ValidateByName(ctx context.Context, name string) (*ProfileReport, error) {
	profile, err := v.profiles.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return v.validate(profile), nil
}

func (v *ProfileValidator) validate(profile *security.SecurityProfile) *ProfileReport {
	now := time.Now()
	overrides := map[string]security.Override{}
	if profile.Overrides != "" {
		if err := json.Unmarshal([]byte(profile.Overrides), &overrides); err != nil {
			zlog.Warn("security profile overrides decode failed",
				zap.String("profile", profile.Name), zap.Error(err))
		}
	}

	report := &ProfileReport{Profile: profile.Name, Passed: true}

	check := func(requirement string, passed bool, detail string) {
		c := ProfileCheck{Requirement: requirement, Passed: passed, Detail: detail}
		if !passed {
			if o, ok := overrides[requirement]; ok && o.Valid(now) {
				c.Passed = true
				c.Waived = true
				c.Detail = "waived: " + o.Reason
			}
		}
		if !c.Passed {
			report.Passed = false
		}
		report.Checks = append(report.Checks, c)
	}

	check("tier_positive", profile.Tier >= 1, "档位层级必须 >= 1")
	if profile.Tier >= minEnhancedTier {
		check("mfa_enabled", profile.MFA, "增强档位必须开启 MFA")
	}

	return report
}
