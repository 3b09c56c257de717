package security

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"OmniSearch/internal/modules/search/domain/document"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"
)

// LevelManager 文档安全等级管理：校验、权限复核、原子更新
type LevelManager struct {
	store repository.VectorStore
	acl   *AccessController
}

func NewLevelManager(store repository.VectorStore, acl *AccessController) *LevelManager {
	return &LevelManager{store: store, acl: acl}
}

// UpdateResult 等级更新结果
type UpdateResult struct {
	DBID     string `json:"db_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	Updated  int64  `json:"updated"`
}

// UpdateLevel 更新逻辑文档全部切片的安全等级。
// 步骤：等级取值校验 -> 文档查找（id 与 db_id 任一匹配）-> 调用方编辑权限复核 ->
// 按 db_id 的过滤更新（存储侧保证全有或全无）。
// 部分切片等级不一致属于脏数据，以首个切片为准记录 old_level 并照常覆盖。
func (m *LevelManager) UpdateLevel(ctx context.Context, user *security.UserContext, collection string, dbID string, level int) (*UpdateResult, error) {
	if level < document.MinAccessLevel || level > document.MaxAccessLevel {
		return nil, xerr.New(xerr.CodeInvalidLevel,
			fmt.Sprintf("安全等级必须在 [%d, %d] 之间", document.MinAccessLevel, document.MaxAccessLevel))
	}

	hits, err := m.store.FetchByDocID(ctx, collection, dbID, 1)
	if err != nil {
		zlog.Error("fetch document for level update failed",
			zap.String("collection", collection), zap.String("db_id", dbID), zap.Error(err))
		return nil, xerr.ErrStoreUnavailable
	}
	if len(hits) == 0 {
		return nil, xerr.New(xerr.CodeDocumentMissing, "文档不存在")
	}
	hit := hits[0]
	if !m.acl.CanChangeSecurityLevel(user, &hit) {
		return nil, xerr.ErrAccessDenied
	}

	// 查找可能命中点 id，更新一律以规范 db_id 为键，覆盖该文档全部切片
	canonical := hit.DBID
	if canonical == "" {
		canonical = dbID
	}
	updated, err := m.store.SetAccessLevelByDocID(ctx, collection, canonical, level)
	if err != nil {
		zlog.Error("set access level failed",
			zap.String("collection", collection), zap.String("db_id", canonical),
			zap.Int("level", level), zap.Error(err))
		return nil, xerr.ErrStoreUnavailable
	}

	zlog.Info("document access level updated",
		zap.String("collection", collection), zap.String("db_id", canonical),
		zap.Int("old_level", hit.AccessLevel), zap.Int("new_level", level),
		zap.Int64("chunks", updated), zap.String("operator", user.UserID))

	return &UpdateResult{
		DBID:     canonical,
		OldLevel: hit.AccessLevel,
		NewLevel: level,
		Updated:  updated,
	}, nil
}
