package repository

import (
	"context"

	"OmniSearch/internal/modules/search/domain/document"
)

// 向量槽位名称（集合 schema 中的向量字段）
const (
	VectorFieldDense  = "dense"
	VectorFieldTitle  = "title_dense"
	VectorFieldSparse = "sparse"
	VectorFieldSplade = "splade"
)

// SparseVector 稀疏向量（BM25 / SPLADE 编码结果）
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// VectorSearchHit 向量库命中结果（payload 已展开）
type VectorSearchHit struct {
	PointID      string
	DBID         string
	ChunkIndex   int
	Title        string
	Content      string
	URL          string
	TenantID     string
	AccessLevel  int
	Date         string
	Collection   string
	Score        float32
	MetadataJSON string
}

// VectorStore 向量库访问接口；实现必须保证按过滤条件的批量 payload 更新是全有或全无的
type VectorStore interface {
	// DenseSearch 在指定稠密向量槽位上检索
	DenseSearch(ctx context.Context, collection string, field string, vector []float32, topK int, expr string) ([]VectorSearchHit, error)
	// SparseSearch 在指定稀疏向量槽位上检索
	SparseSearch(ctx context.Context, collection string, field string, vector SparseVector, topK int, expr string) ([]VectorSearchHit, error)
	// Upsert 幂等写入切片（点 ID 由内容确定性派生，重复写入不产生副本）
	Upsert(ctx context.Context, collection string, chunks []document.Chunk, dense [][]float32, titleDense [][]float32, sparse []SparseVector, splade []SparseVector) error
	// DeleteByDocID 删除逻辑文档的全部切片
	DeleteByDocID(ctx context.Context, collection string, dbID string) error
	// FetchByDocID 按逻辑文档 ID 取回全部切片（id 与 db_id 任一匹配即命中）
	FetchByDocID(ctx context.Context, collection string, dbID string, limit int) ([]VectorSearchHit, error)
	// SetAccessLevelByDocID 对共享同一逻辑文档 ID 的所有切片一次性更新安全等级，
	// 返回受影响的切片数；存储侧保证该过滤更新全有或全无
	SetAccessLevelByDocID(ctx context.Context, collection string, dbID string, level int) (int64, error)
	// Reachable 探活（健康检查用）
	Reachable(ctx context.Context) error
	// RowCount 集合内点数量（健康状态展示）
	RowCount(ctx context.Context, collection string) (int64, error)
}
