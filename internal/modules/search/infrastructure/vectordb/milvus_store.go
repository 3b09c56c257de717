package vectordb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"OmniSearch/internal/modules/search/domain/document"
	"OmniSearch/internal/modules/search/domain/repository"
)

// 集合 payload 字段
const (
	FieldID          = "id"
	FieldDBID        = "db_id"
	FieldChunkIndex  = "chunk_index"
	FieldTitle       = "title"
	FieldContent     = "content"
	FieldURL         = "url"
	FieldTenantID    = "tenant_id"
	FieldAccessLevel = "access_level"
	FieldDate        = "date"
	FieldMetadata    = "metadata"
)

var outputFields = []string{
	FieldID, FieldDBID, FieldChunkIndex, FieldTitle, FieldContent,
	FieldURL, FieldTenantID, FieldAccessLevel, FieldDate, FieldMetadata,
}

// MilvusStore 基于 Milvus 的向量库实现：
// 单集合四个向量槽位（dense / title_dense / sparse / splade），payload 字段承载归属与安全等级
type MilvusStore struct {
	cli    client.Client
	dim    int
	metric entity.MetricType
}

var _ repository.VectorStore = (*MilvusStore)(nil)

func NewMilvusStore(cli client.Client, dim int, metricType string) (*MilvusStore, error) {
	if cli == nil {
		return nil, fmt.Errorf("milvus client is nil")
	}
	metric := entity.COSINE
	if metricType != "" {
		metric = entity.MetricType(metricType)
	}
	return &MilvusStore{cli: cli, dim: dim, metric: metric}, nil
}

// DenseSearch 在指定稠密槽位上检索
func (s *MilvusStore) DenseSearch(ctx context.Context, collection string, field string, vector []float32, topK int, expr string) ([]repository.VectorSearchHit, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("向量维度不匹配: got %d want %d", len(vector), s.dim)
	}
	sp, _ := entity.NewIndexAUTOINDEXSearchParam(1)
	res, err := s.cli.Search(ctx, collection, nil, expr, outputFields,
		[]entity.Vector{entity.FloatVector(vector)}, field, s.metric, topK, sp)
	if err != nil {
		return nil, err
	}
	return s.collectHits(collection, res)
}

// SparseSearch 在指定稀疏槽位上检索（内积度量）
func (s *MilvusStore) SparseSearch(ctx context.Context, collection string, field string, vector repository.SparseVector, topK int, expr string) ([]repository.VectorSearchHit, error) {
	sparse, err := entity.NewSliceSparseEmbedding(vector.Indices, vector.Values)
	if err != nil {
		return nil, err
	}
	sp, _ := entity.NewIndexSparseInvertedSearchParam(0)
	res, err := s.cli.Search(ctx, collection, nil, expr, outputFields,
		[]entity.Vector{sparse}, field, entity.IP, topK, sp)
	if err != nil {
		return nil, err
	}
	return s.collectHits(collection, res)
}

// Upsert 写入切片；点 ID 内容确定性派生，同一文档重复写入即覆盖
func (s *MilvusStore) Upsert(ctx context.Context, collection string, chunks []document.Chunk, dense [][]float32, titleDense [][]float32, sparse []repository.SparseVector, splade []repository.SparseVector) error {
	n := len(chunks)
	if n == 0 {
		return nil
	}
	if len(dense) != n || len(titleDense) != n || len(sparse) != n || len(splade) != n {
		return fmt.Errorf("向量数量与切片数量不一致")
	}

	ids := make([]string, n)
	dbIDs := make([]string, n)
	chunkIdx := make([]int64, n)
	titles := make([]string, n)
	contents := make([]string, n)
	urls := make([]string, n)
	tenants := make([]string, n)
	levels := make([]int64, n)
	dates := make([]string, n)
	metas := make([][]byte, n)
	sparseCols := make([]entity.SparseEmbedding, n)
	spladeCols := make([]entity.SparseEmbedding, n)

	for i, c := range chunks {
		if len(dense[i]) != s.dim || len(titleDense[i]) != s.dim {
			return fmt.Errorf("稠密向量维度不匹配: point=%s", c.PointID)
		}
		ids[i] = c.PointID
		dbIDs[i] = c.DBID
		chunkIdx[i] = int64(c.ChunkIndex)
		titles[i] = c.Title
		contents[i] = c.Content
		urls[i] = c.URL
		tenants[i] = c.TenantID
		levels[i] = int64(c.AccessLevel)
		dates[i] = c.Date

		meta := []byte("{}")
		if c.Metadata != nil {
			if bs, err := json.Marshal(c.Metadata); err == nil {
				meta = bs
			}
		}
		metas[i] = meta

		se, err := entity.NewSliceSparseEmbedding(sparse[i].Indices, sparse[i].Values)
		if err != nil {
			return err
		}
		sparseCols[i] = se
		se2, err := entity.NewSliceSparseEmbedding(splade[i].Indices, splade[i].Values)
		if err != nil {
			return err
		}
		spladeCols[i] = se2
	}

	_, err := s.cli.Upsert(ctx, collection, "",
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnVarChar(FieldDBID, dbIDs),
		entity.NewColumnInt64(FieldChunkIndex, chunkIdx),
		entity.NewColumnVarChar(FieldTitle, titles),
		entity.NewColumnVarChar(FieldContent, contents),
		entity.NewColumnVarChar(FieldURL, urls),
		entity.NewColumnVarChar(FieldTenantID, tenants),
		entity.NewColumnInt64(FieldAccessLevel, levels),
		entity.NewColumnVarChar(FieldDate, dates),
		entity.NewColumnJSONBytes(FieldMetadata, metas),
		entity.NewColumnFloatVector(repository.VectorFieldDense, s.dim, dense),
		entity.NewColumnFloatVector(repository.VectorFieldTitle, s.dim, titleDense),
		entity.NewColumnSparseVectors(repository.VectorFieldSparse, sparseCols),
		entity.NewColumnSparseVectors(repository.VectorFieldSplade, spladeCols),
	)
	return err
}

// DeleteByDocID 删除逻辑文档的全部切片
func (s *MilvusStore) DeleteByDocID(ctx context.Context, collection string, dbID string) error {
	return s.cli.Delete(ctx, collection, "", docMatchExpr(dbID))
}

// FetchByDocID 按逻辑文档 ID 取回切片，id 与 db_id 任一匹配即命中
func (s *MilvusStore) FetchByDocID(ctx context.Context, collection string, dbID string, limit int) ([]repository.VectorSearchHit, error) {
	opts := []client.SearchQueryOptionFunc{}
	if limit > 0 {
		opts = append(opts, client.WithLimit(int64(limit)))
	}
	rs, err := s.cli.Query(ctx, collection, nil, docMatchExpr(dbID), outputFields, opts...)
	if err != nil {
		return nil, err
	}
	return s.collectColumns(collection, rs, nil)
}

// SetAccessLevelByDocID 更新逻辑文档全部切片的安全等级。
// 取回整行（含向量）后改写 access_level，单次 Upsert 全量写回：
// 该调用要么整体成功要么整体失败，不会出现部分切片等级不一致
func (s *MilvusStore) SetAccessLevelByDocID(ctx context.Context, collection string, dbID string, level int) (int64, error) {
	fields := append([]string{}, outputFields...)
	fields = append(fields,
		repository.VectorFieldDense, repository.VectorFieldTitle,
		repository.VectorFieldSparse, repository.VectorFieldSplade)

	rs, err := s.cli.Query(ctx, collection, nil, docMatchExpr(dbID), fields)
	if err != nil {
		return 0, err
	}

	hits, err := s.collectColumns(collection, rs, nil)
	if err != nil {
		return 0, err
	}
	n := len(hits)
	if n == 0 {
		return 0, nil
	}

	denseCol := findColumn(rs, repository.VectorFieldDense)
	titleCol := findColumn(rs, repository.VectorFieldTitle)
	sparseCol := findColumn(rs, repository.VectorFieldSparse)
	spladeCol := findColumn(rs, repository.VectorFieldSplade)
	if denseCol == nil || titleCol == nil || sparseCol == nil || spladeCol == nil {
		return 0, fmt.Errorf("查询结果缺少向量列，无法回写")
	}

	chunks := make([]document.Chunk, n)
	dense := make([][]float32, n)
	titleDense := make([][]float32, n)
	sparse := make([]repository.SparseVector, n)
	splade := make([]repository.SparseVector, n)

	for i := 0; i < n; i++ {
		h := hits[i]
		var meta map[string]interface{}
		if h.MetadataJSON != "" {
			_ = json.Unmarshal([]byte(h.MetadataJSON), &meta)
		}
		chunks[i] = document.Chunk{
			PointID:     h.PointID,
			DBID:        h.DBID,
			ChunkIndex:  h.ChunkIndex,
			Title:       h.Title,
			Content:     h.Content,
			URL:         h.URL,
			TenantID:    h.TenantID,
			AccessLevel: level,
			Date:        h.Date,
			Metadata:    meta,
		}
		var err error
		if dense[i], err = floatVectorAt(denseCol, i); err != nil {
			return 0, err
		}
		if titleDense[i], err = floatVectorAt(titleCol, i); err != nil {
			return 0, err
		}
		if sparse[i], err = sparseVectorAt(sparseCol, i); err != nil {
			return 0, err
		}
		if splade[i], err = sparseVectorAt(spladeCol, i); err != nil {
			return 0, err
		}
	}

	if err := s.Upsert(ctx, collection, chunks, dense, titleDense, sparse, splade); err != nil {
		return 0, err
	}
	return int64(n), nil
}

// Reachable 探活
func (s *MilvusStore) Reachable(ctx context.Context) error {
	_, err := s.cli.ListCollections(ctx)
	return err
}

// RowCount 集合内点数量
func (s *MilvusStore) RowCount(ctx context.Context, collection string) (int64, error) {
	stats, err := s.cli.GetCollectionStatistics(ctx, collection)
	if err != nil {
		return 0, err
	}
	var count int64
	if v, ok := stats["row_count"]; ok {
		fmt.Sscanf(v, "%d", &count)
	}
	return count, nil
}

// docMatchExpr id 与 db_id 任一匹配即命中
func docMatchExpr(dbID string) string {
	escaped := escapeExpr(dbID)
	return fmt.Sprintf(`%s == "%s" || %s == "%s"`, FieldDBID, escaped, FieldID, escaped)
}

func escapeExpr(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '"' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func (s *MilvusStore) collectHits(collection string, res []client.SearchResult) ([]repository.VectorSearchHit, error) {
	hits := make([]repository.VectorSearchHit, 0)
	for _, sr := range res {
		if sr.Err != nil {
			return nil, sr.Err
		}
		cols := append([]entity.Column{}, sr.Fields...)
		if sr.IDs != nil {
			cols = append(cols, sr.IDs)
		}
		part, err := s.collectColumns(collection, cols, sr.Scores)
		if err != nil {
			return nil, err
		}
		hits = append(hits, part...)
	}
	return hits, nil
}

// collectColumns 把列式结果转为命中列表；scores 为 nil 时得分置 0
func (s *MilvusStore) collectColumns(collection string, cols []entity.Column, scores []float32) ([]repository.VectorSearchHit, error) {
	get := func(name string) entity.Column {
		return findColumn(cols, name)
	}

	idCol := get(FieldID)
	if idCol == nil {
		return []repository.VectorSearchHit{}, nil
	}
	n := idCol.Len()

	dbIDCol := get(FieldDBID)
	chunkCol := get(FieldChunkIndex)
	titleCol := get(FieldTitle)
	contentCol := get(FieldContent)
	urlCol := get(FieldURL)
	tenantCol := get(FieldTenantID)
	levelCol := get(FieldAccessLevel)
	dateCol := get(FieldDate)
	metaCol := get(FieldMetadata)

	hits := make([]repository.VectorSearchHit, 0, n)
	for i := 0; i < n; i++ {
		hit := repository.VectorSearchHit{Collection: collection}
		hit.PointID, _ = idCol.GetAsString(i)
		if scores != nil && i < len(scores) {
			hit.Score = scores[i]
		}
		if dbIDCol != nil {
			hit.DBID, _ = dbIDCol.GetAsString(i)
		}
		if chunkCol != nil {
			v, _ := chunkCol.GetAsInt64(i)
			hit.ChunkIndex = int(v)
		}
		if titleCol != nil {
			hit.Title, _ = titleCol.GetAsString(i)
		}
		if contentCol != nil {
			hit.Content, _ = contentCol.GetAsString(i)
		}
		if urlCol != nil {
			hit.URL, _ = urlCol.GetAsString(i)
		}
		if tenantCol != nil {
			hit.TenantID, _ = tenantCol.GetAsString(i)
		}
		if levelCol != nil {
			v, _ := levelCol.GetAsInt64(i)
			hit.AccessLevel = int(v)
		}
		if dateCol != nil {
			hit.Date, _ = dateCol.GetAsString(i)
		}
		if metaCol != nil {
			v, _ := metaCol.Get(i)
			if bs, ok := v.([]byte); ok {
				hit.MetadataJSON = string(bs)
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func findColumn(cols []entity.Column, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

func floatVectorAt(col entity.Column, i int) ([]float32, error) {
	fv, ok := col.(*entity.ColumnFloatVector)
	if !ok {
		return nil, fmt.Errorf("列 %s 不是稠密向量列", col.Name())
	}
	v, err := fv.Get(i)
	if err != nil {
		return nil, err
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, fmt.Errorf("列 %s 不是稠密向量列", col.Name())
	}
	return vec, nil
}

func sparseVectorAt(col entity.Column, i int) (repository.SparseVector, error) {
	sv, ok := col.(*entity.ColumnSparseFloatVector)
	if !ok {
		return repository.SparseVector{}, fmt.Errorf("列 %s 不是稀疏向量列", col.Name())
	}
	v, err := sv.ValueByIdx(i)
	if err != nil {
		return repository.SparseVector{}, err
	}
	indices := make([]uint32, 0, v.Len())
	values := make([]float32, 0, v.Len())
	for j := 0; j < v.Len(); j++ {
		idx, val, ok := v.Get(j)
		if !ok {
			break
		}
		indices = append(indices, idx)
		values = append(values, val)
	}
	return repository.SparseVector{Indices: indices, Values: values}, nil
}
