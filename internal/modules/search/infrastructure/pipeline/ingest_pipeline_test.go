package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OmniSearch/internal/modules/search/domain/document"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/internal/modules/search/infrastructure/cache"
	"OmniSearch/internal/modules/search/infrastructure/chunking"
	"OmniSearch/internal/modules/search/infrastructure/encoder"
)

func newTestIngestPipeline(t *testing.T, store *fakeVectorStore, cacheMgr *cache.Manager) *IngestPipeline {
	t.Helper()
	p, err := NewIngestPipeline(
		store,
		encoder.NewMockEmbedder(8),
		encoder.NewLocalBM25Encoder(),
		encoder.NewLocalBM25Encoder(),
		chunking.NewSimpleChunker(200, 40),
		cacheMgr,
		8,
	)
	require.NoError(t, err)
	return p
}

func serviceUser() *security.UserContext {
	return &security.UserContext{UserID: "service", Role: security.RoleAdmin, Type: security.ContextTypeService}
}

func rawDoc(id, title, content string) map[string]interface{} {
	return map[string]interface{}{
		"db_id":   id,
		"title":   title,
		"content": content,
		"date":    "2026-08-01",
	}
}

func TestIngestPipelineHappyPath(t *testing.T) {
	store := newFakeStore()
	p := newTestIngestPipeline(t, store, cache.NewManager(60))

	res, err := p.Ingest(context.Background(), &IngestPipelineRequest{
		Collection: "docs",
		Raw: []map[string]interface{}{
			rawDoc("doc-1", "입학 안내", "2026학년도 입학 전형 일정과 제출 서류 안내입니다."),
			rawDoc("doc-2", "도서관 공지", "시험 기간 도서관 연장 운영 안내입니다."),
		},
		User: serviceUser(),
	})
	require.NoError(t, err)

	assert.Equal(t, "docs", res.Collection)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, 2, res.Normalized)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, res.Chunks, res.Upserted)
	assert.GreaterOrEqual(t, res.Chunks, 2)
	assert.Equal(t, int64(1), res.Epoch)
	assert.Empty(t, res.Errors)

	require.Len(t, store.upserts, 1)
	for _, c := range store.upserts[0] {
		assert.Equal(t, document.PointID(c.DBID, c.ChunkIndex), c.PointID)
		assert.Equal(t, document.TenantPublic, c.TenantID)
	}
}

func TestIngestPipelineIdempotentPointIDs(t *testing.T) {
	store := newFakeStore()
	p := newTestIngestPipeline(t, store, cache.NewManager(60))
	req := func() *IngestPipelineRequest {
		return &IngestPipelineRequest{
			Collection: "docs",
			Raw:        []map[string]interface{}{rawDoc("doc-1", "학사 일정", "2026학년도 2학기 학사 일정입니다.")},
			User:       serviceUser(),
		}
	}

	first, err := p.Ingest(context.Background(), req())
	require.NoError(t, err)
	second, err := p.Ingest(context.Background(), req())
	require.NoError(t, err)

	// 重复入库走同一批点 ID，幂等覆盖而不是产生副本
	require.Len(t, store.upserts, 2)
	require.Equal(t, len(store.upserts[0]), len(store.upserts[1]))
	for i := range store.upserts[0] {
		assert.Equal(t, store.upserts[0][i].PointID, store.upserts[1][i].PointID)
	}

	// 每次成功写入都推进集合 epoch，旧缓存键自然失效
	assert.Equal(t, int64(1), first.Epoch)
	assert.Equal(t, int64(2), second.Epoch)
}

func TestIngestPipelineTenantSpoofRejected(t *testing.T) {
	store := newFakeStore()
	p := newTestIngestPipeline(t, store, cache.NewManager(60))
	alice := &security.UserContext{UserID: "alice", Role: security.RoleViewer, Type: security.ContextTypeUser}

	spoofed := rawDoc("doc-evil", "남의 문서", "bob 명의로 끼워 넣는 문서")
	spoofed["tenant_id"] = "bob"
	owned := rawDoc("doc-mine", "내 메모", "alice 본인의 비공개 메모")
	owned["tenant_id"] = "alice"

	res, err := p.Ingest(context.Background(), &IngestPipelineRequest{
		Collection: "docs",
		Raw: []map[string]interface{}{
			spoofed,
			owned,
			rawDoc("doc-pub", "공개 문서", "누구나 볼 수 있는 공개 문서"),
		},
		User: alice,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Normalized)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "tenant_id not allowed")

	require.Len(t, store.upserts, 1)
	for _, c := range store.upserts[0] {
		assert.NotEqual(t, "bob", c.TenantID)
	}
}

func TestIngestPipelineSkipsInvalidDocs(t *testing.T) {
	store := newFakeStore()
	p := newTestIngestPipeline(t, store, cache.NewManager(60))

	res, err := p.Ingest(context.Background(), &IngestPipelineRequest{
		Collection: "docs",
		Raw: []map[string]interface{}{
			{"title": "본문 없는 문서"},
			rawDoc("doc-ok", "정상 문서", "본문이 있는 정상 문서입니다."),
		},
		User: serviceUser(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Normalized)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "doc[0]")
}

func TestIngestPipelineAllInvalid(t *testing.T) {
	p := newTestIngestPipeline(t, newFakeStore(), cache.NewManager(60))

	_, err := p.Ingest(context.Background(), &IngestPipelineRequest{
		Collection: "docs",
		Raw:        []map[string]interface{}{{"title": "빈 문서"}},
		User:       serviceUser(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid documents")
}

func TestIngestPipelineRequestValidation(t *testing.T) {
	p := newTestIngestPipeline(t, newFakeStore(), cache.NewManager(60))
	ctx := context.Background()

	_, err := p.Ingest(ctx, nil)
	assert.Error(t, err)

	_, err = p.Ingest(ctx, &IngestPipelineRequest{Collection: "", Raw: []map[string]interface{}{rawDoc("d", "t", "c")}})
	assert.Error(t, err)

	_, err = p.Ingest(ctx, &IngestPipelineRequest{Collection: "docs"})
	assert.Error(t, err)
}

func TestIngestPipelinePurge(t *testing.T) {
	store := newFakeStore()
	cacheMgr := cache.NewManager(60)
	p := newTestIngestPipeline(t, store, cacheMgr)
	ctx := context.Background()

	before := cacheMgr.Epoch(ctx, "docs")
	require.NoError(t, p.Purge(ctx, "docs", "doc-1"))

	assert.Equal(t, []string{"docs/doc-1"}, store.deleted)
	assert.Equal(t, before+1, cacheMgr.Epoch(ctx, "docs"))
}
