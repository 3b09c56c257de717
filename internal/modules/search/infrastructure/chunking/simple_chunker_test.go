package chunking

import (
	"context"
	"strings"
	"testing"

	"OmniSearch/internal/modules/search/domain/document"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkShortTextSinglePiece(t *testing.T) {
	c := NewSimpleChunker(100, 20)
	out := c.Chunk("short text")
	require.Len(t, out, 1)
	assert.Equal(t, "short text", out[0])

	assert.Empty(t, c.Chunk(""))
}

func TestChunkOverlap(t *testing.T) {
	c := NewSimpleChunker(10, 4)
	text := strings.Repeat("abcdefghij", 3) // 30 chars
	out := c.Chunk(text)
	require.Greater(t, len(out), 1)

	// 相邻切片重叠 overlap 个字符
	for i := 1; i < len(out); i++ {
		prev := []rune(out[i-1])
		cur := []rune(out[i])
		tail := string(prev[len(prev)-4:])
		head := string(cur[:4])
		assert.Equal(t, tail, head)
	}
	// 拼接去重后还原原文
	var b strings.Builder
	b.WriteString(out[0])
	for i := 1; i < len(out); i++ {
		r := []rune(out[i])
		b.WriteString(string(r[4:]))
	}
	assert.Equal(t, text, b.String())
}

func TestChunkMultibyteSafe(t *testing.T) {
	c := NewSimpleChunker(5, 0)
	text := strings.Repeat("한", 12)
	out := c.Chunk(text)
	require.Len(t, out, 3)
	for _, piece := range out {
		// 按 rune 切分，多字节字符不会被截断
		assert.True(t, strings.HasPrefix(piece, "한"))
	}
}

func TestNewSimpleChunkerGuards(t *testing.T) {
	c := NewSimpleChunker(0, -1)
	assert.Equal(t, 500, c.ChunkSize)
	assert.Equal(t, 0, c.ChunkOverlap)

	c = NewSimpleChunker(10, 10)
	assert.Equal(t, 5, c.ChunkOverlap)
}

func TestChunkDocumentInheritsOwnership(t *testing.T) {
	c := NewSimpleChunker(5, 0)
	doc := &document.Document{
		DBID:        "db1",
		Title:       "t",
		Content:     strings.Repeat("x", 12),
		URL:         "u",
		TenantID:    "alice",
		AccessLevel: 3,
		Date:        "2024-01-01",
	}
	chunks, err := c.ChunkDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, ch := range chunks {
		assert.Equal(t, "db1", ch.DBID)
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, "alice", ch.TenantID)
		assert.Equal(t, 3, ch.AccessLevel)
		assert.Equal(t, document.PointID("db1", i), ch.PointID)
	}

	_, err = c.ChunkDocument(context.Background(), nil)
	assert.Error(t, err)
}

func TestRecursiveChunkerSplitsOnSeparators(t *testing.T) {
	c := NewRecursiveChunker(20, 0)
	doc := &document.Document{
		DBID:    "db2",
		Content: "첫 번째 문장입니다。두 번째 문장입니다。세 번째 문장입니다。네 번째 문장입니다。",
	}
	chunks, err := c.ChunkDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Content)), 40)
	}
}
