package chunking

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	einodoc "github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"

	"OmniSearch/internal/modules/search/domain/document"
)

// SimpleChunker 将文本切分为固定大小、带重叠的多个片段
type SimpleChunker struct {
	ChunkSize    int
	ChunkOverlap int
	useRecursive bool

	initOnce      sync.Once
	initErr       error
	recursiveImpl einodoc.Transformer
}

// NewSimpleChunker 创建一个切片器，并设置切片大小与重叠长度
func NewSimpleChunker(size, overlap int) *SimpleChunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &SimpleChunker{ChunkSize: size, ChunkOverlap: overlap}
}

func NewRecursiveChunker(size, overlap int) *SimpleChunker {
	c := NewSimpleChunker(size, overlap)
	c.useRecursive = true
	return c
}

// Chunk 基于 rune（字符）数量切分文本，确保中文等多字节字符不会被截断
func (c *SimpleChunker) Chunk(text string) []string {
	if text == "" {
		return []string{}
	}

	runes := []rune(text)
	totalLen := len(runes)

	if totalLen <= c.ChunkSize {
		return []string{text}
	}

	var chunks []string
	step := c.ChunkSize - c.ChunkOverlap

	// 构造函数已保证 step > 0；这里兜底，避免出现无法推进的情况
	if step <= 0 {
		step = 1
	}

	for i := 0; i < totalLen; i += step {
		end := int(math.Min(float64(i+c.ChunkSize), float64(totalLen)))
		chunks = append(chunks, string(runes[i:end]))
		if end == totalLen {
			break
		}
	}

	return chunks
}

// ChunkDocument 把逻辑文档切分为可入库的切片列表，
// 每个切片继承父文档的归属与安全等级，点 ID 由 (db_id, chunk_index) 确定性派生
func (c *SimpleChunker) ChunkDocument(ctx context.Context, doc *document.Document) ([]document.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}

	var parts []string
	if c.useRecursive {
		frags, err := c.splitRecursive(ctx, doc.Content)
		if err != nil {
			return nil, err
		}
		parts = frags
	} else {
		parts = c.Chunk(doc.Content)
	}

	chunks := make([]document.Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, document.Chunk{
			PointID:     document.PointID(doc.DBID, i),
			DBID:        doc.DBID,
			ChunkIndex:  i,
			Title:       doc.Title,
			Content:     p,
			URL:         doc.URL,
			TenantID:    doc.TenantID,
			AccessLevel: doc.AccessLevel,
			Date:        doc.Date,
			Metadata:    doc.Metadata,
		})
	}
	return chunks, nil
}

func (c *SimpleChunker) splitRecursive(ctx context.Context, text string) ([]string, error) {
	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.ChunkSize,
			OverlapSize: c.ChunkOverlap,
			Separators:  []string{"\n\n", "\n", "。", "！", "？", "；", "，", " "},
			LenFunc: func(s string) int {
				return len([]rune(s))
			},
			KeepType: recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.recursiveImpl = impl
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.recursiveImpl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	frags, err := c.recursiveImpl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(frags))
	for _, f := range frags {
		if f == nil {
			continue
		}
		out = append(out, f.Content)
	}
	return out, nil
}
