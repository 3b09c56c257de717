package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"strings"
	"time"

	"OmniSearch/internal/modules/search/domain/repository"
)

// SparseEncoder 文本到稀疏向量的编码器（BM25 词袋或 SPLADE 扩展）
type SparseEncoder interface {
	EncodeQueries(ctx context.Context, texts []string) ([]repository.SparseVector, error)
	EncodeDocuments(ctx context.Context, texts []string) ([]repository.SparseVector, error)
}

// HTTPSparseClient 稀疏编码模型服务的 HTTP 客户端。
// 协议：POST {baseURL}/encode，请求 {"texts":[...],"mode":"query|document","kind":"bm25|splade"}，
// 响应 {"vectors":[{"indices":[...],"values":[...]}]}
type HTTPSparseClient struct {
	baseURL string
	kind    string
	client  *http.Client
}

func NewHTTPSparseClient(baseURL string, kind string, timeoutSeconds int) *HTTPSparseClient {
	timeout := 10 * time.Second
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &HTTPSparseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		kind:    kind,
		client:  &http.Client{Timeout: timeout},
	}
}

type sparseEncodeRequest struct {
	Texts []string `json:"texts"`
	Mode  string   `json:"mode"`
	Kind  string   `json:"kind"`
}

type sparseEncodeRespond struct {
	Vectors []struct {
		Indices []uint32  `json:"indices"`
		Values  []float32 `json:"values"`
	} `json:"vectors"`
}

func (c *HTTPSparseClient) EncodeQueries(ctx context.Context, texts []string) ([]repository.SparseVector, error) {
	return c.encode(ctx, texts, "query")
}

func (c *HTTPSparseClient) EncodeDocuments(ctx context.Context, texts []string) ([]repository.SparseVector, error) {
	return c.encode(ctx, texts, "document")
}

func (c *HTTPSparseClient) encode(ctx context.Context, texts []string, mode string) ([]repository.SparseVector, error) {
	body, err := json.Marshal(sparseEncodeRequest{Texts: texts, Mode: mode, Kind: c.kind})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/encode", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("稀疏编码服务请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("稀疏编码服务返回状态码 %d", resp.StatusCode)
	}

	var out sparseEncodeRespond
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Vectors) != len(texts) {
		return nil, fmt.Errorf("稀疏编码结果数量不匹配: got %d want %d", len(out.Vectors), len(texts))
	}

	vectors := make([]repository.SparseVector, len(out.Vectors))
	for i, v := range out.Vectors {
		vectors[i] = repository.SparseVector{Indices: v.Indices, Values: v.Values}
	}
	return vectors, nil
}

// LocalBM25Encoder 进程内词袋编码兜底：词条哈希为维度，词频为权重。
// 无稀疏编码服务时（本地开发、测试）保证管线可跑通
type LocalBM25Encoder struct{}

func NewLocalBM25Encoder() *LocalBM25Encoder {
	return &LocalBM25Encoder{}
}

func (e *LocalBM25Encoder) EncodeQueries(ctx context.Context, texts []string) ([]repository.SparseVector, error) {
	return e.encode(texts), nil
}

func (e *LocalBM25Encoder) EncodeDocuments(ctx context.Context, texts []string) ([]repository.SparseVector, error) {
	return e.encode(texts), nil
}

func (e *LocalBM25Encoder) encode(texts []string) []repository.SparseVector {
	vectors := make([]repository.SparseVector, len(texts))
	for i, text := range texts {
		counts := map[uint32]float32{}
		for _, token := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(token))
			counts[h.Sum32()]++
		}
		indices := make([]uint32, 0, len(counts))
		for idx := range counts {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
		values := make([]float32, len(indices))
		for j, idx := range indices {
			values[j] = counts[idx]
		}
		vectors[i] = repository.SparseVector{Indices: indices, Values: values}
	}
	return vectors
}

var (
	_ SparseEncoder = (*HTTPSparseClient)(nil)
	_ SparseEncoder = (*LocalBM25Encoder)(nil)
)
