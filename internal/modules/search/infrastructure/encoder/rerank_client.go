package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RerankDocument 重排序输入文档
type RerankDocument struct {
	ID   string
	Text string
}

// RerankScore 重排序输出：按输入下标回填的相关性得分
type RerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Reranker 交叉编码器重排序接口
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []RerankDocument, topN int) ([]RerankScore, error)
}

// HTTPRerankClient 重排序模型服务的 HTTP 客户端。
// 协议：POST {baseURL}/rerank，请求 {"model":…,"query":…,"documents":[…],"top_n":N}，
// 响应 {"results":[{"index":i,"relevance_score":s}]}（与主流 rerank API 对齐）
type HTTPRerankClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewHTTPRerankClient(baseURL string, model string, timeoutSeconds int) *HTTPRerankClient {
	timeout := 10 * time.Second
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &HTTPRerankClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankRespond struct {
	Results []RerankScore `json:"results"`
}

func (c *HTTPRerankClient) Rerank(ctx context.Context, query string, docs []RerankDocument, topN int) ([]RerankScore, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	body, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Documents: texts, TopN: topN})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("重排序服务请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("重排序服务返回状态码 %d", resp.StatusCode)
	}

	var out rerankRespond
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("重排序结果下标越界: %d", r.Index)
		}
	}
	return out.Results, nil
}

var _ Reranker = (*HTTPRerankClient)(nil)
