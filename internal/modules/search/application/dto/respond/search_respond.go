package respond

// SearchHit 单条检索结果（文档级）
type SearchHit struct {
	DBID        string             `json:"db_id"`
	PointID     string             `json:"point_id"`
	Title       string             `json:"title"`
	Content     string             `json:"content"`
	URL         string             `json:"url,omitempty"`
	TenantID    string             `json:"tenant_id"`
	AccessLevel int                `json:"access_level"`
	Date        string             `json:"date,omitempty"`
	Collection  string             `json:"collection"`
	Score       float64            `json:"score"`
	Signals     map[string]float64 `json:"signals,omitempty"` // 各信号的归一化得分明细
	Recency     float64            `json:"recency,omitempty"`
	Metadata    string             `json:"metadata,omitempty"`
}

// SearchRespond 混合检索响应
type SearchRespond struct {
	QueryID    string      `json:"query_id"`
	Query      string      `json:"query"`
	Strategy   string      `json:"strategy"`
	Results    []SearchHit `json:"results"`
	Total      int         `json:"total"`
	CacheHit   bool        `json:"cache_hit"`
	Degraded   []string    `json:"degraded,omitempty"` // 本次查询失败（软降级）的信号
	Reranked   bool        `json:"reranked"`
	DurationMs int64       `json:"duration_ms"`
}
