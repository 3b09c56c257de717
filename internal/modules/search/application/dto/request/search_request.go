package request

// HybridSearchRequest 混合检索请求
type HybridSearchRequest struct {
	Query       string            `json:"query" binding:"required"`
	Collections []string          `json:"collections,omitempty"` // 为空时检索配置的全部集合
	TopK        int               `json:"top_k,omitempty"`
	Strategy    string            `json:"strategy,omitempty"` // 固定策略名；为空时自适应选择
	Filters     map[string]string `json:"filters,omitempty"`  // 元数据等值过滤；零命中时自动去掉过滤重试
	BypassCache bool              `json:"bypass_cache,omitempty"`
	NoRerank    bool              `json:"no_rerank,omitempty"`
}

// IngestRequest 批量入库请求（原始 JSON 文档列表，字段形状任意）
type IngestRequest struct {
	Collection string                   `json:"collection" binding:"required"`
	Documents  []map[string]interface{} `json:"documents" binding:"required"`
	Sync       bool                     `json:"sync,omitempty"` // true 时同步执行（小批量 / 调试）
}

// FeedbackRequest 检索反馈（奖励信号）
type FeedbackRequest struct {
	QueryID     string  `json:"query_id" binding:"required"`
	Strategy    string  `json:"strategy" binding:"required"`
	ClickedRank int     `json:"clicked_rank"` // 被点击结果的排名（1 起）；0 表示无点击
	DwellTime   float64 `json:"dwell_time"`   // 停留秒数
	Helpful     *bool   `json:"helpful,omitempty"`
}

// LevelUpdateRequest 安全等级变更请求
type LevelUpdateRequest struct {
	Collection string `json:"collection" binding:"required"`
	DocID      string `json:"doc_id" binding:"required"` // 点 id 或 db_id
	Level      int    `json:"level" binding:"required"`
}

// EpochBumpRequest 手动失效集合缓存
type EpochBumpRequest struct {
	Collection string `json:"collection" binding:"required"`
}

// ProfileActivateRequest 激活安全档位
type ProfileActivateRequest struct {
	Name string `json:"name" binding:"required"`
}
