package document

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 租户归属：公共文档的 tenant_id 固定为 "public"，私有文档为属主 user_id
const TenantPublic = "public"

// 安全等级取值范围（数值越大越受限）
const (
	MinAccessLevel = 1
	MaxAccessLevel = 4
)

// Document 归一化后的逻辑文档
type Document struct {
	DBID        string                 `json:"db_id"`
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	URL         string                 `json:"url"`
	TenantID    string                 `json:"tenant_id"`
	AccessLevel int                    `json:"access_level"`
	Date        string                 `json:"date"` // ISO 8601，允许为空
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk 文档切片（独立入库的检索单元，继承父文档的归属与安全等级）
type Chunk struct {
	PointID     string
	DBID        string
	ChunkIndex  int
	Title       string
	Content     string
	URL         string
	TenantID    string
	AccessLevel int
	Date        string
	Metadata    map[string]interface{}
}

// 原始 JSON 字段的取值优先级（靠前的 key 优先）
var (
	titleKeys   = []string{"title", "name", "subject"}
	contentKeys = []string{"content", "text", "body", "description"}
	urlKeys     = []string{"url", "link", "source_url"}
	dateKeys    = []string{"date", "created_at", "updated_at"}
)

var ctrlCharPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// Normalize 把任意形状的原始 JSON 文档转换为类型化 Document
//
// 字段缺失时按优先级列表回退；title 缺失时退化为 content 前 40 个字符；
// tenant_id 缺省为 public，access_level 缺省为 1
func Normalize(raw map[string]interface{}) (*Document, error) {
	if raw == nil {
		return nil, fmt.Errorf("raw document is nil")
	}

	doc := &Document{
		Title:       pickString(raw, titleKeys),
		Content:     pickString(raw, contentKeys),
		URL:         pickString(raw, urlKeys),
		Date:        pickString(raw, dateKeys),
		TenantID:    strings.TrimSpace(asString(raw["tenant_id"])),
		AccessLevel: asInt(raw["access_level"], MinAccessLevel),
	}
	doc.Title = CleanText(doc.Title)
	doc.Content = CleanText(doc.Content)

	if doc.Content == "" {
		return nil, fmt.Errorf("document has no content field (tried %v)", contentKeys)
	}
	if doc.Title == "" {
		r := []rune(doc.Content)
		if len(r) > 40 {
			r = r[:40]
		}
		doc.Title = string(r)
	}
	if doc.TenantID == "" {
		doc.TenantID = TenantPublic
	}
	if doc.AccessLevel < MinAccessLevel || doc.AccessLevel > MaxAccessLevel {
		doc.AccessLevel = MinAccessLevel
	}

	if meta, ok := raw["metadata"].(map[string]interface{}); ok {
		doc.Metadata = meta
	}

	doc.DBID = HashID(doc)
	return doc, nil
}

// CleanText 去除首尾空白与控制字符
func CleanText(s string) string {
	return strings.TrimSpace(ctrlCharPattern.ReplaceAllString(s, ""))
}

// HashID 由归一化文档内容确定性派生 db_id（内容相同则 id 相同，重复入库即幂等 upsert）
func HashID(doc *Document) string {
	canonical := map[string]string{
		"title":     doc.Title,
		"content":   doc.Content,
		"url":       doc.URL,
		"tenant_id": doc.TenantID,
	}
	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonical[k])
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// PointID 由 (db_id, chunk_index) 确定性派生切片点 ID，与具体存储的 ID 格式无关
func PointID(dbID string, chunkIndex int) string {
	name := fmt.Sprintf("%s:%d", dbID, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// ParseDate 解析 payload 中的日期（支持 ISO 8601 与 yyyy-mm-dd / yyyy.mm.dd / yyyy/mm/dd）
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, strings.Replace(s, "Z", "+00:00", 1)); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if m := datePattern.FindStringSubmatch(s); m != nil {
		t, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3]))
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var datePattern = regexp.MustCompile(`(\d{4})[-./](\d{1,2})[-./](\d{1,2})`)

func pickString(raw map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(asString(raw[k])); v != "" {
			return v
		}
	}
	return ""
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%v", s), ".0")
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func asInt(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
