package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"OmniSearch/pkg/redis"
	"OmniSearch/pkg/zlog"
)

const (
	DefaultTTL = 300 * time.Second

	epochKeyPrefix  = "epoch:"
	resultKeyPrefix = "search:result:"
)

// l1Entry 进程内缓存条目
type l1Entry struct {
	value     []byte
	expiresAt time.Time
}

// Manager 两级结果缓存：L1 进程内 map，L2 Redis
// Redis 不可用时降级为仅 L1，读写失败不向上传播（fail-open）
type Manager struct {
	ttl time.Duration

	mu sync.RWMutex
	l1 map[string]l1Entry

	// Redis 不可用时的本地 epoch 计数兜底
	epochMu     sync.Mutex
	localEpochs map[string]int64
}

func NewManager(ttlSeconds int) *Manager {
	ttl := DefaultTTL
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &Manager{
		ttl:         ttl,
		l1:          make(map[string]l1Entry),
		localEpochs: make(map[string]int64),
	}
}

// Key 缓存键：查询文本、集合与各自 epoch、权重画像、过滤条件、topK 的 SHA-256 摘要
// epoch 纳入键中，bump 后旧条目自然失效，无需显式逐出
func (m *Manager) Key(ctx context.Context, query string, collections []string, weightsName string, filterExpr string, topK int) string {
	sorted := make([]string, len(collections))
	copy(sorted, collections)
	sort.Strings(sorted)

	parts := make([]string, 0, len(sorted)+4)
	parts = append(parts, query)
	for _, c := range sorted {
		parts = append(parts, fmt.Sprintf("%s@%d", c, m.Epoch(ctx, c)))
	}
	parts = append(parts, weightsName, filterExpr, strconv.Itoa(topK))

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return resultKeyPrefix + hex.EncodeToString(sum[:])
}

// Epoch 读取集合当前 epoch，键不存在视为 0
func (m *Manager) Epoch(ctx context.Context, collection string) int64 {
	if redis.IsConnected() {
		val, err := redis.Get(ctx, epochKeyPrefix+collection)
		if err == nil {
			n, perr := strconv.ParseInt(val, 10, 64)
			if perr == nil {
				return n
			}
		} else if err == goredis.Nil {
			return 0
		}
	}
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	return m.localEpochs[collection]
}

// BumpEpoch 集合写入后自增 epoch，令该集合的全部缓存结果失效
func (m *Manager) BumpEpoch(ctx context.Context, collection string) int64 {
	if redis.IsConnected() {
		n, err := redis.Incr(ctx, epochKeyPrefix+collection)
		if err == nil {
			zlog.Info("collection epoch bumped", zap.String("collection", collection), zap.Int64("epoch", n))
			return n
		}
		zlog.Warn("bump epoch in redis failed, fallback to local counter", zap.Error(err))
	}
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	m.localEpochs[collection]++
	return m.localEpochs[collection]
}

// Get 先查 L1 再查 L2；L2 命中回填 L1。out 为 JSON 反序列化目标
func (m *Manager) Get(ctx context.Context, key string, out interface{}) bool {
	m.mu.RLock()
	entry, ok := m.l1[key]
	m.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		if err := json.Unmarshal(entry.value, out); err == nil {
			return true
		}
	}

	if !redis.IsConnected() {
		return false
	}
	raw, err := redis.Get(ctx, key)
	if err != nil {
		if err != goredis.Nil {
			zlog.Warn("cache read from redis failed", zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		zlog.Warn("cache entry decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	m.storeL1(key, []byte(raw))
	return true
}

// Set 同时写入 L1 与 L2；序列化或 Redis 写入失败只记日志
func (m *Manager) Set(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		zlog.Warn("cache entry encode failed", zap.Error(err))
		return
	}
	m.storeL1(key, raw)
	if redis.IsConnected() {
		if err := redis.Set(ctx, key, raw, m.ttl); err != nil {
			zlog.Warn("cache write to redis failed", zap.Error(err))
		}
	}
}

// Invalidate 删除单个键（L1 与 L2）
func (m *Manager) Invalidate(ctx context.Context, key string) {
	m.mu.Lock()
	delete(m.l1, key)
	m.mu.Unlock()
	if redis.IsConnected() {
		if _, err := redis.Del(ctx, key); err != nil {
			zlog.Warn("cache invalidate in redis failed", zap.Error(err))
		}
	}
}

func (m *Manager) storeL1(key string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// 简单容量控制：超限时整体清空，依赖 L2 回填
	if len(m.l1) >= 4096 {
		m.l1 = make(map[string]l1Entry)
	}
	m.l1[key] = l1Entry{value: raw, expiresAt: time.Now().Add(m.ttl)}
}
