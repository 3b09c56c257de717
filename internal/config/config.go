package config

import (
	"log"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

// ServiceAuthConfig 内部服务调用鉴权（X-API-Key）
type ServiceAuthConfig struct {
	APIKey string `toml:"apiKey"`
}

type MilvusConfig struct {
	Address     string   `toml:"address"`
	Username    string   `toml:"username"`
	Password    string   `toml:"password"`
	DBName      string   `toml:"dbName"`
	Collections []string `toml:"collections"`
	VectorDim   int      `toml:"vectorDim"`
	MetricType  string   `toml:"metricType"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	JobTopic        string   `toml:"jobTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
	Workers         int      `toml:"workers"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

type AIEmbeddingConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	Dimensions      int    `toml:"dimensions"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

// AISparseConfig 稀疏编码服务（BM25 / SPLADE 模型服务）
type AISparseConfig struct {
	BaseURL        string `toml:"baseURL"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

// AIRerankConfig 交叉编码器重排序服务
type AIRerankConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	TopN           int    `toml:"topN"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
	Sparse    AISparseConfig    `toml:"sparse"`
	Rerank    AIRerankConfig    `toml:"rerank"`
}

// SearchConfig 检索管线调参项（未配置项使用零值时走内部默认值）
type SearchConfig struct {
	FusionLaw            string  `toml:"fusionLaw"` // weighted | rrf
	RRFK                 int     `toml:"rrfK"`
	Epsilon              float64 `toml:"epsilon"`
	UseBandit            bool    `toml:"useBandit"`
	PoolSize             int     `toml:"poolSize"`
	SignalTimeoutMs      int     `toml:"signalTimeoutMs"`
	CacheTTLSeconds      int     `toml:"cacheTTLSeconds"`
	TriageThreshold      float64 `toml:"triageThreshold"`
	ChunkSize            int     `toml:"chunkSize"`
	ChunkOverlap         int     `toml:"chunkOverlap"`
	DefaultTopK          int     `toml:"defaultTopK"`
	// 显式权重覆盖（>0 时生效，逐字段覆盖自适应结果）
	DenseWeight  float64 `toml:"denseWeight"`
	SparseWeight float64 `toml:"sparseWeight"`
	SpladeWeight float64 `toml:"spladeWeight"`
	TitleWeight  float64 `toml:"titleWeight"`
	SearchK      int     `toml:"searchK"`
}

// SecurityConfig 安全档位配置
type SecurityConfig struct {
	Profile string `toml:"profile"` // production_basic | production_enhanced
}

type Config struct {
	MainConfig        `toml:"mainConfig"`
	MysqlConfig       `toml:"mysqlConfig"`
	JwtConfig         `toml:"jwtConfig"`
	ServiceAuthConfig `toml:"serviceAuthConfig"`
	MilvusConfig      `toml:"milvusConfig"`
	KafkaConfig       `toml:"kafkaConfig"`
	RedisConfig       `toml:"redisConfig"`
	AIConfig          `toml:"aiConfig"`
	SearchConfig      `toml:"searchConfig"`
	SecurityConfig    `toml:"securityConfig"`
	LogConfig         `toml:"logConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := "configs/config_local.toml"
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
	}
	return config
}
