package initial

import (
	"context"
	"fmt"
	"time"

	"OmniSearch/internal/config"
	"OmniSearch/internal/modules/search/application/service"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/infrastructure/cache"
	"OmniSearch/internal/modules/search/infrastructure/chunking"
	"OmniSearch/internal/modules/search/infrastructure/encoder"
	"OmniSearch/internal/modules/search/infrastructure/fusion"
	"OmniSearch/internal/modules/search/infrastructure/mq"
	"OmniSearch/internal/modules/search/infrastructure/mq/kafka"
	"OmniSearch/internal/modules/search/infrastructure/persistence"
	"OmniSearch/internal/modules/search/infrastructure/pipeline"
	"OmniSearch/internal/modules/search/infrastructure/pool"
	"OmniSearch/internal/modules/search/infrastructure/queue"
	secinfra "OmniSearch/internal/modules/search/infrastructure/security"
	"OmniSearch/internal/modules/search/infrastructure/vectordb"
	"OmniSearch/pkg/ws"
	"OmniSearch/pkg/zlog"

	"go.uber.org/zap"
)

// 检索模块的组装结果，api/http 与 cmd 共用同一套实例
var (
	Hub *ws.Hub

	Store        repository.VectorStore
	CacheManager *cache.Manager
	ResourcePool *pool.Pool

	JobRepo     repository.JobRepository
	RewardRepo  repository.RewardRepository
	ProfileRepo repository.SecurityProfileRepository

	Publisher mq.Publisher
	Consumer  mq.Consumer

	SearchSvc   service.SearchService
	IngestSvc   service.IngestService
	JobSvc      service.JobService
	FeedbackSvc service.FeedbackService
	SecuritySvc service.SecurityService
	HealthSvc   service.HealthService

	Worker *queue.JobConsumerWorker
)

func init() {
	conf := config.GetConfig()
	ctx := context.Background()

	if MilvusClient == nil {
		zlog.Fatal("milvus is required: set milvusConfig.address")
		return
	}

	store, err := vectordb.NewMilvusStore(MilvusClient, conf.MilvusConfig.VectorDim, conf.MilvusConfig.MetricType)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("vector store init failed: %v", err))
		return
	}
	Store = store

	embedder, meta, err := encoder.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("embedder init failed: %v", err))
		return
	}
	zlog.Info("embedder ready",
		zap.String("provider", meta.Provider),
		zap.String("model", meta.Model))

	var sparseEnc, spladeEnc encoder.SparseEncoder
	if conf.AIConfig.Sparse.BaseURL != "" {
		sparseEnc = encoder.NewHTTPSparseClient(conf.AIConfig.Sparse.BaseURL, "bm25", conf.AIConfig.Sparse.TimeoutSeconds)
		spladeEnc = encoder.NewHTTPSparseClient(conf.AIConfig.Sparse.BaseURL, "splade", conf.AIConfig.Sparse.TimeoutSeconds)
	} else {
		zlog.Warn("sparse encoding service not configured, using local bm25 for both sparse slots")
		sparseEnc = encoder.NewLocalBM25Encoder()
		spladeEnc = encoder.NewLocalBM25Encoder()
	}

	var reranker encoder.Reranker
	if conf.AIConfig.Rerank.Enabled && conf.AIConfig.Rerank.BaseURL != "" {
		reranker = encoder.NewHTTPRerankClient(conf.AIConfig.Rerank.BaseURL, conf.AIConfig.Rerank.Model, conf.AIConfig.Rerank.TimeoutSeconds)
	}

	CacheManager = cache.NewManager(conf.SearchConfig.CacheTTLSeconds)
	ResourcePool = pool.NewPool(conf.SearchConfig.PoolSize)
	acl := secinfra.NewAccessController()
	engine := fusion.NewEngine(conf.SearchConfig.FusionLaw, conf.SearchConfig.RRFK)
	chunker := chunking.NewRecursiveChunker(conf.SearchConfig.ChunkSize, conf.SearchConfig.ChunkOverlap)

	JobRepo = persistence.NewJobRepository(GormDB)
	RewardRepo = persistence.NewRewardRepository(GormDB)
	ProfileRepo = persistence.NewSecurityProfileRepository(GormDB)

	bandit := fusion.NewBandit(conf.SearchConfig.Epsilon, RewardRepo, time.Now().UnixNano())
	levelMgr := secinfra.NewLevelManager(Store, acl)
	validator := secinfra.NewProfileValidator(ProfileRepo)

	searchPipe, err := pipeline.NewSearchPipeline(pipeline.SearchPipelineDeps{
		Store:     Store,
		Embedder:  embedder,
		SparseEnc: sparseEnc,
		SpladeEnc: spladeEnc,
		Reranker:  reranker,
		Cache:     CacheManager,
		Pool:      ResourcePool,
		ACL:       acl,
		Bandit:    bandit,
		Engine:    engine,
		Conf:      conf,
	})
	if err != nil {
		zlog.Fatal(fmt.Sprintf("search pipeline init failed: %v", err))
		return
	}

	ingestPipe, err := pipeline.NewIngestPipeline(Store, embedder, sparseEnc, spladeEnc, chunker, CacheManager, conf.MilvusConfig.VectorDim)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("ingest pipeline init failed: %v", err))
		return
	}

	initKafka(conf)

	Hub = ws.NewHub()

	SearchSvc = service.NewSearchService(searchPipe, acl)
	IngestSvc = service.NewIngestService(JobRepo, Publisher, ingestPipe, Store, acl, conf.KafkaConfig.JobTopic)
	JobSvc = service.NewJobService(JobRepo)
	FeedbackSvc = service.NewFeedbackService(RewardRepo)
	SecuritySvc = service.NewSecurityService(levelMgr, validator, ProfileRepo, CacheManager)
	HealthSvc = service.NewHealthService(Store, JobRepo, ResourcePool, validator, conf.MilvusConfig.Collections)

	if Consumer != nil {
		Worker = queue.NewJobConsumerWorker(Consumer, JobRepo, ingestPipe, levelMgr, CacheManager, Store, Hub)
	}
}

func initKafka(conf *config.Config) {
	brokers := conf.KafkaConfig.Brokers
	if len(brokers) == 0 {
		zlog.Warn("kafka not configured, batch ingest runs inline")
		return
	}

	topic := conf.KafkaConfig.JobTopic
	if topic == "" {
		topic = "search_jobs"
	}

	adminCfg := kafka.TopicAdminConfig{Brokers: brokers, ClientID: conf.KafkaConfig.ClientID}
	if err := kafka.EnsureTopic(adminCfg, topic, conf.KafkaConfig.Partitions, conf.KafkaConfig.Replication); err != nil {
		zlog.Error(fmt.Sprintf("kafka ensure topic failed: %v", err))
	}

	publisher, err := kafka.NewSaramaPublisher(kafka.PublisherConfig{Brokers: brokers, ClientID: conf.KafkaConfig.ClientID})
	if err != nil {
		zlog.Error(fmt.Sprintf("kafka publisher init failed: %v", err))
		return
	}
	Publisher = publisher

	groupID := conf.KafkaConfig.ConsumerGroupID
	if groupID == "" {
		groupID = "omnisearch-job-workers"
	}
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topics:   []string{topic},
		ClientID: conf.KafkaConfig.ClientID,
	})
	if err != nil {
		zlog.Error(fmt.Sprintf("kafka consumer init failed: %v", err))
		return
	}
	Consumer = consumer
}
