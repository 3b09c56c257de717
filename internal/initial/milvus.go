package initial

import (
	"context"
	"fmt"
	"strings"

	"OmniSearch/internal/config"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/pkg/zlog"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

var MilvusClient mclient.Client

func init() {
	conf := config.GetConfig()
	addr := strings.TrimSpace(conf.MilvusConfig.Address)
	if addr == "" {
		return
	}

	ctx := context.Background()
	cli, err := newMilvusClientAndEnsureSchema(ctx, conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("milvus init failed: %v", err))
		return
	}
	MilvusClient = cli
}

func newMilvusClientAndEnsureSchema(ctx context.Context, conf *config.Config) (mclient.Client, error) {
	addr := strings.TrimSpace(conf.MilvusConfig.Address)
	dbName := strings.TrimSpace(conf.MilvusConfig.DBName)
	if dbName == "" {
		dbName = "omnisearch"
	}

	collections := conf.MilvusConfig.Collections
	if len(collections) == 0 {
		collections = []string{"documents"}
	}

	dim := conf.MilvusConfig.VectorDim
	if dim <= 0 {
		dim = 768
	}

	metric := entity.COSINE
	if m := strings.TrimSpace(conf.MilvusConfig.MetricType); m != "" {
		metric = entity.MetricType(m)
	}

	defaultCli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   "default",
	})
	if err != nil {
		return nil, err
	}

	dbs, err := defaultCli.ListDatabases(ctx)
	if err != nil {
		_ = defaultCli.Close()
		return nil, err
	}
	exists := false
	for _, db := range dbs {
		if db.Name == dbName {
			exists = true
			break
		}
	}
	if !exists {
		if err := defaultCli.CreateDatabase(ctx, dbName); err != nil {
			_ = defaultCli.Close()
			return nil, err
		}
	}
	_ = defaultCli.Close()

	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   dbName,
	})
	if err != nil {
		return nil, err
	}

	for _, collection := range collections {
		if err := ensureCollection(ctx, cli, collection, dim, metric); err != nil {
			_ = cli.Close()
			return nil, err
		}
	}

	return cli, nil
}

func ensureCollection(ctx context.Context, cli mclient.Client, collection string, dim int, metric entity.MetricType) error {
	cols, err := cli.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c.Name == collection {
			_ = cli.LoadCollection(ctx, collection, false)
			return nil
		}
	}

	schema := &entity.Schema{
		CollectionName: collection,
		Description:    "OmniSearch hybrid retrieval chunks",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "db_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "title",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:       "url",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "1024"},
			},
			{
				Name:       "tenant_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "access_level",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "date",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "32"},
			},
			{
				Name:     "metadata",
				DataType: entity.FieldTypeJSON,
			},
			{
				Name:       repository.VectorFieldDense,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", dim)},
			},
			{
				Name:       repository.VectorFieldTitle,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", dim)},
			},
			{
				Name:     repository.VectorFieldSparse,
				DataType: entity.FieldTypeSparseVector,
			},
			{
				Name:     repository.VectorFieldSplade,
				DataType: entity.FieldTypeSparseVector,
			},
		},
	}

	if err := cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return err
	}

	denseIdx, err := entity.NewIndexAUTOINDEX(metric)
	if err != nil {
		return err
	}
	for _, field := range []string{repository.VectorFieldDense, repository.VectorFieldTitle} {
		if err := cli.CreateIndex(ctx, collection, field, denseIdx, false); err != nil {
			return err
		}
	}

	// 稀疏槽位只支持 IP 度量
	sparseIdx, err := entity.NewIndexSparseInverted(entity.IP, 0)
	if err != nil {
		return err
	}
	for _, field := range []string{repository.VectorFieldSparse, repository.VectorFieldSplade} {
		if err := cli.CreateIndex(ctx, collection, field, sparseIdx, false); err != nil {
			return err
		}
	}

	_ = cli.LoadCollection(ctx, collection, false)
	return nil
}
