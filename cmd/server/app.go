package main

import (
	"context"
	"fmt"

	"docvault-go/internal/config"
	"docvault-go/internal/pipeline"
	"docvault-go/internal/repository"
	"docvault-go/pkg/crypto"
	"docvault-go/pkg/database"
	"docvault-go/pkg/embedding"
	"docvault-go/pkg/es"
	"docvault-go/pkg/extract"
	"docvault-go/pkg/kafka"
	"docvault-go/pkg/log"
	"docvault-go/pkg/scanner"
	"docvault-go/pkg/storage"
	"docvault-go/pkg/tika"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// loadConfig 读取并校验配置，然后初始化日志。配置不合法时直接返回错误，进程不会启动。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg, nil
}

// runtime 汇总了各个命令共用的基础设施连接。
type runtime struct {
	cfg      *config.Config
	db       *gorm.DB
	rdb      *redis.Client
	blobs    *storage.MinIOStore
	envelope *crypto.Envelope
	producer *kafka.Producer
	embedder embedding.Client
	search   *es.Client // 仅在 elasticsearch 检索后端下初始化
}

// newRuntime 建立全部外部连接并执行启动期检查：向量列维度、embedding 模型维度。
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	var err error

	rt.db, err = database.OpenPostgres(cfg.Database.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	dims, err := database.EmbeddingColumnDimensions(ctx, rt.db)
	if err != nil {
		return nil, fmt.Errorf("%w (是否已执行 migrate?)", err)
	}
	if dims != cfg.Embedding.Dimensions {
		return nil, fmt.Errorf("%w: 数据库向量列为 %d 维, 配置为 %d 维, 请执行 migrate",
			embedding.ErrDimensionMismatch, dims, cfg.Embedding.Dimensions)
	}

	rt.embedder = embedding.NewClient(cfg.Embedding)
	if err := embedding.ProbeDimensions(ctx, rt.embedder); err != nil {
		return nil, err
	}

	rt.rdb, err = database.NewRedis(ctx, cfg.Database.Redis)
	if err != nil {
		return nil, err
	}
	rt.blobs, err = storage.NewMinIOStore(ctx, cfg.MinIO)
	if err != nil {
		return nil, err
	}
	rt.envelope, err = crypto.NewEnvelopeFromString(cfg.Crypto.MasterKey)
	if err != nil {
		return nil, err
	}
	rt.producer = kafka.NewProducer(cfg.Kafka)

	if cfg.Retrieval.Backend == config.BackendElasticsearch {
		rt.search, err = es.NewClient(ctx, cfg.Elasticsearch, cfg.Embedding.Dimensions, cfg.Embedding.Model)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch 初始化失败: %w", err)
		}
	}
	log.Info("[Bootstrap] 基础设施初始化完成")
	return rt, nil
}

// coordinator 组装摄取流水线。
func (rt *runtime) coordinator(ctx context.Context) *pipeline.Coordinator {
	var scan scanner.Scanner = scanner.DisabledScanner{}
	if rt.cfg.ClamAV.Enabled {
		clamd := scanner.NewClamdScanner(rt.cfg.ClamAV)
		if err := clamd.Ping(ctx); err != nil {
			// clamd 暂时不可用时不阻止启动，扫描阶段会按可重试错误处理
			log.Warnf("[Bootstrap] clamd 探活失败: %v", err)
		}
		scan = clamd
	}
	registry := extract.NewDefaultRegistry(rt.cfg.Extraction, tika.NewClient(rt.cfg.Tika))

	coord := pipeline.NewCoordinator(
		repository.NewVersionRepository(rt.db),
		rt.blobs,
		rt.envelope,
		scan,
		registry,
		rt.embedder,
		rt.cfg.Chunking,
		rt.cfg.Pipeline,
	)
	if rt.search != nil {
		coord = coord.WithMirror(rt.search)
	}
	return coord
}

// consumer 组装 Kafka 消费者。
func (rt *runtime) consumer(ctx context.Context) *kafka.Consumer {
	return kafka.NewConsumer(
		kafka.NewReader(rt.cfg.Kafka),
		rt.producer,
		rt.coordinator(ctx),
		repository.NewJobStateRepository(rt.rdb),
		repository.NewVersionRepository(rt.db),
		rt.cfg.Pipeline,
	)
}

func (rt *runtime) Close() {
	if rt.producer != nil {
		if err := rt.producer.Close(); err != nil {
			log.Warnf("[Bootstrap] 关闭 Kafka 生产者失败: %v", err)
		}
	}
	if rt.rdb != nil {
		_ = rt.rdb.Close()
	}
	if rt.db != nil {
		if sqlDB, err := rt.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	log.Sync()
}
