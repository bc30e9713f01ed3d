package database

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"time"

	"docvault-go/internal/model"
	"docvault-go/pkg/log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// OpenPostgres 打开 PostgreSQL 连接并配置连接池。
func OpenPostgres(dsn string) (*gorm.DB, error) {
	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间

	log.Info("PostgreSQL database connected successfully")
	return db, nil
}

// Migrate 启用 pgvector 扩展、建表，并把向量列调整为配置的维度。
func Migrate(db *gorm.DB, dims int) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}
	if err := db.AutoMigrate(&model.Document{}, &model.DocumentVersion{}, &model.DocumentChunk{}); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if dims != model.EmbeddingDimensions {
		log.Warnf("[Migrate] 调整 document_chunks.embedding 维度为 %d", dims)
		stmt := fmt.Sprintf(`ALTER TABLE document_chunks ALTER COLUMN embedding TYPE vector(%d)`, dims)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to resize embedding column: %w", err)
		}
	}
	stmts := []string{
		// 每个文档最多一个最新版本
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_document_versions_latest ON document_versions (document_id) WHERE is_latest`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info("[Migrate] 数据库迁移完成")
	return nil
}

// EmbeddingColumnDimensions 读取 document_chunks.embedding 列声明的维度。
// pgvector 把维度存放在 atttypmod 中。
func EmbeddingColumnDimensions(ctx context.Context, db *gorm.DB) (int, error) {
	var dims int
	err := db.WithContext(ctx).Raw(`
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'document_chunks'::regclass AND attname = 'embedding'`).Scan(&dims).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding column dimensions: %w", err)
	}
	return dims, nil
}
