package repository

import (
	"context"

	"docvault-go/internal/model"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkSearchRepository 提供按用户限定范围的分块检索。
// 所有查询都只返回 owner 为请求用户、版本为最新且状态为 indexed 的分块。
type ChunkSearchRepository interface {
	SearchNearest(ctx context.Context, ownerID uint, embedding []float32, topK int) ([]model.RetrievedChunk, error)
	EligibleChunks(ctx context.Context, ownerID uint, chunkIDs []uuid.UUID) ([]model.RetrievedChunk, error)
}

type chunkSearchRepository struct {
	db *gorm.DB
}

// NewChunkSearchRepository 创建一个新的 ChunkSearchRepository 实例。
func NewChunkSearchRepository(db *gorm.DB) ChunkSearchRepository {
	return &chunkSearchRepository{db: db}
}

const eligibleChunksFrom = `
	FROM document_chunks c
	JOIN document_versions v ON v.id = c.version_id
	JOIN documents d ON d.id = v.document_id
	WHERE d.owner_id = ? AND v.is_latest = ? AND v.status = ?`

// SearchNearest 使用 pgvector 的余弦距离 (<=>) 返回最相近的 topK 个分块，距离从小到大。
func (r *chunkSearchRepository) SearchNearest(ctx context.Context, ownerID uint, embedding []float32, topK int) ([]model.RetrievedChunk, error) {
	var results []model.RetrievedChunk
	err := nearestQuery(r.db.WithContext(ctx), ownerID, cosineDistance(embedding), topK).Scan(&results).Error
	return results, err
}

func cosineDistance(embedding []float32) clause.Expr {
	return gorm.Expr("c.embedding <=> ?", pgvector.NewVector(embedding))
}

// nearestQuery 按 distance 升序取可检索分块。distance 是引用分块别名 c 的距离表达式。
func nearestQuery(tx *gorm.DB, ownerID uint, distance clause.Expr, topK int) *gorm.DB {
	return tx.Raw(`
	SELECT c.id AS chunk_id, c.version_id, v.document_id, v.original_filename, c.ordinal, c.content,
	       ? AS distance`+eligibleChunksFrom+`
	ORDER BY ?
	LIMIT ?`, distance, ownerID, true, model.StatusIndexed, distance, topK)
}

// EligibleChunks 从候选 ID 中过滤出仍然满足检索资格的分块，顺序不保证。
func (r *chunkSearchRepository) EligibleChunks(ctx context.Context, ownerID uint, chunkIDs []uuid.UUID) ([]model.RetrievedChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	var results []model.RetrievedChunk
	err := r.db.WithContext(ctx).Raw(`
	SELECT c.id AS chunk_id, c.version_id, v.document_id, v.original_filename, c.ordinal, c.content`+eligibleChunksFrom+`
	AND c.id IN ?`, ownerID, true, model.StatusIndexed, chunkIDs).
		Scan(&results).Error
	return results, err
}
