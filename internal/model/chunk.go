package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// EmbeddingDimensions 是 document_chunks.embedding 列在建表时声明的维度。
// migrate 命令会按配置的维度调整该列。
const EmbeddingDimensions = 768

// DocumentChunk 对应 document_chunks 表。同一版本内 Ordinal 从 0 开始连续递增。
type DocumentChunk struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	VersionID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_version_ordinal,priority:1"`
	Ordinal   int             `gorm:"not null;uniqueIndex:idx_chunk_version_ordinal,priority:2"`
	Content   string          `gorm:"type:text;not null"`
	Embedding pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

func (c *DocumentChunk) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// RetrievedChunk 是一次检索命中的分块，按相关度从高到低排列。
type RetrievedChunk struct {
	ChunkID          uuid.UUID `json:"chunkId"`
	VersionID        uuid.UUID `json:"versionId"`
	DocumentID       uuid.UUID `json:"documentId"`
	OriginalFilename string    `json:"originalFilename"`
	Ordinal          int       `json:"ordinal"`
	Content          string    `json:"content"`
	Distance         float64   `json:"distance"`
}
