package model

// EsChunkDocument 定义了镜像到 Elasticsearch 中的分块文档结构。
// 资格字段（owner/latest/status）在检索后仍以关系库为准重新校验。
type EsChunkDocument struct {
	ChunkID      string    `json:"chunk_id"` // 与 document_chunks.id 一致
	VersionID    string    `json:"version_id"`
	DocumentID   string    `json:"document_id"`
	OwnerID      uint      `json:"owner_id"`
	Ordinal      int       `json:"ordinal"`
	Content      string    `json:"content"`
	Vector       []float32 `json:"vector"` // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
}
