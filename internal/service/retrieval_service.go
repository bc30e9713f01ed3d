package service

import (
	"context"
	"fmt"

	"docvault-go/internal/config"
	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/embedding"
	"docvault-go/pkg/log"

	"github.com/google/uuid"
)

// KNNSearcher 是外部向量索引的召回接口，返回按相似度排序的分块 ID。
type KNNSearcher interface {
	SearchKNN(ctx context.Context, ownerID uint, vector []float32, k int) ([]uuid.UUID, error)
}

// RetrievalService 回答“对这个用户而言，哪些分块与问题相关”。
// 结果只来自该用户拥有的、最新的、已索引的版本。
type RetrievalService interface {
	Retrieve(ctx context.Context, ownerID uint, question string) ([]model.RetrievedChunk, error)
}

type retrievalService struct {
	embedder        embedding.Client
	chunks          repository.ChunkSearchRepository
	knn             KNNSearcher
	topK            int
	candidateFactor int
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。knn 为 nil 时使用 pgvector 检索。
func NewRetrievalService(embedder embedding.Client, chunks repository.ChunkSearchRepository, knn KNNSearcher, cfg config.RetrievalConfig) RetrievalService {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	factor := cfg.CandidateFactor
	if factor <= 0 {
		factor = 1
	}
	return &retrievalService{
		embedder:        embedder,
		chunks:          chunks,
		knn:             knn,
		topK:            topK,
		candidateFactor: factor,
	}
}

// Retrieve 向量化问题并返回最相关的 topK 个分块，最相关的在前。
func (s *retrievalService) Retrieve(ctx context.Context, ownerID uint, question string) ([]model.RetrievedChunk, error) {
	vector, err := s.embedder.CreateEmbedding(ctx, question)
	if err != nil {
		log.Errorf("[RetrievalService] 向量化问题失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	if s.knn == nil {
		results, err := s.chunks.SearchNearest(ctx, ownerID, vector, s.topK)
		if err != nil {
			return nil, fmt.Errorf("向量检索失败: %w", err)
		}
		log.Infof("[RetrievalService] pgvector 命中 %d 个分块, 用户ID: %d", len(results), ownerID)
		return results, nil
	}

	// 外部索引只提供候选，资格以关系库为准复核
	candidates, err := s.knn.SearchKNN(ctx, ownerID, vector, s.topK*s.candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("kNN 召回失败: %w", err)
	}
	eligible, err := s.chunks.EligibleChunks(ctx, ownerID, candidates)
	if err != nil {
		return nil, fmt.Errorf("复核候选分块失败: %w", err)
	}
	byID := make(map[uuid.UUID]model.RetrievedChunk, len(eligible))
	for _, c := range eligible {
		byID[c.ChunkID] = c
	}
	results := make([]model.RetrievedChunk, 0, s.topK)
	for _, id := range candidates {
		c, ok := byID[id]
		if !ok {
			continue
		}
		results = append(results, c)
		if len(results) == s.topK {
			break
		}
	}
	log.Infof("[RetrievalService] kNN 候选 %d 个, 复核后保留 %d 个, 用户ID: %d", len(candidates), len(results), ownerID)
	return results, nil
}
