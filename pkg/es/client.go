// Package es 提供了与 Elasticsearch 交互的客户端功能：分块镜像索引与带用户过滤的 kNN 召回。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docvault-go/internal/config"
	"docvault-go/internal/model"
	"docvault-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// Client 封装了分块镜像索引的读写。
type Client struct {
	es           *elasticsearch.Client
	index        string
	dims         int
	modelVersion string
}

// NewClient 初始化 Elasticsearch 客户端，并确保索引存在。
func NewClient(ctx context.Context, esCfg config.ElasticsearchConfig, dims int, modelVersion string) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	c := &Client{es: es, index: esCfg.IndexName, dims: dims, modelVersion: modelVersion}
	if err := c.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[ES] 检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", c.index)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("[ES] 检查索引 '%s' 是否存在时收到意外的状态码: %d", c.index, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 向量维度必须与关系库中的 vector 列一致，相似度与 pgvector 的 <=> 一样使用 cosine
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"version_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"owner_id": { "type": "long" },
				"ordinal": { "type": "integer" },
				"content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, c.dims)

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("[ES] 创建索引 '%s' 失败: %v", c.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("[ES] 索引 '%s' 创建成功", c.index)
	return nil
}

// ReplaceVersion 先删除该版本在索引中的全部分块，再批量写入新的分块集合。
func (c *Client) ReplaceVersion(ctx context.Context, ownerID uint, version *model.DocumentVersion, chunks []model.DocumentChunk) error {
	if err := c.DeleteVersion(ctx, version.ID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ch := range chunks {
		doc := model.EsChunkDocument{
			ChunkID:      ch.ID.String(),
			VersionID:    version.ID.String(),
			DocumentID:   version.DocumentID.String(),
			OwnerID:      ownerID,
			Ordinal:      ch.Ordinal,
			Content:      ch.Content,
			Vector:       ch.Embedding.Slice(),
			ModelVersion: c.modelVersion,
		}
		meta := map[string]any{"index": map[string]any{"_id": doc.ChunkID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{
		Index:   c.index,
		Body:    &body,
		Refresh: "true",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("bulk 写入分块失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] bulk 写入分块出错: %s", res.String())
		return fmt.Errorf("bulk 写入分块失败: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("bulk 写入分块时部分文档失败")
	}
	log.Infof("[ES] 版本 %s 的 %d 个分块已写入索引", version.ID, len(chunks))
	return nil
}

// DeleteVersion 删除一个版本在索引中的全部分块。
func (c *Client) DeleteVersion(ctx context.Context, versionID uuid.UUID) error {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"version_id": versionID.String()},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:     []string{c.index},
		Body:      &buf,
		Refresh:   &refresh,
		Conflicts: "proceed",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("删除旧分块失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		log.Errorf("[ES] 删除版本 %s 的旧分块出错: %s", versionID, res.String())
		return fmt.Errorf("删除旧分块失败: %s", res.Status())
	}
	return nil
}

// SearchKNN 在 ownerID 名下的分块中做 kNN 召回，按相似度从高到低返回分块 ID。
// 返回的候选只代表索引中的快照，调用方必须以关系库为准复核资格。
func (c *Client) SearchKNN(ctx context.Context, ownerID uint, vector []float32, k int) ([]uuid.UUID, error) {
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	esQuery := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
			"filter": map[string]any{
				"term": map[string]any{"owner_id": ownerID},
			},
		},
		"_source": []string{"chunk_id"},
		"size":    k,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source struct {
					ChunkID string `json:"chunk_id"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		id, err := uuid.Parse(hit.Source.ChunkID)
		if err != nil {
			log.Warnf("[ES] 忽略无法解析的 chunk_id: %q", hit.Source.ChunkID)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
