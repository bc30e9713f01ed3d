package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/storage"
	"docvault-go/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "service.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.DocumentVersion{}, &model.DocumentChunk{}))
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = data
	return nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return nil
}

type memQueue struct {
	mu   sync.Mutex
	jobs []tasks.Job
	err  error
}

func (q *memQueue) Enqueue(_ context.Context, job tasks.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// failingVersions 让 CreateVersion 失败，用于验证上传补偿。
type failingVersions struct {
	repository.VersionRepository
}

func (failingVersions) CreateVersion(context.Context, uint, *uuid.UUID, *model.DocumentVersion) error {
	return errors.New("db down")
}

// axisEmbedder 把文本映射到固定向量，未登记的文本返回零向量。
type axisEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *axisEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

func (e *axisEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.CreateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *axisEmbedder) Dimensions() int { return 3 }
func (e *axisEmbedder) Model() string   { return "axis" }

type stubLLM struct {
	answer  string
	err     error
	prompts []string
}

func (l *stubLLM) Generate(_ context.Context, prompt string) (string, error) {
	l.prompts = append(l.prompts, prompt)
	return l.answer, l.err
}

// stubChunks 以固定结果实现 ChunkSearchRepository，并记录调用参数。
type stubChunks struct {
	nearest     []model.RetrievedChunk
	eligible    []model.RetrievedChunk
	gotTopK     int
	gotOwner    uint
	gotEligible []uuid.UUID
}

func (s *stubChunks) SearchNearest(_ context.Context, ownerID uint, _ []float32, topK int) ([]model.RetrievedChunk, error) {
	s.gotOwner, s.gotTopK = ownerID, topK
	if len(s.nearest) > topK {
		return s.nearest[:topK], nil
	}
	return s.nearest, nil
}

func (s *stubChunks) EligibleChunks(_ context.Context, ownerID uint, ids []uuid.UUID) ([]model.RetrievedChunk, error) {
	s.gotOwner, s.gotEligible = ownerID, ids
	return s.eligible, nil
}

type stubKNN struct {
	ids  []uuid.UUID
	gotK int
}

func (k *stubKNN) SearchKNN(_ context.Context, _ uint, _ []float32, n int) ([]uuid.UUID, error) {
	k.gotK = n
	return k.ids, nil
}
