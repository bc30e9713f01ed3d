package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/scanner"
	"docvault-go/pkg/storage"

	"github.com/google/uuid"
)

// memVersions 是记录状态历史的内存版 VersionRepository。
type memVersions struct {
	mu       sync.Mutex
	versions map[uuid.UUID]*model.DocumentVersion
	owners   map[uuid.UUID]uint
	chunks   map[uuid.UUID][]model.DocumentChunk
	history  map[uuid.UUID][]model.ProcessingStatus
	replaces int
}

func newMemVersions() *memVersions {
	return &memVersions{
		versions: map[uuid.UUID]*model.DocumentVersion{},
		owners:   map[uuid.UUID]uint{},
		chunks:   map[uuid.UUID][]model.DocumentChunk{},
		history:  map[uuid.UUID][]model.ProcessingStatus{},
	}
}

func (m *memVersions) add(owner uint, v *model.DocumentVersion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Status == "" {
		v.Status = model.StatusPending
	}
	m.versions[v.ID] = v
	m.owners[v.ID] = owner
}

func (m *memVersions) statusOf(id uuid.UUID) model.ProcessingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[id].Status
}

func (m *memVersions) historyOf(id uuid.UUID) []model.ProcessingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ProcessingStatus(nil), m.history[id]...)
}

func (m *memVersions) GetVersion(_ context.Context, id uuid.UUID) (*model.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, repository.ErrVersionNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memVersions) GetOwnedVersion(ctx context.Context, ownerID uint, id uuid.UUID) (*model.DocumentVersion, error) {
	if m.owners[id] != ownerID {
		return nil, repository.ErrVersionNotFound
	}
	return m.GetVersion(ctx, id)
}

func (m *memVersions) UpdateStatus(_ context.Context, id uuid.UUID, status model.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return repository.ErrVersionNotFound
	}
	now := time.Now()
	v.Status = status
	v.LastProcessedAt = &now
	m.history[id] = append(m.history[id], status)
	return nil
}

func (m *memVersions) ReplaceChunks(_ context.Context, id uuid.UUID, chunks []model.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]model.DocumentChunk, len(chunks))
	for i, c := range chunks {
		c.VersionID = id
		c.Ordinal = i
		rows[i] = c
	}
	m.chunks[id] = rows
	m.replaces++
	return nil
}

func (m *memVersions) ListChunks(_ context.Context, id uuid.UUID) ([]model.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DocumentChunk(nil), m.chunks[id]...), nil
}

func (m *memVersions) CreateVersion(_ context.Context, ownerID uint, _ *uuid.UUID, v *model.DocumentVersion) error {
	m.add(ownerID, v)
	return nil
}

func (m *memVersions) OwnerOf(_ context.Context, id uuid.UUID) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[id]
	if !ok {
		return 0, repository.ErrVersionNotFound
	}
	return owner, nil
}

// flakyBlobs 在前 failures 次 Get 时返回瞬时错误。
type flakyBlobs struct {
	mu       sync.Mutex
	data     map[string][]byte
	failures int
	gets     int
}

func newFlakyBlobs() *flakyBlobs {
	return &flakyBlobs{data: map[string][]byte{}}
}

func (b *flakyBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if b.gets <= b.failures {
		return nil, errors.New("connection reset by peer")
	}
	d, ok := b.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), d...), nil
}

func (b *flakyBlobs) Put(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), data...)
	return nil
}

func (b *flakyBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// scriptedScanner 依次返回预设结论，用完后重复最后一个。
type scriptedScanner struct {
	mu       sync.Mutex
	verdicts []scanner.Verdict
	calls    int
}

func (s *scriptedScanner) Scan(_ context.Context, _ []byte) scanner.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.verdicts) == 0 {
		return scanner.Verdict{Outcome: scanner.Clean}
	}
	i := s.calls - 1
	if i >= len(s.verdicts) {
		i = len(s.verdicts) - 1
	}
	return s.verdicts[i]
}

// stubEmbedder 返回由文本内容决定的确定性向量。
type stubEmbedder struct {
	mu       sync.Mutex
	failures int
	calls    int
	batches  []int
}

func (e *stubEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := e.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *stubEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return nil, errors.New("embedding service timeout")
	}
	e.batches = append(e.batches, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var sum float32
		for _, r := range t {
			sum += float32(r)
		}
		out[i] = []float32{float32(len(t)), sum, 1, 0}
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int { return 4 }
func (e *stubEmbedder) Model() string   { return "stub" }

// countingExtractor 统计提取调用次数。
type countingExtractor struct {
	inner TextExtractor
	calls int
}

func (c *countingExtractor) Extract(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	c.calls++
	return c.inner.Extract(ctx, data, filename, mimeType)
}

type recordingMirror struct {
	owners []uint
	sets   [][]model.DocumentChunk
}

func (r *recordingMirror) ReplaceVersion(_ context.Context, ownerID uint, _ *model.DocumentVersion, chunks []model.DocumentChunk) error {
	r.owners = append(r.owners, ownerID)
	r.sets = append(r.sets, chunks)
	return nil
}
