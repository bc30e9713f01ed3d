package repository

import (
	"context"
	"path/filepath"
	"testing"

	"docvault-go/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "docvault.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.DocumentVersion{}, &model.DocumentChunk{}))
	return db
}

func newVersion(name string) *model.DocumentVersion {
	return &model.DocumentVersion{
		StorageKey:       "1/" + uuid.NewString() + "-" + name,
		WrappedKey:       []byte("wrapped"),
		OriginalFilename: name,
		MimeType:         "text/plain",
		SizeBytes:        10,
	}
}

func TestCreateVersionFlipsLatest(t *testing.T) {
	ctx := context.Background()
	repo := NewVersionRepository(newTestDB(t))

	v1 := newVersion("notes.txt")
	require.NoError(t, repo.CreateVersion(ctx, 1, nil, v1))
	assert.Equal(t, 1, v1.VersionNumber)
	assert.True(t, v1.IsLatest)
	assert.Equal(t, model.StatusPending, v1.Status)
	assert.NotEqual(t, uuid.Nil, v1.DocumentID)

	docID := v1.DocumentID
	v2 := newVersion("notes.txt")
	require.NoError(t, repo.CreateVersion(ctx, 1, &docID, v2))
	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, docID, v2.DocumentID)

	old, err := repo.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsLatest)
	latest, err := repo.GetVersion(ctx, v2.ID)
	require.NoError(t, err)
	assert.True(t, latest.IsLatest)
	assert.Equal(t, []byte("wrapped"), latest.WrappedKey)
}

func TestCreateVersionForeignDocument(t *testing.T) {
	ctx := context.Background()
	repo := NewVersionRepository(newTestDB(t))

	v1 := newVersion("a.txt")
	require.NoError(t, repo.CreateVersion(ctx, 1, nil, v1))
	docID := v1.DocumentID
	err := repo.CreateVersion(ctx, 2, &docID, newVersion("b.txt"))
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestGetOwnedVersionAndOwnerOf(t *testing.T) {
	ctx := context.Background()
	repo := NewVersionRepository(newTestDB(t))

	v := newVersion("a.txt")
	require.NoError(t, repo.CreateVersion(ctx, 7, nil, v))

	got, err := repo.GetOwnedVersion(ctx, 7, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	_, err = repo.GetOwnedVersion(ctx, 8, v.ID)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	owner, err := repo.OwnerOf(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(7), owner)

	_, err = repo.OwnerOf(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrVersionNotFound)
	_, err = repo.GetVersion(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewVersionRepository(newTestDB(t))

	v := newVersion("a.txt")
	require.NoError(t, repo.CreateVersion(ctx, 1, nil, v))
	require.NoError(t, repo.UpdateStatus(ctx, v.ID, model.StatusScannedClean))

	got, err := repo.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScannedClean, got.Status)
	assert.NotNil(t, got.LastProcessedAt)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, uuid.New(), model.StatusIndexed), ErrVersionNotFound)
}

func chunksOf(texts ...string) []model.DocumentChunk {
	out := make([]model.DocumentChunk, len(texts))
	for i, s := range texts {
		out[i] = model.DocumentChunk{Content: s, Embedding: pgvectorOf(float32(i))}
	}
	return out
}

func TestReplaceChunksIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewVersionRepository(newTestDB(t))

	v := newVersion("a.txt")
	require.NoError(t, repo.CreateVersion(ctx, 1, nil, v))

	require.NoError(t, repo.ReplaceChunks(ctx, v.ID, chunksOf("one", "two", "three")))
	require.NoError(t, repo.ReplaceChunks(ctx, v.ID, chunksOf("uno", "dos")))

	chunks, err := repo.ListChunks(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, v.ID, c.VersionID)
	}
	assert.Equal(t, "uno", chunks[0].Content)
	assert.Equal(t, "dos", chunks[1].Content)

	require.NoError(t, repo.ReplaceChunks(ctx, v.ID, nil))
	chunks, err = repo.ListChunks(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
