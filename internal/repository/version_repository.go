// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docvault-go/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrVersionNotFound 表示版本不存在，或不属于请求用户。
	ErrVersionNotFound = errors.New("repository: version not found")
	// ErrDocumentNotFound 表示文档不存在，或不属于请求用户。
	ErrDocumentNotFound = errors.New("repository: document not found")
)

// VersionRepository 是文档版本与分块的唯一存取契约，流水线的所有状态写入都经由它完成。
type VersionRepository interface {
	GetVersion(ctx context.Context, id uuid.UUID) (*model.DocumentVersion, error)
	GetOwnedVersion(ctx context.Context, ownerID uint, id uuid.UUID) (*model.DocumentVersion, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus) error
	ReplaceChunks(ctx context.Context, id uuid.UUID, chunks []model.DocumentChunk) error
	ListChunks(ctx context.Context, id uuid.UUID) ([]model.DocumentChunk, error)
	CreateVersion(ctx context.Context, ownerID uint, documentID *uuid.UUID, version *model.DocumentVersion) error
	OwnerOf(ctx context.Context, id uuid.UUID) (uint, error)
}

type versionRepository struct {
	db *gorm.DB
}

// NewVersionRepository 创建一个新的 VersionRepository 实例。
func NewVersionRepository(db *gorm.DB) VersionRepository {
	return &versionRepository{db: db}
}

// GetVersion 根据 ID 获取版本。
func (r *versionRepository) GetVersion(ctx context.Context, id uuid.UUID) (*model.DocumentVersion, error) {
	var v model.DocumentVersion
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetOwnedVersion 获取属于 ownerID 的版本，不属于该用户时与不存在一样返回 ErrVersionNotFound。
func (r *versionRepository) GetOwnedVersion(ctx context.Context, ownerID uint, id uuid.UUID) (*model.DocumentVersion, error) {
	var v model.DocumentVersion
	err := r.db.WithContext(ctx).
		Joins("JOIN documents ON documents.id = document_versions.document_id").
		Where("document_versions.id = ? AND documents.owner_id = ?", id, ownerID).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// OwnerOf 返回版本所属文档的 owner_id。
func (r *versionRepository) OwnerOf(ctx context.Context, id uuid.UUID) (uint, error) {
	var owners []uint
	err := r.db.WithContext(ctx).Table("document_versions").
		Select("documents.owner_id").
		Joins("JOIN documents ON documents.id = document_versions.document_id").
		Where("document_versions.id = ?", id).
		Pluck("documents.owner_id", &owners).Error
	if err != nil {
		return 0, err
	}
	if len(owners) == 0 {
		return 0, ErrVersionNotFound
	}
	return owners[0], nil
}

// UpdateStatus 写入新的处理状态并刷新 last_processed_at。
func (r *versionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus) error {
	res := r.db.WithContext(ctx).Model(&model.DocumentVersion{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            status,
			"last_processed_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionNotFound
	}
	return nil
}

// ReplaceChunks 在同一个事务中删除版本的旧分块并写入新分块，事务外永远看不到新旧混杂的状态。
// 序号按传入顺序重新赋值为 0..n-1。
func (r *versionRepository) ReplaceChunks(ctx context.Context, id uuid.UUID, chunks []model.DocumentChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("version_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("删除旧分块失败: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		rows := make([]model.DocumentChunk, len(chunks))
		for i, c := range chunks {
			c.VersionID = id
			c.Ordinal = i
			rows[i] = c
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil { // 每100条记录一批
			return fmt.Errorf("批量写入分块失败: %w", err)
		}
		return nil
	})
}

// ListChunks 按序号返回版本的全部分块。
func (r *versionRepository) ListChunks(ctx context.Context, id uuid.UUID) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.WithContext(ctx).Where("version_id = ?", id).Order("ordinal ASC").Find(&chunks).Error
	return chunks, err
}

// CreateVersion 为文档追加一个新版本：documentID 为空时先创建文档。
// 新版本成为唯一的最新版本，状态为 pending，版本号为已有最大值加一。
func (r *versionRepository) CreateVersion(ctx context.Context, ownerID uint, documentID *uuid.UUID, version *model.DocumentVersion) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc model.Document
		if documentID == nil {
			doc = model.Document{OwnerID: ownerID, Title: version.OriginalFilename}
			if err := tx.Create(&doc).Error; err != nil {
				return fmt.Errorf("创建文档记录失败: %w", err)
			}
		} else {
			err := tx.Where("id = ? AND owner_id = ?", *documentID, ownerID).First(&doc).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDocumentNotFound
			}
			if err != nil {
				return err
			}
		}

		var maxVersion int
		if err := tx.Model(&model.DocumentVersion{}).
			Where("document_id = ?", doc.ID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&maxVersion).Error; err != nil {
			return fmt.Errorf("查询版本号失败: %w", err)
		}
		if err := tx.Model(&model.DocumentVersion{}).
			Where("document_id = ? AND is_latest = ?", doc.ID, true).
			Update("is_latest", false).Error; err != nil {
			return fmt.Errorf("重置最新版本标记失败: %w", err)
		}

		version.DocumentID = doc.ID
		version.VersionNumber = maxVersion + 1
		version.IsLatest = true
		version.Status = model.StatusPending
		if err := tx.Create(version).Error; err != nil {
			return fmt.Errorf("创建版本记录失败: %w", err)
		}
		return nil
	})
}
