// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/crypto"
	"docvault-go/pkg/log"
	"docvault-go/pkg/storage"
	"docvault-go/pkg/tasks"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	// ErrEmptyFile 表示上传的文件没有内容。
	ErrEmptyFile = errors.New("上传的文件为空")
	// ErrFileTooLarge 表示文件超过了上传大小限制。
	ErrFileTooLarge = errors.New("文件超过大小限制")
	// ErrEnqueueFailed 表示版本已经创建，但摄取任务没有投递成功，版本停留在 pending。
	ErrEnqueueFailed = errors.New("摄取任务投递失败")
)

// JobQueue 是任务队列的生产端。
type JobQueue interface {
	Enqueue(ctx context.Context, job tasks.Job) error
}

// KeyWrapper 用主密钥封装文件密钥。
type KeyWrapper interface {
	Wrap(key []byte) ([]byte, error)
}

// UploadInput 是一次上传的输入。DocumentID 为空时创建新文档，否则为已有文档追加新版本。
type UploadInput struct {
	OwnerID    uint
	DocumentID *uuid.UUID
	Filename   string
	MimeType   string
	Data       []byte
}

// UploadService 接口定义了文件上传相关的业务操作。
type UploadService interface {
	Upload(ctx context.Context, in UploadInput) (*model.DocumentVersion, error)
}

type uploadService struct {
	versions repository.VersionRepository
	blobs    storage.BlobStore
	keys     KeyWrapper
	queue    JobQueue
	maxBytes int64
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(versions repository.VersionRepository, blobs storage.BlobStore, keys KeyWrapper, queue JobQueue, maxBytes int64) UploadService {
	return &uploadService{
		versions: versions,
		blobs:    blobs,
		keys:     keys,
		queue:    queue,
		maxBytes: maxBytes,
	}
}

// Upload 加密文件并写入对象存储，创建 pending 状态的新版本，然后投递摄取任务。
// 版本记录创建失败时会尽力删除已经写入的密文。
func (s *uploadService) Upload(ctx context.Context, in UploadInput) (*model.DocumentVersion, error) {
	filename := sanitizeFilename(in.Filename)
	if len(in.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if s.maxBytes > 0 && int64(len(in.Data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d > %d 字节", ErrFileTooLarge, len(in.Data), s.maxBytes)
	}
	mimeType := in.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(in.Data).String()
	}
	log.Infof("[UploadService] 开始上传, 用户ID: %d, 文件名: %s, 大小: %d, MIME: %s", in.OwnerID, filename, len(in.Data), mimeType)

	// 1. 生成文件密钥并加密
	fileKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(fileKey)
	ciphertext, err := crypto.Encrypt(in.Data, fileKey)
	if err != nil {
		return nil, fmt.Errorf("加密文件失败: %w", err)
	}
	wrappedKey, err := s.keys.Wrap(fileKey)
	if err != nil {
		return nil, fmt.Errorf("封装文件密钥失败: %w", err)
	}

	// 2. 写入对象存储
	storageKey := fmt.Sprintf("%d/%s-%s", in.OwnerID, uuid.NewString(), filename)
	if err := s.blobs.Put(ctx, storageKey, ciphertext); err != nil {
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	// 3. 创建版本记录，失败时补偿删除密文
	version := &model.DocumentVersion{
		StorageKey:       storageKey,
		WrappedKey:       wrappedKey,
		OriginalFilename: filename,
		MimeType:         mimeType,
		SizeBytes:        int64(len(in.Data)),
	}
	if err := s.versions.CreateVersion(ctx, in.OwnerID, in.DocumentID, version); err != nil {
		if delErr := s.blobs.Delete(context.Background(), storageKey); delErr != nil {
			log.Errorf("[UploadService] 补偿删除对象失败, Key: %s, Error: %v", storageKey, delErr)
		}
		return nil, err
	}
	log.Infof("[UploadService] 版本已创建, VersionID: %s, DocumentID: %s, 版本号: %d", version.ID, version.DocumentID, version.VersionNumber)

	// 4. 投递摄取任务
	job, err := tasks.NewIngestJob(tasks.IngestPayload{
		VersionID:        version.ID.String(),
		StorageKey:       storageKey,
		OriginalFilename: filename,
	})
	if err == nil {
		err = s.queue.Enqueue(ctx, job)
	}
	if err != nil {
		log.Errorf("[UploadService] 投递摄取任务失败, 版本保持 pending, VersionID: %s, Error: %v", version.ID, err)
		return version, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}
	return version, nil
}

// sanitizeFilename 去掉路径部分，避免对象 key 中出现目录穿越。
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "unnamed"
	}
	return name
}
