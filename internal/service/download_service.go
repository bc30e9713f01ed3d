package service

import (
	"context"
	"errors"
	"fmt"

	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/crypto"
	"docvault-go/pkg/log"
	"docvault-go/pkg/storage"

	"github.com/google/uuid"
)

var (
	ErrVersionInfected = errors.New("版本被判定为感染文件，禁止下载")
	ErrBlobUnavailable = errors.New("读取密文失败")
	ErrDecryptFailed   = errors.New("解密失败")
)

// KeyUnwrapper 解开版本记录中的包装密钥。
type KeyUnwrapper interface {
	Unwrap(wrapped []byte) ([]byte, error)
}

// DownloadService 取回并解密属于当前用户的文件版本。
type DownloadService interface {
	Download(ctx context.Context, ownerID uint, versionID uuid.UUID) (*model.DocumentVersion, []byte, error)
}

type downloadService struct {
	versions repository.VersionRepository
	blobs    storage.BlobStore
	keys     KeyUnwrapper
}

// NewDownloadService 创建一个新的 DownloadService 实例。
func NewDownloadService(versions repository.VersionRepository, blobs storage.BlobStore, keys KeyUnwrapper) DownloadService {
	return &downloadService{versions: versions, blobs: blobs, keys: keys}
}

// Download 返回版本记录和解密后的原文。不属于 ownerID 的版本按不存在处理。
func (s *downloadService) Download(ctx context.Context, ownerID uint, versionID uuid.UUID) (*model.DocumentVersion, []byte, error) {
	v, err := s.versions.GetOwnedVersion(ctx, ownerID, versionID)
	if err != nil {
		return nil, nil, err
	}
	if v.Status == model.StatusInfected {
		log.Warnf("[DownloadService] 拒绝下载感染文件, 用户ID: %d, VersionID: %s", ownerID, v.ID)
		return nil, nil, ErrVersionInfected
	}

	blob, err := s.blobs.Get(ctx, v.StorageKey)
	if err != nil {
		log.Errorf("[DownloadService] 读取密文失败, VersionID: %s, Key: %s, Error: %v", v.ID, v.StorageKey, err)
		return nil, nil, fmt.Errorf("%w: %v", ErrBlobUnavailable, err)
	}

	key, err := s.keys.Unwrap(v.WrappedKey)
	if err != nil {
		log.Errorf("[DownloadService] 解开文件密钥失败, VersionID: %s, Error: %v", v.ID, err)
		return nil, nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	defer crypto.Wipe(key)

	plaintext, err := crypto.Decrypt(blob, key)
	if err != nil {
		log.Errorf("[DownloadService] 解密文件失败, VersionID: %s, Error: %v", v.ID, err)
		return nil, nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	log.Infof("[DownloadService] 文件已解密, 用户ID: %d, VersionID: %s, FileName: %s", ownerID, v.ID, v.OriginalFilename)
	return v, plaintext, nil
}
