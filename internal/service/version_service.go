package service

import (
	"context"
	"fmt"
	"time"

	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/log"
	"docvault-go/pkg/tasks"

	"github.com/google/uuid"
)

// VersionService 提供版本状态查询、状态订阅与重新索引。
type VersionService interface {
	Status(ctx context.Context, ownerID uint, versionID uuid.UUID) (*model.DocumentVersion, error)
	Watch(ctx context.Context, ownerID uint, versionID uuid.UUID, interval time.Duration, onChange func(*model.DocumentVersion) error) error
	Reindex(ctx context.Context, ownerID uint, versionID uuid.UUID) error
	ReindexVersion(ctx context.Context, versionID uuid.UUID) error
}

type versionService struct {
	versions repository.VersionRepository
	queue    JobQueue
}

// NewVersionService 创建一个新的 VersionService 实例。
func NewVersionService(versions repository.VersionRepository, queue JobQueue) VersionService {
	return &versionService{versions: versions, queue: queue}
}

// Status 返回属于 ownerID 的版本。
func (s *versionService) Status(ctx context.Context, ownerID uint, versionID uuid.UUID) (*model.DocumentVersion, error) {
	return s.versions.GetOwnedVersion(ctx, ownerID, versionID)
}

// Watch 轮询版本状态，每次变化都调用 onChange，直到状态到达终态、ctx 结束或 onChange 返回错误。
func (s *versionService) Watch(ctx context.Context, ownerID uint, versionID uuid.UUID, interval time.Duration, onChange func(*model.DocumentVersion) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last model.ProcessingStatus
	for {
		v, err := s.versions.GetOwnedVersion(ctx, ownerID, versionID)
		if err != nil {
			return err
		}
		if v.Status != last {
			last = v.Status
			if err := onChange(v); err != nil {
				return err
			}
		}
		if v.Status.IsTerminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reindex 校验归属后把版本重置为 pending 并投递重建索引任务。
func (s *versionService) Reindex(ctx context.Context, ownerID uint, versionID uuid.UUID) error {
	v, err := s.versions.GetOwnedVersion(ctx, ownerID, versionID)
	if err != nil {
		return err
	}
	return s.reindex(ctx, v)
}

// ReindexVersion 不做归属校验，供运维命令使用。
func (s *versionService) ReindexVersion(ctx context.Context, versionID uuid.UUID) error {
	v, err := s.versions.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	return s.reindex(ctx, v)
}

func (s *versionService) reindex(ctx context.Context, v *model.DocumentVersion) error {
	if err := s.versions.UpdateStatus(ctx, v.ID, model.StatusPending); err != nil {
		return fmt.Errorf("重置版本状态失败: %w", err)
	}
	job, err := tasks.NewReindexJob(v.ID.String())
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}
	log.Infof("[VersionService] 已提交重建索引任务, VersionID: %s, 原状态: %s", v.ID, v.Status)
	return nil
}
