package kafka

import (
	"context"
	"errors"
	"time"

	"docvault-go/internal/config"
	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/log"
	"docvault-go/pkg/metrics"
	"docvault-go/pkg/tasks"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// deferPause 是未到期任务写回前的停顿上限。
const deferPause = time.Second

// VersionProcessor 驱动一个版本走完流水线。返回错误表示处理被中断、没有到达终态。
type VersionProcessor interface {
	ProcessVersion(ctx context.Context, versionID uuid.UUID) (model.ProcessingStatus, error)
}

// StatusWriter 用于毒消息兜底时直接写入终态。
type StatusWriter interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus) error
}

// MessageReader 是 kafka.Reader 中消费者用到的部分。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费摄取任务。kafka-go 的消费组不会重新投递未提交的消息，
// 因此未到达终态的任务通过重新写回主题来重试，并在 Redis 中统计投递次数。
type Consumer struct {
	reader    MessageReader
	producer  *Producer
	processor VersionProcessor
	state     repository.JobStateRepository
	statuses  StatusWriter
	cfg       config.PipelineConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewReader 创建消费组 reader。
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
}

// NewConsumer 创建一个新的 Consumer 实例。
func NewConsumer(reader MessageReader, producer *Producer, processor VersionProcessor, state repository.JobStateRepository, statuses StatusWriter, cfg config.PipelineConfig) *Consumer {
	return &Consumer{
		reader:    reader,
		producer:  producer,
		processor: processor,
		state:     state,
		statuses:  statuses,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Run 循环拉取消息直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) error {
	log.Info("[Consumer] Kafka 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("[Consumer] 关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("[Consumer] 收到退出信号, 停止消费")
				return nil
			}
			log.Error("[Consumer] 从 Kafka 读取消息失败", err)
			return err
		}
		log.Infof("[Consumer] 收到 Kafka 消息: partition %d, offset %d", m.Partition, m.Offset)

		if !c.handleMessage(ctx, m) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("[Consumer] 提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handleMessage 处理一条消息，返回是否应当提交 offset。
// 只有在进程退出或重新投递失败时才不提交。
func (c *Consumer) handleMessage(ctx context.Context, m kafka.Message) bool {
	job, err := tasks.Decode(m.Value)
	if err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("[Consumer] 无法解析 Kafka 消息: %v", err)
		metrics.IncrementConsumer("invalid")
		return true
	}
	rawID, err := job.VersionID()
	if err != nil {
		log.Errorf("[Consumer] 任务缺少版本 ID: %v", err)
		metrics.IncrementConsumer("invalid")
		return true
	}
	versionID, err := uuid.Parse(rawID)
	if err != nil {
		log.Errorf("[Consumer] 无法解析版本 ID %q: %v", rawID, err)
		metrics.IncrementConsumer("invalid")
		return true
	}

	if job.NotBefore != nil {
		if wait := job.NotBefore.Sub(c.now()); wait > 0 {
			// 未到期的任务最多停顿 deferPause，之后原样写回主题
			if err := c.sleep(ctx, min(wait, deferPause)); err != nil {
				return false
			}
			if job.NotBefore.After(c.now()) {
				if err := c.producer.Enqueue(ctx, job); err != nil {
					log.Errorf("[Consumer] 延迟任务写回失败, VersionID: %s, 错误: %v", versionID, err)
					return false
				}
				log.Debugf("[Consumer] 延迟任务未到期, 已写回, VersionID: %s", versionID)
				metrics.IncrementConsumer("deferred")
				return true
			}
		}
	}

	token, err := c.state.AcquireLock(ctx, rawID, c.cfg.LockTTL)
	if errors.Is(err, repository.ErrLockHeld) {
		log.Infof("[Consumer] 版本正在被其他 worker 处理, 稍后重投, VersionID: %s", versionID)
		metrics.IncrementConsumer("busy")
		return c.requeue(ctx, job, c.cfg.BusyRequeueDelay)
	}
	if err != nil {
		log.Errorf("[Consumer] 获取版本锁失败, 稍后重投, VersionID: %s, Error: %v", versionID, err)
		return c.requeue(ctx, job, c.cfg.RetryDelay)
	}
	defer func() {
		// 使用独立的上下文，保证退出时也能释放锁
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.state.ReleaseLock(releaseCtx, rawID, token); err != nil {
			log.Warnf("[Consumer] 释放版本锁失败, VersionID: %s, Error: %v", versionID, err)
		}
	}()

	deliveries, err := c.state.IncrDeliveries(ctx, rawID)
	if err != nil {
		log.Warnf("[Consumer] 投递计数失败, 继续处理, VersionID: %s, Error: %v", versionID, err)
	}
	if c.cfg.MaxDeliveries > 0 && deliveries > int64(c.cfg.MaxDeliveries) {
		log.Errorf("[Consumer] 任务投递次数超过上限(%d), 标记为 failed_processing 并丢弃, VersionID: %s", c.cfg.MaxDeliveries, versionID)
		if err := c.statuses.UpdateStatus(ctx, versionID, model.StatusFailedProcessing); err != nil && !errors.Is(err, repository.ErrVersionNotFound) {
			log.Errorf("[Consumer] 写入 failed_processing 失败, VersionID: %s, Error: %v", versionID, err)
		}
		_ = c.state.ResetDeliveries(ctx, rawID)
		metrics.IncrementConsumer("poison")
		return true
	}

	log.Infof("[Consumer] 开始处理任务, Type: %s, VersionID: %s, 第 %d 次投递", job.Type, versionID, deliveries)
	status, err := c.processor.ProcessVersion(ctx, versionID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Errorf("[Consumer] 任务未到达终态, 稍后重投, VersionID: %s, Error: %v", versionID, err)
		metrics.IncrementConsumer("requeued")
		return c.requeue(ctx, job, c.cfg.RetryDelay)
	}

	log.Infof("[Consumer] 任务处理完成, VersionID: %s, Status: %s", versionID, status)
	// 清理失败计数
	_ = c.state.ResetDeliveries(ctx, rawID)
	metrics.IncrementConsumer("done")
	return true
}

func (c *Consumer) requeue(ctx context.Context, job tasks.Job, delay time.Duration) bool {
	if err := c.producer.Enqueue(ctx, job.Delayed(c.now().Add(delay))); err != nil {
		log.Errorf("[Consumer] 重新投递任务失败: %v", err)
		return false
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
