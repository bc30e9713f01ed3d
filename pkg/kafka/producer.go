// Package kafka 提供了与 Kafka 消息队列交互的功能：摄取任务的投递与消费。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"docvault-go/internal/config"
	"docvault-go/pkg/log"
	"docvault-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// MessageWriter 是 kafka.Writer 中生产者用到的部分。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 把任务写入摄取主题。消息 key 为版本 ID，同一版本的任务落在同一分区。
type Producer struct {
	writer MessageWriter
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// NewProducerWithWriter 使用给定的 writer 构造生产者。
func NewProducerWithWriter(w MessageWriter) *Producer {
	return &Producer{writer: w}
}

// Enqueue 发送一个任务到 Kafka。
func (p *Producer) Enqueue(ctx context.Context, job tasks.Job) error {
	versionID, err := job.VersionID()
	if err != nil {
		return err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(versionID), Value: value}); err != nil {
		return fmt.Errorf("投递任务失败: %w", err)
	}
	log.Infof("[Producer] 任务已投递, Type: %s, VersionID: %s", job.Type, versionID)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func brokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
