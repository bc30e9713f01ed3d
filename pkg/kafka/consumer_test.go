package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"docvault-go/internal/config"
	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

type stubProcessor struct {
	calls  []uuid.UUID
	status model.ProcessingStatus
	err    error
}

func (p *stubProcessor) ProcessVersion(_ context.Context, id uuid.UUID) (model.ProcessingStatus, error) {
	p.calls = append(p.calls, id)
	return p.status, p.err
}

type memStatuses struct {
	written map[uuid.UUID]model.ProcessingStatus
}

func (s *memStatuses) UpdateStatus(_ context.Context, id uuid.UUID, status model.ProcessingStatus) error {
	s.written[id] = status
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type consumerHarness struct {
	mr        *miniredis.Miniredis
	state     repository.JobStateRepository
	writer    *memWriter
	processor *stubProcessor
	statuses  *memStatuses
	consumer  *Consumer
	slept     []time.Duration
}

func newConsumerHarness(t *testing.T) *consumerHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &consumerHarness{
		mr:        mr,
		state:     repository.NewJobStateRepository(rdb),
		writer:    &memWriter{},
		processor: &stubProcessor{status: model.StatusIndexed},
		statuses:  &memStatuses{written: map[uuid.UUID]model.ProcessingStatus{}},
	}
	cfg := config.PipelineConfig{
		RetryDelay:       time.Minute,
		LockTTL:          10 * time.Minute,
		MaxDeliveries:    3,
		BusyRequeueDelay: 30 * time.Second,
	}
	h.consumer = NewConsumer(nil, NewProducerWithWriter(h.writer), h.processor, h.state, h.statuses, cfg)
	h.consumer.now = func() time.Time { return fixedNow }
	h.consumer.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return nil
	}
	return h
}

func ingestMessage(t *testing.T, versionID uuid.UUID) kafka.Message {
	t.Helper()
	job, err := tasks.NewIngestJob(tasks.IngestPayload{VersionID: versionID.String(), StorageKey: "1/x-a.txt", OriginalFilename: "a.txt"})
	require.NoError(t, err)
	value, err := json.Marshal(job)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(versionID.String()), Value: value}
}

func decodeRequeued(t *testing.T, m kafka.Message) tasks.Job {
	t.Helper()
	job, err := tasks.Decode(m.Value)
	require.NoError(t, err)
	return job
}

func TestInvalidMessageIsCommittedAndDropped(t *testing.T) {
	h := newConsumerHarness(t)
	assert.True(t, h.consumer.handleMessage(context.Background(), kafka.Message{Value: []byte("{not json")}))
	assert.Empty(t, h.processor.calls)
	assert.Empty(t, h.writer.msgs)
}

func TestTerminalOutcomeCommitsAndClearsState(t *testing.T) {
	h := newConsumerHarness(t)
	id := uuid.New()

	assert.True(t, h.consumer.handleMessage(context.Background(), ingestMessage(t, id)))
	assert.Equal(t, []uuid.UUID{id}, h.processor.calls)
	assert.Empty(t, h.writer.msgs)
	assert.False(t, h.mr.Exists(fmt.Sprintf("docvault:lock:version:%s", id)))
	assert.False(t, h.mr.Exists(fmt.Sprintf("docvault:deliveries:%s", id)))
}

func TestInterruptedProcessingIsRequeuedWithDelay(t *testing.T) {
	h := newConsumerHarness(t)
	h.processor.err = errors.New("database unavailable")
	id := uuid.New()

	assert.True(t, h.consumer.handleMessage(context.Background(), ingestMessage(t, id)))
	require.Len(t, h.writer.msgs, 1)
	assert.Equal(t, id.String(), string(h.writer.msgs[0].Key))
	job := decodeRequeued(t, h.writer.msgs[0])
	require.NotNil(t, job.NotBefore)
	assert.True(t, job.NotBefore.Equal(fixedNow.Add(time.Minute)))
	assert.Equal(t, tasks.JobIngest, job.Type)

	n, err := deliveriesOf(h, id)
	require.NoError(t, err)
	assert.Equal(t, "1", n)
}

func deliveriesOf(h *consumerHarness, id uuid.UUID) (string, error) {
	return h.mr.Get(fmt.Sprintf("docvault:deliveries:%s", id))
}

func TestBusyVersionIsRequeued(t *testing.T) {
	h := newConsumerHarness(t)
	id := uuid.New()
	_, err := h.state.AcquireLock(context.Background(), id.String(), time.Minute)
	require.NoError(t, err)

	assert.True(t, h.consumer.handleMessage(context.Background(), ingestMessage(t, id)))
	assert.Empty(t, h.processor.calls)
	require.Len(t, h.writer.msgs, 1)
	job := decodeRequeued(t, h.writer.msgs[0])
	assert.True(t, job.NotBefore.Equal(fixedNow.Add(30*time.Second)))
}

func TestRequeueFailureIsNotCommitted(t *testing.T) {
	h := newConsumerHarness(t)
	h.processor.err = errors.New("interrupted")
	h.writer.err = errors.New("broker unavailable")

	assert.False(t, h.consumer.handleMessage(context.Background(), ingestMessage(t, uuid.New())))
}

func TestPoisonMessageIsMarkedFailed(t *testing.T) {
	h := newConsumerHarness(t)
	id := uuid.New()
	require.NoError(t, h.mr.Set(fmt.Sprintf("docvault:deliveries:%s", id), "3"))

	assert.True(t, h.consumer.handleMessage(context.Background(), ingestMessage(t, id)))
	assert.Empty(t, h.processor.calls)
	assert.Equal(t, model.StatusFailedProcessing, h.statuses.written[id])
	assert.Empty(t, h.writer.msgs)
}

func delayedReindexMessage(t *testing.T, id uuid.UUID, notBefore time.Time) kafka.Message {
	t.Helper()
	job, err := tasks.NewReindexJob(id.String())
	require.NoError(t, err)
	value, err := json.Marshal(job.Delayed(notBefore))
	require.NoError(t, err)
	return kafka.Message{Key: []byte(id.String()), Value: value}
}

func TestDelayedJobIsWrittenBackUnchanged(t *testing.T) {
	h := newConsumerHarness(t)
	id := uuid.New()
	notBefore := fixedNow.Add(45 * time.Second)

	assert.True(t, h.consumer.handleMessage(context.Background(), delayedReindexMessage(t, id, notBefore)))
	assert.Equal(t, []time.Duration{time.Second}, h.slept)
	assert.Empty(t, h.processor.calls)
	require.Len(t, h.writer.msgs, 1)
	job := decodeRequeued(t, h.writer.msgs[0])
	assert.Equal(t, tasks.JobReindex, job.Type)
	require.NotNil(t, job.NotBefore)
	assert.True(t, job.NotBefore.Equal(notBefore))

	// 写回不计入投递次数
	assert.False(t, h.mr.Exists(fmt.Sprintf("docvault:deliveries:%s", id)))
}

func TestDelayedJobDueAfterPauseIsProcessed(t *testing.T) {
	h := newConsumerHarness(t)
	id := uuid.New()
	now := fixedNow
	h.consumer.now = func() time.Time { return now }
	h.consumer.sleep = func(_ context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		now = now.Add(d)
		return nil
	}

	assert.True(t, h.consumer.handleMessage(context.Background(), delayedReindexMessage(t, id, fixedNow.Add(500*time.Millisecond))))
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.slept)
	assert.Equal(t, []uuid.UUID{id}, h.processor.calls)
	assert.Empty(t, h.writer.msgs)
}

func TestDelayedJobRequeueFailureIsNotCommitted(t *testing.T) {
	h := newConsumerHarness(t)
	h.writer.err = errors.New("broker unavailable")

	assert.False(t, h.consumer.handleMessage(context.Background(), delayedReindexMessage(t, uuid.New(), fixedNow.Add(time.Minute))))
	assert.Empty(t, h.processor.calls)
}

// sliceReader 依次返回预置消息，取完后取消 ctx 让 Run 退出。
type sliceReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (r *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *sliceReader) Close() error { return nil }

func TestReadyJobIsNotBlockedByDelayedJob(t *testing.T) {
	h := newConsumerHarness(t)
	h.consumer.sleep = sleepContext

	delayedID, readyID := uuid.New(), uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := &sliceReader{
		msgs: []kafka.Message{
			delayedReindexMessage(t, delayedID, fixedNow.Add(time.Minute)),
			ingestMessage(t, readyID),
		},
		cancel: cancel,
	}
	h.consumer.reader = reader

	start := time.Now()
	require.NoError(t, h.consumer.Run(ctx))
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, []uuid.UUID{readyID}, h.processor.calls)
	assert.Len(t, reader.committed, 2)
	require.Len(t, h.writer.msgs, 1)
	assert.Equal(t, delayedID.String(), string(h.writer.msgs[0].Key))
	job := decodeRequeued(t, h.writer.msgs[0])
	assert.True(t, job.NotBefore.Equal(fixedNow.Add(time.Minute)))
}

func TestProducerKeysByVersion(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w)
	id := uuid.New()
	job, err := tasks.NewReindexJob(id.String())
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(context.Background(), job))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, id.String(), string(w.msgs[0].Key))

	bad := tasks.Job{Type: tasks.JobReindex, Payload: json.RawMessage(`{}`)}
	assert.ErrorIs(t, p.Enqueue(context.Background(), bad), tasks.ErrInvalidJob)
}
