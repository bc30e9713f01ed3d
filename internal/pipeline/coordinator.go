// Package pipeline 定义了文档版本摄取的核心流程：下载、解密、扫描、提取、分块、向量化、入库。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"docvault-go/internal/config"
	"docvault-go/internal/model"
	"docvault-go/internal/repository"
	"docvault-go/pkg/chunker"
	"docvault-go/pkg/crypto"
	"docvault-go/pkg/embedding"
	"docvault-go/pkg/log"
	"docvault-go/pkg/metrics"
	"docvault-go/pkg/scanner"
	"docvault-go/pkg/storage"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// KeyUnwrapper 解开版本记录中的包装密钥。
type KeyUnwrapper interface {
	Unwrap(wrapped []byte) ([]byte, error)
}

// TextExtractor 根据文件名和 MIME 类型提取纯文本。
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

// ChunkMirror 把一个版本的完整分块集合同步到外部检索索引。
type ChunkMirror interface {
	ReplaceVersion(ctx context.Context, ownerID uint, version *model.DocumentVersion, chunks []model.DocumentChunk) error
}

// Coordinator 是摄取流水线的状态机。它是唯一决定重试还是放弃、并写入处理状态的地方。
type Coordinator struct {
	versions  repository.VersionRepository
	blobs     storage.BlobStore
	keys      KeyUnwrapper
	scanner   scanner.Scanner
	extractor TextExtractor
	embedder  embedding.Client
	mirror    ChunkMirror
	chunking  config.ChunkingConfig
	batchSize int
	retry     RetryPolicy
}

// NewCoordinator 创建一个新的 Coordinator 实例。
func NewCoordinator(
	versions repository.VersionRepository,
	blobs storage.BlobStore,
	keys KeyUnwrapper,
	scan scanner.Scanner,
	extractor TextExtractor,
	embedder embedding.Client,
	chunkingCfg config.ChunkingConfig,
	pipelineCfg config.PipelineConfig,
) *Coordinator {
	batch := pipelineCfg.EmbedBatchSize
	if batch <= 0 {
		batch = 1
	}
	return &Coordinator{
		versions:  versions,
		blobs:     blobs,
		keys:      keys,
		scanner:   scan,
		extractor: extractor,
		embedder:  embedder,
		chunking:  chunkingCfg,
		batchSize: batch,
		retry:     NewRetryPolicy(pipelineCfg),
	}
}

// WithMirror 启用分块镜像（elasticsearch 检索后端）。
func (c *Coordinator) WithMirror(m ChunkMirror) *Coordinator {
	c.mirror = m
	return c
}

// WithRetryPolicy 替换默认的重试策略。
func (c *Coordinator) WithRetryPolicy(p RetryPolicy) *Coordinator {
	c.retry = p
	return c
}

// ProcessVersion 驱动一个版本走完整条流水线，可以对同一版本重复调用。
// 返回 nil 错误时，版本已经处于某个终态（或版本已不存在，返回空状态）；
// 返回错误时表示处理被中断（上下文取消或状态无法写入），没有写入终态，调用方应稍后重新投递。
func (c *Coordinator) ProcessVersion(ctx context.Context, versionID uuid.UUID) (model.ProcessingStatus, error) {
	start := time.Now()
	v, err := c.versions.GetVersion(ctx, versionID)
	if errors.Is(err, repository.ErrVersionNotFound) {
		log.Warnf("[Coordinator] 版本不存在, 可能已被删除, 跳过处理, VersionID: %s", versionID)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("读取版本失败: %w", err)
	}
	log.Infof("[Coordinator] 开始处理版本, VersionID: %s, FileName: %s, 当前状态: %s", v.ID, v.OriginalFilename, v.Status)

	if v.Status != model.StatusPending {
		log.Infof("[Coordinator] 版本将从 %s 重新开始处理, VersionID: %s", v.Status, v.ID)
		if err := c.transition(ctx, v, model.StatusPending); err != nil {
			return v.Status, err
		}
	}

	final, cause := c.execute(ctx, v)
	if final == "" {
		log.Errorf("[Coordinator] 处理被中断, 未写入终态, VersionID: %s, Error: %v", v.ID, cause)
		return v.Status, cause
	}
	if err := c.transition(ctx, v, final); err != nil {
		return v.Status, err
	}
	metrics.IncrementTerminal(string(final))

	elapsed := time.Since(start)
	switch {
	case final == model.StatusIndexed:
		log.Infof("[Coordinator] 版本处理成功完成, VersionID: %s, 耗时: %s", v.ID, elapsed)
	case final.IsFailure():
		if Classify(cause) == Config {
			log.Errorw("[Coordinator] 配置错误导致处理失败, 请检查部署", "versionID", v.ID, "status", final, "error", cause)
		} else {
			log.Errorf("[Coordinator] 版本处理失败, VersionID: %s, Status: %s, Error: %v", v.ID, final, cause)
		}
	default:
		log.Warnf("[Coordinator] 版本处理结束但不可索引, VersionID: %s, Status: %s, 原因: %v", v.ID, final, cause)
	}
	return final, nil
}

// execute 依次执行各个阶段，返回应当写入的终态以及导致该终态的原因。
// 返回空状态表示处理被中断。
func (c *Coordinator) execute(ctx context.Context, v *model.DocumentVersion) (model.ProcessingStatus, error) {
	if len(v.WrappedKey) == 0 {
		return model.StatusFailedDecryption, newStageError(StageDecrypt, ErrMissingWrappedKey)
	}

	// 1. 从对象存储下载密文
	log.Infof("[Coordinator] 步骤1: 下载密文, VersionID: %s", v.ID)
	var blob []byte
	err := c.stage(ctx, v, StageDownload, model.StatusFailedDownload, func(ctx context.Context) error {
		data, err := c.blobs.Get(ctx, v.StorageKey)
		if err != nil {
			return err
		}
		blob = data
		return nil
	})
	if err != nil {
		return c.failure(ctx, err)
	}
	log.Infof("[Coordinator] 步骤1: 下载成功, 大小: %d 字节", len(blob))

	// 2. 解开文件密钥并解密，完整性错误不重试
	log.Info("[Coordinator] 步骤2: 解密")
	decryptStart := time.Now()
	plaintext, err := c.decrypt(v, blob)
	metrics.ObserveStage(string(StageDecrypt), outcomeOf(err), time.Since(decryptStart))
	if err != nil {
		return c.failure(ctx, newStageError(StageDecrypt, err))
	}
	defer crypto.Wipe(plaintext)

	// 3. 病毒扫描
	log.Info("[Coordinator] 步骤3: 病毒扫描")
	err = c.stage(ctx, v, StageScan, model.StatusScanFailed, func(ctx context.Context) error {
		verdict := c.scanner.Scan(ctx, plaintext)
		switch verdict.Outcome {
		case scanner.Clean:
			return nil
		case scanner.Infected:
			return fmt.Errorf("%w: %s", ErrInfected, verdict.Signature)
		default:
			return fmt.Errorf("%w: %s", ErrScanFailed, verdict.Detail)
		}
	})
	if err != nil {
		return c.failure(ctx, err)
	}
	if err := c.transition(ctx, v, model.StatusScannedClean); err != nil {
		return "", err
	}
	if err := c.transition(ctx, v, model.StatusProcessing); err != nil {
		return "", err
	}

	// 4. 提取文本
	log.Info("[Coordinator] 步骤4: 提取文本")
	var text string
	err = c.stage(ctx, v, StageExtract, "", func(ctx context.Context) error {
		t, err := c.extractor.Extract(ctx, plaintext, v.OriginalFilename, v.MimeType)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		return c.failure(ctx, err)
	}
	if strings.TrimSpace(text) == "" {
		return model.StatusNoTextExtracted, errors.New("提取的文本内容为空")
	}
	log.Infof("[Coordinator] 步骤4: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 5. 文本分块
	pieces := nonBlank(chunker.Split(text, c.chunking.WindowSize, c.chunking.Overlap))
	log.Infof("[Coordinator] 步骤5: 文本分块完成, window: %d, overlap: %d, 共 %d 个分块",
		c.chunking.WindowSize, c.chunking.Overlap, len(pieces))
	if len(pieces) == 0 {
		return model.StatusNoTextExtracted, errors.New("未生成任何文本分块")
	}

	// 6. 按批向量化，重试以批为单位
	vectors, err := c.embed(ctx, v, pieces)
	if err != nil {
		return c.failure(ctx, err)
	}

	// 7. 在一个事务中替换分块集合
	chunks := make([]model.DocumentChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = model.DocumentChunk{
			ID:        uuid.New(),
			VersionID: v.ID,
			Ordinal:   i,
			Content:   p,
			Embedding: pgvector.NewVector(vectors[i]),
		}
	}
	log.Infof("[Coordinator] 步骤7: 写入 %d 个分块", len(chunks))
	err = c.stage(ctx, v, StagePersist, "", func(ctx context.Context) error {
		return c.versions.ReplaceChunks(ctx, v.ID, chunks)
	})
	if err != nil {
		return c.failure(ctx, err)
	}

	// 8. 同步到外部检索索引
	if c.mirror != nil {
		log.Info("[Coordinator] 步骤8: 同步分块到检索索引")
		err = c.stage(ctx, v, StageMirror, "", func(ctx context.Context) error {
			owner, err := c.versions.OwnerOf(ctx, v.ID)
			if err != nil {
				return err
			}
			return c.mirror.ReplaceVersion(ctx, owner, v, chunks)
		})
		if err != nil {
			return c.failure(ctx, err)
		}
	}

	return model.StatusIndexed, nil
}

func (c *Coordinator) decrypt(v *model.DocumentVersion, blob []byte) ([]byte, error) {
	key, err := c.keys.Unwrap(v.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)
	return crypto.Decrypt(blob, key)
}

func (c *Coordinator) embed(ctx context.Context, v *model.DocumentVersion, pieces []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += c.batchSize {
		end := start + c.batchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		log.Infof("[Coordinator] 步骤6: 向量化分块 %d-%d/%d", start+1, end, len(pieces))
		var batch [][]float32
		err := c.stage(ctx, v, StageEmbed, "", func(ctx context.Context) error {
			out, err := c.embedder.CreateEmbeddings(ctx, pieces[start:end])
			if err != nil {
				return err
			}
			if len(out) != end-start {
				return fmt.Errorf("%w: 期望 %d 个向量, 实际 %d 个", embedding.ErrMalformedResponse, end-start, len(out))
			}
			batch = out
			return nil
		})
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// stage 在重试策略下执行一个阶段。retrying 非空时，每次失败后都会把它写成对外可见的中间状态。
func (c *Coordinator) stage(ctx context.Context, v *model.DocumentVersion, stage Stage, retrying model.ProcessingStatus, fn func(ctx context.Context) error) error {
	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		metrics.ObserveStage(string(stage), outcomeOf(err), time.Since(start))
		return err
	}, func(attempt int, err error) {
		metrics.IncrementRetry(string(stage))
		log.Warnf("[Coordinator] 阶段 %s 第 %d/%d 次尝试失败, %s 后重试, VersionID: %s, Error: %v",
			stage, attempt, c.retry.MaxRetries+1, c.retry.Delay, v.ID, err)
		if retrying != "" {
			if perr := c.transition(ctx, v, retrying); perr != nil {
				log.Warnf("[Coordinator] 写入重试状态失败, VersionID: %s, Error: %v", v.ID, perr)
			}
		}
	})
	if err != nil {
		se := newStageError(stage, err)
		log.Warnf("[Coordinator] 阶段 %s 失败, 共尝试 %d 次, 错误类别: %s, VersionID: %s, Error: %v", stage, attempts, se.Class, v.ID, err)
		return se
	}
	return nil
}

// failure 把阶段错误映射为终态。上下文已取消时不写终态。
func (c *Coordinator) failure(ctx context.Context, err error) (model.ProcessingStatus, error) {
	if ctx.Err() != nil {
		return "", err
	}
	var se *StageError
	if !errors.As(err, &se) {
		se = newStageError(StagePersist, err)
	}
	return terminalStatus(se.Stage, se.Class), err
}

// terminalStatus 决定阶段失败后的终态：下载、扫描阶段用尽重试记为 failed_processing，
// 解密失败记为 failed_decryption，提取及之后的阶段记为 failed_indexing。
func terminalStatus(stage Stage, class ErrorClass) model.ProcessingStatus {
	switch stage {
	case StageDownload:
		return model.StatusFailedProcessing
	case StageDecrypt:
		return model.StatusFailedDecryption
	case StageScan:
		if class == Policy {
			return model.StatusInfected
		}
		return model.StatusFailedProcessing
	case StageExtract:
		if class == Limitation {
			return model.StatusUnsupportedFormat
		}
		return model.StatusFailedIndexing
	default:
		return model.StatusFailedIndexing
	}
}

// transition 校验并持久化一次状态迁移。
func (c *Coordinator) transition(ctx context.Context, v *model.DocumentVersion, to model.ProcessingStatus) error {
	if !model.CanTransition(v.Status, to) {
		return fmt.Errorf("非法的状态迁移 %s -> %s, VersionID: %s", v.Status, to, v.ID)
	}
	if err := c.versions.UpdateStatus(ctx, v.ID, to); err != nil {
		return fmt.Errorf("写入状态 %s 失败: %w", to, err)
	}
	log.Infof("[Coordinator] 状态迁移 %s -> %s, VersionID: %s", v.Status, to, v.ID)
	v.Status = to
	return nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return Classify(err).String()
}

func nonBlank(pieces []string) []string {
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
