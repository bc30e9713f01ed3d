package pipeline

import (
	"context"
	"errors"
	"fmt"

	"docvault-go/pkg/crypto"
	"docvault-go/pkg/embedding"
	"docvault-go/pkg/extract"
	"docvault-go/pkg/storage"
)

// Stage 标识流水线中的一个阶段。
type Stage string

const (
	StageDownload Stage = "download"
	StageDecrypt  Stage = "decrypt"
	StageScan     Stage = "scan"
	StageExtract  Stage = "extract"
	StageEmbed    Stage = "embed"
	StagePersist  Stage = "persist"
	StageMirror   Stage = "mirror"
)

// ErrorClass 决定一个阶段错误是否值得重试，以及最终落到哪个终态。
type ErrorClass int

const (
	// Transient 网络、超时等基础设施故障，在重试预算内重试。
	Transient ErrorClass = iota
	// Integrity 解密失败、包装密钥损坏、文档结构损坏，重试不会改变结果。
	Integrity
	// Policy 检出恶意软件，结论是权威的。
	Policy
	// Limitation 格式不受支持，不算告警级别的错误。
	Limitation
	// Config 配置或部署错误，例如向量维度与列定义不一致。
	Config
)

func (c ErrorClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case Integrity:
		return "integrity"
	case Policy:
		return "policy"
	case Limitation:
		return "limitation"
	case Config:
		return "config"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

var (
	// ErrInfected 表示扫描引擎检出了恶意软件。
	ErrInfected = errors.New("pipeline: malware detected")
	// ErrScanFailed 表示扫描引擎不可达或返回了错误。
	ErrScanFailed = errors.New("pipeline: scan failed")
	// ErrMissingWrappedKey 表示版本记录中没有包装密钥。
	ErrMissingWrappedKey = errors.New("pipeline: wrapped key missing")
)

// StageError 是各阶段向协调器报告的带类型失败。
type StageError struct {
	Stage Stage
	Class ErrorClass
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Class, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Class: Classify(err), Err: err}
}

// Classify 把错误归入五类之一。未识别的错误一律按瞬时故障处理。
func Classify(err error) ErrorClass {
	var se *StageError
	if errors.As(err, &se) {
		return se.Class
	}
	switch {
	case errors.Is(err, crypto.ErrInvalidMasterKey),
		errors.Is(err, embedding.ErrDimensionMismatch):
		return Config
	case errors.Is(err, crypto.ErrDecryptionFailed),
		errors.Is(err, crypto.ErrInvalidKey),
		errors.Is(err, ErrMissingWrappedKey),
		errors.Is(err, extract.ErrMalformedDocument),
		errors.Is(err, storage.ErrTooLarge):
		return Integrity
	case errors.Is(err, ErrInfected):
		return Policy
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return Limitation
	default:
		return Transient
	}
}

// IsRetryable 只有瞬时故障可以重试；上下文取消意味着进程正在退出，不再重试。
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err) == Transient
}
