// Package extract 提供按格式分派的文本提取能力。
// 每种格式对应一个 Extractor，Registry 根据文件名后缀或声明的 MIME 类型选择实现。
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrUnsupportedFormat 表示没有可用于该文件的提取器，属于终态，不重试。
	ErrUnsupportedFormat = errors.New("extract: unsupported format")
	// ErrMalformedDocument 表示进程内解析器确定性地无法解析该文件，重试不会改变结果。
	ErrMalformedDocument = errors.New("extract: malformed document")
)

// Format 是封闭的文件格式枚举。
type Format string

const (
	FormatPDF          Format = "pdf"
	FormatPlainText    Format = "text"
	FormatWord         Format = "word"
	FormatSpreadsheet  Format = "spreadsheet"
	FormatPresentation Format = "presentation"
	FormatEPUB         Format = "epub"
	FormatKindle       Format = "kindle"
	FormatImage        Format = "image"
	FormatLegacyOffice Format = "legacy_office"
)

var extensionFormats = map[string]Format{
	".pdf":  FormatPDF,
	".txt":  FormatPlainText,
	".md":   FormatPlainText,
	".csv":  FormatPlainText,
	".log":  FormatPlainText,
	".docx": FormatWord,
	".odt":  FormatWord,
	".rtf":  FormatWord,
	".xlsx": FormatSpreadsheet,
	".xlsm": FormatSpreadsheet,
	".pptx": FormatPresentation,
	".epub": FormatEPUB,
	".mobi": FormatKindle,
	".azw":  FormatKindle,
	".azw3": FormatKindle,
	".png":  FormatImage,
	".jpg":  FormatImage,
	".jpeg": FormatImage,
	".tif":  FormatImage,
	".tiff": FormatImage,
	".bmp":  FormatImage,
	".gif":  FormatImage,
	".webp": FormatImage,
	".doc":  FormatLegacyOffice,
	".xls":  FormatLegacyOffice,
	".ppt":  FormatLegacyOffice,
	".ods":  FormatLegacyOffice,
	".odp":  FormatLegacyOffice,
}

var mimeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"text/plain":      FormatPlainText,
	"text/markdown":   FormatPlainText,
	"text/csv":        FormatPlainText,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   FormatWord,
	"application/vnd.oasis.opendocument.text":                                   FormatWord,
	"application/rtf":                                                           FormatWord,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         FormatSpreadsheet,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPresentation,
	"application/epub+zip":                                                      FormatEPUB,
	"application/x-mobipocket-ebook":                                            FormatKindle,
	"application/vnd.amazon.ebook":                                              FormatKindle,
	"application/msword":                                                        FormatLegacyOffice,
	"application/vnd.ms-excel":                                                  FormatLegacyOffice,
	"application/vnd.ms-powerpoint":                                             FormatLegacyOffice,
}

// DetectFormat 优先按文件名后缀判断格式，后缀未知时再参考声明的 MIME 类型。
func DetectFormat(filename, mimeType string) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extensionFormats[ext]; ok {
		return f, true
	}
	if mimeType != "" {
		mt, _, err := mime.ParseMediaType(mimeType)
		if err == nil {
			if f, ok := mimeFormats[mt]; ok {
				return f, true
			}
			if strings.HasPrefix(mt, "image/") {
				return FormatImage, true
			}
		}
	}
	return "", false
}

// Extractor 是所有格式提取器的统一契约：输入原始字节，输出纯文本。
// 提取成功但没有文本时返回空字符串而不是错误。
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (string, error)
}

// ExtractorFunc 允许用普通函数实现 Extractor。
type ExtractorFunc func(ctx context.Context, data []byte, filename string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	return f(ctx, data, filename)
}

// Registry 维护 Format 到 Extractor 的映射。新增格式只需注册，不需要修改分派逻辑。
type Registry struct {
	mu         sync.RWMutex
	extractors map[Format]Extractor
}

// NewRegistry 创建一个空的注册表。
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[Format]Extractor)}
}

// Register 为某种格式注册提取器，重复注册会覆盖旧的实现。
func (r *Registry) Register(f Format, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[f] = e
}

// Lookup 返回格式对应的提取器。
func (r *Registry) Lookup(f Format) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[f]
	return e, ok
}

// Extract 根据文件名和 MIME 类型选择提取器并执行。
func (r *Registry) Extract(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	f, ok := DetectFormat(filename, mimeType)
	if !ok {
		return "", fmt.Errorf("%w: %q (mime %q)", ErrUnsupportedFormat, filepath.Ext(filename), mimeType)
	}
	e, ok := r.Lookup(f)
	if !ok {
		return "", fmt.Errorf("%w: no extractor registered for %s", ErrUnsupportedFormat, f)
	}
	return e.Extract(ctx, data, filename)
}

// malformed 将进程内解析器的错误标记为确定性失败。
func malformed(format Format, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedDocument, format, err)
}
