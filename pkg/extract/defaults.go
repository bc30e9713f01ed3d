package extract

import (
	"docvault-go/internal/config"
	"docvault-go/pkg/tika"
)

// NewDefaultRegistry 注册所有内置格式的提取器。
func NewDefaultRegistry(cfg config.ExtractionConfig, tikaClient *tika.Client) *Registry {
	r := NewRegistry()
	r.Register(FormatPDF, PDF{})
	r.Register(FormatPlainText, PlainText{})
	r.Register(FormatWord, Word{})
	r.Register(FormatSpreadsheet, Spreadsheet{})
	r.Register(FormatPresentation, Presentation{})
	r.Register(FormatEPUB, EPUB{})
	r.Register(FormatKindle, Calibre{BinaryPath: cfg.CalibrePath, TempDir: cfg.TempDir, Timeout: cfg.Timeout})
	r.Register(FormatImage, OCR{BinaryPath: cfg.TesseractPath, Languages: cfg.OCRLanguages, TempDir: cfg.TempDir, Timeout: cfg.Timeout})
	if tikaClient != nil {
		r.Register(FormatLegacyOffice, TikaExtractor{Client: tikaClient})
	}
	return r
}
