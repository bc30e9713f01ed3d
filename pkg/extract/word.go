package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/lu4p/cat"
)

// wordMIME 是各后缀期望的内容类型。cat 按内容嗅探格式，识别失败时会把原始字节当作纯文本返回。
var wordMIME = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".rtf":  "text/rtf",
}

// Word 使用 lu4p/cat 提取 DOCX、ODT、RTF 文本。提取前先校验容器结构。
type Word struct{}

func (Word) Extract(_ context.Context, data []byte, filename string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", malformed(FormatWord, fmt.Errorf("panic: %v", r))
		}
	}()

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := wordMIME[ext]; !ok {
		ext = sniffWordExt(data)
	}
	if err := checkWordContainer(ext, data); err != nil {
		return "", malformed(FormatWord, err)
	}

	text, err = cat.FromBytes(data)
	if err != nil {
		return "", malformed(FormatWord, err)
	}
	return text, nil
}

// sniffWordExt 在文件名没有可用后缀时按内容推断，推断不出按 docx 校验。
func sniffWordExt(data []byte) string {
	detected := mimetype.Detect(data)
	for ext, mime := range wordMIME {
		if detected.Is(mime) {
			return ext
		}
	}
	return ".docx"
}

func checkWordContainer(ext string, data []byte) error {
	switch ext {
	case ".docx", ".odt":
		if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
			return fmt.Errorf("无效的 %s 压缩包: %w", ext, err)
		}
	case ".rtf":
		if !bytes.HasPrefix(data, []byte(`{\rtf`)) {
			return errors.New("缺少 RTF 文件头")
		}
	}
	if got := mimetype.Detect(data); !got.Is(wordMIME[ext]) {
		return fmt.Errorf("内容类型 %s 与后缀 %s 不符", got.String(), ext)
	}
	return nil
}
