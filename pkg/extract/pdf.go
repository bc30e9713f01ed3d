package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"docvault-go/pkg/log"

	"github.com/dslipak/pdf"
)

// PDF 使用 dslipak/pdf 逐页提取文本。单页失败只记录日志并跳过。
type PDF struct{}

func (PDF) Extract(ctx context.Context, data []byte, filename string) (text string, err error) {
	// 解析器在遇到损坏的交叉引用表时可能 panic
	defer func() {
		if r := recover(); r != nil {
			text, err = "", malformed(FormatPDF, fmt.Errorf("panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", malformed(FormatPDF, err)
	}

	var sb strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := pageText(page)
		if err != nil {
			log.Warnf("[Extractor] PDF 第 %d 页解析失败, 文件: %s, error: %v", i, filename, err)
			continue
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func pageText(page pdf.Page) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
