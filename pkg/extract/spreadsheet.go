package extract

import (
	"bytes"
	"context"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Spreadsheet 将每个工作表线性化为 "--- Sheet: 名称 ---" 标题加逐行的制表符分隔文本。
type Spreadsheet struct{}

func (Spreadsheet) Extract(_ context.Context, data []byte, _ string) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", malformed(FormatSpreadsheet, err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", malformed(FormatSpreadsheet, err)
		}
		// 空工作表不输出标题，全空的工作簿因此会得到空文本
		wroteHeader := false
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !wroteHeader {
				sb.WriteString("--- Sheet: ")
				sb.WriteString(sheet)
				sb.WriteString(" ---\n")
				wroteHeader = true
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
