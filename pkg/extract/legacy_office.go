package extract

import (
	"context"
	"errors"

	"docvault-go/pkg/tika"
)

// TikaExtractor 将旧版二进制 Office 格式交给 Tika 服务器处理。
// Tika 明确表示无法解析（422）时归为确定性失败，其余错误视为依赖故障。
type TikaExtractor struct {
	Client *tika.Client
}

func (t TikaExtractor) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	text, err := t.Client.ExtractText(ctx, data, filename)
	if err != nil {
		var se *tika.StatusError
		if errors.As(err, &se) && se.Unparseable() {
			return "", malformed(FormatLegacyOffice, err)
		}
		return "", err
	}
	return text, nil
}
