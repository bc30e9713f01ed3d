package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Calibre 调用 calibre 的 ebook-convert 将 MOBI/AZW/AZW3 转为纯文本。
// 输入输出都放在独立的临时目录中，退出时一律删除。
// 外部进程失败（包括二进制缺失）视为依赖故障，由调用方按瞬时错误重试。
type Calibre struct {
	BinaryPath string
	TempDir    string
	Timeout    time.Duration
}

func (c Calibre) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".mobi"
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var text string
	err := withTempInput(c.TempDir, "input"+ext, data, func(dir, input string) error {
		output := filepath.Join(dir, "output.txt")
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, c.binary(), input, output)
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("ebook-convert 执行失败: %w: %s", err, tail(stderr.String(), 512))
		}
		out, err := os.ReadFile(output)
		if err != nil {
			return fmt.Errorf("读取 ebook-convert 输出失败: %w", err)
		}
		text, _ = PlainText{}.Extract(ctx, out, "")
		return nil
	})
	return text, err
}

func (c Calibre) binary() string {
	if c.BinaryPath == "" {
		return "ebook-convert"
	}
	return c.BinaryPath
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
