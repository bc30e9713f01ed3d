package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"
)

// OCR 使用 tesseract 命令行识别图片中的文字。配置多个语言时并发运行，
// 取可读字符最多的结果。识别结果为空或是乱码都不是错误。
type OCR struct {
	BinaryPath string
	Languages  []string
	TempDir    string
	Timeout    time.Duration
}

func (o OCR) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	langs := o.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".png"
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	results := make([]string, len(langs))
	err := withTempInput(o.TempDir, "input"+ext, data, func(_, input string) error {
		g, gctx := errgroup.WithContext(ctx)
		for i, lang := range langs {
			i, lang := i, lang
			g.Go(func() error {
				text, err := o.run(gctx, input, lang)
				if err != nil {
					return err
				}
				results[i] = text
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return "", err
	}
	return bestResult(results), nil
}

func (o OCR) run(ctx context.Context, input, lang string) (string, error) {
	bin := o.BinaryPath
	if bin == "" {
		bin = "tesseract"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, input, "stdout", "-l", lang)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract (%s) 执行失败: %w: %s", lang, err, tail(stderr.String(), 512))
	}
	return strings.ToValidUTF8(stdout.String(), ""), nil
}

// bestResult 选出字母数字字符最多的识别结果，数量相同时取靠前的语言。
func bestResult(results []string) string {
	best, bestScore := "", 0
	for _, r := range results {
		score := 0
		for _, c := range r {
			if unicode.IsLetter(c) || unicode.IsDigit(c) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	return best
}
