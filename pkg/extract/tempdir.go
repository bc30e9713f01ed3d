package extract

import (
	"fmt"
	"os"
	"path/filepath"
)

// withTempInput 在独立的临时目录中写入输入文件后调用 fn，
// 无论 fn 成功、失败还是 panic，目录都会被删除。
func withTempInput(baseDir, name string, data []byte, fn func(dir, input string) error) error {
	dir, err := os.MkdirTemp(baseDir, "docvault-extract-*")
	if err != nil {
		return fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, name)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	return fn(dir, input)
}
