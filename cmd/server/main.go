// Package main 是应用程序的入口点。
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "docvault",
	Short: "加密文档摄取与检索问答服务",
	Long: `docvault 接收用户上传的文档，加密存储后在后台完成病毒扫描、文本提取、
分块与向量化，并基于用户自己已索引的最新版本文档回答问题。`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./configs/config.yaml", "配置文件路径")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
