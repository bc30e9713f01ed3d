package main

import (
	"os/signal"
	"syscall"

	"docvault-go/pkg/log"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "只运行摄取 worker（Kafka 消费者）",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, cfg)
		if err != nil {
			log.Errorf("[Worker] 启动失败: %v", err)
			return err
		}
		defer rt.Close()
		return rt.consumer(ctx).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
