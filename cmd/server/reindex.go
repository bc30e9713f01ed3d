package main

import (
	"fmt"

	"docvault-go/internal/repository"
	"docvault-go/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var reindexSync bool

var reindexCmd = &cobra.Command{
	Use:   "reindex <versionID>...",
	Short: "重新处理指定版本",
	Long: `把版本重置为 pending 并重新投递处理任务。
使用 --sync 时不经过 Kafka，直接在当前进程中执行流水线并打印终态。`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().BoolVar(&reindexSync, "sync", false, "在当前进程中同步执行")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("无效的版本ID %q: %w", arg, err)
		}
		ids = append(ids, id)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if reindexSync {
		coord := rt.coordinator(ctx)
		for _, id := range ids {
			status, err := coord.ProcessVersion(ctx, id)
			if err != nil {
				return fmt.Errorf("处理版本 %s 失败: %w", id, err)
			}
			if status == "" {
				cmd.Printf("%s\tnot found\n", id)
				continue
			}
			cmd.Printf("%s\t%s\n", id, status)
		}
		return nil
	}

	versions := service.NewVersionService(repository.NewVersionRepository(rt.db), rt.producer)
	for _, id := range ids {
		if err := versions.ReindexVersion(ctx, id); err != nil {
			return fmt.Errorf("提交版本 %s 失败: %w", id, err)
		}
		cmd.Printf("%s\tqueued\n", id)
	}
	return nil
}
