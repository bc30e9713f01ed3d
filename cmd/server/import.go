package main

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"docvault-go/internal/repository"
	"docvault-go/internal/service"
	"docvault-go/pkg/log"
	"docvault-go/pkg/storage"

	"github.com/spf13/cobra"
)

var importOwner uint

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "把目录下的文件按正常上传流程导入给指定用户",
	Long: `遍历目录，对每个文件执行与 HTTP 上传相同的加密、落盘、建版本与投递流程。
单个文件失败只记录日志，不中断整个导入。`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().UintVar(&importOwner, "owner", 0, "文件归属的用户ID")
	_ = importCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("目录 '%s' 不存在或不可用", dir)
	}
	if importOwner == 0 {
		return errors.New("--owner 必须大于 0")
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

	uploads := service.NewUploadService(repository.NewVersionRepository(rt.db), rt.blobs, rt.envelope, rt.producer, cfg.Server.MaxUploadBytes)

	var imported, failed int
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			log.Warnf("[Import] 打开文件失败: %s, err=%v", path, err)
			failed++
			return nil
		}
		limit := cfg.Server.MaxUploadBytes
		if limit <= 0 {
			limit = 1 << 40
		}
		data, err := storage.ReadAll(f, limit)
		_ = f.Close()
		if err != nil {
			log.Warnf("[Import] 读取文件失败: %s, err=%v", path, err)
			failed++
			return nil
		}

		v, err := uploads.Upload(ctx, service.UploadInput{
			OwnerID:  importOwner,
			Filename: d.Name(),
			MimeType: mime.TypeByExtension(filepath.Ext(path)),
			Data:     data,
		})
		if err != nil && v == nil {
			log.Warnf("[Import] 导入失败: %s, err=%v", path, err)
			failed++
			return nil
		}
		if err != nil {
			log.Warnf("[Import] 已保存但排队失败, 可稍后 reindex: %s, VersionID: %s", path, v.ID)
		}
		imported++
		cmd.Printf("%s\t%s\n", v.ID, path)
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	log.Infof("[Import] 导入完成, 成功: %d, 失败: %d", imported, failed)
	if failed > 0 {
		return fmt.Errorf("%d 个文件导入失败", failed)
	}
	return nil
}
