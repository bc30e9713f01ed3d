package main

import (
	"fmt"
	"strconv"
	"time"

	"docvault-go/internal/config"
	"docvault-go/pkg/token"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

// 用户体系由外部身份服务负责，这里只为开发和运维签发访问令牌。
var tokenCmd = &cobra.Command{
	Use:   "token <userID>",
	Short: "为指定用户签发 JWT 访问令牌",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || userID == 0 {
			return fmt.Errorf("无效的用户ID %q", args[0])
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if cfg.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret 未配置")
		}
		tok, err := token.NewJWTManager(cfg.JWT.Secret).GenerateToken(uint(userID), tokenTTL)
		if err != nil {
			return err
		}
		cmd.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "令牌有效期")
	rootCmd.AddCommand(tokenCmd)
}
