package main

import (
	"docvault-go/pkg/crypto"

	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "生成一个新的主密钥（base64）",
	Long:  `输出可直接写入 crypto.master_key 或 DOCVAULT_CRYPTO_MASTER_KEY 的 32 字节随机密钥。`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		defer crypto.Wipe(key)
		cmd.Println(crypto.EncodeKey(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
