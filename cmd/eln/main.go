package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "eln",
		Short:         "ELN CLI - 实验记录本编辑命令行工具",
		Long:          "通过命令行登录、创建并编辑实验记录文档；编辑期间持有单写者编辑锁并自动保存。",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// 添加全局标志
	addGlobalFlags(rootCmd)

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newDocCmd())
	rootCmd.AddCommand(newEditCmd())
	rootCmd.AddCommand(newUnlockCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
