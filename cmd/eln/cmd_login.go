package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/houzhh15/eln-editsession/pkg/docstore"
)

func newLoginCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "login",
		Short: "登录并保存 token 到配置文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			username := mustGetString(cmd, "username")
			password := mustGetString(cmd, "password")
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password are required")
			}

			client := docstore.New(cfg.ServerURL, "")
			resp, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			cfg.Token = resp.Token
			cfg.Username = resp.Username
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "已登录: %s\n", resp.Username)
			return nil
		},
	}
	c.Flags().StringP("username", "u", "", "用户名")
	c.Flags().String("password", "", "密码")
	return c
}

// mustGetString 获取字符串标志
func mustGetString(cmd *cobra.Command, flag string) string {
	v, _ := cmd.Flags().GetString(flag)
	return v
}
