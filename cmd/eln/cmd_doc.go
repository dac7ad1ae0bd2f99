package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houzhh15/eln-editsession/pkg/docstore"
	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

func newDocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "文档管理",
	}
	cmd.AddCommand(newDocCreateCmd())
	cmd.AddCommand(newDocShowCmd())
	return cmd
}

func newDocCreateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "create",
		Short: "创建文档",
		Long: `创建文档；字段格式 name:kind[:opt1|opt2...]，以 ! 结尾表示必填。
示例: eln doc create --title "Buffer prep" --field notes:text --field pH:number! --field salt:radio:NaCl|KCl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			title := mustGetString(cmd, "title")
			if title == "" {
				return fmt.Errorf("--title is required")
			}
			rawFields, _ := cmd.Flags().GetStringArray("field")
			writers, _ := cmd.Flags().GetStringSlice("writer")

			req := docstore.CreateDocumentRequest{Title: title, Writers: writers}
			for _, raw := range rawFields {
				spec, err := parseFieldSpec(raw)
				if err != nil {
					return err
				}
				req.Fields = append(req.Fields, spec)
			}

			doc, err := docstore.New(cfg.ServerURL, cfg.Token).CreateDocument(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), cfg.Output, doc, func(w io.Writer) { printDocument(w, doc) })
		},
	}
	c.Flags().String("title", "", "文档标题")
	c.Flags().StringArray("field", nil, "字段定义 name:kind[:options]，可重复")
	c.Flags().StringSlice("writer", nil, "可编辑用户，可重复")
	return c
}

// parseFieldSpec 解析 name:kind[:opt1|opt2]，末尾 ! 表示必填
func parseFieldSpec(raw string) (docstore.FieldSpec, error) {
	mandatory := strings.HasSuffix(raw, "!")
	raw = strings.TrimSuffix(raw, "!")
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return docstore.FieldSpec{}, fmt.Errorf("invalid field %q, expected name:kind[:options]", raw)
	}
	spec := docstore.FieldSpec{Name: parts[0], Kind: editsession.FieldKind(parts[1]), Mandatory: mandatory}
	if !spec.Kind.Valid() {
		return docstore.FieldSpec{}, fmt.Errorf("field %s: unknown kind %q", spec.Name, parts[1])
	}
	if len(parts) == 3 {
		spec.Options = strings.Split(parts[2], "|")
	}
	return spec, nil
}

func newDocShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show DOC_ID",
		Short: "查看文档",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			doc, err := docstore.New(cfg.ServerURL, cfg.Token).GetDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), cfg.Output, doc, func(w io.Writer) { printDocument(w, doc) })
		},
	}
}

func newUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock DOC_ID",
		Short: "释放自己持有的编辑锁",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			if err := docstore.New(cfg.ServerURL, cfg.Token).Unlock(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "编辑锁已释放")
			return nil
		},
	}
}
