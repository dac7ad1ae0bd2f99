package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houzhh15/eln-editsession/pkg/docstore"
	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

func newEditCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "edit DOC_ID",
		Short: "获取编辑锁并修改字段",
		Long: `获取文档编辑锁，按 --set name=value 修改字段并自动保存。
--save 执行正式保存，--close 保存后关闭（隐含 --unlock），-i 进入交互模式。
交互命令: set NAME VALUE | show | sync | save | close | quit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			sets, _ := cmd.Flags().GetStringArray("set")
			save, _ := cmd.Flags().GetBool("save")
			closeDoc, _ := cmd.Flags().GetBool("close")
			unlock, _ := cmd.Flags().GetBool("unlock")
			interactive, _ := cmd.Flags().GetBool("interactive")

			e, err := openEditor(cmd.Context(), cfg, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			for _, kv := range sets {
				name, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q, expected name=value", kv)
				}
				if err := e.set(name, value); err != nil {
					return err
				}
			}

			if interactive {
				return e.repl(cmd.Context(), cmd.InOrStdin(), unlock)
			}
			if save || closeDoc {
				_, err := e.save(cmd.Context(), editsession.SaveOptions{Close: closeDoc, Unlock: unlock || closeDoc})
				return err
			}

			report, err := e.session.Autosave(cmd.Context(), false)
			if err != nil {
				return err
			}
			e.printReport(report)
			if unlock {
				return e.session.Unlock(cmd.Context())
			}
			return nil
		},
	}
	c.Flags().StringArray("set", nil, "修改字段 name=value，可重复；choice 多选以逗号分隔")
	c.Flags().Bool("save", false, "修改后正式保存")
	c.Flags().Bool("close", false, "保存并关闭（释放编辑锁）")
	c.Flags().Bool("unlock", false, "结束时释放编辑锁")
	c.Flags().BoolP("interactive", "i", false, "交互模式（周期自动保存）")
	return c
}

// docEditor 命令行编辑会话
type docEditor struct {
	session   *editsession.Session
	doc       *docstore.Document
	names     map[string]string // 小写字段名 -> 字段 ID
	out       io.Writer
	errOut    io.Writer
	navigated string
}

// openEditor 打开文档并申请编辑锁
func openEditor(ctx context.Context, cfg *Config, docID string, out, errOut io.Writer) (*docEditor, error) {
	e := &docEditor{out: out, errOut: errOut, names: map[string]string{}}
	client := docstore.New(cfg.ServerURL, cfg.Token)

	s, _, doc, err := client.OpenSession(ctx, docID,
		editsession.WithLogger(cfg.newLogger(errOut)),
		editsession.WithNotifier(noticePrinter{w: errOut}),
		editsession.WithPolicy(cfg.Autosave),
		editsession.WithNavigator(editsession.NavigatorFunc(func(url string) { e.navigated = url })),
	)
	if err != nil {
		return nil, err
	}
	e.session, e.doc = s, doc
	for _, f := range doc.Fields {
		e.names[strings.ToLower(f.Name)] = f.ID
	}

	if _, err := s.RequestEditLock(ctx); err != nil {
		return nil, err
	}
	fmt.Fprintf(errOut, "编辑锁已获取: %s\n", doc.Title)
	return e, nil
}

// fieldID 按名称或 ID 查找字段
func (e *docEditor) fieldID(name string) (string, error) {
	if id, ok := e.names[strings.ToLower(name)]; ok {
		return id, nil
	}
	if _, ok := e.session.Field(name); ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", editsession.ErrUnknownField, name)
}

// set 模拟用户在字段中输入
func (e *docEditor) set(name, raw string) error {
	id, err := e.fieldID(name)
	if err != nil {
		return err
	}
	f, ok := e.session.Field(id)
	if !ok {
		return fmt.Errorf("%w: %s", editsession.ErrUnknownField, name)
	}
	ed, ok := f.Editor().(*editsession.MemoryEditor)
	if !ok {
		return fmt.Errorf("field %s is not editable from the command line", name)
	}
	if err := e.session.BeginEdit(id); err != nil {
		return err
	}
	defer e.session.EndEdit(id)
	if !ed.Input(editsession.DecodeValue(f.Kind, raw)) {
		return fmt.Errorf("field %s is read-only right now", name)
	}
	return nil
}

// save 执行保存事务并输出结果
func (e *docEditor) save(ctx context.Context, opts editsession.SaveOptions) (editsession.SaveOutcome, error) {
	outcome, err := e.session.Save(ctx, opts)
	if err != nil {
		return outcome, err
	}
	fmt.Fprintf(e.out, "%s\n", outcome)
	if e.navigated != "" {
		fmt.Fprintf(e.errOut, "→ %s\n", e.navigated)
	}
	return outcome, nil
}

func (e *docEditor) printReport(report *editsession.BatchReport) {
	if report == nil || len(report.Attempts) == 0 {
		fmt.Fprintln(e.out, "nothing to autosave")
		return
	}
	for _, a := range report.Attempts {
		switch {
		case a.ValidationError != "":
			fmt.Fprintf(e.out, "%s: rejected (%s)\n", a.FieldID, a.ValidationError)
		case a.Outcome == editsession.AttemptFailure:
			fmt.Fprintf(e.out, "%s: failed\n", a.FieldID)
		default:
			fmt.Fprintf(e.out, "%s: saved\n", a.FieldID)
		}
	}
}

// show 输出会话中的字段值
func (e *docEditor) show() {
	st := e.session.State()
	fmt.Fprintf(e.out, "%s  lock=%s dirty=%d\n", e.doc.Title, st.LockState, len(st.DirtyFields))
	names := make(map[string]string, len(e.names))
	for name, id := range e.names {
		names[id] = name
	}
	for _, f := range e.session.Fields() {
		name := names[f.ID]
		if name == "" {
			name = f.ID
		}
		var value string
		if ed, ok := f.Editor().(*editsession.MemoryEditor); ok {
			value = ed.Peek().Encode()
		}
		printField(e.out, name, f.Kind, value, !f.MandatorySatisfied)
	}
}

// repl 交互模式：后台周期自动保存，逐行读取命令
func (e *docEditor) repl(ctx context.Context, in io.Reader, unlockOnQuit bool) error {
	e.session.Start(ctx)
	defer e.session.Stop()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(e.errOut, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		var err error
		switch strings.ToLower(cmd) {
		case "":
			continue
		case "set":
			name, value, ok := strings.Cut(strings.TrimSpace(rest), " ")
			if !ok {
				err = errors.New("usage: set NAME VALUE")
				break
			}
			err = e.set(name, strings.TrimSpace(value))
		case "show":
			e.show()
		case "sync":
			err = e.session.EnsureFieldsSynchronized(ctx, true)
		case "save":
			_, err = e.save(ctx, editsession.SaveOptions{})
		case "close":
			_, err = e.save(ctx, editsession.SaveOptions{Close: true, Unlock: true})
			if err == nil {
				return nil
			}
		case "quit", "exit":
			if unlockOnQuit {
				return e.session.Close(ctx)
			}
			return nil
		default:
			err = fmt.Errorf("unknown command %q", cmd)
		}
		if err != nil {
			fmt.Fprintf(e.errOut, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if unlockOnQuit {
		return e.session.Close(ctx)
	}
	return nil
}
