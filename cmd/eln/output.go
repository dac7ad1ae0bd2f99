package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/houzhh15/eln-editsession/pkg/docstore"
	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

// printOutput 按指定格式输出；text 模式使用 text 回调
func printOutput(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// printDocument 以文本形式输出文档
func printDocument(w io.Writer, doc *docstore.Document) {
	fmt.Fprintf(w, "%s  %s (v%d)\n", doc.ID, doc.Title, doc.Version)
	fmt.Fprintf(w, "owner: %s", doc.Owner)
	if doc.LockHolder != "" {
		fmt.Fprintf(w, "  locked by: %s", doc.LockHolder)
	}
	fmt.Fprintln(w)
	for _, f := range doc.Fields {
		printField(w, f.Name, f.Kind, f.Value, f.Mandatory)
	}
}

func printField(w io.Writer, name string, kind editsession.FieldKind, value string, mandatory bool) {
	mark := ""
	if mandatory {
		mark = "*"
	}
	fmt.Fprintf(w, "  %-20s %-7s %s\n", name+mark, kind, value)
}

// noticePrinter 将编辑通知输出到 stderr
type noticePrinter struct {
	w io.Writer
}

func (p noticePrinter) Notify(n editsession.Notice) {
	prefix := "·"
	if n.Severity == editsession.Blocking {
		prefix = "!"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", prefix, n.Message)
	if n.FieldID != "" {
		fmt.Fprintf(&b, " [field %s]", n.FieldID)
	}
	if n.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", n.Status)
	}
	fmt.Fprintln(p.w, b.String())
}
