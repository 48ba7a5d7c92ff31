package dataset

import (
	"bufio"
	"io"
	"strings"
)

// WriteFragments 以 TSV 导出仅含 text 列的片段：表头与每个字段均加双引号，内部引号加倍。
func WriteFragments(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(quote("text") + "\n"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := bw.WriteString(quote(r.Text) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
