package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// DocumentIDOf 由输入 FileID 得到文档标识：取最后一段文件名并去掉最后一个扩展名。
// 仅有扩展名的隐藏文件（如 ".txt"）保持原样。
func DocumentIDOf(id FileID) DocumentID {
	base := path.Base(string(NormalizeFileID(string(id))))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return DocumentID(base)
}
