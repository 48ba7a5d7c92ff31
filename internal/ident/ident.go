// Package ident 为 (文档, Section) 派生短小稳定的标识，用作输出文件名与 file_id。
package ident

import (
	"encoding/hex"
	"strconv"

	"github.com/dchest/blake2s"
)

// Size 为摘要字节数（8 个十六进制字符）。输出文件名依赖该长度，不可更改。
const Size = 4

var config = &blake2s.Config{Size: Size}

// Derive 计算 "{documentID}_{sectionIndex}" 的 BLAKE2s-32 摘要并以小写十六进制返回。
// 摘要长度写入参数块，因此结果不是 32 字节摘要的截断。
func Derive(documentID string, sectionIndex int) string {
	h, err := blake2s.New(config)
	if err != nil {
		// 固定且合法的参数，不会发生
		panic(err)
	}
	h.Write([]byte(documentID + "_" + strconv.Itoa(sectionIndex)))
	return hex.EncodeToString(h.Sum(nil))
}
