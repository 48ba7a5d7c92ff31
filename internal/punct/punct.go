// Package punct 判断一段文本是否包含至少两组互不相邻的句末标点。
package punct

// IsMark 报告 r 是否属于句末标点集合（拉丁与阿拉伯各自计入）。
func IsMark(r rune) bool {
	switch r {
	case '.', '!', '?', '،', '؛', '؟':
		return true
	}
	return false
}

// Groups 返回标点组的 rune 下标闭区间 [start, end]。
// 严格相邻（下标差为 1）的标点合并为一组。
func Groups(text string) [][2]int {
	var groups [][2]int
	i := 0
	for _, r := range text {
		if IsMark(r) {
			if n := len(groups); n > 0 && groups[n-1][1] == i-1 {
				groups[n-1][1] = i
			} else {
				groups = append(groups, [2]int{i, i})
			}
		}
		i++
	}
	return groups
}

// HasMultiGroup 当且仅当文本中存在至少两个标点组时返回 true。
// 单个标点或一串连续标点（如 "!!"）不算作多分句证据。
func HasMultiGroup(text string) bool {
	seen := 0
	last := -2
	i := 0
	for _, r := range text {
		if IsMark(r) {
			if i != last+1 {
				seen++
				if seen >= 2 {
					return true
				}
			}
			last = i
		}
		i++
	}
	return false
}
