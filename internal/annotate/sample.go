package annotate

import (
	"math/rand/v2"
	"sort"
)

// Sample 以 seed 确定性地从 names 中抽取 n 个（蓄水池抽样），结果按名称排序。
// n<=0 或 n>=len(names) 时返回排序后的全部副本。
func Sample(names []string, n int, seed uint64) []string {
	if n <= 0 || n >= len(names) {
		out := append([]string(nil), names...)
		sort.Strings(out)
		return out
	}
	// 先排序，使结果与输入顺序无关
	all := append([]string(nil), names...)
	sort.Strings(all)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	res := make([]string, n)
	copy(res, all[:n])
	for i := n; i < len(all); i++ {
		if j := rng.IntN(i + 1); j < n {
			res[j] = all[i]
		}
	}
	sort.Strings(res)
	return res
}
