package engine

import "strings"

// Score 计算库存存放点与申请地址的就近匹配分。
// 申请地址是下划线分隔的层级串（省_区_坊），空 token 丢弃；
// 每个 token 能在库存地址里找到就 +1，分值上限即 token 数（通常 3）。
// 两侧都做小写并去掉空白后再做子串匹配，"dongda" 才能命中 "Dong Da"。
// 地址为空的申请对所有候选恒为 0 分，选择退化为查询顺序兜底。
func Score(requestLocation, inventoryLocation string) int {
	if requestLocation == "" || inventoryLocation == "" {
		return 0
	}

	haystack := normalizeLocation(inventoryLocation)
	score := 0
	for _, token := range strings.Split(requestLocation, "_") {
		t := normalizeLocation(token)
		if t == "" {
			continue
		}
		if strings.Contains(haystack, t) {
			score++
		}
	}
	return score
}

// normalizeLocation 小写化并移除全部空白，统一两侧的比较口径。
func normalizeLocation(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
