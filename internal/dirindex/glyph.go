package dirindex

import "github.com/PuerkitoBio/goquery"

// AttentionGlyph 是确认缺失后写入占位节点的固定片段。
const AttentionGlyph = `<div title="File not cached locally" class="icon-attention">&nbsp;</div>`

// markAbsent 整体替换节点内容，重复调用结果不变。
func markAbsent(node *goquery.Selection) {
	node.SetHtml(AttentionGlyph)
}
