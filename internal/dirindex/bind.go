package dirindex

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMarkerClass 标记“未缓存到本地”状态的占位节点。
const DefaultMarkerClass = "not-cached-locally"

// Binding 在初始化阶段把第 i 个路径与第 i 个占位节点配对，
// 后续回调只操作自己的 Node。
type Binding struct {
	Index int
	Path  string
	Node  *goquery.Selection
}

// MismatchError 表示占位节点数量与 Listing 长度不一致。
type MismatchError struct {
	Paths int
	Nodes int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("listing has %d paths but page has %d placeholder nodes", e.Paths, e.Nodes)
}

// Bind 按文档顺序将 listing 与 markerClass 节点逐一配对，返回前 min(N, M) 对。
// 两侧长度不同时同时返回 *MismatchError，由调用方决定是否继续。
func Bind(listing Listing, root *goquery.Selection, markerClass string) ([]Binding, error) {
	if markerClass == "" {
		markerClass = DefaultMarkerClass
	}

	var nodes *goquery.Selection
	if root != nil {
		nodes = root.Find("." + markerClass)
	}
	count := 0
	if nodes != nil {
		count = nodes.Length()
	}

	n := min(len(listing), count)
	bindings := make([]Binding, 0, n)
	for i := 0; i < n; i++ {
		bindings = append(bindings, Binding{
			Index: i,
			Path:  listing[i],
			Node:  nodes.Eq(i),
		})
	}

	if len(listing) != count {
		return bindings, &MismatchError{Paths: len(listing), Nodes: count}
	}
	return bindings, nil
}
