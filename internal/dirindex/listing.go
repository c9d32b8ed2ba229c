package dirindex

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// DefaultListingSelector 定位页面内嵌的路径列表脚本块。
const DefaultListingSelector = `script#dir-listing[type="application/json"]`

// Listing 是页面渲染时写入的有序路径序列，顺序与占位节点一一对应。
type Listing []string

// Len 返回条目数量。
func (l Listing) Len() int {
	return len(l)
}

// ExtractListing 读取 root 中内嵌的 JSON 数组。没有脚本块时返回空 Listing，
// JSON 非法或包含非字符串元素时返回错误。
func ExtractListing(root *goquery.Selection, selector string) (Listing, error) {
	if root == nil {
		return nil, nil
	}
	if strings.TrimSpace(selector) == "" {
		selector = DefaultListingSelector
	}

	block := root.Find(selector).First()
	if block.Length() == 0 {
		return nil, nil
	}

	raw := strings.TrimSpace(block.Text())
	if raw == "" {
		return nil, nil
	}
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("listing payload is not valid json")
	}

	parsed := gjson.Parse(raw)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("listing payload must be an array, got %s", parsed.Type)
	}

	items := parsed.Array()
	listing := make(Listing, 0, len(items))
	for i, item := range items {
		if item.Type != gjson.String {
			return nil, fmt.Errorf("listing[%d]: expected string, got %s", i, item.Type)
		}
		listing = append(listing, item.String())
	}
	return listing, nil
}
