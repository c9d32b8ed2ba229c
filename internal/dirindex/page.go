package dirindex

import (
	"context"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
)

// AnnotatePage 解析一份完整的 HTML 页面，读取内嵌 Listing 并执行标注，
// 最后把修改后的文档写入 w。每份页面调用一次。
func (a *Annotator) AnnotatePage(ctx context.Context, r io.Reader, w io.Writer) (*Report, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	listing, err := ExtractListing(doc.Selection, a.opts.ListingSelector)
	if err != nil {
		return nil, err
	}

	report, err := a.Annotate(ctx, doc.Selection, listing)
	if err != nil {
		return nil, err
	}

	rendered, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("render listing page: %w", err)
	}
	if _, err := io.WriteString(w, rendered); err != nil {
		return nil, err
	}
	return report, nil
}
