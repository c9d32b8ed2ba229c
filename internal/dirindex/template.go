package dirindex

import (
	"html/template"
	"io"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
)

// Entry 是目录页中的一行。目录只作为导航行出现，不占用 Listing 槽位。
type Entry struct {
	Name  string
	Path  string
	Size  int64
	IsDir bool
}

// Page 描述一份待渲染的目录页。
type Page struct {
	Hub         string
	Path        string
	Entries     []Entry
	MarkerClass string
	// LinkPrefix 加在导航链接（面包屑、返回上级、子目录）前，使浏览停留在
	// 同一视图内；文件链接与内嵌 Listing 始终是内容路径。
	LinkPrefix string
}

// Breadcrumb 是路径导航中的一段。
type Breadcrumb struct {
	Name string
	Path string
}

type listingRow struct {
	Entry
	HumanSize string
	NavPath   string
}

type listingData struct {
	Hub         string
	Path        string
	BackLink    string
	Breadcrumbs []Breadcrumb
	Rows        []listingRow
	Listing     []string
	MarkerClass string
}

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Hub}}: {{.Path}}</title>
</head>
<body>
<div id="header">{{range .Breadcrumbs}}/<a href="{{.Path}}">{{.Name}}</a>{{end}}</div>
<table class="listing">
{{- if .BackLink}}
<tr><td></td><td><a href="{{.BackLink}}">..</a></td><td></td></tr>
{{- end}}
{{- range .Rows}}
{{- if .IsDir}}
<tr class="dir"><td></td><td><a href="{{.NavPath}}/">{{.Name}}/</a></td><td></td></tr>
{{- else}}
<tr class="file"><td class="{{$.MarkerClass}}"></td><td><a href="{{.Path}}">{{.Name}}</a></td><td>{{.HumanSize}}</td></tr>
{{- end}}
{{- end}}
</table>
<script type="application/json" id="dir-listing">{{.Listing}}</script>
</body>
</html>
`))

// RenderListing 输出目录页：内嵌的 Listing 与占位节点按同一顺序生成，
// 满足 Annotate 的数据与 DOM 约定。
func RenderListing(w io.Writer, page Page) error {
	marker := page.MarkerClass
	if marker == "" {
		marker = DefaultMarkerClass
	}

	prefix := strings.TrimSuffix(page.LinkPrefix, "/")
	data := listingData{
		Hub:         page.Hub,
		Path:        cleanDirPath(page.Path),
		Breadcrumbs: breadcrumbs(page.Path, prefix),
		Listing:     []string{},
		MarkerClass: marker,
	}
	if data.Path != "/" {
		data.BackLink = prefix + path.Dir(data.Path)
	}

	for _, entry := range page.Entries {
		row := listingRow{Entry: entry}
		if entry.IsDir {
			row.NavPath = prefix + entry.Path
		}
		if !entry.IsDir {
			row.HumanSize = humanize.Bytes(uint64(max(entry.Size, 0)))
			data.Listing = append(data.Listing, entry.Path)
		}
		data.Rows = append(data.Rows, row)
	}

	return listingTemplate.Execute(w, data)
}

func cleanDirPath(p string) string {
	return path.Clean("/" + p)
}

func breadcrumbs(p, prefix string) []Breadcrumb {
	clean := cleanDirPath(p)
	if clean == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	crumbs := make([]Breadcrumb, 0, len(parts))
	for i, part := range parts {
		crumbs = append(crumbs, Breadcrumb{
			Name: part,
			Path: prefix + "/" + strings.Join(parts[:i+1], "/"),
		})
	}
	return crumbs
}
