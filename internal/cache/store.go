package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<HubName>/<path>    # 实际正文
//
// 每个条目仅由正文文件组成，文件的 ModTime/Size 由文件系统提供。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Stat 只返回条目信息，不打开正文；目录或不存在时返回 ErrNotFound。
	Stat(ctx context.Context, locator Locator) (*Entry, error)

	// List 返回 locator 指向目录下的直接子项，按名称排序；目录不存在时返回 ErrNotFound。
	List(ctx context.Context, locator Locator) ([]DirEntry, error)

	// Put 将上游响应写入缓存，实现需通过临时文件 + rename 保证原子性。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除正文文件，通常在上游返回 404 时调用。
	Remove(ctx context.Context, locator Locator) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（Hub + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	HubName string
	Path    string
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// DirEntry 是 List 返回的目录子项，Path 为 URL 风格的完整路径。
type DirEntry struct {
	Name      string
	Path      string
	IsDir     bool
	SizeBytes int64
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
